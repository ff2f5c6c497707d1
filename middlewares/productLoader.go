package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

type productReader struct {
	db *gorm.DB
}

// business scoping comes from the tenant guard on ctx
func (r *productReader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.Product] {
	var results []*models.Product
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Product](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(p *models.Product) int { return p.ID })
}

type projectReader struct {
	db *gorm.DB
}

func (r *projectReader) getProjects(ctx context.Context, ids []int) []*dataloader.Result[*models.Project] {
	var results []*models.Project
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Project](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(p *models.Project) int { return p.ID })
}

func GetProduct(ctx context.Context, id int) (*models.Product, error) {
	return For(ctx).productLoader.Load(ctx, id)()
}

func GetProject(ctx context.Context, id int) (*models.Project, error) {
	return For(ctx).projectLoader.Load(ctx, id)()
}

// LoaderProductReader resolves BOM components through the request's product loader.
type LoaderProductReader struct{}

func (LoaderProductReader) GetProductsByIds(ctx context.Context, ids []int) (map[int]*models.Product, error) {
	loaders := For(ctx)
	if loaders == nil {
		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		return models.GetProductsByIds(ctx, config.GetDB(), businessId, ids)
	}
	ids = utils.UniqueSlice(ids)
	products, errs := loaders.productLoader.LoadMany(ctx, ids)()
	results := make(map[int]*models.Product, len(ids))
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if i < len(products) && products[i] != nil {
			results[id] = products[i]
		}
	}
	return results, nil
}

var _ models.ProductReader = LoaderProductReader{}
