package models

import (
	"context"
	"errors"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

type Resource interface {
	GetBusinessId() string
}

// preloadOrdered preloads a has-many association ordered by position.
func preloadOrdered(db *gorm.DB, associations ...string) *gorm.DB {
	for _, assoc := range associations {
		db = db.Preload(assoc, func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		})
	}
	return db
}

func fetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {
	var result T
	db := preloadOrdered(config.GetDB().WithContext(ctx), associations...)
	err := db.Where("business_id = ? AND id = ?", businessId, id).First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// first find in redis, then in db, using ctx's business_id in WHERE, cache result
// (may return ErrorRecordNotFound)
func GetResource[T Resource](ctx context.Context, id int, associations ...string) (*T, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	result, err := utils.RetrieveRedis[T](ctx, id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = fetchModel[T](ctx, businessId, id, associations...)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[T](ctx, result, id); err != nil {
			return nil, err
		}
	} else if (*result).GetBusinessId() != businessId {
		return nil, errors.New("cannot access resource owned by other business")
	}
	return result, nil
}

// invalidateCache drops cached copies after a commit. Failures only cost staleness.
func invalidateCache[T any](ctx context.Context, moduleName string, ids ...int) {
	if len(ids) == 0 {
		return
	}
	if err := utils.RemoveRedisItems[T](ctx, ids...); err != nil {
		config.LogError(config.GetLogger(), moduleName, "invalidateCache", "Removing cached items", ids, err)
	}
}
