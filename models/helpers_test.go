package models_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

const testBusinessId = "biz-test"

// setupDB points the package globals at a fresh sqlite file and returns a context
// carrying the test business and user.
func setupDB(t *testing.T) context.Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ops.db")
	db, err := config.OpenDatabase(sqlite.Open(path + "?_busy_timeout=5000&_foreign_keys=on"))
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	config.SetDB(db)
	config.SetRedisDB(nil)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		config.SetDB(nil)
	})
	return businessCtx(testBusinessId)
}

func businessCtx(businessId string) context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	ctx = utils.SetUserIdInContext(ctx, 7)
	ctx = utils.SetUserNameInContext(ctx, "Aye Aye")
	return ctx
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createProduct(t *testing.T, ctx context.Context, input models.NewProduct) *models.Product {
	t.Helper()
	p, err := models.CreateProduct(ctx, &input)
	require.NoError(t, err)
	return p
}

type tableFixture struct {
	Leg   *models.Product
	Top   *models.Product
	Table *models.Product
}

// seedTable creates a table made of four legs and one top, with two build steps.
func seedTable(t *testing.T, ctx context.Context, legQty string, topQty string) tableFixture {
	t.Helper()
	leg := createProduct(t, ctx, models.NewProduct{Name: "Leg", Sku: "LEG", Qty: dec(legQty)})
	top := createProduct(t, ctx, models.NewProduct{Name: "Top", Sku: "TOP", Qty: dec(topQty)})
	table := createProduct(t, ctx, models.NewProduct{
		Name: "Table",
		Sku:  "TBL",
		Bom: []models.NewBomLine{
			{Product: models.ProductRef{Id: leg.ID}, Qty: dec("4")},
			{Product: models.ProductRef{Id: top.ID}, Qty: dec("1")},
		},
		Steps: []string{"Cut", "Assemble"},
	})
	return tableFixture{Leg: leg, Top: top, Table: table}
}

func createOrder(t *testing.T, ctx context.Context, productId int) *models.ManufacturingOrder {
	t.Helper()
	order, err := models.CreateManufacturingOrder(ctx, &models.NewManufacturingOrder{Product: models.ProductRef{Id: productId}})
	require.NoError(t, err)
	return order
}

// completeAllSteps toggles every step of the order to done.
func completeAllSteps(t *testing.T, ctx context.Context, order *models.ManufacturingOrder) *models.ManufacturingOrder {
	t.Helper()
	var err error
	for i, s := range order.Steps {
		if s.IsCompleted {
			continue
		}
		order, err = models.ToggleManufacturingStep(ctx, order.ID, i)
		require.NoError(t, err)
	}
	return order
}

func productQty(t *testing.T, ctx context.Context, id int) decimal.Decimal {
	t.Helper()
	p, err := models.GetProduct(ctx, id)
	require.NoError(t, err)
	return p.Qty
}
