package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

const workshopFixture = `
products:
  - sku: LEG
    name: Table leg
    qty: "40"
  - sku: TOP
    name: Table top
    qty: "5.5"
  - sku: TBL
    name: Table
    manufactured: true
    components:
      - {sku: LEG, qty: "4"}
      - {sku: TOP, qty: "1"}
    steps: [Cut, Sand, Assemble]
projects:
  - name: Kitchen refit
orders:
  - product: TBL
    project: Kitchen refit
    notes: oak finish
  - product: TBL
`

func TestParseFixture(t *testing.T) {
	f, err := parseFixture([]byte(workshopFixture))
	require.NoError(t, err)
	require.Len(t, f.Products, 3)
	assert.Equal(t, []string{"Cut", "Sand", "Assemble"}, f.Products[2].Steps)
	assert.Equal(t, "TOP", f.Products[2].Components[1].Sku)
	assert.Equal(t, "Kitchen refit", f.Orders[0].Project)

	_, err = parseFixture([]byte("products: ["))
	assert.Error(t, err)

	qty, err := parseQty("")
	require.NoError(t, err)
	assert.True(t, qty.IsZero())
	_, err = parseQty("four")
	assert.Error(t, err)
}

func TestApplyFixture(t *testing.T) {
	db, err := config.OpenDatabase(sqlite.Open(filepath.Join(t.TempDir(), "seed.db") + "?_busy_timeout=5000&_foreign_keys=on"))
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	config.SetDB(db)
	config.SetRedisDB(nil)
	t.Cleanup(func() { config.SetDB(nil) })

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-seed")
	f, err := parseFixture([]byte(workshopFixture))
	require.NoError(t, err)

	summary, err := f.apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, seedSummary{products: 3, projects: 1, orders: 2}, summary)

	orders, err := models.ListManufacturingOrders(ctx, nil)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, "Table", o.ProductName)
	}
}

func TestApplyFixtureUnknownComponent(t *testing.T) {
	f, err := parseFixture([]byte(`
products:
  - sku: TBL
    name: Table
    components: [{sku: LEG, qty: "4"}]
`))
	require.NoError(t, err)
	_, err = f.apply(context.Background())
	assert.ErrorContains(t, err, "unknown component sku LEG")
}
