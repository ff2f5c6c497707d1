package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader map[int]*models.Product

func (s stubReader) GetProductsByIds(ctx context.Context, ids []int) (map[int]*models.Product, error) {
	out := make(map[int]*models.Product)
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type brokenReader struct{}

func (brokenReader) GetProductsByIds(ctx context.Context, ids []int) (map[int]*models.Product, error) {
	return nil, errors.New("read failed")
}

func TestResolveBomSelection(t *testing.T) {
	reader := stubReader{
		1: {ID: 1, Name: "Screw", Sku: "SCR", Qty: decimal.NewFromInt(50)},
		2: {ID: 2, Name: "Plank", Sku: "PLK", Qty: decimal.NewFromInt(1)},
	}
	template := &models.Product{ID: 10, BomLines: []models.ProductBomLine{
		{ComponentId: 1, Qty: decimal.NewFromInt(8)},
		{ComponentId: 2, Qty: decimal.NewFromInt(2)},
	}}

	t.Run("template when order has no lines", func(t *testing.T) {
		entries, err := models.ResolveBom(context.Background(), reader, &models.ManufacturingOrder{ProductId: 10}, template)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, models.BomSourceTemplate, entries[0].Source)
		assert.Equal(t, "Screw", entries[0].ProductName)
		assert.True(t, entries[0].IsAvailable)
		assert.False(t, entries[1].IsAvailable, "needs 2 planks, has 1")
		assert.False(t, entries[0].IsPicked)
	})

	t.Run("order lines win over template", func(t *testing.T) {
		order := &models.ManufacturingOrder{ProductId: 10, BomLines: []models.ManufacturingBomLine{
			{ProductId: 2, Qty: decimal.NewFromInt(1), IsPicked: true},
		}}
		entries, err := models.ResolveBom(context.Background(), reader, order, template)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.BomSourceOrder, entries[0].Source)
		assert.Equal(t, 2, entries[0].ProductId)
		assert.True(t, entries[0].IsAvailable)
		assert.True(t, entries[0].IsPicked)
	})

	t.Run("no template and no lines", func(t *testing.T) {
		entries, err := models.ResolveBom(context.Background(), reader, &models.ManufacturingOrder{}, nil)
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("unresolvable lines are dropped and keep their index", func(t *testing.T) {
		order := &models.ManufacturingOrder{BomLines: []models.ManufacturingBomLine{
			{ProductId: 99, Qty: decimal.NewFromInt(1)},
			{ProductId: 1, Qty: decimal.NewFromInt(1)},
		}}
		entries, err := models.ResolveBom(context.Background(), reader, order, nil)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].Index)
	})

	t.Run("reader errors surface", func(t *testing.T) {
		_, err := models.ResolveBom(context.Background(), brokenReader{}, &models.ManufacturingOrder{}, template)
		assert.Error(t, err)
	})
}

func TestResolveManufacturingOrderBomDoesNotWrite(t *testing.T) {
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "10", "0")
	order := createOrder(t, ctx, fx.Table.ID)

	got, entries, err := models.ResolveManufacturingOrderBom(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "Leg", entries[0].ProductName)
	assert.True(t, entries[0].IsAvailable)
	assert.Equal(t, "Top", entries[1].ProductName)
	assert.False(t, entries[1].IsAvailable)

	var count int64
	require.NoError(t, config.GetDB().WithContext(ctx).Model(&models.ManufacturingBomLine{}).Where("order_id = ?", order.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTogglePickedMaterializesTemplateBom(t *testing.T) {
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "10", "2")
	order := createOrder(t, ctx, fx.Table.ID)

	order, err := models.ToggleBomLinePicked(ctx, order.ID, 1)
	require.NoError(t, err)
	require.Len(t, order.BomLines, 2)
	assert.False(t, order.BomLines[0].IsPicked)
	assert.True(t, order.BomLines[1].IsPicked)
	assert.Equal(t, fx.Top.ID, order.BomLines[1].ProductId)

	// the order no longer follows the template
	_, err = models.UpdateProduct(ctx, fx.Table.ID, &models.NewProduct{
		Name: "Table",
		Bom:  []models.NewBomLine{{Product: models.ProductRef{Id: fx.Leg.ID}, Qty: dec("3")}},
	})
	require.NoError(t, err)
	_, entries, err := models.ResolveManufacturingOrderBom(ctx, order.ID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.BomSourceOrder, entries[0].Source)
	assert.True(t, dec("4").Equal(entries[0].RequiredQty))

	order, err = models.ToggleBomLinePicked(ctx, order.ID, 1)
	require.NoError(t, err)
	assert.False(t, order.BomLines[1].IsPicked)

	order, err = models.ToggleBomLinePicked(ctx, order.ID, 7)
	require.NoError(t, err)
	assert.Len(t, order.BomLines, 2)
}

func TestTogglePickedOutOfRangeLeavesTemplate(t *testing.T) {
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "10", "2")
	order := createOrder(t, ctx, fx.Table.ID)

	order, err := models.ToggleBomLinePicked(ctx, order.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, order.BomLines)
}

func TestTogglePickedAutoStartsOrder(t *testing.T) {
	t.Setenv("AUTO_START_ORDERS", "1")
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "10", "2")
	order := createOrder(t, ctx, fx.Table.ID)

	order, err := models.ToggleBomLinePicked(ctx, order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ManufacturingOrderStatusInProgress, order.Status)
}

func TestSetManufacturingOrderBom(t *testing.T) {
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "10", "2")
	order := createOrder(t, ctx, fx.Table.ID)

	order, err := models.SetManufacturingOrderBom(ctx, order.ID, []models.NewBomLine{
		{Product: models.ProductRef{Id: fx.Leg.ID, Name: "Leg"}, Qty: dec("3")},
	})
	require.NoError(t, err)
	require.Len(t, order.BomLines, 1)
	assert.True(t, dec("3").Equal(order.BomLines[0].Qty))

	_, err = models.SetManufacturingOrderBom(ctx, order.ID, []models.NewBomLine{{Product: models.ProductRef{Id: fx.Leg.ID}, Qty: dec("0")}})
	assert.Error(t, err)
	_, err = models.SetManufacturingOrderBom(ctx, order.ID, []models.NewBomLine{{Product: models.ProductRef{Id: 4040}, Qty: dec("1")}})
	assert.Error(t, err)

	order, err = models.SetManufacturingOrderBom(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, order.BomLines)
	_, entries, err := models.ResolveManufacturingOrderBom(ctx, order.ID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.BomSourceTemplate, entries[0].Source)
}
