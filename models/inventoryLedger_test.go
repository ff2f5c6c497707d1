package models_test

import (
	"errors"
	"testing"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAdjustProductQty(t *testing.T) {
	ctx := setupDB(t)
	bolt := createProduct(t, ctx, models.NewProduct{Name: "Bolt", Qty: dec("5")})

	p, err := models.AdjustProductQty(ctx, bolt.ID, dec("2.5"), "")
	require.NoError(t, err)
	assert.True(t, dec("7.5").Equal(p.Qty))

	_, err = models.AdjustProductQty(ctx, bolt.ID, dec("-8"), "scrap")
	var insufficient *models.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, dec("7.5").Equal(insufficient.OnHand))

	p, err = models.AdjustProductQty(ctx, bolt.ID, dec("-7.5"), "scrap")
	require.NoError(t, err)
	assert.True(t, p.Qty.IsZero())

	_, err = models.AdjustProductQty(ctx, bolt.ID, dec("0"), "")
	assert.ErrorIs(t, err, utils.ErrValidation)
	_, err = models.AdjustProductQty(ctx, 9999, dec("1"), "")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	movements, err := models.ListInventoryMovements(ctx, bolt.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, "Opening stock", movements[0].Description)
	assert.Equal(t, "Manual adjustment", movements[1].Description)
	assert.True(t, dec("7.5").Equal(movements[1].QtyAfter))
	assert.True(t, dec("-7.5").Equal(movements[2].Delta))
	assert.True(t, movements[2].QtyAfter.IsZero())
}

func TestLedgerWriteQuantityRecordsDelta(t *testing.T) {
	ctx := setupDB(t)
	bolt := createProduct(t, ctx, models.NewProduct{Name: "Bolt", Qty: dec("5")})

	ref := models.MovementRef{ReferenceType: models.ReferenceTypeProduct, ReferenceId: bolt.ID, Description: "stock take"}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := models.NewInventoryLedger(tx, testBusinessId)
		if err := ledger.WriteQuantity(bolt.ID, dec("3"), ref); err != nil {
			return err
		}
		qty, err := ledger.ReadQuantity(bolt.ID)
		if err != nil {
			return err
		}
		assert.True(t, dec("3").Equal(qty))
		assert.ErrorIs(t, ledger.WriteQuantity(bolt.ID, dec("-1"), ref), utils.ErrValidation)
		assert.ErrorIs(t, ledger.Decrement(bolt.ID, dec("0"), ref), utils.ErrValidation)
		return nil
	})
	require.NoError(t, err)

	movements, err := models.ListInventoryMovements(ctx, bolt.ID)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.True(t, dec("-2").Equal(movements[1].Delta))
}

func TestProductTemplates(t *testing.T) {
	ctx := setupDB(t)
	fx := seedTable(t, ctx, "1", "1")

	table, err := models.GetProduct(ctx, fx.Table.ID)
	require.NoError(t, err)
	assert.True(t, table.IsManufactured)
	require.Len(t, table.BomLines, 2)
	assert.Equal(t, fx.Leg.ID, table.BomLines[0].ComponentId)
	require.Len(t, table.StepTemplates, 2)
	assert.Equal(t, "Assemble", table.StepTemplates[1].Description)

	_, err = models.CreateProduct(ctx, &models.NewProduct{Name: ""})
	assert.ErrorIs(t, err, utils.ErrValidation)
	_, err = models.CreateProduct(ctx, &models.NewProduct{Name: "Bad", Steps: []string{" "}})
	assert.ErrorIs(t, err, utils.ErrValidation)
	_, err = models.CreateProduct(ctx, &models.NewProduct{Name: "Bad", Qty: dec("-1")})
	assert.ErrorIs(t, err, utils.ErrValidation)
	_, err = models.UpdateProduct(ctx, fx.Table.ID, &models.NewProduct{
		Name: "Table",
		Bom:  []models.NewBomLine{{Product: models.ProductRef{Id: fx.Table.ID}, Qty: dec("1")}},
	})
	assert.ErrorIs(t, err, utils.ErrValidation)

	found, err := models.GetProductsByIds(ctx, config.GetDB(), testBusinessId, []int{fx.Leg.ID, fx.Leg.ID, 777})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	products, err := models.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 3)
}
