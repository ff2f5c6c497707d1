package models

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

// ManufacturingBomLine is an order-level override of the product's BOM. Once an order
// has any lines, the product template is no longer consulted for it.
type ManufacturingBomLine struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	Position  int             `gorm:"not null;default:0" json:"position"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	IsPicked  bool            `gorm:"not null;default:false" json:"is_picked"`
}

// workingBom returns the lines that apply to order: its own lines when present,
// otherwise the product template as unsaved, unpicked lines.
func workingBom(order *ManufacturingOrder, product *Product) ([]ManufacturingBomLine, BomSource) {
	if len(order.BomLines) > 0 {
		return order.BomLines, BomSourceOrder
	}
	if product == nil || len(product.BomLines) == 0 {
		return nil, BomSourceTemplate
	}
	lines := make([]ManufacturingBomLine, 0, len(product.BomLines))
	for i, t := range product.BomLines {
		lines = append(lines, ManufacturingBomLine{
			OrderId:   order.ID,
			Position:  i,
			ProductId: t.ComponentId,
			Qty:       t.Qty,
		})
	}
	return lines, BomSourceTemplate
}

func loadTemplateProduct(tx *gorm.DB, order *ManufacturingOrder) (*Product, error) {
	if order.ProductId == 0 {
		return nil, nil
	}
	var product Product
	err := preloadOrdered(tx, "BomLines").
		Where("business_id = ? AND id = ?", order.BusinessId, order.ProductId).
		Limit(1).Find(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, nil
	}
	return &product, nil
}

// ToggleBomLinePicked flips the picked flag of the working BOM line at index. A
// template-derived BOM is copied onto the order first, so the order stops following
// later template edits. An index outside the list changes nothing.
func ToggleBomLinePicked(ctx context.Context, orderId int, index int) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		var product *Product
		if len(order.BomLines) == 0 {
			var err error
			if product, err = loadTemplateProduct(tx, order); err != nil {
				return err
			}
		}
		lines, source := workingBom(order, product)
		if index < 0 || index >= len(lines) {
			return nil
		}
		picked := !lines[index].IsPicked

		if source == BomSourceTemplate {
			lines[index].IsPicked = picked
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		} else if err := tx.Model(&ManufacturingBomLine{}).Where("id = ?", lines[index].ID).Update("is_picked", picked).Error; err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, picked)
	})
}

// SetManufacturingOrderBom replaces the order's BOM. An empty list reverts the order to
// the product template.
func SetManufacturingOrderBom(ctx context.Context, orderId int, input []NewBomLine) (*ManufacturingOrder, error) {
	for i, line := range input {
		if !line.Product.IsSet() {
			return nil, utils.NewValidationError(fmt.Sprintf("bom[%d].product", i), "is required")
		}
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError(fmt.Sprintf("bom[%d].qty", i), "must be greater than 0")
		}
	}
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		if err := validateComponents(tx, order.BusinessId, order.ProductId, input); err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&ManufacturingBomLine{}).Error; err != nil {
			return err
		}
		if len(input) > 0 {
			lines := make([]ManufacturingBomLine, 0, len(input))
			for i, l := range input {
				lines = append(lines, ManufacturingBomLine{OrderId: order.ID, Position: i, ProductId: l.Product.Id, Qty: l.Qty})
			}
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		if err := createHistory(tx, historyActionUpdate, order.ID, ReferenceTypeManufacturingOrder, order.BomLines, input, "Updated BOM of Manufacturing Order "+order.DisplayNumber()); err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, false)
	})
}
