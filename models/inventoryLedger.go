package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/monitoring"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryMovement is the append-only record of every on-hand quantity change.
type InventoryMovement struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;index;not null" json:"business_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	Delta         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"delta"`
	QtyAfter      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_after"`
	ReferenceType ReferenceType   `gorm:"size:50;index:idx_movement_ref,priority:1" json:"reference_type"`
	ReferenceId   int             `gorm:"index:idx_movement_ref,priority:2" json:"reference_id"`
	Description   string          `gorm:"size:255" json:"description"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// MovementRef says why a quantity changed.
type MovementRef struct {
	ReferenceType ReferenceType
	ReferenceId   int
	Description   string
}

// InsufficientInventoryError names the first component that could not be covered.
type InsufficientInventoryError struct {
	ProductId   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Required    decimal.Decimal `json:"required"`
	OnHand      decimal.Decimal `json:"on_hand"`
}

func (e *InsufficientInventoryError) Error() string {
	name := e.ProductName
	if name == "" {
		name = fmt.Sprintf("product %d", e.ProductId)
	}
	return fmt.Sprintf("insufficient inventory for %s: required %s, on hand %s", name, e.Required.String(), e.OnHand.String())
}

func (e *InsufficientInventoryError) Unwrap() error {
	return utils.ErrInsufficientInventory
}

// InventoryLedger reads and mutates on-hand quantities inside one transaction.
type InventoryLedger interface {
	ReadQuantity(productId int) (decimal.Decimal, error)
	WriteQuantity(productId int, qty decimal.Decimal, ref MovementRef) error
	Decrement(productId int, qty decimal.Decimal, ref MovementRef) error
	Increment(productId int, qty decimal.Decimal, ref MovementRef) error
}

// GormInventoryLedger is bound to an open transaction. Reads take row locks so a
// check-then-write sequence cannot interleave with another writer.
type GormInventoryLedger struct {
	tx         *gorm.DB
	businessId string
	touched    []int
	directions []string
}

func NewInventoryLedger(tx *gorm.DB, businessId string) *GormInventoryLedger {
	return &GormInventoryLedger{tx: tx, businessId: businessId}
}

func (l *GormInventoryLedger) lockProduct(productId int) (*Product, error) {
	var product Product
	err := l.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", l.businessId, productId).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (l *GormInventoryLedger) ReadQuantity(productId int) (decimal.Decimal, error) {
	product, err := l.lockProduct(productId)
	if err != nil {
		return decimal.Zero, err
	}
	return product.Qty, nil
}

func (l *GormInventoryLedger) WriteQuantity(productId int, qty decimal.Decimal, ref MovementRef) error {
	if qty.IsNegative() {
		return utils.NewValidationError("qty", "must not be negative")
	}
	product, err := l.lockProduct(productId)
	if err != nil {
		return err
	}
	if err := l.tx.Model(&Product{}).
		Where("business_id = ? AND id = ?", l.businessId, productId).
		Update("qty", qty).Error; err != nil {
		return err
	}
	return l.record(productId, qty.Sub(product.Qty), qty, ref)
}

// Decrement fails with *InsufficientInventoryError instead of going negative.
func (l *GormInventoryLedger) Decrement(productId int, qty decimal.Decimal, ref MovementRef) error {
	if !qty.IsPositive() {
		return utils.NewValidationError("qty", "must be greater than 0")
	}
	res := l.tx.Model(&Product{}).
		Where("business_id = ? AND id = ? AND qty >= ?", l.businessId, productId, qty).
		Update("qty", gorm.Expr("qty - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	product, err := l.lockProduct(productId)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &InsufficientInventoryError{ProductId: productId, ProductName: product.Name, Required: qty, OnHand: product.Qty}
	}
	return l.record(productId, qty.Neg(), product.Qty, ref)
}

func (l *GormInventoryLedger) Increment(productId int, qty decimal.Decimal, ref MovementRef) error {
	if !qty.IsPositive() {
		return utils.NewValidationError("qty", "must be greater than 0")
	}
	res := l.tx.Model(&Product{}).
		Where("business_id = ? AND id = ?", l.businessId, productId).
		Update("qty", gorm.Expr("qty + ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	product, err := l.lockProduct(productId)
	if err != nil {
		return err
	}
	return l.record(productId, qty, product.Qty, ref)
}

func (l *GormInventoryLedger) record(productId int, delta decimal.Decimal, after decimal.Decimal, ref MovementRef) error {
	movement := InventoryMovement{
		BusinessId:    l.businessId,
		ProductId:     productId,
		Delta:         delta,
		QtyAfter:      after,
		ReferenceType: ref.ReferenceType,
		ReferenceId:   ref.ReferenceId,
		Description:   ref.Description,
	}
	if err := l.tx.Create(&movement).Error; err != nil {
		return err
	}
	l.touched = append(l.touched, productId)
	if delta.IsNegative() {
		l.directions = append(l.directions, "out")
	} else {
		l.directions = append(l.directions, "in")
	}
	return nil
}

// Committed must be called once the surrounding transaction has committed. It drops
// cached products and counts the movements.
func (l *GormInventoryLedger) Committed(ctx context.Context) {
	invalidateCache[Product](ctx, "inventoryLedger.go", utils.UniqueSlice(l.touched)...)
	for _, d := range l.directions {
		monitoring.RecordInventoryMovement(d)
	}
	l.touched = nil
	l.directions = nil
}

// AdjustProductQty applies a manual stock adjustment. The result may not go below zero.
func AdjustProductQty(ctx context.Context, productId int, delta decimal.Decimal, description string) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if delta.IsZero() {
		return nil, utils.NewValidationError("delta", "must not be zero")
	}
	if description == "" {
		description = "Manual adjustment"
	}

	var ledger *GormInventoryLedger
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger = NewInventoryLedger(tx, businessId)
		ref := MovementRef{ReferenceType: ReferenceTypeProduct, ReferenceId: productId, Description: description}
		if delta.IsNegative() {
			return ledger.Decrement(productId, delta.Neg(), ref)
		}
		return ledger.Increment(productId, delta, ref)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	ledger.Committed(ctx)
	return GetProduct(ctx, productId)
}

func ListInventoryMovements(ctx context.Context, productId int) ([]*InventoryMovement, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var results []*InventoryMovement
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
