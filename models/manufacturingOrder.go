package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ManufacturingOrder struct {
	ID              int                      `gorm:"primary_key" json:"id"`
	BusinessId      string                   `gorm:"size:64;not null;index;uniqueIndex:uniq_mo_number,priority:1" json:"business_id"`
	Number          int64                    `gorm:"not null;uniqueIndex:uniq_mo_number,priority:2" json:"number"`
	Status          ManufacturingOrderStatus `gorm:"size:20;not null;default:'not_started';index" json:"status"`
	ProductId       int                      `gorm:"index" json:"product_id"`
	ProductName     string                   `gorm:"size:100" json:"product_name"`
	ProjectId       *int                     `gorm:"index" json:"project_id"`
	Notes           string                   `gorm:"type:text" json:"notes"`
	TemplateApplied bool                     `gorm:"not null;default:false" json:"template_applied"`
	StartedAt       *time.Time               `json:"started_at"`
	CompletedAt     *time.Time               `json:"completed_at"`
	Steps           []ManufacturingStep      `gorm:"foreignKey:OrderId" json:"manufacturing_steps"`
	BomLines        []ManufacturingBomLine   `gorm:"foreignKey:OrderId" json:"bom"`
	CreatedBy       int                      `json:"created_by"`
	UpdatedBy       int                      `json:"updated_by"`
	CreatedAt       time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewManufacturingOrder struct {
	Product   ProductRef   `json:"product"`
	ProjectId *int         `json:"project_id"`
	Notes     string       `json:"notes"`
	Bom       []NewBomLine `json:"bom"`
}

type UpdateManufacturingOrder struct {
	ProjectId   *int    `json:"project_id"`
	ProductName *string `json:"product_name"`
	Notes       *string `json:"notes"`
}

func (o ManufacturingOrder) GetBusinessId() string {
	return o.BusinessId
}

func (o ManufacturingOrder) DisplayNumber() string {
	return fmt.Sprintf("MO-%d", o.Number)
}

func (o ManufacturingOrder) IsLocked() bool {
	return o.Status == ManufacturingOrderStatusCompleted
}

// IsReadyToProduce: not completed, at least one step and every step done.
func IsReadyToProduce(order *ManufacturingOrder) bool {
	if order == nil || order.IsLocked() {
		return false
	}
	if len(order.Steps) == 0 {
		return false
	}
	for _, s := range order.Steps {
		if !s.IsCompleted {
			return false
		}
	}
	return true
}

// Progress returns completed steps as a whole percentage; 0 when there are no steps.
func Progress(order *ManufacturingOrder) int {
	if order == nil || len(order.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range order.Steps {
		if s.IsCompleted {
			done++
		}
	}
	return done * 100 / len(order.Steps)
}

// lockOrder selects the order FOR UPDATE and loads its steps and BOM lines.
func lockOrder(tx *gorm.DB, businessId string, orderId int) (*ManufacturingOrder, error) {
	var order ManufacturingOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, orderId).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("order_id = ?", orderId).Order("position ASC, id ASC").Find(&order.Steps).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("order_id = ?", orderId).Order("position ASC, id ASC").Find(&order.BomLines).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// mutateOrder runs fn against the locked order. Completed orders are rejected with
// ErrOrderLocked before fn runs. The fresh order is returned after commit.
func mutateOrder(ctx context.Context, orderId int, fn func(tx *gorm.DB, order *ManufacturingOrder) error) (*ManufacturingOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, businessId, orderId)
		if err != nil {
			return err
		}
		if order.IsLocked() {
			return utils.ErrOrderLocked
		}
		return fn(tx, order)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return GetManufacturingOrder(ctx, orderId)
}

// touchOrder bumps updated_at/updated_by and auto-starts the order when enabled.
func touchOrder(ctx context.Context, tx *gorm.DB, order *ManufacturingOrder, startsWork bool) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	updates := map[string]interface{}{
		"updated_by": userId,
		"updated_at": time.Now(),
	}
	if startsWork && order.Status == ManufacturingOrderStatusNotStarted && config.AutoStartOrders() {
		now := time.Now()
		updates["status"] = ManufacturingOrderStatusInProgress
		updates["started_at"] = &now
		order.Status = ManufacturingOrderStatusInProgress
		order.StartedAt = &now
	}
	return tx.Model(&ManufacturingOrder{}).Where("id = ?", order.ID).Updates(updates).Error
}

func CreateManufacturingOrder(ctx context.Context, input *NewManufacturingOrder) (*ManufacturingOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.Product.IsSet() {
		return nil, utils.NewValidationError("product", "is required")
	}
	for i, line := range input.Bom {
		if !line.Product.IsSet() {
			return nil, utils.NewValidationError(fmt.Sprintf("bom[%d].product", i), "is required")
		}
		if !line.Qty.IsPositive() {
			return nil, utils.NewValidationError(fmt.Sprintf("bom[%d].qty", i), "must be greater than 0")
		}
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	var order ManufacturingOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product Product
		err := tx.Where("business_id = ? AND id = ?", businessId, input.Product.Id).First(&product).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewValidationError("product", "does not exist")
		} else if err != nil {
			return err
		}
		if input.ProjectId != nil {
			if err := tx.Where("business_id = ? AND id = ?", businessId, *input.ProjectId).First(&Project{}).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.NewValidationError("project_id", "does not exist")
				}
				return err
			}
		}
		if err := validateComponents(tx, businessId, product.ID, input.Bom); err != nil {
			return err
		}

		number, err := NextSequence(tx, businessId, sequenceManufacturingOrder)
		if err != nil {
			return err
		}
		order = ManufacturingOrder{
			BusinessId:  businessId,
			Number:      number,
			Status:      ManufacturingOrderStatusNotStarted,
			ProductId:   product.ID,
			ProductName: product.Name,
			ProjectId:   input.ProjectId,
			Notes:       strings.TrimSpace(input.Notes),
			CreatedBy:   userId,
			UpdatedBy:   userId,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if len(input.Bom) > 0 {
			lines := make([]ManufacturingBomLine, 0, len(input.Bom))
			for i, l := range input.Bom {
				lines = append(lines, ManufacturingBomLine{OrderId: order.ID, Position: i, ProductId: l.Product.Id, Qty: l.Qty})
			}
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		if err := applyTemplate(tx, &order); err != nil {
			return err
		}
		if err := createHistory(tx, historyActionCreate, order.ID, ReferenceTypeManufacturingOrder, nil, order, "Created Manufacturing Order "+order.DisplayNumber()); err != nil {
			return err
		}
		return PublishOrderEvent(ctx, tx, businessId, EventManufacturingOrderCreated, order.CreatedAt, order.ID, ReferenceTypeManufacturingOrder, order, nil, PubSubMessageActionCreate)
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return GetManufacturingOrder(ctx, order.ID)
}

// applyTemplate backfills a missing product_name and seeds an order's steps from its
// product's step templates exactly once. The template_applied flag is flipped with a
// conditional update so a second call, concurrent or not, seeds nothing.
func applyTemplate(tx *gorm.DB, order *ManufacturingOrder) error {
	if order.ProductId == 0 {
		return nil
	}
	if err := backfillProductName(tx, order); err != nil {
		return err
	}
	res := tx.Model(&ManufacturingOrder{}).
		Where("id = ? AND template_applied = ?", order.ID, false).
		Update("template_applied", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	order.TemplateApplied = true

	var existing int64
	if err := tx.Model(&ManufacturingStep{}).Where("order_id = ?", order.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	var templates []ProductStepTemplate
	if err := tx.Where("product_id = ?", order.ProductId).Order("position ASC, id ASC").Find(&templates).Error; err != nil {
		return err
	}
	if len(templates) == 0 {
		return nil
	}
	steps := make([]ManufacturingStep, 0, len(templates))
	for i, t := range templates {
		steps = append(steps, newStep(order.ID, i, t.Description))
	}
	return tx.Create(&steps).Error
}

func backfillProductName(tx *gorm.DB, order *ManufacturingOrder) error {
	if order.ProductName != "" {
		return nil
	}
	var product Product
	err := tx.Select("id", "name").Where("business_id = ? AND id = ?", order.BusinessId, order.ProductId).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := tx.Model(&ManufacturingOrder{}).
		Where("id = ? AND (product_name = '' OR product_name IS NULL)", order.ID).
		Update("product_name", product.Name).Error; err != nil {
		return err
	}
	order.ProductName = product.Name
	return nil
}

// ApplyManufacturingOrderTemplate seeds steps for an order whose template was never
// applied, such as rows imported without the flag. Safe to call repeatedly.
func ApplyManufacturingOrderTemplate(ctx context.Context, orderId int) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		return applyTemplate(tx, order)
	})
}

func GetManufacturingOrder(ctx context.Context, orderId int) (*ManufacturingOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var order ManufacturingOrder
	err := preloadOrdered(config.GetDB().WithContext(ctx), "Steps", "BomLines").
		Preload("Steps.Photos").
		Where("business_id = ? AND id = ?", businessId, orderId).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func ListManufacturingOrders(ctx context.Context, status *ManufacturingOrderStatus) ([]*ManufacturingOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := preloadOrdered(config.GetDB().WithContext(ctx), "Steps").Where("business_id = ?", businessId)
	if status != nil {
		if !status.IsValid() {
			return nil, utils.NewValidationError("status", "is not a valid manufacturing order status")
		}
		db = db.Where("status = ?", *status)
	}
	var results []*ManufacturingOrder
	if err := db.Order("number DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func UpdateManufacturingOrderDetails(ctx context.Context, orderId int, input *UpdateManufacturingOrder) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		updates := map[string]interface{}{}
		if input.Notes != nil {
			updates["notes"] = strings.TrimSpace(*input.Notes)
		}
		if input.ProductName != nil {
			name := strings.TrimSpace(*input.ProductName)
			if name == "" {
				return utils.NewValidationError("product_name", "must not be blank")
			}
			if utf8.RuneCountInString(name) > 100 {
				return utils.NewValidationError("product_name", "must be at most 100 characters")
			}
			updates["product_name"] = name
		}
		if input.ProjectId != nil {
			if *input.ProjectId == 0 {
				updates["project_id"] = nil
			} else {
				if err := tx.Where("business_id = ? AND id = ?", order.BusinessId, *input.ProjectId).First(&Project{}).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return utils.NewValidationError("project_id", "does not exist")
					}
					return err
				}
				updates["project_id"] = *input.ProjectId
			}
		}
		if len(updates) == 0 {
			return nil
		}
		userId, _ := utils.GetUserIdFromContext(ctx)
		updates["updated_by"] = userId
		if err := tx.Model(&ManufacturingOrder{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionUpdate, order.ID, ReferenceTypeManufacturingOrder, order, input, "Updated Manufacturing Order "+order.DisplayNumber())
	})
}

// StartManufacturingOrder moves not_started to in_progress. Starting an order that is
// already in progress is a no-op.
func StartManufacturingOrder(ctx context.Context, orderId int) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		if order.Status != ManufacturingOrderStatusNotStarted {
			return nil
		}
		now := time.Now()
		userId, _ := utils.GetUserIdFromContext(ctx)
		if err := tx.Model(&ManufacturingOrder{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":     ManufacturingOrderStatusInProgress,
			"started_at": &now,
			"updated_by": userId,
		}).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionUpdate, order.ID, ReferenceTypeManufacturingOrder,
			map[string]interface{}{"status": order.Status},
			map[string]interface{}{"status": ManufacturingOrderStatusInProgress},
			"Started Manufacturing Order "+order.DisplayNumber())
	})
}

// DeleteManufacturingOrder removes an order that has not been produced.
func DeleteManufacturingOrder(ctx context.Context, orderId int) (*ManufacturingOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	var order *ManufacturingOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(tx, businessId, orderId)
		if err != nil {
			return err
		}
		if order.IsLocked() {
			return utils.ErrOrderLocked
		}
		stepIds := make([]string, 0, len(order.Steps))
		for _, s := range order.Steps {
			stepIds = append(stepIds, s.ID)
		}
		if len(stepIds) > 0 {
			if err := tx.Where("step_id IN ?", stepIds).Delete(&ManufacturingStepPhoto{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("order_id = ?", orderId).Delete(&ManufacturingStep{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", orderId).Delete(&ManufacturingBomLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("business_id = ? AND id = ?", businessId, orderId).Delete(&ManufacturingOrder{}).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionDelete, orderId, ReferenceTypeManufacturingOrder, order, nil, "Deleted Manufacturing Order "+order.DisplayNumber())
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return order, nil
}
