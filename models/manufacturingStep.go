package models

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

// ManufacturingStep is one checklist item on an order. Steps are addressed by their
// position in the order's ordered list.
type ManufacturingStep struct {
	ID          string                   `gorm:"primary_key;size:36" json:"id"`
	OrderId     int                      `gorm:"index;not null" json:"order_id"`
	Position    int                      `gorm:"not null;default:0" json:"position"`
	Description string                   `gorm:"type:text;not null" json:"description"`
	IsCompleted bool                     `gorm:"not null;default:false" json:"is_completed"`
	Notes       string                   `gorm:"type:text" json:"notes"`
	CompletedAt *time.Time               `json:"completed_at"`
	Photos      []ManufacturingStepPhoto `gorm:"foreignKey:StepId" json:"photos"`
	CreatedAt   time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

func newStep(orderId int, position int, description string) ManufacturingStep {
	return ManufacturingStep{
		ID:          uuid.NewString(),
		OrderId:     orderId,
		Position:    position,
		Description: strings.TrimSpace(description),
	}
}

// stepAt returns nil when index is outside the order's steps.
func stepAt(order *ManufacturingOrder, index int) *ManufacturingStep {
	if index < 0 || index >= len(order.Steps) {
		return nil
	}
	return &order.Steps[index]
}

// AddManufacturingStep appends a step. Blank descriptions are rejected before any I/O.
func AddManufacturingStep(ctx context.Context, orderId int, description string) (*ManufacturingOrder, error) {
	if utils.IsBlank(description) {
		return nil, utils.NewValidationError("description", "must not be blank")
	}
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		position := 0
		if n := len(order.Steps); n > 0 {
			position = order.Steps[n-1].Position + 1
		}
		step := newStep(order.ID, position, description)
		if err := tx.Create(&step).Error; err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, false)
	})
}

// ToggleManufacturingStep flips completion of the step at index. An index outside
// the list changes nothing.
func ToggleManufacturingStep(ctx context.Context, orderId int, index int) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		step := stepAt(order, index)
		if step == nil {
			return nil
		}
		completed := !step.IsCompleted
		var completedAt *time.Time
		if completed {
			now := time.Now()
			completedAt = &now
		}
		if err := tx.Model(&ManufacturingStep{}).Where("id = ?", step.ID).Updates(map[string]interface{}{
			"is_completed": completed,
			"completed_at": completedAt,
		}).Error; err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, completed)
	})
}

// SetManufacturingStepNotes replaces the notes of the step at index.
func SetManufacturingStepNotes(ctx context.Context, orderId int, index int, notes string) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		step := stepAt(order, index)
		if step == nil {
			return nil
		}
		if err := tx.Model(&ManufacturingStep{}).Where("id = ?", step.ID).Update("notes", notes).Error; err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, false)
	})
}

// DeleteManufacturingStep removes the step at index; later steps shift down by one.
func DeleteManufacturingStep(ctx context.Context, orderId int, index int) (*ManufacturingOrder, error) {
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		step := stepAt(order, index)
		if step == nil {
			return nil
		}
		if err := tx.Where("step_id = ?", step.ID).Delete(&ManufacturingStepPhoto{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", step.ID).Delete(&ManufacturingStep{}).Error; err != nil {
			return err
		}
		for i, s := range order.Steps[index+1:] {
			if err := tx.Model(&ManufacturingStep{}).Where("id = ?", s.ID).Update("position", index+i).Error; err != nil {
				return err
			}
		}
		return touchOrder(ctx, tx, order, false)
	})
}
