package models

import (
	"context"
	"time"

	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

type ManufacturingStepPhoto struct {
	ID           int       `gorm:"primary_key" json:"id"`
	StepId       string    `gorm:"size:36;index;not null" json:"step_id"`
	ImageUrl     string    `gorm:"size:1024;not null" json:"image_url"`
	ThumbnailUrl string    `gorm:"size:1024" json:"thumbnail_url"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AttachManufacturingStepPhoto records an uploaded photo against the step at index.
// Returns ErrorRecordNotFound when there is no such step.
func AttachManufacturingStepPhoto(ctx context.Context, orderId int, index int, imageUrl string, thumbnailUrl string) (*ManufacturingOrder, error) {
	if utils.IsBlank(imageUrl) {
		return nil, utils.NewValidationError("image_url", "is required")
	}
	return mutateOrder(ctx, orderId, func(tx *gorm.DB, order *ManufacturingOrder) error {
		step := stepAt(order, index)
		if step == nil {
			return utils.ErrorRecordNotFound
		}
		photo := ManufacturingStepPhoto{StepId: step.ID, ImageUrl: imageUrl, ThumbnailUrl: thumbnailUrl}
		if err := tx.Create(&photo).Error; err != nil {
			return err
		}
		return touchOrder(ctx, tx, order, false)
	})
}
