package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// PubSubMessageRecord is a domain event written in the same transaction as the change
// it describes. The dispatcher publishes it after commit.
type PubSubMessageRecord struct {
	ID                  int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId          string              `gorm:"size:64;not null;index" json:"business_id"`
	TransactionDateTime time.Time           `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                 `json:"reference_id"`
	ReferenceType       ReferenceType       `gorm:"size:50" json:"reference_type"`
	EventType           string              `gorm:"size:100" json:"event_type"`
	Action              PubSubMessageAction `gorm:"size:1" json:"action"`
	OldObj              []byte              `json:"old_obj"`
	NewObj              []byte              `json:"new_obj"`
	PublishStatus       string              `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt         *time.Time          `gorm:"index" json:"published_at"`
	PubSubMessageId     *string             `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts     int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt       *time.Time          `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt            *time.Time          `gorm:"index" json:"locked_at"`
	LockedBy            *string             `gorm:"size:100" json:"locked_by"`
	LastPublishError    *string             `gorm:"type:text" json:"last_publish_error"`
	CorrelationId       string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	EventManufacturingOrderCreated   = "manufacturing_order.created"
	EventManufacturingOrderCompleted = "manufacturing_order.completed"
	EventInvoicePaymentApplied       = "invoice.payment_applied"
)

// PublishOrderEvent appends an outbox row using db, which must be the caller's transaction.
func PublishOrderEvent(ctx context.Context, db *gorm.DB, businessId string, eventType string, transactionDateTime time.Time, refId int, refType ReferenceType, obj interface{}, oldObj interface{}, msgAction PubSubMessageAction) error {
	var newBytes, oldBytes []byte
	var err error

	if msgAction == PubSubMessageActionCreate || msgAction == PubSubMessageActionUpdate {
		if newBytes, err = json.Marshal(obj); err != nil {
			return err
		}
	}
	if oldObj != nil && (msgAction == PubSubMessageActionUpdate || msgAction == PubSubMessageActionDelete) {
		if oldBytes, err = json.Marshal(oldObj); err != nil {
			return err
		}
	}

	record := PubSubMessageRecord{
		BusinessId:          businessId,
		TransactionDateTime: transactionDateTime,
		ReferenceId:         refId,
		ReferenceType:       refType,
		EventType:           eventType,
		Action:              msgAction,
		NewObj:              newBytes,
		OldObj:              oldBytes,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       utils.CorrelationIdOrNew(ctx),
	}
	return db.Create(&record).Error
}

// ToPubSubMessage builds the envelope sent to Pub/Sub for this record.
func (r PubSubMessageRecord) ToPubSubMessage() config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  r.ID,
		BusinessId:          r.BusinessId,
		TransactionDateTime: r.TransactionDateTime,
		ReferenceId:         r.ReferenceId,
		ReferenceType:       string(r.ReferenceType),
		EventType:           r.EventType,
		Action:              string(r.Action),
		OldObj:              r.OldObj,
		NewObj:              r.NewObj,
		CorrelationId:       r.CorrelationId,
	}
}

func ListOutboxRecords(ctx context.Context, status string) ([]*PubSubMessageRecord, error) {
	db := config.GetDB().WithContext(ctx)
	if status != "" {
		db = db.Where("publish_status = ?", status)
	}
	var records []*PubSubMessageRecord
	if err := db.Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
