package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const paymentEventHandler = "payment_event"

type Invoice struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"size:64;not null;index;uniqueIndex:uniq_invoice_number,priority:1" json:"business_id"`
	Number       int64           `gorm:"not null;uniqueIndex:uniq_invoice_number,priority:2" json:"number"`
	CustomerName string          `gorm:"size:100;not null" json:"customer_name"`
	Total        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"balance"`
	Status       InvoiceStatus   `gorm:"size:20;not null;index" json:"status"`
	PaidAt       *time.Time      `json:"paid_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	CustomerName string          `json:"customer_name" validate:"required,max=100"`
	Total        decimal.Decimal `json:"total"`
}

// PaymentEvent is delivered by the payment provider webhook, possibly more than once.
type PaymentEvent struct {
	EventId   string          `json:"event_id" validate:"required,max=255"`
	InvoiceId int             `json:"invoice_id" validate:"gt=0"`
	Amount    decimal.Decimal `json:"amount"`
}

func (i Invoice) GetBusinessId() string {
	return i.BusinessId
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Total.IsPositive() {
		return nil, utils.NewValidationError("total", "must be greater than 0")
	}

	var invoice Invoice
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := NextSequence(tx, businessId, sequenceInvoice)
		if err != nil {
			return err
		}
		invoice = Invoice{
			BusinessId:   businessId,
			Number:       number,
			CustomerName: strings.TrimSpace(input.CustomerName),
			Total:        input.Total,
			Balance:      input.Total,
			Status:       InvoiceStatusUnpaid,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return createHistory(tx, historyActionCreate, invoice.ID, ReferenceTypeInvoice, nil, invoice, "Created Invoice")
	})
	if err != nil {
		return nil, utils.Persistence(err)
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	return GetResource[Invoice](ctx, invoiceId)
}

// ApplyPaymentEvent reduces the invoice balance once per event id. A redelivered event
// returns the current invoice with applied=false. Overpayment clears the balance.
func ApplyPaymentEvent(ctx context.Context, event *PaymentEvent) (invoice *Invoice, applied bool, err error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, false, errors.New("business id is required")
	}
	if err := utils.ValidateStruct(event); err != nil {
		return nil, false, err
	}
	if !event.Amount.IsPositive() {
		return nil, false, utils.NewValidationError("amount", "must be greater than 0")
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, businessId, paymentEventHandler, event.EventId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		var current Invoice
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id = ?", businessId, event.InvoiceId).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		} else if err != nil {
			return err
		}

		balance := current.Balance.Sub(event.Amount)
		status := InvoiceStatusPartial
		updates := map[string]interface{}{}
		if !balance.IsPositive() {
			balance = decimal.Zero
			status = InvoiceStatusPaid
			now := time.Now()
			updates["paid_at"] = &now
		}
		updates["balance"] = balance
		updates["status"] = status
		if err := tx.Model(&Invoice{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := createHistory(tx, historyActionPayment, current.ID, ReferenceTypeInvoice,
			map[string]interface{}{"balance": current.Balance, "status": current.Status},
			map[string]interface{}{"balance": balance, "status": status, "event_id": event.EventId},
			"Applied payment "+event.Amount.String()); err != nil {
			return err
		}
		if err := PublishOrderEvent(ctx, tx, businessId, EventInvoicePaymentApplied, time.Now(), current.ID, ReferenceTypeInvoice, event, nil, PubSubMessageActionCreate); err != nil {
			return err
		}
		applied = true
		return MarkIdempotencySucceeded(tx, businessId, paymentEventHandler, event.EventId)
	})
	if err != nil {
		if !errors.Is(err, ErrIdempotencyInProgress) {
			recordFailedPaymentEvent(ctx, businessId, event.EventId, err)
		}
		return nil, false, utils.Persistence(err)
	}
	invalidateCache[Invoice](ctx, "invoice.go", event.InvoiceId)
	invoice, err = GetInvoice(ctx, event.InvoiceId)
	if err != nil {
		return nil, applied, err
	}
	return invoice, applied, nil
}

// recordFailedPaymentEvent leaves a FAILED key behind a rolled-back delivery.
// BeginIdempotency reclaims it on redelivery.
func recordFailedPaymentEvent(ctx context.Context, businessId string, eventId string, cause error) {
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, businessId, paymentEventHandler, eventId)
		if err != nil || skip {
			return err
		}
		return MarkIdempotencyFailed(tx, businessId, paymentEventHandler, eventId, cause)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "recordFailedPaymentEvent", "Recording failed payment event", eventId, err)
	}
}
