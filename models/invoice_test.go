package models_test

import (
	"testing"

	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPaymentEventIsIdempotent(t *testing.T) {
	ctx := setupDB(t)
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{CustomerName: "Thiri Cafe", Total: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), invoice.Number)
	assert.Equal(t, models.InvoiceStatusUnpaid, invoice.Status)

	event := &models.PaymentEvent{EventId: "evt_1", InvoiceId: invoice.ID, Amount: dec("40")}
	got, applied, err := models.ApplyPaymentEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, dec("60").Equal(got.Balance))
	assert.Equal(t, models.InvoiceStatusPartial, got.Status)

	got, applied, err = models.ApplyPaymentEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, applied, "redelivery is a no-op")
	assert.True(t, dec("60").Equal(got.Balance))

	histories, err := models.ListHistories(ctx, models.ReferenceTypeInvoice, invoice.ID)
	require.NoError(t, err)
	assert.Len(t, histories, 2, "create + one payment")
}

func TestApplyPaymentEventOverpaymentClears(t *testing.T) {
	ctx := setupDB(t)
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{CustomerName: "Thiri Cafe", Total: dec("100")})
	require.NoError(t, err)

	got, applied, err := models.ApplyPaymentEvent(ctx, &models.PaymentEvent{EventId: "evt_9", InvoiceId: invoice.ID, Amount: dec("120")})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, models.InvoiceStatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
}

func TestApplyPaymentEventValidation(t *testing.T) {
	ctx := setupDB(t)

	_, _, err := models.ApplyPaymentEvent(ctx, &models.PaymentEvent{InvoiceId: 1, Amount: dec("1")})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, _, err = models.ApplyPaymentEvent(ctx, &models.PaymentEvent{EventId: "evt", InvoiceId: 1, Amount: dec("-1")})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, _, err = models.ApplyPaymentEvent(ctx, &models.PaymentEvent{EventId: "evt", InvoiceId: 404, Amount: dec("1")})
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	var key models.IdempotencyKey
	require.NoError(t, config.GetDB().Where("message_id = ?", "evt").First(&key).Error)
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)
	require.NotNil(t, key.LastError)

	// a FAILED key is reclaimed by the redelivery
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{CustomerName: "Late", Total: dec("5")})
	require.NoError(t, err)
	_, applied, err := models.ApplyPaymentEvent(ctx, &models.PaymentEvent{EventId: "evt", InvoiceId: invoice.ID, Amount: dec("1")})
	require.NoError(t, err)
	assert.True(t, applied)
}
