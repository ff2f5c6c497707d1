package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/monitoring"
	"github.com/smallbiz/ops_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	maxProductionAttempts = 3
	productionLockTTL     = 30 * time.Second
)

var tracer = otel.Tracer("github.com/smallbiz/ops_backend/models")

type ConsumedComponent struct {
	ProductId    int             `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Qty          decimal.Decimal `json:"qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
}

type ProductionResult struct {
	Order             *ManufacturingOrder `json:"order"`
	Consumed          []ConsumedComponent `json:"consumed"`
	FinishedProductId int                 `json:"finished_product_id"`
	FinishedQty       decimal.Decimal     `json:"finished_qty"`
	TimelineEntryId   *int                `json:"timeline_entry_id"`
}

// componentRequirement is the total quantity of one component across the working BOM.
type componentRequirement struct {
	productId int
	qty       decimal.Decimal
}

func aggregateRequirements(lines []ManufacturingBomLine) []componentRequirement {
	var reqs []componentRequirement
	seen := make(map[int]int)
	for _, l := range lines {
		if i, ok := seen[l.ProductId]; ok {
			reqs[i].qty = reqs[i].qty.Add(l.Qty)
			continue
		}
		seen[l.ProductId] = len(reqs)
		reqs = append(reqs, componentRequirement{productId: l.ProductId, qty: l.Qty})
	}
	return reqs
}

// isRetryableTxError matches lock contention that a fresh transaction can get past.
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "database is locked")
}

// ProduceManufacturingOrder consumes the working BOM from inventory, adds one unit of
// the finished product and completes the order, all in one transaction. Either every
// write lands or none does. The project timeline entry is appended after commit and
// its failure does not undo production.
func ProduceManufacturingOrder(ctx context.Context, orderId int) (*ProductionResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "ProduceManufacturingOrder", trace.WithAttributes(attribute.Int("order_id", orderId)))
	defer span.End()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	logger := config.GetLogger()

	release, err := utils.ObtainLock(ctx, fmt.Sprintf("produce:%s:%d", businessId, orderId), productionLockTTL, "production.go", "ProduceManufacturingOrder")
	if err != nil {
		monitoring.RecordProduction(monitoring.ResultRejected, started)
		return nil, err
	}
	defer release()

	var (
		result *ProductionResult
		ledger *GormInventoryLedger
	)
	for attempt := 1; ; attempt++ {
		result, ledger, err = produceOnce(ctx, businessId, orderId)
		if err == nil || !isRetryableTxError(err) || attempt >= maxProductionAttempts {
			break
		}
		config.LogError(logger, "production.go", "ProduceManufacturingOrder", "Retrying production transaction", map[string]interface{}{"order_id": orderId, "attempt": attempt}, err)
		time.Sleep(time.Duration(attempt*50) * time.Millisecond)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		monitoring.RecordProduction(productionResultLabel(err), started)
		return nil, utils.Persistence(err)
	}

	ledger.Committed(ctx)
	result.TimelineEntryId = appendProductionTimelineEntry(ctx, result.Order)
	monitoring.RecordProduction(monitoring.ResultSuccess, started)

	if order, getErr := GetManufacturingOrder(ctx, orderId); getErr == nil {
		result.Order = order
	}
	return result, nil
}

func productionResultLabel(err error) string {
	switch {
	case errors.Is(err, utils.ErrInsufficientInventory):
		return monitoring.ResultInsufficient
	case errors.Is(err, utils.ErrOrderLocked), errors.Is(err, utils.ErrNotReady), errors.Is(err, utils.ErrValidation), errors.Is(err, utils.ErrorRecordNotFound):
		return monitoring.ResultRejected
	default:
		return monitoring.ResultError
	}
}

func produceOnce(ctx context.Context, businessId string, orderId int) (*ProductionResult, *GormInventoryLedger, error) {
	var (
		result *ProductionResult
		ledger *GormInventoryLedger
	)
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := lockOrder(tx, businessId, orderId)
		if err != nil {
			return err
		}
		if order.IsLocked() {
			return utils.ErrOrderLocked
		}
		if order.ProductId == 0 {
			return utils.NewValidationError("product", "is required before production")
		}
		if !IsReadyToProduce(order) {
			return fmt.Errorf("%w: every manufacturing step must be completed", utils.ErrNotReady)
		}

		var product *Product
		if len(order.BomLines) == 0 {
			if product, err = loadTemplateProduct(tx, order); err != nil {
				return err
			}
		}
		lines, _ := workingBom(order, product)
		if config.RequireBomPicked() {
			for _, l := range lines {
				if !l.IsPicked {
					return fmt.Errorf("%w: every BOM line must be picked", utils.ErrNotReady)
				}
			}
		}

		ledger = NewInventoryLedger(tx, businessId)

		// check every component before writing anything
		reqs := aggregateRequirements(lines)
		resolved := make([]componentRequirement, 0, len(reqs))
		names := make(map[int]string, len(reqs))
		for _, req := range reqs {
			component, err := ledger.lockProduct(req.productId)
			if errors.Is(err, utils.ErrorRecordNotFound) {
				config.LogError(config.GetLogger(), "production.go", "produceOnce", "Skipping unresolvable BOM component",
					map[string]interface{}{"order_id": order.ID, "product_id": req.productId}, err)
				continue
			}
			if err != nil {
				return err
			}
			if component.Qty.LessThan(req.qty) {
				return &InsufficientInventoryError{ProductId: component.ID, ProductName: component.Name, Required: req.qty, OnHand: component.Qty}
			}
			names[component.ID] = component.Name
			resolved = append(resolved, req)
		}

		ref := MovementRef{
			ReferenceType: ReferenceTypeManufacturingOrder,
			ReferenceId:   order.ID,
			Description:   "Produced " + order.DisplayNumber(),
		}
		consumed := make([]ConsumedComponent, 0, len(resolved))
		for _, req := range resolved {
			if err := ledger.Decrement(req.productId, req.qty, ref); err != nil {
				return err
			}
			remaining, err := ledger.ReadQuantity(req.productId)
			if err != nil {
				return err
			}
			consumed = append(consumed, ConsumedComponent{ProductId: req.productId, ProductName: names[req.productId], Qty: req.qty, RemainingQty: remaining})
		}

		finishedQty := decimal.NewFromInt(1)
		if err := ledger.Increment(order.ProductId, finishedQty, ref); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return utils.NewValidationError("product", "finished product does not exist")
			}
			return err
		}

		now := time.Now()
		userId, _ := utils.GetUserIdFromContext(ctx)
		res := tx.Model(&ManufacturingOrder{}).
			Where("business_id = ? AND id = ? AND status <> ?", businessId, order.ID, ManufacturingOrderStatusCompleted).
			Updates(map[string]interface{}{
				"status":       ManufacturingOrderStatusCompleted,
				"completed_at": &now,
				"updated_by":   userId,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return utils.ErrOrderLocked
		}

		before := *order
		order.Status = ManufacturingOrderStatusCompleted
		order.CompletedAt = &now
		if err := createHistory(tx, historyActionProduce, order.ID, ReferenceTypeManufacturingOrder,
			map[string]interface{}{"status": before.Status},
			map[string]interface{}{"status": order.Status, "consumed": consumed},
			"Produced Manufacturing Order "+order.DisplayNumber()); err != nil {
			return err
		}
		if err := PublishOrderEvent(ctx, tx, businessId, EventManufacturingOrderCompleted, now, order.ID, ReferenceTypeManufacturingOrder, order, before, PubSubMessageActionUpdate); err != nil {
			return err
		}

		result = &ProductionResult{
			Order:             order,
			Consumed:          consumed,
			FinishedProductId: order.ProductId,
			FinishedQty:       finishedQty,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, ledger, nil
}

// appendProductionTimelineEntry records the completion on the project timeline, if
// any. Errors are logged only.
func appendProductionTimelineEntry(ctx context.Context, order *ManufacturingOrder) *int {
	logger := config.GetLogger()
	timelineId, err := resolveOrderTimelineId(config.GetDB().WithContext(ctx), order)
	if err != nil {
		config.LogError(logger, "production.go", "appendProductionTimelineEntry", "Resolving timeline", order.ID, err)
		return nil
	}
	if timelineId == 0 {
		return nil
	}
	actor, ok := utils.GetUserNameFromContext(ctx)
	if !ok || actor == "" {
		actor = systemUserName
	}
	timestamp := time.Now()
	if order.CompletedAt != nil {
		timestamp = *order.CompletedAt
	}
	note := fmt.Sprintf("%s completed", order.DisplayNumber())
	if order.ProductName != "" {
		note = fmt.Sprintf("%s completed: %s", order.DisplayNumber(), order.ProductName)
	}
	entry, err := DefaultTimelineAppender.AppendEntry(ctx, order.BusinessId, timelineId, NewTimelineEntry{
		Actor:     actor,
		Note:      note,
		Type:      TimelineEntryTypeManufacturingOrderCompleted,
		Timestamp: timestamp,
		Metadata: map[string]interface{}{
			"order_id":   order.ID,
			"number":     order.Number,
			"product_id": order.ProductId,
		},
	})
	if err != nil {
		config.LogError(logger, "production.go", "appendProductionTimelineEntry", "Appending timeline entry", order.ID, err)
		return nil
	}
	return &entry.ID
}
