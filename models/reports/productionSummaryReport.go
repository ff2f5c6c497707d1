package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
)

type ProductionSummaryResponse struct {
	ProductId      int             `json:"product_id"`
	ProductName    string          `json:"product_name"`
	ProductSku     string          `json:"product_sku"`
	CompletedCount int64           `json:"completed_count"`
	ProducedQty    decimal.Decimal `json:"produced_qty"`
	ConsumedQty    decimal.Decimal `json:"consumed_qty"`
}

// GetProductionSummaryReport lists finished products produced in [fromDate, toDate),
// with the component quantity their orders consumed.
func GetProductionSummaryReport(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*ProductionSummaryResponse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !toDate.After(fromDate) {
		return nil, utils.NewValidationError("to", "must be after from")
	}
	started := time.Now()
	defer logSlowReport(ctx, "production_summary", started, map[string]any{"from": fromDate, "to": toDate})

	cacheKey := fmt.Sprintf("ProductionSummary:%s:%d:%d", businessId, fromDate.Unix(), toDate.Unix())
	var cached []*ProductionSummaryResponse
	if found, err := cacheGet(ctx, cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	sql := `
SELECT
    p.id AS product_id,
    p.name AS product_name,
    p.sku AS product_sku,
    COUNT(DISTINCT mo.id) AS completed_count,
    COALESCE(SUM(CASE WHEN im.product_id = mo.product_id THEN im.delta ELSE 0 END), 0) AS produced_qty,
    COALESCE(SUM(CASE WHEN im.product_id <> mo.product_id THEN -im.delta ELSE 0 END), 0) AS consumed_qty
FROM
    manufacturing_orders AS mo
    JOIN products AS p ON p.id = mo.product_id
    LEFT JOIN inventory_movements AS im ON im.reference_type = @refType
        AND im.reference_id = mo.id
        AND im.business_id = mo.business_id
WHERE
    mo.business_id = @businessId
    AND mo.status = @status
    AND mo.completed_at >= @fromDate
    AND mo.completed_at < @toDate
GROUP BY
    p.id, p.name, p.sku
ORDER BY
    p.name
`
	var records []*ProductionSummaryResponse
	err := config.GetDB().WithContext(ctx).Raw(sql, map[string]interface{}{
		"refType":    models.ReferenceTypeManufacturingOrder,
		"businessId": businessId,
		"status":     models.ManufacturingOrderStatusCompleted,
		"fromDate":   fromDate,
		"toDate":     toDate,
	}).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	if err := cacheSet(ctx, cacheKey, records); err != nil {
		config.LogError(config.GetLogger(), "productionSummaryReport.go", "GetProductionSummaryReport", "Caching report", cacheKey, err)
	}
	return records, nil
}
