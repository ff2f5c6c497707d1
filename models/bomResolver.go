package models

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// EnrichedBomEntry is a working BOM line joined with the component's live stock.
type EnrichedBomEntry struct {
	Index       int             `json:"index"`
	ProductId   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Sku         string          `json:"sku"`
	RequiredQty decimal.Decimal `json:"required_qty"`
	OnHandQty   decimal.Decimal `json:"on_hand_qty"`
	IsAvailable bool            `json:"is_available"`
	IsPicked    bool            `json:"is_picked"`
	Source      BomSource       `json:"source"`
}

// ProductReader batches product lookups. Ids that do not resolve are left out of the map.
type ProductReader interface {
	GetProductsByIds(ctx context.Context, ids []int) (map[int]*Product, error)
}

type dbProductReader struct {
	db         *gorm.DB
	businessId string
}

func NewProductReader(db *gorm.DB, businessId string) ProductReader {
	return &dbProductReader{db: db, businessId: businessId}
}

func (r *dbProductReader) GetProductsByIds(ctx context.Context, ids []int) (map[int]*Product, error) {
	return GetProductsByIds(ctx, r.db, r.businessId, ids)
}

// ResolveBom builds the enriched working BOM for order. product supplies the template
// and may be nil. Lines whose component cannot be found are dropped and logged.
// Nothing is written.
func ResolveBom(ctx context.Context, reader ProductReader, order *ManufacturingOrder, product *Product) ([]EnrichedBomEntry, error) {
	lines, source := workingBom(order, product)
	if len(lines) == 0 {
		return []EnrichedBomEntry{}, nil
	}

	ids := make([]int, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductId)
	}
	products, err := reader.GetProductsByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]EnrichedBomEntry, 0, len(lines))
	for i, l := range lines {
		component, ok := products[l.ProductId]
		if !ok || component == nil {
			config.LogError(config.GetLogger(), "bomResolver.go", "ResolveBom", "Dropping unresolvable BOM line",
				map[string]interface{}{"order_id": order.ID, "product_id": l.ProductId}, utils.ErrorRecordNotFound)
			continue
		}
		entries = append(entries, EnrichedBomEntry{
			Index:       i,
			ProductId:   component.ID,
			ProductName: component.Name,
			Sku:         component.Sku,
			RequiredQty: l.Qty,
			OnHandQty:   component.Qty,
			IsAvailable: component.Qty.GreaterThanOrEqual(l.Qty),
			IsPicked:    l.IsPicked,
			Source:      source,
		})
	}
	return entries, nil
}

// ResolveManufacturingOrderBom loads the order and its product template and resolves
// the working BOM through reader. A nil reader reads straight from the database.
func ResolveManufacturingOrderBom(ctx context.Context, orderId int, reader ProductReader) (*ManufacturingOrder, []EnrichedBomEntry, error) {
	ctx, span := tracer.Start(ctx, "ResolveManufacturingOrderBom", trace.WithAttributes(attribute.Int("order_id", orderId)))
	defer span.End()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}
	order, err := GetManufacturingOrder(ctx, orderId)
	if err != nil {
		return nil, nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if !order.IsLocked() {
		if err := backfillProductName(db, order); err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
	}
	var product *Product
	if len(order.BomLines) == 0 {
		if product, err = loadTemplateProduct(db, order); err != nil {
			return nil, nil, err
		}
	}
	if reader == nil {
		reader = NewProductReader(db, businessId)
	}
	entries, err := ResolveBom(ctx, reader, order, product)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("bom_lines", len(entries)))
	return order, entries, nil
}
