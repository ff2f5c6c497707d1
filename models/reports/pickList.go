package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiz/ops_backend/models"
	"github.com/xuri/excelize/v2"
)

const pickListSheet = "Pick List"

// ExportPickList renders the order's resolved BOM as a picking sheet.
func ExportPickList(ctx context.Context, orderId int, reader models.ProductReader) (*excelize.File, error) {
	started := time.Now()
	defer logSlowReport(ctx, "pick_list", started, map[string]any{"order_id": orderId})

	order, entries, err := models.ResolveManufacturingOrderBom(ctx, orderId, reader)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", pickListSheet); err != nil {
		return nil, err
	}

	f.SetCellValue(pickListSheet, "A1", "Order")
	f.SetCellValue(pickListSheet, "B1", order.DisplayNumber())
	f.SetCellValue(pickListSheet, "A2", "Product")
	f.SetCellValue(pickListSheet, "B2", order.ProductName)
	f.SetCellValue(pickListSheet, "A3", "Status")
	f.SetCellValue(pickListSheet, "B3", string(order.Status))

	headers := []string{"#", "Component", "SKU", "Required", "On Hand", "Available", "Picked"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 5)
		f.SetCellValue(pickListSheet, cell, h)
	}

	for i, e := range entries {
		row := i + 6
		f.SetCellValue(pickListSheet, "A"+fmt.Sprint(row), e.Index+1)
		f.SetCellValue(pickListSheet, "B"+fmt.Sprint(row), e.ProductName)
		f.SetCellValue(pickListSheet, "C"+fmt.Sprint(row), e.Sku)
		f.SetCellValue(pickListSheet, "D"+fmt.Sprint(row), e.RequiredQty.InexactFloat64())
		f.SetCellValue(pickListSheet, "E"+fmt.Sprint(row), e.OnHandQty.InexactFloat64())
		f.SetCellValue(pickListSheet, "F"+fmt.Sprint(row), yesNo(e.IsAvailable))
		f.SetCellValue(pickListSheet, "G"+fmt.Sprint(row), yesNo(e.IsPicked))
	}
	return f, nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
