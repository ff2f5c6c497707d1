package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiz/ops_backend/middlewares"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/models/reports"
	"github.com/smallbiz/ops_backend/utils"
)

type orderResponse struct {
	*models.ManufacturingOrder
	DisplayNumber  string                    `json:"display_number"`
	Progress       int                       `json:"progress"`
	ReadyToProduce bool                      `json:"ready_to_produce"`
	ResolvedBom    []models.EnrichedBomEntry `json:"resolved_bom,omitempty"`
}

func newOrderResponse(order *models.ManufacturingOrder) orderResponse {
	return orderResponse{
		ManufacturingOrder: order,
		DisplayNumber:      order.DisplayNumber(),
		Progress:           models.Progress(order),
		ReadyToProduce:     models.IsReadyToProduce(order),
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var insufficient *models.InsufficientInventoryError
	var validation *utils.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "fields": utils.ProcessValidationErrors(err)})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":        insufficient.Error(),
			"product_id":   insufficient.ProductId,
			"product_name": insufficient.ProductName,
			"required":     insufficient.Required,
			"on_hand":      insufficient.OnHand,
		})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrOrderLocked), errors.Is(err, utils.ErrLockNotObtained), errors.Is(err, models.ErrIdempotencyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrNotReady):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

/* products */

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProduct
		if !bindJSON(c, &input) {
			return
		}
		product, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": product})
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := models.ListProducts(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": products})
	}
}

func getProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": product})
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var input models.NewProduct
		if !bindJSON(c, &input) {
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": product})
	}
}

type adjustProductRequest struct {
	Delta       decimal.Decimal `json:"delta"`
	Description string          `json:"description"`
}

func adjustProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req adjustProductRequest
		if !bindJSON(c, &req) {
			return
		}
		product, err := models.AdjustProductQty(c.Request.Context(), id, req.Delta, req.Description)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": product})
	}
}

func listMovementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		movements, err := models.ListInventoryMovements(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": movements})
	}
}

/* projects and timelines */

func createProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProject
		if !bindJSON(c, &input) {
			return
		}
		project, err := models.CreateProject(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": project})
	}
}

func listProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := models.ListProjects(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": projects})
	}
}

func getProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		project, err := models.GetProject(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": project})
	}
}

func listTimelineEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		entries, err := models.GetTimelineEntries(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries})
	}
}

func addTimelineNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var input models.NewTimelineEntry
		if !bindJSON(c, &input) {
			return
		}
		entry, err := models.AddTimelineNote(c.Request.Context(), id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": entry})
	}
}

/* manufacturing orders */

func createManufacturingOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewManufacturingOrder
		if !bindJSON(c, &input) {
			return
		}
		order, err := models.CreateManufacturingOrder(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": newOrderResponse(order)})
	}
}

func listManufacturingOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var status *models.ManufacturingOrderStatus
		if s := c.Query("status"); s != "" {
			st := models.ManufacturingOrderStatus(s)
			status = &st
		}
		orders, err := models.ListManufacturingOrders(c.Request.Context(), status)
		if err != nil {
			writeError(c, err)
			return
		}
		results := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			results = append(results, newOrderResponse(o))
		}
		c.JSON(http.StatusOK, gin.H{"data": results})
	}
}

func getManufacturingOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		order, bom, err := models.ResolveManufacturingOrderBom(c.Request.Context(), id, middlewares.LoaderProductReader{})
		if err != nil {
			writeError(c, err)
			return
		}
		resp := newOrderResponse(order)
		resp.ResolvedBom = bom
		c.JSON(http.StatusOK, gin.H{"data": resp})
	}
}

// orderMutation adapts a models call that returns the updated order into a handler.
func orderMutation(fn func(c *gin.Context, id int) (*models.ManufacturingOrder, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		order, err := fn(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": newOrderResponse(order)})
	}
}

// indexed wraps a mutation addressed by the :index path segment.
func indexed(fn func(c *gin.Context, id int, index int) (*models.ManufacturingOrder, error)) gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			return nil, utils.NewValidationError("index", "must be an integer")
		}
		return fn(c, id, index)
	})
}

func updateManufacturingOrderHandler() gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		var input models.UpdateManufacturingOrder
		if err := c.ShouldBindJSON(&input); err != nil {
			return nil, utils.NewValidationError("body", err.Error())
		}
		return models.UpdateManufacturingOrderDetails(c.Request.Context(), id, &input)
	})
}

func deleteManufacturingOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		order, err := models.DeleteManufacturingOrder(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": order})
	}
}

func startManufacturingOrderHandler() gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		return models.StartManufacturingOrder(c.Request.Context(), id)
	})
}

func applyTemplateHandler() gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		return models.ApplyManufacturingOrderTemplate(c.Request.Context(), id)
	})
}

type addStepRequest struct {
	Description string `json:"description"`
}

func addStepHandler() gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		var req addStepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, utils.NewValidationError("body", err.Error())
		}
		return models.AddManufacturingStep(c.Request.Context(), id, req.Description)
	})
}

func toggleStepHandler() gin.HandlerFunc {
	return indexed(func(c *gin.Context, id int, index int) (*models.ManufacturingOrder, error) {
		return models.ToggleManufacturingStep(c.Request.Context(), id, index)
	})
}

type stepNotesRequest struct {
	Notes string `json:"notes"`
}

func setStepNotesHandler() gin.HandlerFunc {
	return indexed(func(c *gin.Context, id int, index int) (*models.ManufacturingOrder, error) {
		var req stepNotesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, utils.NewValidationError("body", err.Error())
		}
		return models.SetManufacturingStepNotes(c.Request.Context(), id, index, req.Notes)
	})
}

func deleteStepHandler() gin.HandlerFunc {
	return indexed(func(c *gin.Context, id int, index int) (*models.ManufacturingOrder, error) {
		return models.DeleteManufacturingStep(c.Request.Context(), id, index)
	})
}

type setBomRequest struct {
	Bom []models.NewBomLine `json:"bom"`
}

func setOrderBomHandler() gin.HandlerFunc {
	return orderMutation(func(c *gin.Context, id int) (*models.ManufacturingOrder, error) {
		var req setBomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, utils.NewValidationError("body", err.Error())
		}
		return models.SetManufacturingOrderBom(c.Request.Context(), id, req.Bom)
	})
}

func toggleBomPickedHandler() gin.HandlerFunc {
	return indexed(func(c *gin.Context, id int, index int) (*models.ManufacturingOrder, error) {
		return models.ToggleBomLinePicked(c.Request.Context(), id, index)
	})
}

func produceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		result, err := models.ProduceManufacturingOrder(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func pickListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		f, err := reports.ExportPickList(c.Request.Context(), id, middlewares.LoaderProductReader{})
		if err != nil {
			writeError(c, err)
			return
		}
		defer f.Close()
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=pick-list-"+c.Param("id")+".xlsx")
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}

func orderHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		histories, err := models.ListHistories(c.Request.Context(), models.ReferenceTypeManufacturingOrder, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": histories})
	}
}

func productionSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := time.Parse("2006-01-02", c.Query("from"))
		if err != nil {
			writeError(c, utils.NewValidationError("from", "must be a date (YYYY-MM-DD)"))
			return
		}
		to, err := time.Parse("2006-01-02", c.Query("to"))
		if err != nil {
			writeError(c, utils.NewValidationError("to", "must be a date (YYYY-MM-DD)"))
			return
		}
		// inclusive end date
		rows, err := reports.GetProductionSummaryReport(c.Request.Context(), from, to.AddDate(0, 0, 1))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

/* invoices */

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if !bindJSON(c, &input) {
			return
		}
		invoice, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": invoice})
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": invoice})
	}
}

func paymentWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.PaymentEvent
		if !bindJSON(c, &event) {
			return
		}
		invoice, applied, err := models.ApplyPaymentEvent(c.Request.Context(), &event)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": invoice, "applied": applied})
	}
}
