package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (u *memoryUploader) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[objectKey] = data
	return "https://cdn.test/" + objectKey, nil
}

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newTestAPI(t *testing.T, uploader utils.ObjectUploader) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := config.OpenDatabase(sqlite.Open(filepath.Join(t.TempDir(), "api.db") + "?_busy_timeout=5000&_foreign_keys=on"))
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	config.SetDB(db)
	config.SetRedisDB(nil)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		config.SetDB(nil)
	})
	return &apiClient{t: t, router: setupRouter(config.GetLogger(), uploader)}
}

func (a *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("business_id", "biz-api")
	req.Header.Set("user_id", "3")
	req.Header.Set("user_name", "Ko Ko")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// data decodes {"data": ...} into dest.
func (a *apiClient) data(w *httptest.ResponseRecorder, dest any) {
	a.t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &envelope), w.Body.String())
	require.NoError(a.t, json.Unmarshal(envelope.Data, dest))
}

func (a *apiClient) createProduct(body map[string]any) int {
	a.t.Helper()
	w := a.do(http.MethodPost, "/products", body)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var p struct {
		ID int `json:"id"`
	}
	a.data(w, &p)
	return p.ID
}

type orderBody struct {
	ID             int    `json:"id"`
	Status         string `json:"status"`
	DisplayNumber  string `json:"display_number"`
	Progress       int    `json:"progress"`
	ReadyToProduce bool   `json:"ready_to_produce"`
	Steps          []struct {
		IsCompleted bool `json:"is_completed"`
		Photos      []struct {
			ThumbnailUrl string `json:"thumbnail_url"`
		} `json:"photos"`
	} `json:"manufacturing_steps"`
	ResolvedBom []struct {
		ProductName string `json:"product_name"`
		IsAvailable bool   `json:"is_available"`
		Source      string `json:"source"`
	} `json:"resolved_bom"`
}

func (a *apiClient) seedOrder(legQty int) (orderId int, legId int) {
	a.t.Helper()
	legId = a.createProduct(map[string]any{"name": "Leg", "sku": "LEG", "qty": fmt.Sprint(legQty)})
	tableId := a.createProduct(map[string]any{
		"name":                "Table",
		"bom":                 []map[string]any{{"product": map[string]any{"id": legId, "name": "Leg"}, "qty": "4"}},
		"manufacturing_steps": []string{"Cut", "Assemble"},
	})
	w := a.do(http.MethodPost, "/manufacturing-orders", map[string]any{"product": fmt.Sprint(tableId)})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var order orderBody
	a.data(w, &order)
	return order.ID, legId
}

func TestRequiresBusiness(t *testing.T) {
	api := newTestAPI(t, nil)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestManufacturingOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	orderId, legId := api.seedOrder(10)
	base := fmt.Sprintf("/manufacturing-orders/%d", orderId)

	w := api.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var order orderBody
	api.data(w, &order)
	assert.Equal(t, "MO-1", order.DisplayNumber)
	assert.Equal(t, "not_started", order.Status)
	require.Len(t, order.ResolvedBom, 1)
	assert.Equal(t, "Leg", order.ResolvedBom[0].ProductName)
	assert.Equal(t, "template", order.ResolvedBom[0].Source)
	assert.True(t, order.ResolvedBom[0].IsAvailable)

	w = api.do(http.MethodPost, base+"/produce", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "steps are not done")

	for i := 0; i < 2; i++ {
		w = api.do(http.MethodPatch, fmt.Sprintf("%s/steps/%d/toggle", base, i), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	api.data(w, &order)
	assert.Equal(t, 100, order.Progress)
	assert.True(t, order.ReadyToProduce)

	w = api.do(http.MethodPost, base+"/produce", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result struct {
		Consumed []struct {
			ProductId int    `json:"product_id"`
			Qty       string `json:"qty"`
		} `json:"consumed"`
	}
	api.data(w, &result)
	require.Len(t, result.Consumed, 1)
	assert.Equal(t, legId, result.Consumed[0].ProductId)
	assert.Equal(t, "4", result.Consumed[0].Qty)

	w = api.do(http.MethodPost, base+"/produce", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = api.do(http.MethodPost, base+"/steps", map[string]string{"description": "Polish"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"PRODUCE"`)

	w = api.do(http.MethodGet, fmt.Sprintf("/products/%d/movements", legId), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"qty_after":"6"`)

	today := time.Now().UTC()
	w = api.do(http.MethodGet, fmt.Sprintf("/reports/production-summary?from=%s&to=%s",
		today.AddDate(0, 0, -1).Format("2006-01-02"), today.AddDate(0, 0, 1).Format("2006-01-02")), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"product_name":"Table"`)
	assert.Contains(t, w.Body.String(), `"completed_count":1`)
	assert.Contains(t, w.Body.String(), `"consumed_qty":"4"`)
}

func TestProduceInsufficientInventoryOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)
	orderId, legId := api.seedOrder(3)
	base := fmt.Sprintf("/manufacturing-orders/%d", orderId)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, api.do(http.MethodPatch, fmt.Sprintf("%s/steps/%d/toggle", base, i), nil).Code)
	}

	w := api.do(http.MethodPost, base+"/produce", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var body struct {
		ProductId int    `json:"product_id"`
		Required  string `json:"required"`
		OnHand    string `json:"on_hand"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, legId, body.ProductId)
	assert.Equal(t, "4", body.Required)
	assert.Equal(t, "3", body.OnHand)
}

func TestStepAndBomEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	orderId, _ := api.seedOrder(10)
	base := fmt.Sprintf("/manufacturing-orders/%d", orderId)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, base+"/steps", map[string]string{"description": " "}).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/steps", map[string]string{"description": "Polish"}).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodPut, base+"/steps/2/notes", map[string]string{"notes": "wax"}).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodDelete, base+"/steps/0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPatch, base+"/steps/x/toggle", nil).Code)

	w := api.do(http.MethodPatch, base+"/bom/0/toggle-picked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var order orderBody
	api.data(w, &order)
	assert.Len(t, order.Steps, 2)

	w = api.do(http.MethodGet, base+"/pick-list.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/manufacturing-orders/999", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, base, nil).Code)
}

func TestPaymentWebhookReplay(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(http.MethodPost, "/invoices", map[string]string{"customer_name": "Thiri Cafe", "total": "50"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var invoice struct {
		ID int `json:"id"`
	}
	api.data(w, &invoice)

	event := map[string]any{"event_id": "evt_1", "invoice_id": invoice.ID, "amount": "50"}
	for i, wantApplied := range []bool{true, false} {
		w = api.do(http.MethodPost, "/webhooks/payments", event)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body struct {
			Applied bool `json:"applied"`
			Data    struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, wantApplied, body.Applied, "delivery %d", i+1)
		assert.Equal(t, "paid", body.Data.Status)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		img.Set(x, x%300, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func photoRequest(t *testing.T, path string, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="photo.png"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("business_id", "biz-api")
	return req
}

func TestUploadStepPhoto(t *testing.T) {
	uploader := &memoryUploader{}
	api := newTestAPI(t, uploader)
	orderId, _ := api.seedOrder(10)
	path := fmt.Sprintf("/manufacturing-orders/%d/steps/1/photos", orderId)

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, photoRequest(t, path, "application/pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, photoRequest(t, path, "image/png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order orderBody
	api.data(w, &order)
	require.Len(t, order.Steps[1].Photos, 1)
	assert.Contains(t, order.Steps[1].Photos[0].ThumbnailUrl, "/thumbnails/")

	require.Len(t, uploader.objects, 2)
	for key, data := range uploader.objects {
		assert.True(t, strings.HasPrefix(key, fmt.Sprintf("businesses/biz-api/manufacturing_orders/%d/steps/1/", orderId)), key)
		if strings.Contains(key, "/thumbnails/") {
			thumb, _, err := image.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 200, thumb.Bounds().Dx())
		}
	}
}

func TestUploadStepPhotoWithoutStorage(t *testing.T) {
	api := newTestAPI(t, nil)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, photoRequest(t, "/manufacturing-orders/1/steps/0/photos", "image/png", pngBytes(t)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProjectEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(http.MethodPost, "/projects", map[string]string{"name": "Kitchen refit"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var project struct {
		ID         int    `json:"id"`
		Name       string `json:"name"`
		TimelineId *int   `json:"timeline_id"`
	}
	api.data(w, &project)
	require.NotNil(t, project.TimelineId)

	w = api.do(http.MethodGet, fmt.Sprintf("/projects/%d", project.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Kitchen refit")

	w = api.do(http.MethodPost, fmt.Sprintf("/timelines/%d/entries", *project.TimelineId), map[string]string{"note": "measured walls"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/projects/999", nil).Code)
}
