package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/middlewares"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
	"github.com/smallbiz/ops_backend/workflow"
)

const defaultPort = "8080"

// RateLimiter is a fixed-window per-IP limiter backed by redis. It lets requests
// through while redis is unavailable.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// setupRouter wires middleware and routes. uploader may be nil when GCS is not configured.
func setupRouter(logger *logrus.Logger, uploader utils.ObjectUploader) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	if origins := splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "token", "business_id", "X-Correlation-Id")
	r.Use(cors.New(corsConfig))

	limit, _ := strconv.ParseInt(os.Getenv("RATE_LIMIT_PER_WINDOW"), 10, 64)
	windowSec, _ := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"))
	if limit > 0 && windowSec > 0 {
		r.Use(NewRateLimiter(config.GetRedisDB, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", middlewares.RequireBusiness())
	{
		api.POST("/products", createProductHandler())
		api.GET("/products", listProductsHandler())
		api.GET("/products/:id", getProductHandler())
		api.PUT("/products/:id", updateProductHandler())
		api.POST("/products/:id/adjust", adjustProductHandler())
		api.GET("/products/:id/movements", listMovementsHandler())

		api.POST("/projects", createProjectHandler())
		api.GET("/projects", listProjectsHandler())
		api.GET("/projects/:id", getProjectHandler())
		api.GET("/timelines/:id/entries", listTimelineEntriesHandler())
		api.POST("/timelines/:id/entries", addTimelineNoteHandler())

		orders := api.Group("/manufacturing-orders")
		orders.POST("", createManufacturingOrderHandler())
		orders.GET("", listManufacturingOrdersHandler())
		orders.GET("/:id", getManufacturingOrderHandler())
		orders.PATCH("/:id", updateManufacturingOrderHandler())
		orders.DELETE("/:id", deleteManufacturingOrderHandler())
		orders.POST("/:id/start", startManufacturingOrderHandler())
		orders.POST("/:id/apply-template", applyTemplateHandler())
		orders.POST("/:id/steps", addStepHandler())
		orders.PATCH("/:id/steps/:index/toggle", toggleStepHandler())
		orders.PUT("/:id/steps/:index/notes", setStepNotesHandler())
		orders.DELETE("/:id/steps/:index", deleteStepHandler())
		orders.POST("/:id/steps/:index/photos", uploadStepPhotoHandler(uploader))
		orders.PUT("/:id/bom", setOrderBomHandler())
		orders.PATCH("/:id/bom/:index/toggle-picked", toggleBomPickedHandler())
		orders.POST("/:id/produce", produceHandler())
		orders.GET("/:id/pick-list.xlsx", pickListHandler())
		orders.GET("/:id/history", orderHistoryHandler())

		api.GET("/reports/production-summary", productionSummaryHandler())

		api.POST("/invoices", createInvoiceHandler())
		api.GET("/invoices/:id", getInvoiceHandler())
		api.POST("/webhooks/payments", paymentWebhookHandler())
	}

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var uploader utils.ObjectUploader
	if gcs, err := utils.NewGCSUploaderFromEnv(); err == nil {
		uploader = gcs
	} else {
		logger.WithFields(logrus.Fields{"field": "uploads"}).Warn("step photo uploads disabled: " + err.Error())
	}

	// Start listening immediately; app endpoints return 503 until the DB is ready.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: setupRouter(logger, uploader),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Publishes committed outbox rows.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.PubSubConfigured() {
		go workflow.NewOutboxDispatcher(db, logger, workflow.PubSubPublisher{}).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_TOPIC/PUBSUB_PROJECT_ID not set; outbox dispatcher disabled")
	}

	log.Printf("Server started on :%s", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":   c.FullPath(),
				"status": c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "RateLimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count == 1 {
		if err := client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
