package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/ledger_backend/config"
	"github.com/mmdatafocus/ledger_backend/graph"
	"github.com/mmdatafocus/ledger_backend/middlewares"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/mmdatafocus/ledger_backend/utils"
	"github.com/mmdatafocus/ledger_backend/workflow"
	"github.com/ravilushqa/otelgqlgen"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// newRouter wires every route. The readiness gate answers 503 until the DB is connected.
func newRouter(ledger *workflow.Ledger, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Redis is optional: locks and the rate cache degrade to the DB.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-company-id", "x-actor-id", "x-actor-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		if rdb := config.GetRedisDB(); rdb != nil {
			limit := int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
			window := time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
			r.Use(NewRateLimiter(rdb, limit, window).RateLimitMiddleware)
		}
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	h := &ledgerHandlers{ledger: ledger}
	v1 := r.Group("/v1", middlewares.SessionMiddleware(), middlewares.LoaderMiddleware())
	{
		v1.POST("/prepayments", h.createRequest)
		v1.GET("/prepayments/:id", h.getRequest)
		v1.POST("/prepayments/:id/submit", h.stageEvent(ledger.Submit))
		v1.POST("/prepayments/:id/approve", h.stageEvent(ledger.Approve))
		v1.POST("/prepayments/:id/disburse", h.stageEvent(ledger.Disburse))
		v1.POST("/prepayments/:id/cancel", h.stageEvent(ledger.Cancel))
		v1.POST("/prepayments/:id/close", h.stageEvent(ledger.Close))
		v1.POST("/prepayments/:id/archive", h.stageEvent(ledger.Archive))
		v1.GET("/prepayments/:id/stages", h.stageHistory)
		v1.GET("/prepayments/:id/lines", h.listLines)
		v1.GET("/prepayments/:id/applications", h.listApplications)
		v1.GET("/prepayments/:id/applications/export", h.exportApplications)
		v1.GET("/prepayments/:id/balances", h.recomputeBalances)
		v1.POST("/prepayments/:id/apply", h.applyToInvoice)
		v1.POST("/prepayments/:id/auto-apply", h.autoApply)
		v1.POST("/ledger-lines/:id/reverse", h.reverseLine)

		v1.GET("/invoices/:id/lines", h.listInvoiceLines)
		v1.GET("/invoices/:id/penalty", h.invoicePenalty)

		v1.POST("/references", h.generateReference)
		v1.POST("/tax/compute", h.computeTax)
		v1.POST("/tax-lines", h.createTaxLine)
		v1.PATCH("/tax-lines/:id", h.updateTaxLine)

		v1.POST("/payments", h.createPayment)
		v1.POST("/payments/:id/approve", h.approvePayment)
		v1.POST("/payments/:id/post", h.postPayment)

		v1.POST("/exchange-rates", h.registerExchangeRate)
		v1.GET("/exchange-rates/latest", h.latestExchangeRate)
		v1.POST("/exchange-differences/settle", h.settle)

		v1.PUT("/commission-flags/:payrollLineId", h.stampCommission)
		v1.GET("/commission-flags", h.listCommissionFlags)

		v1.POST("/query", graphqlHandler(ledger))
	}
	r.GET("/playground", playgroundHandler())

	// Ops tooling: inspect and replay outbox messages.
	ops := r.Group("/internal/ops", middlewares.SessionMiddleware())
	{
		ops.GET("/outbox/status", outboxStatusHandler())
		ops.POST("/outbox/replay", outboxReplayHandler())
	}
	r.NoRoute(customNotFoundHandler)
	return r
}

// graphqlHandler serves the ledger operations over GraphQL on the session-scoped /v1 group.
func graphqlHandler(ledger *workflow.Ledger) gin.HandlerFunc {
	es := graph.NewExecutableSchema(&graph.Resolver{
		Ledger: ledger,
		Tracer: otel.Tracer("ledger-backend/graph"),
	})
	h := handler.NewDefaultServer(es)
	h.Use(otelgqlgen.Middleware())
	h.AddTransport(transport.POST{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func playgroundHandler() gin.HandlerFunc {
	h := playground.Handler("Ledger", "/v1/query")

	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
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

	ledger := workflow.NewLedger(models.GormInvoiceSource{}, logger)
	r := newRouter(ledger, logger)

	// Start listening immediately; the readiness gate answers 503 until the DB is up.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if topic := strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")); topic != "" {
		// Client init retries until Pub/Sub is reachable; keep it off the startup path.
		go func() {
			client, err := config.GetClient(sigCtx)
			if err == nil {
				_, err = config.CreateTopicIfNotExists(client, topic)
			}
			if err != nil {
				config.LogError(logger, "server.go", "main", "ensuring pubsub topic", topic, err)
			}
		}()
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("ledger backend listening on port ", port)
	log.Println("Server started successfully")

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

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
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

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
