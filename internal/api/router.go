package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/api/handlers"
	"github.com/orrn/labelrelay/internal/api/middleware"
	"github.com/orrn/labelrelay/internal/core"
)

type RouterConfig struct {
	OrderSecret  string
	VendorSecret string
	VendorHeader string
}

type Deps struct {
	Intake    handlers.OrderIntake
	Repo      core.Repository
	Events    core.EventStore
	Retrier   handlers.Retrier
	Scheduler handlers.SchedulerStats
}

func NewRouter(cfg RouterConfig, deps Deps, log *logrus.Entry) *gin.Engine {
	if cfg.VendorHeader == "" {
		cfg.VendorHeader = "X-Webhook-Secret"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log.WithField("component", "http")))

	health := handlers.NewHealthHandler(deps.Scheduler)
	r.GET("/healthz", health.Health)

	webhooks := handlers.NewWebhookHandler(deps.Intake, deps.Events, log)
	webhooks.RegisterRoutes(
		r.Group("/webhooks"),
		middleware.VerifyOrderSignature(cfg.OrderSecret),
		middleware.RequireSharedSecret(cfg.VendorHeader, cfg.VendorSecret),
	)

	jobs := handlers.NewJobHandler(deps.Repo, deps.Retrier, deps.Events)
	jobs.RegisterRoutes(r.Group("/api"))

	return r
}
