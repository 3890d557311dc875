package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SchedulerStats interface {
	Stats() (running, queued int)
	Workers() int
}

type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
	Running int    `json:"running"`
	Queued  int    `json:"queued"`
}

type HealthHandler struct {
	sched SchedulerStats
}

func NewHealthHandler(sched SchedulerStats) *HealthHandler {
	return &HealthHandler{sched: sched}
}

func (h *HealthHandler) Health(c *gin.Context) {
	running, queued := h.sched.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Workers: h.sched.Workers(),
		Running: running,
		Queued:  queued,
	})
}
