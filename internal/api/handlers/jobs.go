package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/labelrelay/internal/core"
)

type Retrier interface {
	RetryAttempt(ctx context.Context, attemptID string) (core.AttemptResult, error)
	RetryOrder(ctx context.Context, orderID string, includeSent bool) (*core.Summary, error)
}

type ListJobsResponse struct {
	Jobs  []*core.Attempt `json:"jobs"`
	Count int             `json:"count"`
}

type JobStatsResponse struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

type RetryJobResponse struct {
	Success bool               `json:"success"`
	Result  core.AttemptResult `json:"result"`
}

type RetryOrderResponse struct {
	Success bool          `json:"success"`
	Summary *core.Summary `json:"summary"`
}

type JobHandler struct {
	repo    core.Repository
	retrier Retrier
	events  core.EventStore
}

func NewJobHandler(repo core.Repository, retrier Retrier, events core.EventStore) *JobHandler {
	return &JobHandler{repo: repo, retrier: retrier, events: events}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	status := core.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_status",
			Message: "status must be one of pending, sent, failed",
		})
		return
	}

	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	jobs, err := h.repo.ListRecent(c.Request.Context(), core.ListFilter{Status: status, Limit: limit})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*core.Attempt{}
	}

	c.JSON(http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

func (h *JobHandler) GetJobStats(c *gin.Context) {
	counts, err := h.repo.CountByStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := JobStatsResponse{
		Pending: counts[core.StatusPending],
		Sent:    counts[core.StatusSent],
		Failed:  counts[core.StatusFailed],
	}
	resp.Total = resp.Pending + resp.Sent + resp.Failed
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) GetJob(c *gin.Context) {
	a, err := h.repo.FindByAttemptID(c.Request.Context(), c.Param("attemptId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *JobHandler) ListOrderJobs(c *gin.Context) {
	jobs, err := h.repo.FindByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if len(jobs) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no jobs for order"})
		return
	}
	c.JSON(http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// RetryJob blocks until the re-submission finishes so the caller learns the
// outcome directly.
func (h *JobHandler) RetryJob(c *gin.Context) {
	res, err := h.retrier.RetryAttempt(c.Request.Context(), c.Param("attemptId"))
	if err != nil {
		if errors.Is(err, core.ErrRetryFailed) {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "retry_failed",
				"message": err.Error(),
				"result":  res,
			})
			return
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, RetryJobResponse{Success: true, Result: res})
}

func (h *JobHandler) RetryOrder(c *gin.Context) {
	includeSent := false
	if raw := c.Query("include_sent"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_query", Message: "include_sent must be a boolean"})
			return
		}
		includeSent = v
	}

	summary, err := h.retrier.RetryOrder(c.Request.Context(), c.Param("orderId"), includeSent)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, RetryOrderResponse{Success: summary.Failed == 0, Summary: summary})
}

func (h *JobHandler) ListVendorEvents(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	events, err := h.events.ListVendorEvents(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if events == nil {
		events = []*core.VendorEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/stats", h.GetJobStats)
	r.GET("/jobs/:attemptId", h.GetJob)
	r.GET("/orders/:orderId/jobs", h.ListOrderJobs)
	r.POST("/retry-job/:attemptId", h.RetryJob)
	r.POST("/retry-order/:orderId", h.RetryOrder)
	r.GET("/vendor-events", h.ListVendorEvents)
}
