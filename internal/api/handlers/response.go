package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/labelrelay/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// abortWithError maps domain errors to status codes. Anything unclassified
// is a 500.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, core.ErrMalformedOrder):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed_order", Message: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, core.ErrNoRetryData):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_retry_data", Message: err.Error()})
	case errors.Is(err, core.ErrAttemptInFlight):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "attempt_in_flight", Message: err.Error()})
	case errors.Is(err, core.ErrRetryFailed):
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "retry_failed", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return core.DefaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_limit", Message: "limit must be a non-negative integer"})
		return 0, false
	}
	return core.NormalizeLimit(n), true
}
