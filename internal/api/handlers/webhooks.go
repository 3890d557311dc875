package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/core"
)

const maxBodyBytes = 1 << 20

type OrderIntake interface {
	Accept(ctx context.Context, body []byte) (*core.IntakeResult, error)
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"order_id,omitempty"`
	Units   int    `json:"units,omitempty"`
}

type WebhookHandler struct {
	intake  OrderIntake
	events  core.EventStore
	log     *logrus.Entry
	nowFunc func() time.Time
}

func NewWebhookHandler(intake OrderIntake, events core.EventStore, log *logrus.Entry) *WebhookHandler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookHandler{
		intake:  intake,
		events:  events,
		log:     log.WithField("component", "webhooks"),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// readBody reads at most maxBodyBytes. Larger bodies get a 413 instead of
// being cut short.
func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "body_too_large",
				Message: fmt.Sprintf("Request body exceeds %d bytes", maxBodyBytes),
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: "Failed to read request body"})
		return nil, false
	}
	return body, true
}

// ReceiveOrder answers as soon as the order is accepted or recognised as a
// duplicate. Printing outcomes are only visible through the jobs API.
func (h *WebhookHandler) ReceiveOrder(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	res, err := h.intake.Accept(c.Request.Context(), body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	msg := "order accepted"
	if res.Duplicate {
		msg = "duplicate ignored"
	}
	c.JSON(http.StatusOK, WebhookResponse{
		Success: true,
		Message: msg,
		OrderID: res.OrderID,
		Units:   res.Units,
	})
}

// ReceiveVendorEvents stores every event of a vendor callback verbatim. The
// body may be a single event object or an array of them.
func (h *WebhookHandler) ReceiveVendorEvents(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	events, err := decodeVendorEvents(body, h.nowFunc())
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: err.Error()})
		return
	}

	if err := h.events.InsertVendorEvents(c.Request.Context(), events); err != nil {
		h.log.WithError(err).Error("failed to store vendor events")
		abortWithError(c, err)
		return
	}

	h.log.WithField("events", len(events)).Info("vendor events recorded")
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: fmt.Sprintf("%d events recorded", len(events)),
	})
}

func decodeVendorEvents(body []byte, now time.Time) ([]*core.VendorEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty event payload")
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("invalid event payload: %w", err)
		}
	} else {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("invalid event payload")
		}
		raws = []json.RawMessage{trimmed}
	}

	events := make([]*core.VendorEvent, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Event string `json:"event"`
			Type  string `json:"type"`
		}
		_ = json.Unmarshal(raw, &head)
		eventType := head.Event
		if eventType == "" {
			eventType = head.Type
		}
		if eventType == "" {
			eventType = "unknown"
		}
		events = append(events, &core.VendorEvent{
			ID:         uuid.NewString(),
			EventType:  eventType,
			Payload:    raw,
			ReceivedAt: now,
		})
	}
	return events, nil
}

// RegisterRoutes mounts both webhooks on r behind their own guards.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup, orderGuard, vendorGuard gin.HandlerFunc) {
	r.POST("", orderGuard, h.ReceiveOrder)
	r.POST("/vendor", vendorGuard, h.ReceiveVendorEvents)
}
