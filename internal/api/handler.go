package api

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/alert"
	"charging-alert-backend/internal/store"
)

// TickRunner lets the API fire one poll-and-alert cycle on demand.
type TickRunner interface {
	TickOnce(ctx context.Context, now time.Time) alert.Result
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store  store.Store
	holder *config.Holder
	ticker TickRunner
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, holder *config.Holder, ticker TickRunner) *Handler {
	return &Handler{store: s, holder: holder, ticker: ticker}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus returns the latest snapshot of every station.
func (h *Handler) GetStatus(c *gin.Context) {
	statuses, err := h.store.ListLatestStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statuses"})
		return
	}
	c.JSON(http.StatusOK, statuses)
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// GetEvents returns the status transitions of one day.
func (h *Handler) GetEvents(c *gin.Context) {
	date := c.Query("date")
	if !dateRe.MatchString(date) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	events, err := h.store.EventsByDate(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetAlertConfig returns the live alert configuration.
func (h *Handler) GetAlertConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.holder.Alert())
}

// PutAlertConfig validates and swaps in a new alert configuration. The
// next poll tick picks it up.
func (h *Handler) PutAlertConfig(c *gin.Context) {
	var cfg config.AlertConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.holder.SetAlert(cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.holder.Alert())
}

// TriggerTick runs one poll cycle immediately and returns its result.
func (h *Handler) TriggerTick(c *gin.Context) {
	result := h.ticker.TickOnce(c.Request.Context(), time.Now())
	c.JSON(http.StatusOK, result)
}
