package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/alert"
	"charging-alert-backend/internal/db"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/store"
)

type fakeTicker struct {
	calls int
}

func (f *fakeTicker) TickOnce(ctx context.Context, now time.Time) alert.Result {
	f.calls++
	return alert.Result{State: alert.StateSteadyState, IdleSockets: 1, AlertsSent: 1}
}

func newTestRouter(t *testing.T) (*gin.Engine, store.Store, *config.Holder, *fakeTicker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	s := store.NewGormStore(gdb)
	holder := config.NewHolder(config.AlertConfig{
		Enabled:                  true,
		IdleThresholdMinutes:     30,
		TimeRangeStart:           "08:00",
		TimeRangeEnd:             "17:00",
		RetryTimes:               3,
		RetryIntervalSeconds:     5,
		FaultDebounceMinutes:     3,
		BoundaryToleranceMinutes: 1,
		BoundaryCooldownMinutes:  3,
		SummaryDedupMinutes:      5,
	})
	ticker := &fakeTicker{}
	return NewRouter(s, holder, ticker, config.ServerConfig{}), s, holder, ticker
}

func TestHealth(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetStatus(t *testing.T) {
	router, s, _, _ := newTestRouter(t)

	latest := model.LatestStatus{StationID: 1, StationName: "west lot", Online: true, Timestamp: 1000}
	require.NoError(t, latest.SetSockets([]model.Socket{{ID: 1, Status: model.StatusAvailable}}))
	require.NoError(t, s.SaveLatestStatus(context.Background(), latest))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/status", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got []model.LatestStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "west lot", got[0].StationName)
}

func TestGetEventsValidatesDate(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	for _, q := range []string{"", "?date=yesterday", "?date=2024-1-1"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/events"+q, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetEvents(t *testing.T) {
	router, s, _, _ := newTestRouter(t)

	ev := model.NewStatusEvent(1, "a", 2, model.StatusOccupied, model.StatusAvailable, 1700000000000, time.UTC)
	require.NoError(t, s.InsertEvents(context.Background(), []model.StatusEvent{ev}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/events?date="+ev.EventDate, nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got []model.StatusEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
}

func TestGetAlertConfig(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/alert/config", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got config.AlertConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 30, got.IdleThresholdMinutes)
	assert.Equal(t, "08:00", got.TimeRangeStart)
}

func TestPutAlertConfig(t *testing.T) {
	router, _, holder, _ := newTestRouter(t)

	body := `{"enabled":true,"idleThresholdMinutes":45,"timeRangeStart":"09:00","timeRangeEnd":"18:00","retryTimes":2,"retryIntervalSeconds":10}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/alert/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 45, holder.Alert().IdleThresholdMinutes)
	assert.Equal(t, "09:00", holder.Alert().TimeRangeStart)
}

func TestPutAlertConfigRejectsInvalid(t *testing.T) {
	router, _, holder, _ := newTestRouter(t)

	body := `{"enabled":true,"idleThresholdMinutes":30,"timeRangeStart":"25:00","timeRangeEnd":"17:00"}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/alert/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "08:00", holder.Alert().TimeRangeStart, "invalid update must not apply")
}

func TestTriggerTick(t *testing.T) {
	router, _, _, ticker := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/alert/trigger", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ticker.calls)

	var got alert.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, alert.StateSteadyState, got.State)
	assert.Equal(t, 1, got.AlertsSent)
}
