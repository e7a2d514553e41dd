package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/alert"
	"charging-alert-backend/internal/db"
	"charging-alert-backend/internal/idle"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/notify"
	"charging-alert-backend/internal/store"
	"charging-alert-backend/internal/tracker"
	"charging-alert-backend/internal/vendorapi"
)

type fakeSource struct {
	mu      sync.Mutex
	details map[string]*vendorapi.PortDetail
}

func (f *fakeSource) set(simID string, ports []int, portNumber int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.details == nil {
		f.details = make(map[string]*vendorapi.PortDetail)
	}
	f.details[simID] = &vendorapi.PortDetail{
		Ports: ports,
		Device: vendorapi.Device{
			SimID:      simID,
			PortNumber: portNumber,
			Online:     1,
		},
	}
}

// setFault reports the station with the vendor's device fault flag set.
func (f *fakeSource) setFault(simID string, ports []int, portNumber int) {
	f.set(simID, ports, portNumber)
	f.mu.Lock()
	f.details[simID].MachineFault = 1
	f.mu.Unlock()
}

func (f *fakeSource) DeviceDetail(ctx context.Context, simID string) (*vendorapi.PortDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[simID]
	if !ok {
		return nil, fmt.Errorf("unknown sim %q", simID)
	}
	return d, nil
}

type alwaysWorkday struct{}

func (alwaysWorkday) IsWorkday(ctx context.Context, now time.Time) bool { return true }

type hookRecorder struct {
	mu       sync.Mutex
	payloads []notify.IdlePayload
}

func (h *hookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p notify.IdlePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil && p.Type == "idle_alert" {
			h.mu.Lock()
			h.payloads = append(h.payloads, p)
			h.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *hookRecorder) idleAlerts() []notify.IdlePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]notify.IdlePayload(nil), h.payloads...)
}

type fixture struct {
	service *Service
	store   store.Store
	source  *fakeSource
	hooks   *hookRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	s := store.NewGormStore(gdb)

	hooks := &hookRecorder{}
	srv := httptest.NewServer(hooks.handler())
	t.Cleanup(srv.Close)

	log := zap.NewNop().Sugar()
	holder := config.NewHolder(config.AlertConfig{
		Enabled:                  true,
		IdleThresholdMinutes:     30,
		TimeRangeStart:           "08:00",
		TimeRangeEnd:             "17:00",
		WebhookURLs:              []string{srv.URL},
		RetryTimes:               0,
		RetryIntervalSeconds:     1,
		FaultDebounceMinutes:     3,
		BoundaryToleranceMinutes: 1,
		BoundaryCooldownMinutes:  3,
		SummaryDedupMinutes:      5,
	})

	detector := idle.NewDetector(s, log)
	engine := alert.NewEngine(s, detector, alwaysWorkday{}, time.UTC, log)
	tr := tracker.New(s, time.UTC, log)
	source := &fakeSource{}

	pollerCfg := config.PollerConfig{
		Interval:      time.Minute,
		RetentionDays: 30,
		Stations:      []config.StationConfig{{ID: 1, Name: "west lot", SimID: "sim-1"}},
	}

	return &fixture{
		service: New(s, source, tr, engine, holder, pollerCfg, time.UTC, log),
		store:   s,
		source:  source,
		hooks:   hooks,
	}
}

func TestTickOnceAlertsAfterIdleThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) // a Wednesday

	// Both sockets occupied; first reading establishes the baseline.
	f.source.set("sim-1", []int{0, 1, 1}, 2)
	res := f.service.TickOnce(ctx, base)
	assert.Equal(t, alert.StateSteadyState, res.State)
	assert.Zero(t, res.IdleSockets)

	// Socket 1 frees up a minute later.
	f.source.set("sim-1", []int{0, 0, 1}, 2)
	res = f.service.TickOnce(ctx, base.Add(1*time.Minute))
	assert.Zero(t, res.AlertsSent, "below the idle threshold")

	anchor, err := f.store.LatestAvailableEvent(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	assert.Equal(t, base.Add(1*time.Minute).UnixMilli(), anchor.Timestamp)

	// Forty-five minutes of idleness later the alert goes out.
	res = f.service.TickOnce(ctx, base.Add(46*time.Minute))
	assert.Equal(t, alert.StateSteadyState, res.State)
	assert.Equal(t, 1, res.IdleSockets)
	assert.Equal(t, 1, res.AlertsSent)

	alerts := f.hooks.idleAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(1), alerts[0].StationID)
	assert.Equal(t, 1, alerts[0].SocketID)
	assert.Equal(t, 45, alerts[0].IdleMinutes)
	assert.Equal(t, anchor.Timestamp, alerts[0].IdleStartTime)
	assert.Equal(t, 30, alerts[0].Config.Threshold)
	assert.Equal(t, "08:00-17:00", alerts[0].Config.TimeRange)

	// The next tick must not alert the same episode again.
	res = f.service.TickOnce(ctx, base.Add(47*time.Minute))
	assert.Zero(t, res.AlertsSent)
	assert.Len(t, f.hooks.idleAlerts(), 1)
}

func TestTickOnceReAlertsNewEpisode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base)
	f.source.set("sim-1", []int{0, 0}, 1)
	f.service.TickOnce(ctx, base.Add(1*time.Minute))
	f.service.TickOnce(ctx, base.Add(40*time.Minute))
	require.Len(t, f.hooks.idleAlerts(), 1)

	// The socket gets used and freed again: a fresh episode.
	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base.Add(50*time.Minute))
	f.source.set("sim-1", []int{0, 0}, 1)
	f.service.TickOnce(ctx, base.Add(51*time.Minute))
	f.service.TickOnce(ctx, base.Add(90*time.Minute))

	alerts := f.hooks.idleAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, base.Add(51*time.Minute).UnixMilli(), alerts[1].IdleStartTime)
}

func TestTickOnceDebouncesTransientFaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base)

	// A fault reading that clears within the debounce threshold.
	f.source.setFault("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base.Add(1*time.Minute))
	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base.Add(2*time.Minute))

	events, err := f.store.EventsByDate(ctx, "2024-01-03")
	require.NoError(t, err)
	assert.Empty(t, events, "transient fault must leave no history")

	pending, err := f.store.ListPendingFaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTickOnceConfirmsPersistentFaultViaSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base)

	f.source.setFault("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base.Add(1*time.Minute))

	// Still faulting past the three minute threshold: the sweep
	// confirms the onset, timestamped at first detection.
	f.service.TickOnce(ctx, base.Add(5*time.Minute))

	events, err := f.store.EventsByDate(ctx, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusFault, events[0].NewStatus)
	assert.Equal(t, base.Add(1*time.Minute).UnixMilli(), events[0].Timestamp)

	// Recovery afterwards emits the matching recovery event only.
	f.source.set("sim-1", []int{0, 1}, 1)
	f.service.TickOnce(ctx, base.Add(7*time.Minute))

	events, err = f.store.EventsByDate(ctx, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestTickOnceSurvivesStationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	// The fake source knows no sims at all; polling fails per station
	// but the tick still completes and runs the engine.
	res := f.service.TickOnce(ctx, base)
	assert.Equal(t, alert.StateSteadyState, res.State)
	assert.False(t, res.Failed)
}
