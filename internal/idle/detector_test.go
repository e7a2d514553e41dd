package idle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/db"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return store.NewGormStore(gdb)
}

func seedStation(t *testing.T, s store.Store, stationID int64, online bool, sockets []model.Socket) {
	t.Helper()
	latest := model.LatestStatus{
		StationID:   stationID,
		StationName: "station",
		Online:      online,
		Timestamp:   time.Now().UnixMilli(),
	}
	require.NoError(t, latest.SetSockets(sockets))
	require.NoError(t, s.SaveLatestStatus(context.Background(), latest))
}

func seedAnchor(t *testing.T, s store.Store, stationID int64, socketID int, at time.Time) {
	t.Helper()
	ev := model.NewStatusEvent(stationID, "station", socketID,
		model.StatusOccupied, model.StatusAvailable, at.UnixMilli(), time.UTC)
	require.NoError(t, s.InsertEvents(context.Background(), []model.StatusEvent{ev}))
}

func testConfig() config.AlertConfig {
	return config.AlertConfig{IdleThresholdMinutes: 30}
}

func TestDetectPastThreshold(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{
		{ID: 1, Status: model.StatusAvailable},
		{ID: 2, Status: model.StatusOccupied},
	})
	anchor := now.Add(-45 * time.Minute)
	seedAnchor(t, s, 1, 1, anchor)

	got, err := d.Detect(context.Background(), testConfig(), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].StationID)
	assert.Equal(t, 1, got[0].SocketID)
	assert.Equal(t, 45, got[0].IdleMinutes)
	assert.Equal(t, anchor.UnixMilli(), got[0].IdleStartTime)
}

func TestDetectBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	seedAnchor(t, s, 1, 1, now.Add(-10*time.Minute))

	got, err := d.Detect(context.Background(), testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectNewEpisodeResetsAnchor(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	// Old episode, then an occupation, then a fresh availability.
	seedAnchor(t, s, 1, 1, now.Add(-3*time.Hour))
	seedAnchor(t, s, 1, 1, now.Add(-5*time.Minute))

	got, err := d.Detect(context.Background(), testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, got, "latest availability transition is under the threshold")
}

func TestDetectSkipsAlreadyAlertedEpisode(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	anchor := now.Add(-45 * time.Minute)
	seedAnchor(t, s, 1, 1, anchor)

	require.NoError(t, s.SaveIdleAlertLogs(ctx, []model.IdleAlertLog{{
		ID:            "seed-log",
		StationID:     1,
		StationName:   "station",
		SocketID:      1,
		IdleStartTime: anchor.UnixMilli() / 1000,
		Target:        "http://example.com/hook",
		Success:       true,
		TriggeredAt:   now.Unix(),
		LogDate:       "2023-11-14",
	}}))

	got, err := d.Detect(ctx, testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectFailedLogDoesNotDedup(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	anchor := now.Add(-45 * time.Minute)
	seedAnchor(t, s, 1, 1, anchor)

	require.NoError(t, s.SaveIdleAlertLogs(ctx, []model.IdleAlertLog{{
		ID:            "seed-log",
		StationID:     1,
		StationName:   "station",
		SocketID:      1,
		IdleStartTime: anchor.UnixMilli() / 1000,
		Target:        "http://example.com/hook",
		Success:       false,
		ErrorMessage:  "webhook returned 500",
		TriggeredAt:   now.Unix(),
		LogDate:       "2023-11-14",
	}}))

	got, err := d.Detect(ctx, testConfig(), now)
	require.NoError(t, err)
	assert.Len(t, got, 1, "failed deliveries must stay retryable")
}

func TestDetectStationAllowList(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	seedAnchor(t, s, 1, 1, now.Add(-45*time.Minute))

	cfg := testConfig()
	cfg.EnabledStationIDs = []int64{99}

	got, err := d.Detect(context.Background(), cfg, now)
	require.NoError(t, err)
	assert.Empty(t, got)

	cfg.EnabledStationIDs = []int64{1}
	got, err = d.Detect(context.Background(), cfg, now)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDetectIgnoresOfflineStationsAndAnchorlessSockets(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, false, []model.Socket{{ID: 1, Status: model.StatusAvailable}})
	seedAnchor(t, s, 1, 1, now.Add(-45*time.Minute))
	// Online station whose socket has no availability transition on record.
	seedStation(t, s, 2, true, []model.Socket{{ID: 1, Status: model.StatusAvailable}})

	got, err := d.Detect(context.Background(), testConfig(), now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectAllIgnoresThresholdAndDedup(t *testing.T) {
	s := newTestStore(t)
	d := NewDetector(s, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	seedStation(t, s, 1, true, []model.Socket{
		{ID: 1, Status: model.StatusAvailable},
		{ID: 2, Status: model.StatusAvailable},
		{ID: 3, Status: model.StatusOccupied},
	})
	seedAnchor(t, s, 1, 1, now.Add(-5*time.Minute))
	// Socket 2 has no anchor but still counts for summaries.

	got, err := d.DetectAll(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := make(map[int]Socket)
	for _, sock := range got {
		byID[sock.SocketID] = sock
	}
	assert.Equal(t, 5, byID[1].IdleMinutes)
	assert.Equal(t, 0, byID[2].IdleMinutes)
	assert.Zero(t, byID[2].IdleStartTime)
}
