// Package poller drives the tick loop: fetch every station's snapshot,
// persist status transitions, then hand the tick to the alert engine.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/alert"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/parse"
	"charging-alert-backend/internal/store"
	"charging-alert-backend/internal/tracker"
	"charging-alert-backend/internal/vendorapi"
)

// DeviceSource fetches the current port snapshot for one station.
type DeviceSource interface {
	DeviceDetail(ctx context.Context, simID string) (*vendorapi.PortDetail, error)
}

// Service polls the vendor API on a fixed interval.
type Service struct {
	store    store.Store
	source   DeviceSource
	tracker  *tracker.Tracker
	engine   *alert.Engine
	holder   *config.Holder
	stations []config.StationConfig
	loc      *time.Location
	interval time.Duration
	retain   time.Duration
	log      *zap.SugaredLogger

	lastRetention string // date of the last retention sweep
}

// New wires a polling service.
func New(
	s store.Store,
	source DeviceSource,
	tr *tracker.Tracker,
	eng *alert.Engine,
	holder *config.Holder,
	cfg config.PollerConfig,
	loc *time.Location,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		store:    s,
		source:   source,
		tracker:  tr,
		engine:   eng,
		holder:   holder,
		stations: cfg.Stations,
		loc:      loc,
		interval: cfg.Interval,
		retain:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		log:      log,
	}
}

// Run ticks immediately, then on every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Infow("poller started", "interval", s.interval, "stations", len(s.stations))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("poller stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	result := s.TickOnce(ctx, time.Now())
	s.log.Infow("tick finished",
		"state", result.State.String(),
		"idleSockets", result.IdleSockets,
		"alertsSent", result.AlertsSent,
		"failed", result.Failed)
}

// TickOnce runs one full poll cycle at now: snapshot every station,
// record transitions, reconcile pending faults, prune old events, then
// run the alert engine with a fresh config read.
func (s *Service) TickOnce(ctx context.Context, now time.Time) alert.Result {
	alertCfg := s.holder.Alert()

	current := make(map[int64]map[int]model.SocketStatus, len(s.stations))
	names := make(map[int64]string, len(s.stations))

	for _, station := range s.stations {
		names[station.ID] = station.Name
		snapshot, err := s.pollStation(ctx, station, alertCfg.FaultDebounceMinutes, now)
		if err != nil {
			// One unreachable station must not block the rest.
			s.log.Errorw("station poll failed", "stationId", station.ID, "error", err)
			continue
		}
		current[station.ID] = snapshot
	}

	s.tracker.CleanupRecovered(ctx, current)
	if confirmed := s.tracker.SweepConfirm(ctx, alertCfg.FaultDebounceMinutes, now, names); len(confirmed) > 0 {
		if err := s.store.InsertEvents(ctx, confirmed); err != nil {
			s.log.Errorw("failed to persist confirmed fault events", "error", err)
		}
	}

	s.pruneEvents(ctx, now)

	return s.engine.Run(ctx, alertCfg, now)
}

// pollStation fetches one station, persists its transitions and latest
// snapshot, and returns the per-socket status map.
func (s *Service) pollStation(ctx context.Context, station config.StationConfig, debounceMinutes int, now time.Time) (map[int]model.SocketStatus, error) {
	detail, err := s.source.DeviceDetail(ctx, station.SimID)
	if err != nil {
		return nil, err
	}

	sockets := parse.Ports(detail.Ports, detail.Device.PortNumber, detail.MachineFault)

	prev, err := s.store.GetLatestStatus(ctx, station.ID)
	if err != nil {
		return nil, err
	}
	var prevSockets []model.Socket
	if prev != nil {
		prevSockets, err = prev.SocketList()
		if err != nil {
			s.log.Warnw("corrupt stored socket list, treating as empty",
				"stationId", station.ID, "error", err)
			prevSockets = nil
		}
	}

	changes := tracker.DetectChanges(prevSockets, sockets, station.ID, station.Name)
	if len(changes) > 0 {
		events := s.tracker.Apply(ctx, changes, debounceMinutes, now)
		if len(events) > 0 {
			if err := s.store.InsertEvents(ctx, events); err != nil {
				return nil, err
			}
		}
	}

	latest := model.LatestStatus{
		StationID:   station.ID,
		StationName: station.Name,
		SimID:       station.SimID,
		Online:      detail.Device.Online == 1,
		Address:     detail.Device.Address,
		Timestamp:   now.UnixMilli(),
	}
	if err := latest.SetSockets(sockets); err != nil {
		return nil, err
	}
	if err := s.store.SaveLatestStatus(ctx, latest); err != nil {
		return nil, err
	}

	statuses := make(map[int]model.SocketStatus, len(sockets))
	for _, sock := range sockets {
		statuses[sock.ID] = sock.Status
	}
	return statuses, nil
}

// pruneEvents drops events past the retention horizon, once per day.
func (s *Service) pruneEvents(ctx context.Context, now time.Time) {
	today := now.In(s.loc).Format("2006-01-02")
	if s.lastRetention == today {
		return
	}
	s.lastRetention = today

	cutoff := now.Add(-s.retain).UnixMilli()
	deleted, err := s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		s.log.Errorw("event retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Infow("pruned old status events", "deleted", deleted)
	}
}
