// Package idle finds sockets that have sat available past the
// configured threshold and filters out episodes that were already
// alerted.
package idle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/store"
)

// Socket is one idle socket qualifying for an alert.
type Socket struct {
	StationID     int64
	StationName   string
	SocketID      int
	IdleMinutes   int
	IdleStartTime int64 // unix millis, the anchor of the idle episode
}

// Detector scans snapshots against the event history.
type Detector struct {
	store store.Store
	log   *zap.SugaredLogger
}

// NewDetector creates a Detector.
func NewDetector(s store.Store, log *zap.SugaredLogger) *Detector {
	return &Detector{store: s, log: log}
}

// Detect returns the sockets due for an idle alert at now.
//
// For each available socket on an online station, the anchor is the
// most recent transition into available; sockets without one are
// skipped with a warning since no idle duration can be established.
// Sockets below the threshold, outside the station allow-list, or whose
// episode already has a successful alert log are dropped. A socket that
// was occupied in between gets a fresh anchor and becomes alertable
// again.
func (d *Detector) Detect(ctx context.Context, cfg config.AlertConfig, now time.Time) ([]Socket, error) {
	candidates, err := d.scan(ctx, now, cfg.IdleThresholdMinutes)
	if err != nil {
		return nil, err
	}

	if len(cfg.EnabledStationIDs) > 0 {
		allowed := make(map[int64]bool, len(cfg.EnabledStationIDs))
		for _, id := range cfg.EnabledStationIDs {
			allowed[id] = true
		}
		filtered := candidates[:0]
		for _, s := range candidates {
			if allowed[s.StationID] {
				filtered = append(filtered, s)
			}
		}
		candidates = filtered
	}

	deduped := make([]Socket, 0, len(candidates))
	for _, s := range candidates {
		alerted, err := d.store.HasSuccessfulIdleAlert(ctx, s.StationID, s.SocketID, s.IdleStartTime/1000)
		if err != nil {
			return nil, err
		}
		if alerted {
			d.log.Debugw("idle episode already alerted, skipping",
				"stationId", s.StationID, "socketId", s.SocketID, "idleStartTime", s.IdleStartTime)
			continue
		}
		deduped = append(deduped, s)
	}
	return deduped, nil
}

// DetectAll returns every currently available socket on online
// stations, ignoring threshold, allow-list and dedup. Used for
// window-boundary summary broadcasts. Sockets without an anchor event
// are included with zero idle minutes so the count stays complete.
func (d *Detector) DetectAll(ctx context.Context, now time.Time) ([]Socket, error) {
	return d.scan(ctx, now, 0)
}

func (d *Detector) scan(ctx context.Context, now time.Time, thresholdMinutes int) ([]Socket, error) {
	statuses, err := d.store.ListOnlineStatuses(ctx)
	if err != nil {
		return nil, err
	}

	var result []Socket
	for _, st := range statuses {
		sockets, err := st.SocketList()
		if err != nil {
			d.log.Errorw("failed to decode sockets for station",
				"stationId", st.StationID, "error", err)
			continue
		}

		for _, sock := range sockets {
			if sock.Status != model.StatusAvailable {
				continue
			}

			anchor, err := d.store.LatestAvailableEvent(ctx, st.StationID, sock.ID)
			if err != nil {
				return nil, err
			}
			if anchor == nil {
				if thresholdMinutes > 0 {
					d.log.Warnw("no available-transition event for idle socket, skipping",
						"stationId", st.StationID, "socketId", sock.ID)
					continue
				}
				result = append(result, Socket{
					StationID:   st.StationID,
					StationName: st.StationName,
					SocketID:    sock.ID,
				})
				continue
			}

			idleMinutes := int((now.UnixMilli() - anchor.Timestamp) / 60000)
			if idleMinutes < thresholdMinutes {
				continue
			}
			result = append(result, Socket{
				StationID:     st.StationID,
				StationName:   st.StationName,
				SocketID:      sock.ID,
				IdleMinutes:   idleMinutes,
				IdleStartTime: anchor.Timestamp,
			})
		}
	}
	return result, nil
}
