// Package tracker turns per-tick socket snapshots into durable status
// history, debouncing transient fault readings so hardware jitter never
// reaches the event log.
package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"charging-alert-backend/internal/model"
	"charging-alert-backend/internal/store"
)

// Change is a raw socket transition observed between two snapshots,
// before debounce filtering.
type Change struct {
	StationID   int64
	StationName string
	SocketID    int
	OldStatus   model.SocketStatus
	NewStatus   model.SocketStatus
}

// Tracker applies the fault-debounce state machine to raw changes and
// emits the status events that belong in history.
type Tracker struct {
	store store.Store
	loc   *time.Location
	log   *zap.SugaredLogger
}

// New creates a Tracker. Event timestamps are formatted in loc.
func New(s store.Store, loc *time.Location, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: s, loc: loc, log: log}
}

// DetectChanges compares two socket snapshots of one station. Sockets
// without a previous reading produce no change; there is nothing to
// transition from.
func DetectChanges(oldSockets, newSockets []model.Socket, stationID int64, stationName string) []Change {
	oldStatus := make(map[int]model.SocketStatus, len(oldSockets))
	for _, s := range oldSockets {
		oldStatus[s.ID] = s.Status
	}

	var changes []Change
	for _, s := range newSockets {
		prev, ok := oldStatus[s.ID]
		if !ok || prev == s.Status {
			continue
		}
		changes = append(changes, Change{
			StationID:   stationID,
			StationName: stationName,
			SocketID:    s.ID,
			OldStatus:   prev,
			NewStatus:   s.Status,
		})
	}
	return changes
}

// Apply routes raw changes through the debounce machine and returns the
// events to persist.
//
// A transition into fault only records a pending marker. A transition
// out of fault resolves the marker: held past the threshold it confirms
// as an onset event (timestamped at detection) plus a recovery event at
// now; released earlier it is discarded without a trace. All other
// transitions pass straight through.
//
// Bookkeeping failures are logged and skipped rather than aborting the
// tick; the cost is one extra tick of debounce lag, never a wrong alert.
func (t *Tracker) Apply(ctx context.Context, changes []Change, debounceMinutes int, now time.Time) []model.StatusEvent {
	nowMs := now.UnixMilli()
	thresholdMs := int64(debounceMinutes) * 60 * 1000

	var events []model.StatusEvent
	for _, ch := range changes {
		if ch.NewStatus == model.StatusFault {
			err := t.store.UpsertPendingFault(ctx, model.PendingFault{
				StationID:  ch.StationID,
				SocketID:   ch.SocketID,
				OldStatus:  ch.OldStatus,
				DetectedAt: nowMs,
			})
			if err != nil {
				t.log.Errorw("failed to record pending fault",
					"stationId", ch.StationID, "socketId", ch.SocketID, "error", err)
			}
			continue
		}

		pending, err := t.store.GetPendingFault(ctx, ch.StationID, ch.SocketID)
		if err != nil {
			t.log.Errorw("failed to look up pending fault",
				"stationId", ch.StationID, "socketId", ch.SocketID, "error", err)
			continue
		}

		if pending == nil {
			events = append(events, model.NewStatusEvent(
				ch.StationID, ch.StationName, ch.SocketID, ch.OldStatus, ch.NewStatus, nowMs, t.loc))
			continue
		}

		if nowMs-pending.DetectedAt >= thresholdMs {
			// Confirmed: the fault held long enough to be real.
			events = append(events,
				model.NewStatusEvent(ch.StationID, ch.StationName, ch.SocketID,
					pending.OldStatus, model.StatusFault, pending.DetectedAt, t.loc),
				model.NewStatusEvent(ch.StationID, ch.StationName, ch.SocketID,
					model.StatusFault, ch.NewStatus, nowMs, t.loc))
		} else {
			t.log.Infow("discarding transient fault",
				"stationId", ch.StationID, "socketId", ch.SocketID,
				"heldMs", nowMs-pending.DetectedAt)
		}

		if err := t.store.DeletePendingFault(ctx, ch.StationID, ch.SocketID); err != nil {
			t.log.Errorw("failed to delete pending fault",
				"stationId", ch.StationID, "socketId", ch.SocketID, "error", err)
		}
	}
	return events
}

// SweepConfirm confirms pending faults that have already outlived the
// threshold while still reporting fault. Only the onset event is
// emitted; the recovery event follows whenever the socket actually
// recovers. Confirmed markers are deleted so the sweep cannot confirm
// them twice, and the event's natural ID dedups against the
// recovery-path confirmation racing the same transition.
func (t *Tracker) SweepConfirm(ctx context.Context, debounceMinutes int, now time.Time, stationNames map[int64]string) []model.StatusEvent {
	cutoff := now.UnixMilli() - int64(debounceMinutes)*60*1000

	pendings, err := t.store.ListPendingFaultsBefore(ctx, cutoff)
	if err != nil {
		t.log.Errorw("pending fault sweep query failed", "error", err)
		return nil
	}

	var events []model.StatusEvent
	for _, p := range pendings {
		name := stationNames[p.StationID]
		events = append(events, model.NewStatusEvent(
			p.StationID, name, p.SocketID, p.OldStatus, model.StatusFault, p.DetectedAt, t.loc))
		if err := t.store.DeletePendingFault(ctx, p.StationID, p.SocketID); err != nil {
			t.log.Errorw("failed to delete confirmed pending fault",
				"stationId", p.StationID, "socketId", p.SocketID, "error", err)
		}
	}
	return events
}

// CleanupRecovered reconciles pending markers against the current
// snapshot: a socket no longer reporting fault has recovered even if
// the transition itself was missed, so its marker is dropped.
func (t *Tracker) CleanupRecovered(ctx context.Context, current map[int64]map[int]model.SocketStatus) {
	pendings, err := t.store.ListPendingFaults(ctx)
	if err != nil {
		t.log.Errorw("pending fault cleanup query failed", "error", err)
		return
	}

	for _, p := range pendings {
		sockets, ok := current[p.StationID]
		if !ok {
			continue
		}
		status, ok := sockets[p.SocketID]
		if !ok || status == model.StatusFault {
			continue
		}
		if err := t.store.DeletePendingFault(ctx, p.StationID, p.SocketID); err != nil {
			t.log.Errorw("failed to clean up recovered pending fault",
				"stationId", p.StationID, "socketId", p.SocketID, "error", err)
		}
	}
}
