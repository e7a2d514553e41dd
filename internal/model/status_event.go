package model

import (
	"fmt"
	"time"
)

// StatusEvent is one socket state transition (cold table). Rows are
// immutable; the ID is derived from (station, socket, timestamp) so a
// replayed tick inserts the same ID and is dropped on conflict.
type StatusEvent struct {
	ID          string       `gorm:"primaryKey;size:64" json:"id"`
	StationID   int64        `gorm:"not null;index:idx_status_events_socket" json:"stationId"`
	StationName string       `gorm:"size:128;not null" json:"stationName"`
	SocketID    int          `gorm:"not null;index:idx_status_events_socket" json:"socketId"`
	OldStatus   SocketStatus `gorm:"size:16;not null" json:"oldStatus"`
	NewStatus   SocketStatus `gorm:"size:16;not null;index:idx_status_events_socket" json:"newStatus"`
	Timestamp   int64        `gorm:"not null;index" json:"timestamp"` // unix millis
	EventDate   string       `gorm:"size:10;not null;index" json:"eventDate"`
	TimeString  string       `gorm:"size:19;not null" json:"timeString"`
}

// NewStatusEvent builds an event with its natural ID and formatted
// timestamps in the given civil timezone.
func NewStatusEvent(stationID int64, stationName string, socketID int, oldStatus, newStatus SocketStatus, ts int64, loc *time.Location) StatusEvent {
	t := time.UnixMilli(ts).In(loc)
	return StatusEvent{
		ID:          fmt.Sprintf("%d-%d-%d", stationID, socketID, ts),
		StationID:   stationID,
		StationName: stationName,
		SocketID:    socketID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Timestamp:   ts,
		EventDate:   t.Format("2006-01-02"),
		TimeString:  t.Format("2006-01-02 15:04:05"),
	}
}
