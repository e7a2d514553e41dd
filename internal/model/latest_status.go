package model

import "encoding/json"

// LatestStatus is the most recent snapshot of a station (hot table).
// Sockets are stored as a JSON array so the row stays a single upsert.
type LatestStatus struct {
	StationID   int64  `gorm:"primaryKey" json:"stationId"`
	StationName string `gorm:"size:128;not null" json:"stationName"`
	SimID       string `gorm:"size:64" json:"simId"`
	Sockets     string `gorm:"not null" json:"-"`
	Online      bool   `gorm:"not null" json:"online"`
	Address     string `gorm:"size:256" json:"address"`
	Timestamp   int64  `gorm:"not null" json:"timestamp"` // unix millis
}

// SocketList decodes the stored sockets JSON.
func (l *LatestStatus) SocketList() ([]Socket, error) {
	var sockets []Socket
	if err := json.Unmarshal([]byte(l.Sockets), &sockets); err != nil {
		return nil, err
	}
	return sockets, nil
}

// SetSockets encodes the socket slice into the JSON column.
func (l *LatestStatus) SetSockets(sockets []Socket) error {
	b, err := json.Marshal(sockets)
	if err != nil {
		return err
	}
	l.Sockets = string(b)
	return nil
}
