package model

// PendingFault marks a socket that reported a fault but has not yet
// held it past the debounce threshold. At most one open record exists
// per socket; a new onset overwrites any previous one.
type PendingFault struct {
	StationID  int64        `gorm:"primaryKey;autoIncrement:false" json:"stationId"`
	SocketID   int          `gorm:"primaryKey;autoIncrement:false" json:"socketId"`
	OldStatus  SocketStatus `gorm:"size:16;not null" json:"oldStatus"`
	DetectedAt int64        `gorm:"not null;index" json:"detectedAt"` // unix millis
}
