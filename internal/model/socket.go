package model

// SocketStatus is the tracked state of a single charging socket.
type SocketStatus string

const (
	StatusAvailable SocketStatus = "available"
	StatusOccupied  SocketStatus = "occupied"
	StatusFault     SocketStatus = "fault"
)

// Socket is one charging port of a station as seen in a snapshot.
type Socket struct {
	ID     int          `json:"id"`
	Status SocketStatus `json:"status"`
}
