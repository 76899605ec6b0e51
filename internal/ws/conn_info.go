package ws

import "time"

// ConnInfo carries identity and correlation data for one connection, used in
// published connect/disconnect events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
