package ws

import "time"

type ConnInfo struct {
	ConnID      string
	MemberID    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
