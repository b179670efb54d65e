package core

import "github.com/nkoval/parlor/internal/domain"

// Frame is a raw serialized payload handed to a transport.
type Frame []byte

// ConnID identifies one live transport connection.
type ConnID string

// SignalConnection abstracts the per-client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// RoomSnapshot is a read-only copy of a room's state.
type RoomSnapshot struct {
	Code        domain.RoomCode
	MemberCount int
	Usernames   []string
	Messages    []domain.Message
}

// DeliveryResult reports fan-out stats/backpressure to the coordinator.
type DeliveryResult struct {
	SentTo  int
	Dropped []ConnID
}

// RoomInfo is a read-only listing view (no transcript, no transport fields).
type RoomInfo struct {
	Code        domain.RoomCode `json:"code"`
	MemberCount int             `json:"member_count"`
}
