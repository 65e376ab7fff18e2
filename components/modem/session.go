package modem

import (
	"github.com/google/uuid"
)

// A Session exists between a successful ConnectNetwork and the matching DisconnectNetwork.
type Session struct {
	ID     uuid.UUID
	Attach AttachKind
	// StartedAt is the monotonic millisecond counter when the network came up.
	StartedAt uint32
}

func newSession(kind AttachKind, now uint32) *Session {
	return &Session{ID: uuid.New(), Attach: kind, StartedAt: now}
}
