package port

import "context"

// PresenceRegistry tracks which users hold at least one open live connection.
// Each user's entry is independent; implementations must be safe for
// concurrent connect/disconnect.
type PresenceRegistry interface {
	Add(ctx context.Context, userID, connID string) error
	Remove(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Connections(ctx context.Context, userID string) (int, error)
}

// LiveDelivery pushes an event to every live connection a user holds.
// It reports whether at least one connection on this instance received it.
type LiveDelivery interface {
	Deliver(userID, event string, data any) bool
}
