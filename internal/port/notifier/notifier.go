// Package notifier defines the port for best-effort real-time notifications.
package notifier

import "context"

// Notifier pushes events to a user's connected clients. Delivery is
// fire-and-forget: a failed emit must never fail the state transition
// it reports, so the interface returns nothing.
type Notifier interface {
	EmitToUser(ctx context.Context, userID, eventName string, payload any)
}
