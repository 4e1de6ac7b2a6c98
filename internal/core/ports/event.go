package ports

import (
	"context"
)

// Notification is a user-facing alert raised alongside a state change, the
// agent's equivalent of a desktop notification.
type Notification struct {
	Event    string `json:"event"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Ward     string `json:"ward,omitempty"`
	Severity string `json:"severity,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

type NotificationPublisher interface {
	Publish(ctx context.Context, n Notification) error
}
