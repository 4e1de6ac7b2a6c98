package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// LogNotifier writes notifications to the log. It is used when no broker is
// configured.
type LogNotifier struct {
	log *zap.Logger
}

var _ ports.NotificationPublisher = (*LogNotifier)(nil)

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Publish(_ context.Context, n ports.Notification) error {
	l.log.Info(n.Title,
		zap.String("event", n.Event),
		zap.String("body", n.Body),
		zap.String("ward", n.Ward),
		zap.String("severity", n.Severity),
		zap.String("record_id", n.RecordID),
	)
	return nil
}
