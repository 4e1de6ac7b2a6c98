package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

// Permission mirrors the three states of a desktop notification grant.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

func ParsePermission(s string) Permission {
	switch Permission(s) {
	case PermissionGranted, PermissionDenied:
		return Permission(s)
	}
	return PermissionDefault
}

const publishTimeout = 5 * time.Second

// Notifier raises user-facing notifications without blocking the caller.
// Nothing is published unless permission was granted, and publish failures
// are logged and otherwise ignored.
type Notifier struct {
	publisher  ports.NotificationPublisher
	permission Permission
	log        *zap.Logger
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
}

func NewNotifier(publisher ports.NotificationPublisher, permission Permission, log *zap.Logger, m *metrics.Metrics) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{publisher: publisher, permission: permission, log: log, metrics: m}
}

func (n *Notifier) Permission() Permission {
	if n == nil {
		return PermissionDenied
	}
	return n.permission
}

func (n *Notifier) Notify(note ports.Notification) {
	if n == nil || n.publisher == nil {
		return
	}
	if n.permission != PermissionGranted {
		n.metrics.Notification("suppressed")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := n.publisher.Publish(ctx, note); err != nil {
			n.metrics.Notification("failed")
			n.log.Warn("Notification failed",
				zap.String("event", note.Event),
				zap.Error(err),
			)
			return
		}
		n.metrics.Notification("sent")
	}()
}

// Wait blocks until every in-flight notification has finished.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
