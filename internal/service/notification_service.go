package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

// Live event names pushed to connected clients.
const (
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventMessageRead     = "message:read"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventNotification    = "notification:new"
	EventSyncCompleted   = "sync:completed"
	EventError           = "error"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type nopDelivery struct{}

func (nopDelivery) Deliver(string, string, any) bool { return false }

// NotificationService creates in-app notifications and pushes them live.
type NotificationService struct {
	store port.NotificationStore
	live  port.LiveDelivery
	now   func() time.Time
}

// NewNotificationService creates a notification service. live may be nil.
func NewNotificationService(store port.NotificationStore, live port.LiveDelivery) *NotificationService {
	if live == nil {
		live = nopDelivery{}
	}
	return &NotificationService{store: store, live: live, now: time.Now}
}

// Notify persists a notification and pushes it to the user's live
// connections. Failures are logged and never fail the calling operation.
func (s *NotificationService) Notify(ctx context.Context, userID, kind, title, body, link string) {
	n, err := s.store.CreateNotification(ctx, &domain.Notification{
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
		Link:   link,
	})
	if err != nil {
		slog.Error("create notification failed", "user_id", userID, "kind", kind, "error", err)
		return
	}
	s.live.Deliver(userID, EventNotification, n)
}

// List returns the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	out, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// MarkRead marks one notification read. Another user's notification is NotFound.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.store.MarkNotificationRead(ctx, userID, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return port.ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}
