package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/port"
)

const (
	maxMessageLength    = 2000
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SendInput is a new direct message.
type SendInput struct {
	ReceiverID string
	Content    string
	ActivityID *string
}

// ReadReceipt reports a batch of messages marked read.
type ReadReceipt struct {
	Count  int       `json:"count"`
	ReadAt time.Time `json:"read_at"`
}

// readEvent is the payload of a read receipt pushed to the sender.
type readEvent struct {
	ReadBy string    `json:"readBy"`
	ReadAt time.Time `json:"readAt"`
	Count  int       `json:"count"`
}

// typingEvent is the payload of a typing indicator.
type typingEvent struct {
	UserID string `json:"userId"`
}

// MessageService implements direct messaging between a coach and their athletes.
type MessageService struct {
	messages   port.MessageStore
	users      port.UserStore
	activities port.ActivityStore
	authz      *Authorizer
	notifier   *NotificationService
	live       port.LiveDelivery
	presence   port.PresenceRegistry
	now        func() time.Time
}

// NewMessageService creates a message service. live and presence may be nil.
func NewMessageService(messages port.MessageStore, users port.UserStore, activities port.ActivityStore, authz *Authorizer, notifier *NotificationService, live port.LiveDelivery, presence port.PresenceRegistry) *MessageService {
	if live == nil {
		live = nopDelivery{}
	}
	return &MessageService{
		messages:   messages,
		users:      users,
		activities: activities,
		authz:      authz,
		notifier:   notifier,
		live:       live,
		presence:   presence,
		now:        time.Now,
	}
}

// Send persists a message and pushes it to both parties' live connections.
// The receiver gets a notification when they hold no live connection.
func (s *MessageService) Send(ctx context.Context, senderID string, in SendInput, transport string) (*domain.Message, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case content == "":
		return nil, port.NewValidationError("content", "must not be empty")
	case utf8.RuneCountInString(content) > maxMessageLength:
		return nil, port.NewValidationError("content", fmt.Sprintf("must be at most %d characters", maxMessageLength))
	case in.ReceiverID == "":
		return nil, port.NewValidationError("receiverId", "is required")
	case in.ReceiverID == senderID:
		return nil, port.NewValidationError("receiverId", "cannot message yourself")
	}
	if err := s.authz.CanMessage(ctx, senderID, in.ReceiverID); err != nil {
		return nil, err
	}
	if in.ActivityID != nil && *in.ActivityID != "" {
		if err := s.checkActivity(ctx, *in.ActivityID, senderID, in.ReceiverID); err != nil {
			return nil, err
		}
	} else {
		in.ActivityID = nil
	}

	msg, err := s.messages.CreateMessage(ctx, &domain.Message{
		SenderID:   senderID,
		ReceiverID: in.ReceiverID,
		Content:    content,
		ActivityID: in.ActivityID,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(transport).Inc()

	s.live.Deliver(senderID, EventMessageSent, msg)
	delivered := s.live.Deliver(in.ReceiverID, EventMessageReceived, msg)
	if !s.online(ctx, in.ReceiverID, delivered) {
		sender := "Your coach"
		if u, err := s.users.GetUserByID(ctx, senderID); err == nil {
			sender = u.Name
		}
		s.notifier.Notify(ctx, in.ReceiverID, domain.NotifyMessage,
			"New message from "+sender, preview(content), "/messages/"+senderID)
	}
	return msg, nil
}

// MarkRead marks every unread message from senderID to readerID read with
// one timestamp and pushes a read receipt to the sender.
func (s *MessageService) MarkRead(ctx context.Context, readerID, senderID string) (*ReadReceipt, error) {
	at := s.now().UTC()
	n, err := s.messages.MarkRead(ctx, senderID, readerID, at)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.live.Deliver(senderID, EventMessageRead, readEvent{ReadBy: readerID, ReadAt: at, Count: n})
	}
	return &ReadReceipt{Count: n, ReadAt: at}, nil
}

// History returns the thread between the caller and another user, oldest first.
func (s *MessageService) History(ctx context.Context, userID, otherID string, before *time.Time, limit int) ([]domain.Message, error) {
	if err := s.authz.CanMessage(ctx, userID, otherID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	out, err := s.messages.ListMessages(ctx, userID, otherID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// Conversations returns the caller's inbox, most recent first.
func (s *MessageService) Conversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	out, err := s.messages.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// UnreadCount returns the number of unread messages addressed to the caller.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// Typing relays a typing indicator to the receiver.
func (s *MessageService) Typing(ctx context.Context, userID, receiverID string, started bool) error {
	if err := s.authz.CanMessage(ctx, userID, receiverID); err != nil {
		return err
	}
	event := EventTypingStop
	if started {
		event = EventTypingStart
	}
	s.live.Deliver(receiverID, event, typingEvent{UserID: userID})
	return nil
}

func (s *MessageService) checkActivity(ctx context.Context, activityID, a, b string) error {
	act, err := s.activities.GetActivity(ctx, activityID)
	if errors.Is(err, port.ErrNotFound) {
		return port.NewValidationError("activityId", "activity not found")
	}
	if err != nil {
		return fmt.Errorf("load activity: %w", err)
	}
	if act.UserID != a && act.UserID != b {
		return port.NewValidationError("activityId", "activity not found")
	}
	return nil
}

// online prefers the shared presence registry and falls back to whether
// this instance delivered the event.
func (s *MessageService) online(ctx context.Context, userID string, delivered bool) bool {
	if delivered || s.presence == nil {
		return delivered
	}
	ok, err := s.presence.IsOnline(ctx, userID)
	if err != nil {
		slog.Warn("presence lookup failed", "user_id", userID, "error", err)
		return false
	}
	return ok
}

func preview(content string) string {
	const n = 120
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	return string([]rune(content)[:n]) + "..."
}
