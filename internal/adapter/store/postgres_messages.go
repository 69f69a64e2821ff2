package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/lib/pq"
)

const messageColumns = `id, sender_id, receiver_id, content, activity_id, sent_at, read_at`

// CreateMessage persists a direct message.
func (s *PostgresStore) CreateMessage(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	var out domain.Message
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO messages (sender_id, receiver_id, content, activity_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageColumns,
		m.SenderID, m.ReceiverID, m.Content, m.ActivityID)
	if err != nil {
		return nil, translate("create message", err)
	}
	return &out, nil
}

// ListMessages returns the most recent page of the thread between a and b, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, a, b string, before *time.Time, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
	          WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))`
	args := []interface{}{a, b}
	if before != nil {
		args = append(args, *before)
		query += fmt.Sprintf(" AND sent_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sent_at DESC LIMIT $%d", len(args))

	msgs := []domain.Message{}
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, translate("list messages", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead stamps every unread message from sender to receiver with one timestamp.
func (s *PostgresStore) MarkRead(ctx context.Context, senderID, receiverID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = $3 WHERE sender_id = $1 AND receiver_id = $2 AND read_at IS NULL`,
		senderID, receiverID, at)
	if err != nil {
		return 0, translate("mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(n), nil
}

type lastMessageRow struct {
	domain.Message
	CounterpartID string `db:"counterpart_id"`
}

type unreadRow struct {
	SenderID string `db:"sender_id"`
	Count    int    `db:"count"`
}

// ListConversations groups the user's messages by counterpart. The unread
// count is a separate grouped count, not derived from the last message.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	var last []lastMessageRow
	err := s.db.SelectContext(ctx, &last,
		`SELECT DISTINCT ON (counterpart_id) `+messageColumns+`, counterpart_id
		 FROM (
		     SELECT `+messageColumns+`,
		            CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart_id
		     FROM messages WHERE sender_id = $1 OR receiver_id = $1
		 ) thread
		 ORDER BY counterpart_id, sent_at DESC`, userID)
	if err != nil {
		return nil, translate("list conversations", err)
	}
	if len(last) == 0 {
		return []domain.ConversationSummary{}, nil
	}

	var unread []unreadRow
	err = s.db.SelectContext(ctx, &unread,
		`SELECT sender_id, COUNT(*) AS count FROM messages
		 WHERE receiver_id = $1 AND read_at IS NULL GROUP BY sender_id`, userID)
	if err != nil {
		return nil, translate("count unread by sender", err)
	}
	unreadBy := make(map[string]int, len(unread))
	for _, u := range unread {
		unreadBy[u.SenderID] = u.Count
	}

	ids := make([]string, 0, len(last))
	for _, row := range last {
		ids = append(ids, row.CounterpartID)
	}
	var users []domain.User
	err = s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, translate("load counterparts", err)
	}
	byID := make(map[string]*domain.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	out := make([]domain.ConversationSummary, 0, len(last))
	for i := range last {
		msg := last[i].Message
		out = append(out, domain.ConversationSummary{
			Counterpart: byID[last[i].CounterpartID],
			LastMessage: &msg,
			UnreadCount: unreadBy[last[i].CounterpartID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out, nil
}

// CountUnread returns the number of unread messages addressed to the user.
func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, translate("count unread", err)
	}
	return n, nil
}

// --- Notifications ---

const notificationColumns = `id, user_id, kind, title, body, link, read_at, created_at`

// CreateNotification persists a notification.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	var out domain.Notification
	err := s.db.GetContext(ctx, &out,
		`INSERT INTO notifications (user_id, kind, title, body, link)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+notificationColumns,
		n.UserID, n.Kind, n.Title, n.Body, n.Link)
	if err != nil {
		return nil, translate("create notification", err)
	}
	return &out, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	out := []domain.Notification{}
	if err := s.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, translate("list notifications", err)
	}
	return out, nil
}

// MarkNotificationRead marks one of the user's notifications read.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`, id, userID, at)
	if err != nil {
		return false, translate("mark notification read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return n == 1, nil
}

// MarkAllNotificationsRead marks every unread notification of the user read.
func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`, userID, at)
	if err != nil {
		return 0, translate("mark all notifications read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(n), nil
}
