package domain

import "time"

// Message is a direct message between a coach and one of their athletes.
// ReadAt is set once, when the receiver reads it, and never cleared.
type Message struct {
	ID         string     `json:"id"          db:"id"`
	SenderID   string     `json:"sender_id"   db:"sender_id"`
	ReceiverID string     `json:"receiver_id" db:"receiver_id"`
	Content    string     `json:"content"     db:"content"`
	ActivityID *string    `json:"activity_id" db:"activity_id"`
	SentAt     time.Time  `json:"sent_at"     db:"sent_at"`
	ReadAt     *time.Time `json:"read_at"     db:"read_at"`
}

// Counterpart returns the other participant of the message from userID's side.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	Counterpart *User    `json:"counterpart"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int      `json:"unread_count"`
}
