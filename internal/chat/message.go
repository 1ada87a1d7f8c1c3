package chat

import (
	"time"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// Status tracks an entry's position in the optimistic-write lifecycle.
type Status string

const (
	// StatusPending is a locally originated message awaiting confirmation.
	StatusPending Status = "pending"
	// StatusConfirmed is a server-authoritative record.
	StatusConfirmed Status = "confirmed"
	// StatusFailed is a rejected or timed-out send, kept visible for the
	// user to retry explicitly; it is never retried automatically.
	StatusFailed Status = "failed"
)

// Message is one entry in a channel's ordered sequence. ID is server-assigned
// and empty while pending; LocalKey is the client correlation token and is
// never used as identity. After confirmation ID, AuthorID and CreatedAt are
// immutable; only Text, EditedAt and Status may change.
type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorRole string
	Text       string
	CreatedAt  time.Time
	EditedAt   *time.Time
	LocalKey   string
	Status     Status
}

func fromWire(m proto.Message) Message {
	return Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.AuthorID,
		AuthorRole: m.AuthorRole,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
		EditedAt:   m.EditedAt,
		LocalKey:   m.LocalKey,
		Status:     StatusConfirmed,
	}
}
