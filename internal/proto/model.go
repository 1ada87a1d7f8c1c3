package proto

import "time"

// ChannelKind classifies a channel's visibility and sending rules.
type ChannelKind string

const (
	// ChannelRegular is a team channel, visible to members only.
	ChannelRegular ChannelKind = "regular"
	// ChannelNotice is a broadcast channel, readable by everyone and
	// writable by the elevated role set.
	ChannelNotice ChannelKind = "notice"
	// ChannelPrivate is a direct conversation; the server filters visibility.
	ChannelPrivate ChannelKind = "private"
)

// Channel is the wire shape shared by the REST surface and broadcasts.
type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"kind"`
	MemberIDs []string    `json:"member_ids,omitempty"`
}

// Message is the server-authoritative message record.
type Message struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channel_id"`
	AuthorID   string     `json:"author_id"`
	AuthorRole string     `json:"author_role"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	LocalKey   string     `json:"local_key,omitempty"`
}

// Employee is an addressable user for starting private chats.
type Employee struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}
