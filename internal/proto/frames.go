package proto

import "encoding/json"

// Frame is the envelope for every payload crossing the persistent connection,
// in both directions. A client command that wants a direct response carries an
// AckID; the server answers with a frame of type "ack" echoing that AckID.
// Server frames without an AckID are broadcasts.
type Frame struct {
	Type  string          `json:"type"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	// TypeAck is a direct response to a command, delivered only to the issuing session.
	TypeAck = "ack"

	// Outbound command types (client -> server).
	TypeAuth          = "auth"
	TypeChannelJoin   = "channel:join"
	TypeChannelLeave  = "channel:leave"
	TypeMessagesGet   = "messages:get"
	TypeMessageSend   = "message:send"
	TypeMessageEdit   = "message:edit"
	TypeMessageDelete = "message:delete"
	TypeNoticeSend    = "notice:send"
	TypePrivateCreate = "private:create"

	// Broadcast types (server -> all subscribed sessions).
	TypeMessageNew     = "message:new"
	TypeNoticeNew      = "notice:new"
	TypeMessageEdited  = "message:edited"
	TypeMessageDeleted = "message:deleted"
	TypeChannelNew     = "channel:new"
)

// Command error codes carried inside a failed ack.
const (
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeNotFound         = "not_found"
	ErrCodeBadRequest       = "bad_request"
)

// Ack is the payload of a TypeAck frame.
type Ack struct {
	Success bool            `json:"success"`
	Error   *CommandError   `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CommandError wraps a code and human-readable message for a rejected command.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewCommandError builds a CommandError with the given code and message.
func NewCommandError(code, msg string) *CommandError {
	return &CommandError{Code: code, Message: msg}
}

// AuthData opens the handshake; an empty token is a valid (rejected) attempt.
type AuthData struct {
	Token string `json:"token"`
}

// AuthResult confirms the authenticated identity on handshake success.
type AuthResult struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// JoinData subscribes the session to a channel's broadcasts.
type JoinData struct {
	ChannelID string `json:"channel_id"`
}

// LeaveData unsubscribes the session from a channel.
type LeaveData struct {
	ChannelID string `json:"channel_id"`
}

// HistoryQuery requests a page of confirmed messages.
type HistoryQuery struct {
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit"`
	Skip      int    `json:"skip"`
}

// HistoryPage is the ack payload for a history query.
type HistoryPage struct {
	ChannelID string    `json:"channel_id"`
	Messages  []Message `json:"messages"`
}

// SendData carries a new message. LocalKey is a client correlation token; the
// server is not required to echo it on the resulting broadcast.
type SendData struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	LocalKey  string `json:"local_key,omitempty"`
}

// EditData rewrites the text of an existing message.
type EditData struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// DeleteData removes a message.
type DeleteData struct {
	MessageID string `json:"message_id"`
}

// DeletedEvent is the message:deleted broadcast payload.
type DeletedEvent struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// PrivateCreateData asks for the private channel with a recipient,
// creating it on first use. Idempotent by the (requester, recipient) pair.
type PrivateCreateData struct {
	RecipientID string `json:"recipient_id"`
}
