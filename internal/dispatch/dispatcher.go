// Package dispatch turns typed chat commands into frames on the persistent
// connection and decodes their acknowledgements. It never touches store
// state: results are handed back to the caller, which applies them.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/conn"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// Dispatcher issues commands over a connection manager.
type Dispatcher struct {
	conn *conn.Manager
	log  *zerolog.Logger
}

// New builds a dispatcher on top of the connection manager.
func New(manager *conn.Manager, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{conn: manager, log: logger}
}

// JoinChannel subscribes the session to a channel's broadcasts.
func (d *Dispatcher) JoinChannel(ctx context.Context, channelID string, done func(error)) error {
	d.log.Debug().Str("channel_id", channelID).Msg("join channel")
	return d.conn.Send(ctx, proto.TypeChannelJoin, proto.JoinData{ChannelID: channelID}, ackToError(done))
}

// LeaveChannel unsubscribes the session from a channel.
func (d *Dispatcher) LeaveChannel(ctx context.Context, channelID string, done func(error)) error {
	return d.conn.Send(ctx, proto.TypeChannelLeave, proto.LeaveData{ChannelID: channelID}, ackToError(done))
}

// FetchHistory requests a page of confirmed messages for a channel.
func (d *Dispatcher) FetchHistory(ctx context.Context, channelID string, limit, skip int, done func(proto.HistoryPage, error)) error {
	query := proto.HistoryQuery{ChannelID: channelID, Limit: limit, Skip: skip}
	return d.conn.Send(ctx, proto.TypeMessagesGet, query, func(ack proto.Ack) {
		var page proto.HistoryPage
		if err := decodeAck(ack, &page); err != nil {
			done(proto.HistoryPage{}, err)
			return
		}
		done(page, nil)
	})
}

// SendMessage posts text into a regular or private channel. The ack carries
// the confirmed server record on success.
func (d *Dispatcher) SendMessage(ctx context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error {
	payload := proto.SendData{ChannelID: channelID, Text: text, LocalKey: localKey}
	return d.conn.Send(ctx, proto.TypeMessageSend, payload, ackToMessage(done))
}

// SendNotice posts text into a notice channel; sender restrictions are
// enforced server-side.
func (d *Dispatcher) SendNotice(ctx context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error {
	payload := proto.SendData{ChannelID: channelID, Text: text, LocalKey: localKey}
	return d.conn.Send(ctx, proto.TypeNoticeSend, payload, ackToMessage(done))
}

// EditMessage rewrites a message's text.
func (d *Dispatcher) EditMessage(ctx context.Context, messageID, text string, done func(*proto.Message, error)) error {
	payload := proto.EditData{MessageID: messageID, Text: text}
	return d.conn.Send(ctx, proto.TypeMessageEdit, payload, ackToMessage(done))
}

// DeleteMessage removes a message; the caller applies the removal only after
// the ack (or the matching broadcast) confirms it.
func (d *Dispatcher) DeleteMessage(ctx context.Context, messageID string, done func(error)) error {
	return d.conn.Send(ctx, proto.TypeMessageDelete, proto.DeleteData{MessageID: messageID}, ackToError(done))
}

// CreatePrivate resolves the private channel with a recipient, creating it on
// first use. Calling it twice with the same recipient yields the same channel.
func (d *Dispatcher) CreatePrivate(ctx context.Context, recipientID string, done func(*proto.Channel, error)) error {
	payload := proto.PrivateCreateData{RecipientID: recipientID}
	return d.conn.Send(ctx, proto.TypePrivateCreate, payload, func(ack proto.Ack) {
		var ch proto.Channel
		if err := decodeAck(ack, &ch); err != nil {
			done(nil, err)
			return
		}
		done(&ch, nil)
	})
}

func ackToError(done func(error)) conn.AckFunc {
	return func(ack proto.Ack) {
		done(decodeAck(ack, nil))
	}
}

func ackToMessage(done func(*proto.Message, error)) conn.AckFunc {
	return func(ack proto.Ack) {
		var msg proto.Message
		if err := decodeAck(ack, &msg); err != nil {
			done(nil, err)
			return
		}
		done(&msg, nil)
	}
}

// decodeAck maps a failed ack to its CommandError and unmarshals the payload
// of a successful one into out (when out is non-nil).
func decodeAck(ack proto.Ack, out any) error {
	if !ack.Success {
		if ack.Error != nil {
			return ack.Error
		}
		return proto.NewCommandError(proto.ErrCodeBadRequest, "command rejected")
	}
	if out == nil {
		return nil
	}
	if len(ack.Data) == 0 {
		return fmt.Errorf("ack carries no payload")
	}
	if err := json.Unmarshal(ack.Data, out); err != nil {
		return fmt.Errorf("decode ack payload: %w", err)
	}
	return nil
}
