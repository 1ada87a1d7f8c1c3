package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

func (s *Server) handleWS(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := newWSClient()
	s.hub.register(client)
	defer s.hub.unregister(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		default:
			s.log.Debug().Err(err).Msg("ws connection closed")
		}
	}
	conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		s.handleFrame(client, frame)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *wsClient) error {
	for {
		select {
		case frame := <-client.events:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleFrame dispatches one inbound command. Acks and broadcasts both travel
// through the client's event queue, so a session observes its ack and any
// following broadcasts in emission order.
func (s *Server) handleFrame(client *wsClient, frame proto.Frame) {
	if frame.Type == proto.TypeAuth {
		s.handleAuth(client, frame)
		return
	}
	if client.userID == "" {
		s.ackFailure(client, frame.AckID, proto.ErrCodeUnauthorized, "authenticate first")
		return
	}

	switch frame.Type {
	case proto.TypeChannelJoin:
		s.handleJoin(client, frame)
	case proto.TypeChannelLeave:
		var data proto.LeaveData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
			return
		}
		s.hub.leave(client, data.ChannelID)
		s.ackSuccess(client, frame.AckID, nil)
	case proto.TypeMessagesGet:
		s.handleHistory(client, frame)
	case proto.TypeMessageSend:
		s.handleSend(client, frame, false)
	case proto.TypeNoticeSend:
		s.handleSend(client, frame, true)
	case proto.TypeMessageEdit:
		s.handleEdit(client, frame)
	case proto.TypeMessageDelete:
		s.handleDelete(client, frame)
	case proto.TypePrivateCreate:
		s.handlePrivateCreate(client, frame)
	default:
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "unknown command "+frame.Type)
	}
}

func (s *Server) handleAuth(client *wsClient, frame proto.Frame) {
	var data proto.AuthData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	claims, err := ValidateToken(s.jwt, data.Token)
	if err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeUnauthorized, "invalid credential")
		return
	}
	if _, ok := s.state.userByID(claims.UserID); !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeUnauthorized, "unknown user")
		return
	}

	client.userID = claims.UserID
	client.role = claims.Role
	s.ackSuccess(client, frame.AckID, proto.AuthResult{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	})
}

func (s *Server) handleJoin(client *wsClient, frame proto.Frame) {
	var data proto.JoinData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	ch, ok := s.state.channel(data.ChannelID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "channel not found")
		return
	}
	if ch.Kind != proto.ChannelNotice && !memberOf(&ch, client.userID) {
		s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "not a channel member")
		return
	}

	s.hub.join(client, ch.ID)
	s.ackSuccess(client, frame.AckID, nil)
}

func (s *Server) handleHistory(client *wsClient, frame proto.Frame) {
	var query proto.HistoryQuery
	if err := json.Unmarshal(frame.Data, &query); err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	ch, ok := s.state.channel(query.ChannelID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "channel not found")
		return
	}
	if ch.Kind != proto.ChannelNotice && !memberOf(&ch, client.userID) {
		s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "not a channel member")
		return
	}

	page := s.state.page(ch.ID, query.Limit, query.Skip)
	s.ackSuccess(client, frame.AckID, proto.HistoryPage{ChannelID: ch.ID, Messages: page})
}

func (s *Server) handleSend(client *wsClient, frame proto.Frame, notice bool) {
	var data proto.SendData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.Text == "" {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	ch, ok := s.state.channel(data.ChannelID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "channel not found")
		return
	}

	if notice {
		if ch.Kind != proto.ChannelNotice {
			s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "not a notice channel")
			return
		}
		if !elevatedRole(client.role) {
			s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "notice senders are restricted")
			return
		}
	} else {
		if ch.Kind == proto.ChannelNotice {
			s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "use notice:send for notice channels")
			return
		}
		if !memberOf(&ch, client.userID) {
			s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "not a channel member")
			return
		}
	}

	author, _ := s.state.userByID(client.userID)
	msg := s.state.appendMessage(ch.ID, author, data.Text)

	// The ack echoes the correlation token; the broadcast intentionally does
	// not, mirroring the production backend.
	acked := msg
	acked.LocalKey = data.LocalKey
	s.ackSuccess(client, frame.AckID, acked)

	eventType := proto.TypeMessageNew
	if notice {
		eventType = proto.TypeNoticeNew
	}
	s.broadcastJSON(ch.ID, eventType, msg)
}

func (s *Server) handleEdit(client *wsClient, frame proto.Frame) {
	var data proto.EditData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.Text == "" {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	msg, ok := s.state.findMessage(data.MessageID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "message not found")
		return
	}
	if msg.AuthorID != client.userID {
		s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "only the author may edit")
		return
	}

	edited, _ := s.state.editMessage(data.MessageID, data.Text)
	s.ackSuccess(client, frame.AckID, edited)
	s.broadcastJSON(edited.ChannelID, proto.TypeMessageEdited, edited)
}

func (s *Server) handleDelete(client *wsClient, frame proto.Frame) {
	var data proto.DeleteData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	msg, ok := s.state.findMessage(data.MessageID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "message not found")
		return
	}
	if msg.AuthorID != client.userID && !elevatedRole(client.role) {
		s.ackFailure(client, frame.AckID, proto.ErrCodePermissionDenied, "not allowed to delete this message")
		return
	}

	removed, _ := s.state.deleteMessage(data.MessageID)
	s.ackSuccess(client, frame.AckID, nil)
	s.broadcastJSON(removed.ChannelID, proto.TypeMessageDeleted, proto.DeletedEvent{
		MessageID: removed.ID,
		ChannelID: removed.ChannelID,
	})
}

func (s *Server) handlePrivateCreate(client *wsClient, frame proto.Frame) {
	var data proto.PrivateCreateData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		s.ackFailure(client, frame.AckID, proto.ErrCodeBadRequest, "malformed payload")
		return
	}

	requester, _ := s.state.userByID(client.userID)
	recipient, ok := s.state.userByID(data.RecipientID)
	if !ok {
		s.ackFailure(client, frame.AckID, proto.ErrCodeNotFound, "recipient not found")
		return
	}

	ch, created := s.state.getOrCreatePrivate(requester, recipient)
	s.ackSuccess(client, frame.AckID, ch)

	if created {
		payload, err := json.Marshal(ch)
		if err != nil {
			s.log.Error().Err(err).Msg("marshal channel:new")
			return
		}
		s.hub.notifyUsers(proto.Frame{Type: proto.TypeChannelNew, Data: payload}, ch.MemberIDs...)
	}
}

func (s *Server) ackSuccess(client *wsClient, ackID string, data any) {
	ack := proto.Ack{Success: true}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			s.log.Error().Err(err).Msg("marshal ack payload")
			return
		}
		ack.Data = payload
	}
	s.sendAck(client, ackID, ack)
}

func (s *Server) ackFailure(client *wsClient, ackID, code, msg string) {
	s.sendAck(client, ackID, proto.Ack{Success: false, Error: proto.NewCommandError(code, msg)})
}

func (s *Server) sendAck(client *wsClient, ackID string, ack proto.Ack) {
	if ackID == "" {
		return
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal ack")
		return
	}
	select {
	case client.events <- proto.Frame{Type: proto.TypeAck, AckID: ackID, Data: payload}:
	default:
		s.log.Warn().Msg("dropping ack for slow client")
	}
}

func (s *Server) broadcastJSON(channelID, frameType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Str("type", frameType).Msg("marshal broadcast")
		return
	}
	s.hub.broadcast(channelID, proto.Frame{Type: frameType, Data: payload})
}

func elevatedRole(role string) bool {
	return role == session.RoleAdmin || role == session.RoleHR
}
