// Package chat holds the per-channel message log and reconciles optimistic
// local writes with server-authoritative acknowledgements and broadcasts.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

// Commander is the slice of the command dispatcher the store depends on.
type Commander interface {
	JoinChannel(ctx context.Context, channelID string, done func(error)) error
	LeaveChannel(ctx context.Context, channelID string, done func(error)) error
	FetchHistory(ctx context.Context, channelID string, limit, skip int, done func(proto.HistoryPage, error)) error
	SendMessage(ctx context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error
	SendNotice(ctx context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error
	EditMessage(ctx context.Context, messageID, text string, done func(*proto.Message, error)) error
	DeleteMessage(ctx context.Context, messageID string, done func(error)) error
}

// Options configures a Store.
type Options struct {
	Commander Commander
	Session   *session.Session
	// KindOf resolves a channel's kind so sends into notice channels use the
	// notice command. Unknown channels are treated as regular.
	KindOf       func(channelID string) proto.ChannelKind
	HistoryLimit int
	AckTimeout   time.Duration
	Logger       *zerolog.Logger
}

// Store owns the in-memory message sequence of every channel this session has
// touched. A channel's sequence has three writers (local action, broadcast,
// history page); every mutation goes through the channel's single apply queue
// so no two interleave.
type Store struct {
	cmds         Commander
	sess         *session.Session
	kindOf       func(string) proto.ChannelKind
	historyLimit int
	ackTimeout   time.Duration
	log          *zerolog.Logger

	mu        sync.Mutex
	channels  map[string]*channelState
	msgIndex  map[string]string // message id -> channel id
	active    string
	activeGen uint64
	listeners map[string][]func([]Message)
	errFns    []func(channelID string, err error)
	closed    chan struct{}
}

type channelState struct {
	id     string
	queue  chan func()
	msgs   []Message
	live   bool // subscription open on the current connection
	loaded bool // initial history page applied

	// edits holds the pre-edit snapshot per message while an edit round trip
	// is in flight; its presence doubles as the edit lock.
	edits map[string]editSnapshot
	// ackTimers marks pending sends failed if neither ack nor broadcast
	// arrives in time, keyed by localKey.
	ackTimers map[string]*time.Timer
}

type editSnapshot struct {
	text     string
	editedAt *time.Time
}

// NewStore builds a message store for one authenticated session.
func NewStore(opts Options) *Store {
	return &Store{
		cmds:         opts.Commander,
		sess:         opts.Session,
		kindOf:       opts.KindOf,
		historyLimit: opts.HistoryLimit,
		ackTimeout:   opts.AckTimeout,
		log:          opts.Logger,
		channels:     make(map[string]*channelState),
		msgIndex:     make(map[string]string),
		listeners:    make(map[string][]func([]Message)),
		closed:       make(chan struct{}),
	}
}

// Close stops the per-channel apply workers.
func (s *Store) Close() {
	close(s.closed)
}

// OnChange registers a listener for one channel; it is called synchronously
// after each serialized mutation with a snapshot of the sequence.
func (s *Store) OnChange(channelID string, fn func([]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[channelID] = append(s.listeners[channelID], fn)
}

// OnError registers a listener for asynchronous command failures (edit
// rejections, delete rejections) that have no synchronous return path.
func (s *Store) OnError(fn func(channelID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errFns = append(s.errFns, fn)
}

// Messages returns a snapshot of a channel's sequence.
func (s *Store) Messages(channelID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	return append([]Message(nil), st.msgs...)
}

// Synced reports whether a channel's live subscription is open and its
// initial history page has been applied.
func (s *Store) Synced(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channelID]
	return ok && st.live && st.loaded
}

// Activate makes channelID the active channel: it joins the live subscription
// and loads the most recent history page on first activation. Re-activating a
// channel whose subscription is still open does not re-fetch.
func (s *Store) Activate(ctx context.Context, channelID string) error {
	s.mu.Lock()
	st := s.ensureLocked(channelID)
	s.active = channelID
	s.activeGen++
	gen := s.activeGen
	needsJoin := !st.live
	needsLoad := !st.loaded || !st.live
	s.mu.Unlock()

	if !needsJoin && !needsLoad {
		return nil
	}

	if needsJoin {
		err := s.cmds.JoinChannel(ctx, channelID, func(err error) {
			if err != nil {
				s.reportError(channelID, fmt.Errorf("join channel: %w", err))
				return
			}
			s.mu.Lock()
			st.live = true
			s.mu.Unlock()
		})
		if err != nil {
			return fmt.Errorf("join %s: %w", channelID, err)
		}
	}

	if needsLoad {
		return s.fetchPage(ctx, st, gen, false)
	}
	return nil
}

// Deactivate closes the live subscription of a channel that left the screen.
// Messages already applied stay cached; the next Activate re-joins and loads
// a fresh page.
func (s *Store) Deactivate(ctx context.Context, channelID string) error {
	s.mu.Lock()
	st, ok := s.channels[channelID]
	if s.active == channelID {
		s.active = ""
		s.activeGen++
	}
	live := ok && st.live
	s.mu.Unlock()

	if !live {
		return nil
	}

	err := s.cmds.LeaveChannel(ctx, channelID, func(err error) {
		if err != nil {
			s.reportError(channelID, fmt.Errorf("leave channel: %w", err))
			return
		}
		s.mu.Lock()
		st.live = false
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("leave %s: %w", channelID, err)
	}
	return nil
}

// fetchPage requests the latest page. A page that arrives after a different
// channel (or a newer activation) superseded this one is discarded; merge
// pages update in place by id instead of resetting the sequence.
func (s *Store) fetchPage(ctx context.Context, st *channelState, gen uint64, merge bool) error {
	channelID := st.id
	err := s.cmds.FetchHistory(ctx, channelID, s.historyLimit, 0, func(page proto.HistoryPage, err error) {
		if err != nil {
			s.reportError(channelID, fmt.Errorf("load history: %w", err))
			return
		}
		s.apply(st, func() {
			s.mu.Lock()
			stale := s.active != channelID || s.activeGen != gen
			s.mu.Unlock()
			if stale {
				s.log.Debug().Str("channel_id", channelID).Msg("discarding superseded history page")
				return
			}
			if merge {
				s.mergePage(st, page.Messages)
			} else {
				s.resetPage(st, page.Messages)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("fetch history %s: %w", channelID, err)
	}
	return nil
}

// Send appends an optimistic pending entry before any network round trip and
// issues the send command. The first of {ack, broadcast} to confirm wins; the
// other becomes a no-op. Failure or ack timeout marks the entry failed.
func (s *Store) Send(ctx context.Context, channelID, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty message")
	}

	localKey := uuid.NewString()
	entry := Message{
		ChannelID:  channelID,
		AuthorID:   s.sess.UserID,
		AuthorRole: s.sess.Role,
		Text:       text,
		CreatedAt:  time.Now(),
		LocalKey:   localKey,
		Status:     StatusPending,
	}

	s.mu.Lock()
	st := s.ensureLocked(channelID)
	s.mu.Unlock()

	s.apply(st, func() {
		s.mu.Lock()
		st.msgs = append(st.msgs, entry)
		st.ackTimers[localKey] = time.AfterFunc(s.ackTimeout, func() {
			s.expirePending(st, localKey)
		})
		s.mu.Unlock()
		s.notify(st)
	})

	send := s.cmds.SendMessage
	if s.kindOf != nil && s.kindOf(channelID) == proto.ChannelNotice {
		send = s.cmds.SendNotice
	}

	err := send(ctx, channelID, text, localKey, func(msg *proto.Message, err error) {
		s.apply(st, func() {
			if err != nil {
				s.failPending(st, localKey, err)
				return
			}
			s.confirm(st, localKey, *msg)
		})
	})
	if err != nil {
		// The command never left; settle the optimistic entry immediately.
		s.apply(st, func() {
			s.failPending(st, localKey, err)
		})
		return localKey, fmt.Errorf("send: %w", err)
	}
	return localKey, nil
}

// Edit optimistically rewrites the caller's own message and locks it until
// the round trip resolves. A failure ack restores the pre-edit snapshot; the
// message:edited broadcast is the converging authority.
func (s *Store) Edit(ctx context.Context, messageID, text string) error {
	st, err := s.stateForMessage(messageID)
	if err != nil {
		return err
	}

	s.apply(st, func() {
		s.mu.Lock()
		i := indexByID(st.msgs, messageID)
		if i < 0 {
			s.mu.Unlock()
			s.reportError(st.id, fmt.Errorf("edit: message %s vanished", messageID))
			return
		}
		if _, locked := st.edits[messageID]; locked {
			s.mu.Unlock()
			s.reportError(st.id, fmt.Errorf("edit: %s already has an edit in flight", messageID))
			return
		}
		if st.msgs[i].Status != StatusConfirmed {
			s.mu.Unlock()
			s.reportError(st.id, fmt.Errorf("edit: message %s is not confirmed yet", messageID))
			return
		}

		st.edits[messageID] = editSnapshot{text: st.msgs[i].Text, editedAt: st.msgs[i].EditedAt}
		now := time.Now()
		st.msgs[i].Text = text
		st.msgs[i].EditedAt = &now
		s.mu.Unlock()
		s.notify(st)

		err := s.cmds.EditMessage(ctx, messageID, text, func(_ *proto.Message, err error) {
			s.apply(st, func() {
				s.mu.Lock()
				snap, locked := st.edits[messageID]
				if !locked {
					// An authoritative broadcast already converged this
					// message; nothing left to settle.
					s.mu.Unlock()
					return
				}
				delete(st.edits, messageID)
				if err == nil {
					s.mu.Unlock()
					return
				}
				if j := indexByID(st.msgs, messageID); j >= 0 {
					st.msgs[j].Text = snap.text
					st.msgs[j].EditedAt = snap.editedAt
				}
				s.mu.Unlock()
				s.reportError(st.id, fmt.Errorf("edit rejected: %w", err))
				s.notify(st)
			})
		})
		if err != nil {
			s.mu.Lock()
			snap := st.edits[messageID]
			delete(st.edits, messageID)
			if j := indexByID(st.msgs, messageID); j >= 0 {
				st.msgs[j].Text = snap.text
				st.msgs[j].EditedAt = snap.editedAt
			}
			s.mu.Unlock()
			s.reportError(st.id, fmt.Errorf("edit: %w", err))
			s.notify(st)
		}
	})
	return nil
}

// Delete requests removal of a message. The entry stays visible until the
// acknowledgement or broadcast confirms the delete; a failed command leaves
// the sequence untouched.
func (s *Store) Delete(ctx context.Context, messageID string) error {
	st, err := s.stateForMessage(messageID)
	if err != nil {
		return err
	}

	return s.cmds.DeleteMessage(ctx, messageID, func(err error) {
		if err != nil {
			s.reportError(st.id, fmt.Errorf("delete rejected: %w", err))
			return
		}
		s.apply(st, func() {
			s.remove(st, messageID)
		})
	})
}

// HandleBroadcast routes a server broadcast into the owning channel's apply
// queue. It is called from the connection's read loop, so enqueue order is
// receipt order.
func (s *Store) HandleBroadcast(frame proto.Frame) {
	switch frame.Type {
	case proto.TypeMessageNew, proto.TypeNoticeNew:
		msg, err := decode[proto.Message](frame)
		if err != nil {
			s.log.Warn().Err(err).Str("type", frame.Type).Msg("malformed broadcast")
			return
		}
		s.mu.Lock()
		st := s.ensureLocked(msg.ChannelID)
		s.mu.Unlock()
		s.apply(st, func() {
			s.ingest(st, msg)
		})

	case proto.TypeMessageEdited:
		msg, err := decode[proto.Message](frame)
		if err != nil {
			s.log.Warn().Err(err).Str("type", frame.Type).Msg("malformed broadcast")
			return
		}
		s.mu.Lock()
		st := s.ensureLocked(msg.ChannelID)
		s.mu.Unlock()
		s.apply(st, func() {
			s.applyEdit(st, msg)
		})

	case proto.TypeMessageDeleted:
		ev, err := decode[proto.DeletedEvent](frame)
		if err != nil {
			s.log.Warn().Err(err).Str("type", frame.Type).Msg("malformed broadcast")
			return
		}
		s.mu.Lock()
		st := s.ensureLocked(ev.ChannelID)
		s.mu.Unlock()
		s.apply(st, func() {
			s.remove(st, ev.MessageID)
		})
	}
}

// ConnectionLost marks every live subscription closed. Pending sends are
// settled separately by the connection manager failing their acks.
func (s *Store) ConnectionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.channels {
		st.live = false
	}
}

// Resync re-joins the active channel after a reconnect and re-fetches the
// latest page, since broadcasts during the outage are not redelivered.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	channelID := s.active
	s.activeGen++
	gen := s.activeGen
	var st *channelState
	if channelID != "" {
		st = s.ensureLocked(channelID)
	}
	s.mu.Unlock()

	if st == nil {
		return nil
	}

	err := s.cmds.JoinChannel(ctx, channelID, func(err error) {
		if err != nil {
			s.reportError(channelID, fmt.Errorf("rejoin channel: %w", err))
			return
		}
		s.mu.Lock()
		st.live = true
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("rejoin %s: %w", channelID, err)
	}
	return s.fetchPage(ctx, st, gen, true)
}
