package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// apply enqueues a mutation on the channel's single-writer queue. Everything
// that touches a channel's sequence goes through here, so an interleaving of
// a broadcast arriving mid-optimistic-send cannot corrupt ordering.
func (s *Store) apply(st *channelState, fn func()) {
	select {
	case st.queue <- fn:
	case <-s.closed:
	}
}

// ensureLocked returns the channel state, creating it and starting its apply
// worker on first touch. Caller holds s.mu.
func (s *Store) ensureLocked(channelID string) *channelState {
	if st, ok := s.channels[channelID]; ok {
		return st
	}
	st := &channelState{
		id:        channelID,
		queue:     make(chan func(), 128),
		edits:     make(map[string]editSnapshot),
		ackTimers: make(map[string]*time.Timer),
	}
	s.channels[channelID] = st
	go s.worker(st)
	return st
}

func (s *Store) worker(st *channelState) {
	for {
		select {
		case fn := <-st.queue:
			fn()
		case <-s.closed:
			return
		}
	}
}

// notify calls the channel's listeners with a snapshot copy.
func (s *Store) notify(st *channelState) {
	s.mu.Lock()
	snapshot := append([]Message(nil), st.msgs...)
	listeners := append(([]func([]Message))(nil), s.listeners[st.id]...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (s *Store) reportError(channelID string, err error) {
	s.log.Warn().Err(err).Str("channel_id", channelID).Msg("chat command failed")

	s.mu.Lock()
	fns := append(([]func(string, error))(nil), s.errFns...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(channelID, err)
	}
}

func (s *Store) stateForMessage(messageID string) (*channelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channelID, ok := s.msgIndex[messageID]
	if !ok {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	return s.channels[channelID], nil
}

func indexByID(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByLocalKey(msgs []Message, key string) int {
	for i := range msgs {
		if msgs[i].LocalKey == key {
			return i
		}
	}
	return -1
}

func decode[T any](frame proto.Frame) (T, error) {
	var v T
	if err := json.Unmarshal(frame.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", frame.Type, err)
	}
	return v, nil
}

// confirm settles the optimistic entry for localKey with the authoritative
// record, in place. Arriving second (after the broadcast already confirmed
// the entry) it is a no-op, never a duplicate insert.
func (s *Store) confirm(st *channelState, localKey string, wire proto.Message) {
	s.mu.Lock()
	s.cancelTimerLocked(st, localKey)

	if i := indexByLocalKey(st.msgs, localKey); i >= 0 {
		if st.msgs[i].Status == StatusConfirmed {
			s.mu.Unlock()
			return
		}
		s.confirmAtLocked(st, i, wire, localKey)
		s.mu.Unlock()
		s.notify(st)
		return
	}

	if indexByID(st.msgs, wire.ID) >= 0 {
		s.mu.Unlock()
		return
	}

	// The optimistic entry is gone (e.g. superseded by a page reset); keep
	// the authoritative record rather than dropping it.
	st.msgs = append(st.msgs, fromWire(wire))
	s.msgIndex[wire.ID] = st.id
	s.mu.Unlock()
	s.notify(st)
}

// confirmAtLocked replaces entry i with the server record, keeping position.
func (s *Store) confirmAtLocked(st *channelState, i int, wire proto.Message, localKey string) {
	confirmed := fromWire(wire)
	confirmed.LocalKey = localKey
	st.msgs[i] = confirmed
	s.msgIndex[wire.ID] = st.id
}

// failPending marks the optimistic entry failed. It stays visible with an
// error affordance and is never retried automatically.
func (s *Store) failPending(st *channelState, localKey string, cause error) {
	s.mu.Lock()
	s.cancelTimerLocked(st, localKey)
	i := indexByLocalKey(st.msgs, localKey)
	if i < 0 || st.msgs[i].Status != StatusPending {
		s.mu.Unlock()
		return
	}
	st.msgs[i].Status = StatusFailed
	s.mu.Unlock()

	s.reportError(st.id, fmt.Errorf("send failed: %w", cause))
	s.notify(st)
}

// expirePending fires when neither ack nor broadcast confirmed a send in
// time; the entry must not stay pending indefinitely.
func (s *Store) expirePending(st *channelState, localKey string) {
	s.apply(st, func() {
		s.mu.Lock()
		delete(st.ackTimers, localKey)
		i := indexByLocalKey(st.msgs, localKey)
		if i < 0 || st.msgs[i].Status != StatusPending {
			s.mu.Unlock()
			return
		}
		st.msgs[i].Status = StatusFailed
		s.mu.Unlock()

		s.reportError(st.id, fmt.Errorf("send not acknowledged in time"))
		s.notify(st)
	})
}

func (s *Store) cancelTimerLocked(st *channelState, localKey string) {
	if t, ok := st.ackTimers[localKey]; ok {
		t.Stop()
		delete(st.ackTimers, localKey)
	}
}

// ingest applies a message:new / notice:new broadcast. The server may deliver
// the sender's own message both as an ack and as a broadcast; whichever
// arrives first wins and the other is deduplicated.
func (s *Store) ingest(st *channelState, wire proto.Message) {
	s.mu.Lock()
	changed := s.mergeOneLocked(st, wire)
	s.mu.Unlock()
	if changed {
		s.notify(st)
	}
}

// mergeOneLocked reconciles one authoritative record into the sequence.
// Match order: correlation token when the server echoes it, then server id,
// then a content heuristic (oldest unconfirmed entry with the same author and
// text). The heuristic is an approximation, needed because the broadcast is
// not guaranteed to carry the token.
func (s *Store) mergeOneLocked(st *channelState, wire proto.Message) bool {
	if wire.LocalKey != "" {
		if i := indexByLocalKey(st.msgs, wire.LocalKey); i >= 0 {
			if st.msgs[i].Status == StatusConfirmed {
				return false
			}
			s.cancelTimerLocked(st, wire.LocalKey)
			s.confirmAtLocked(st, i, wire, wire.LocalKey)
			return true
		}
	}

	if i := indexByID(st.msgs, wire.ID); i >= 0 {
		// Already known; refresh the mutable fields in case this record is
		// newer (reconnect catch-up after a missed edit).
		if st.msgs[i].Text != wire.Text || !equalEdited(st.msgs[i].EditedAt, wire.EditedAt) {
			st.msgs[i].Text = wire.Text
			st.msgs[i].EditedAt = wire.EditedAt
			return true
		}
		return false
	}

	for i := range st.msgs {
		m := &st.msgs[i]
		if m.Status == StatusPending && m.AuthorID == wire.AuthorID && m.Text == wire.Text {
			s.cancelTimerLocked(st, m.LocalKey)
			s.confirmAtLocked(st, i, wire, m.LocalKey)
			return true
		}
	}

	st.msgs = append(st.msgs, fromWire(wire))
	s.msgIndex[wire.ID] = st.id
	return true
}

// applyEdit converges a message on the message:edited broadcast, strictly by
// id. It also cancels any in-flight local edit session for that message: the
// later-arriving authoritative record wins.
func (s *Store) applyEdit(st *channelState, wire proto.Message) {
	s.mu.Lock()
	i := indexByID(st.msgs, wire.ID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	delete(st.edits, wire.ID)
	st.msgs[i].Text = wire.Text
	st.msgs[i].EditedAt = wire.EditedAt
	s.mu.Unlock()
	s.notify(st)
}

// remove drops a message by id. It is applied only on acknowledgement or
// broadcast, identically for the issuing session and everyone else.
func (s *Store) remove(st *channelState, messageID string) {
	s.mu.Lock()
	i := indexByID(st.msgs, messageID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
	delete(st.edits, messageID)
	delete(s.msgIndex, messageID)
	s.mu.Unlock()
	s.notify(st)
}

// resetPage installs the initial history page in arrival order, keeping any
// local unconfirmed entries at the tail.
func (s *Store) resetPage(st *channelState, wires []proto.Message) {
	s.mu.Lock()
	var locals []Message
	for _, m := range st.msgs {
		if m.Status != StatusConfirmed {
			locals = append(locals, m)
		} else {
			delete(s.msgIndex, m.ID)
		}
	}

	st.msgs = st.msgs[:0]
	for _, w := range wires {
		st.msgs = append(st.msgs, fromWire(w))
		s.msgIndex[w.ID] = st.id
	}
	st.msgs = append(st.msgs, locals...)
	st.loaded = true
	s.mu.Unlock()
	s.notify(st)
}

// mergePage folds a catch-up page into the existing sequence without
// re-sorting: known ids are refreshed in place, unknown ones are appended in
// page order, pending entries are matched like broadcasts.
func (s *Store) mergePage(st *channelState, wires []proto.Message) {
	s.mu.Lock()
	changed := false
	for _, w := range wires {
		if s.mergeOneLocked(st, w) {
			changed = true
		}
	}
	st.loaded = true
	s.mu.Unlock()
	if changed {
		s.notify(st)
	}
}

func equalEdited(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
