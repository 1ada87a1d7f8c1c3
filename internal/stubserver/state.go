package stubserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

type user struct {
	id           string
	username     string
	displayName  string
	role         string
	passwordHash []byte
}

// state is the stub backend's in-memory store of record: users, channels and
// messages behind one mutex.
type state struct {
	mu       sync.Mutex
	users    map[string]*user // by id
	channels map[string]*proto.Channel
	// directKeys maps the unordered user pair to its private channel id.
	directKeys map[string]string
	// messages per channel, in emission order.
	messages map[string][]proto.Message
}

func newState() *state {
	return &state{
		users:      make(map[string]*user),
		channels:   make(map[string]*proto.Channel),
		directKeys: make(map[string]string),
		messages:   make(map[string][]proto.Message),
	}
}

// seed installs the development fixture: one user per role plus a general
// channel and a notice board.
func (s *state) seed() error {
	fixtures := []struct {
		username, displayName, role string
	}{
		{"amara", "Amara Silva", session.RoleAdmin},
		{"ruwan", "Ruwan Perera", session.RoleHR},
		{"kasun", "Kasun Fernando", session.RoleManager},
		{"nimal", "Nimal Jayawardena", session.RoleDeveloper},
		{"dilani", "Dilani Gunasekara", session.RoleDeveloper},
	}

	var memberIDs []string
	for _, f := range fixtures {
		hash, err := hashPassword(f.username + "123")
		if err != nil {
			return fmt.Errorf("seed %s: %w", f.username, err)
		}
		u := &user{
			id:           uuid.NewString(),
			username:     f.username,
			displayName:  f.displayName,
			role:         f.role,
			passwordHash: hash,
		}
		s.users[u.id] = u
		memberIDs = append(memberIDs, u.id)
	}

	general := &proto.Channel{
		ID:        uuid.NewString(),
		Name:      "general",
		Kind:      proto.ChannelRegular,
		MemberIDs: memberIDs,
	}
	notices := &proto.Channel{
		ID:   uuid.NewString(),
		Name: "company-notices",
		Kind: proto.ChannelNotice,
	}
	s.channels[general.ID] = general
	s.channels[notices.ID] = notices
	return nil
}

func (s *state) userByUsername(username string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.username == username {
			return u, true
		}
	}
	return nil, false
}

func (s *state) userByID(id string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// listChannels discloses notice channels and the user's own regular/private
// channels, sorted by name for stable output.
func (s *state) listChannels(userID string) []proto.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []proto.Channel
	for _, ch := range s.channels {
		if ch.Kind == proto.ChannelNotice || memberOf(ch, userID) {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *state) channel(id string) (proto.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return proto.Channel{}, false
	}
	return *ch, true
}

func (s *state) createChannel(name string, kind proto.ChannelKind, memberIDs []string) proto.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := &proto.Channel{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		MemberIDs: memberIDs,
	}
	s.channels[ch.ID] = ch
	return *ch
}

func (s *state) updateChannel(id string, name *string, memberIDs []string) (proto.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return proto.Channel{}, false
	}
	if name != nil {
		ch.Name = *name
	}
	if memberIDs != nil {
		ch.MemberIDs = memberIDs
	}
	return *ch, true
}

func (s *state) deleteChannel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return false
	}
	delete(s.channels, id)
	delete(s.messages, id)
	return true
}

// getOrCreatePrivate resolves the private channel for an unordered user pair.
func (s *state) getOrCreatePrivate(a, b *user) (proto.Channel, bool) {
	key := directKey(a.id, b.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.directKeys[key]; ok {
		return *s.channels[id], false
	}

	ch := &proto.Channel{
		ID:        uuid.NewString(),
		Name:      a.displayName + " & " + b.displayName,
		Kind:      proto.ChannelPrivate,
		MemberIDs: []string{a.id, b.id},
	}
	s.channels[ch.ID] = ch
	s.directKeys[key] = ch.ID
	return *ch, true
}

// appendMessage stores a new message and returns the authoritative record.
func (s *state) appendMessage(channelID string, author *user, text string) proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := proto.Message{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		AuthorID:   author.id,
		AuthorRole: author.role,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	s.messages[channelID] = append(s.messages[channelID], msg)
	return msg
}

func (s *state) findMessage(messageID string) (proto.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == messageID {
				return m, true
			}
		}
	}
	return proto.Message{}, false
}

func (s *state) editMessage(messageID, text string) (proto.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				now := time.Now()
				msgs[i].Text = text
				msgs[i].EditedAt = &now
				s.messages[chID] = msgs
				return msgs[i], true
			}
		}
	}
	return proto.Message{}, false
}

func (s *state) deleteMessage(messageID string) (proto.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				removed := msgs[i]
				s.messages[chID] = append(msgs[:i], msgs[i+1:]...)
				return removed, true
			}
		}
	}
	return proto.Message{}, false
}

// page returns the most recent messages in chronological order, skipping
// `skip` from the end.
func (s *state) page(channelID string, limit, skip int) []proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[channelID]

	end := len(msgs) - skip
	if end < 0 {
		end = 0
	}
	start := end - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	return append([]proto.Message(nil), msgs[start:end]...)
}

func (s *state) employees() []proto.Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []proto.Employee
	for _, u := range s.users {
		out = append(out, proto.Employee{ID: u.id, DisplayName: u.displayName, Role: u.role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func memberOf(ch *proto.Channel, userID string) bool {
	for _, id := range ch.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{"dm", a, b}, ":")
}
