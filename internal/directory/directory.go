// Package directory maintains the set of channels visible to the current
// session and enforces the client-side visibility rules. The server remains
// the enforcement authority; filtering here is for display only.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/rest"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

// Catalog is the REST surface the directory loads from.
type Catalog interface {
	ListChannels(ctx context.Context) ([]proto.Channel, error)
	CreateChannel(ctx context.Context, req rest.CreateChannelRequest) (*proto.Channel, error)
	UpdateChannel(ctx context.Context, id string, req rest.UpdateChannelRequest) (*proto.Channel, error)
	DeleteChannel(ctx context.Context, id string) error
	ListEmployees(ctx context.Context) ([]proto.Employee, error)
}

// PrivateCreator resolves private channels over the persistent connection.
type PrivateCreator interface {
	CreatePrivate(ctx context.Context, recipientID string, done func(*proto.Channel, error)) error
}

// Directory is the local channel catalog, keyed by server-assigned id.
type Directory struct {
	catalog Catalog
	private PrivateCreator
	log     *zerolog.Logger

	mu        sync.Mutex
	channels  map[string]proto.Channel
	listeners []func()
}

// New builds an empty directory.
func New(catalog Catalog, private PrivateCreator, logger *zerolog.Logger) *Directory {
	return &Directory{
		catalog:  catalog,
		private:  private,
		log:      logger,
		channels: make(map[string]proto.Channel),
	}
}

// OnChange registers a listener called after every catalog mutation.
func (d *Directory) OnChange(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Load fetches the channel catalog and merges it in. Loading twice never
// duplicates: entries are upserted by id.
func (d *Directory) Load(ctx context.Context) error {
	channels, err := d.catalog.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	d.mu.Lock()
	for _, ch := range channels {
		d.channels[ch.ID] = ch
	}
	d.mu.Unlock()
	d.notify()

	d.log.Debug().Int("count", len(channels)).Msg("channel catalog loaded")
	return nil
}

// Get returns a channel by id.
func (d *Directory) Get(id string) (proto.Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[id]
	return ch, ok
}

// KindOf resolves a channel's kind; unknown channels default to regular.
func (d *Directory) KindOf(id string) proto.ChannelKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[id]; ok {
		return ch.Kind
	}
	return proto.ChannelRegular
}

// Visible returns the channels the session should see, sorted by name:
// notice channels for everyone, regular channels for members only, private
// channels as disclosed by the server (no extra client check).
func (d *Directory) Visible(s *session.Session) []proto.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []proto.Channel
	for _, ch := range d.channels {
		switch ch.Kind {
		case proto.ChannelNotice:
			out = append(out, ch)
		case proto.ChannelRegular:
			if s != nil && contains(ch.MemberIDs, s.UserID) {
				out = append(out, ch)
			}
		case proto.ChannelPrivate:
			// The backend already filtered what it disclosed.
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create makes a new channel. Regular channels require a non-empty member
// set; notice channels have no membership. The server response is the
// authoritative object and is merged by id, so a concurrent channel:new
// broadcast for the same channel cannot duplicate it.
func (d *Directory) Create(ctx context.Context, kind proto.ChannelKind, name string, memberIDs []string) (*proto.Channel, error) {
	if kind == proto.ChannelRegular && len(memberIDs) == 0 {
		return nil, fmt.Errorf("a regular channel needs at least one member")
	}

	created, err := d.catalog.CreateChannel(ctx, rest.CreateChannelRequest{
		Name:      name,
		Kind:      kind,
		MemberIDs: memberIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	d.merge(*created)
	return created, nil
}

// Update patches a channel. Local state changes only after the server
// acknowledged: admin operations are not applied optimistically.
func (d *Directory) Update(ctx context.Context, id string, req rest.UpdateChannelRequest) (*proto.Channel, error) {
	updated, err := d.catalog.UpdateChannel(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update channel: %w", err)
	}

	d.merge(*updated)
	return updated, nil
}

// Remove deletes a channel, dropping it locally only on server success.
func (d *Directory) Remove(ctx context.Context, id string) error {
	if err := d.catalog.DeleteChannel(ctx, id); err != nil {
		return fmt.Errorf("remove channel: %w", err)
	}

	d.mu.Lock()
	delete(d.channels, id)
	d.mu.Unlock()
	d.notify()
	return nil
}

// StartPrivate resolves the private channel with a recipient, creating it on
// first use. The server keys private channels by the unordered user pair, so
// repeating the call yields the same channel id.
func (d *Directory) StartPrivate(ctx context.Context, recipientID string) (*proto.Channel, error) {
	type result struct {
		ch  *proto.Channel
		err error
	}
	resCh := make(chan result, 1)

	err := d.private.CreatePrivate(ctx, recipientID, func(ch *proto.Channel, err error) {
		resCh <- result{ch: ch, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("private channel: %w", err)
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("private channel: %w", res.err)
		}
		d.merge(*res.ch)
		return res.ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Employees lists addressable users for starting private chats.
func (d *Directory) Employees(ctx context.Context) ([]proto.Employee, error) {
	employees, err := d.catalog.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}
	return employees, nil
}

// HandleBroadcast folds channel:new events into the catalog with the same
// merge-by-id rule as Load and Create.
func (d *Directory) HandleBroadcast(frame proto.Frame) {
	if frame.Type != proto.TypeChannelNew {
		return
	}
	var ch proto.Channel
	if err := unmarshalFrame(frame, &ch); err != nil {
		d.log.Warn().Err(err).Msg("malformed channel:new broadcast")
		return
	}
	d.merge(ch)
}

func (d *Directory) merge(ch proto.Channel) {
	d.mu.Lock()
	d.channels[ch.ID] = ch
	d.mu.Unlock()
	d.notify()
}

func (d *Directory) notify() {
	d.mu.Lock()
	listeners := append(([]func())(nil), d.listeners...)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func unmarshalFrame(frame proto.Frame, out any) error {
	if err := json.Unmarshal(frame.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", frame.Type, err)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
