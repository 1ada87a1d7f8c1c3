package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

type sendReq struct {
	channelID string
	text      string
	localKey  string
	done      func(*proto.Message, error)
}

type historyReq struct {
	channelID string
	done      func(proto.HistoryPage, error)
}

type editReq struct {
	messageID string
	text      string
	done      func(*proto.Message, error)
}

type deleteReq struct {
	messageID string
	done      func(error)
}

// fakeCommander records every command and lets the test resolve the
// acknowledgement callbacks at the moment it chooses.
type fakeCommander struct {
	mu        sync.Mutex
	joins     []string
	leaves    []string
	histories []historyReq
	sends     []sendReq
	notices   []sendReq
	edits     []editReq
	deletes   []deleteReq
}

func (f *fakeCommander) JoinChannel(_ context.Context, channelID string, done func(error)) error {
	f.mu.Lock()
	f.joins = append(f.joins, channelID)
	f.mu.Unlock()
	done(nil)
	return nil
}

func (f *fakeCommander) LeaveChannel(_ context.Context, channelID string, done func(error)) error {
	f.mu.Lock()
	f.leaves = append(f.leaves, channelID)
	f.mu.Unlock()
	done(nil)
	return nil
}

func (f *fakeCommander) FetchHistory(_ context.Context, channelID string, _, _ int, done func(proto.HistoryPage, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, historyReq{channelID: channelID, done: done})
	return nil
}

func (f *fakeCommander) SendMessage(_ context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendReq{channelID: channelID, text: text, localKey: localKey, done: done})
	return nil
}

func (f *fakeCommander) SendNotice(_ context.Context, channelID, text, localKey string, done func(*proto.Message, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, sendReq{channelID: channelID, text: text, localKey: localKey, done: done})
	return nil
}

func (f *fakeCommander) EditMessage(_ context.Context, messageID, text string, done func(*proto.Message, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editReq{messageID: messageID, text: text, done: done})
	return nil
}

func (f *fakeCommander) DeleteMessage(_ context.Context, messageID string, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteReq{messageID: messageID, done: done})
	return nil
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func takeSend(t *testing.T, f *fakeCommander, i int) sendReq {
	t.Helper()
	waitFor(t, fmt.Sprintf("send command %d", i), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.sends) > i
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[i]
}

func takeHistory(t *testing.T, f *fakeCommander, i int) historyReq {
	t.Helper()
	waitFor(t, fmt.Sprintf("history command %d", i), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.histories) > i
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[i]
}

func takeEdit(t *testing.T, f *fakeCommander, i int) editReq {
	t.Helper()
	waitFor(t, fmt.Sprintf("edit command %d", i), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.edits) > i
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[i]
}

func takeDelete(t *testing.T, f *fakeCommander, i int) deleteReq {
	t.Helper()
	waitFor(t, fmt.Sprintf("delete command %d", i), func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.deletes) > i
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[i]
}

func newTestStore(t *testing.T, kindOf func(string) proto.ChannelKind) (*Store, *fakeCommander, chan error) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	cmds := &fakeCommander{}
	store := NewStore(Options{
		Commander:    cmds,
		Session:      &session.Session{UserID: "u-me", DisplayName: "Me", Role: session.RoleDeveloper},
		KindOf:       kindOf,
		HistoryLimit: 50,
		AckTimeout:   2 * time.Second,
		Logger:       &logger,
	})
	t.Cleanup(store.Close)

	errs := make(chan error, 8)
	store.OnError(func(_ string, err error) { errs <- err })
	return store, cmds, errs
}

func broadcastMessage(store *Store, msg proto.Message) {
	data, _ := json.Marshal(msg)
	store.HandleBroadcast(proto.Frame{Type: proto.TypeMessageNew, Data: data})
}

func serverRecord(id, channelID, authorID, text string) proto.Message {
	return proto.Message{
		ID:         id,
		ChannelID:  channelID,
		AuthorID:   authorID,
		AuthorRole: session.RoleDeveloper,
		Text:       text,
		CreatedAt:  time.Now(),
	}
}

func TestSendOptimisticThenAckConfirms(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if _, err := store.Send(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "pending entry", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Status == StatusPending
	})
	if msgs := store.Messages("c1"); msgs[0].ID != "" {
		t.Fatal("pending entry must not carry a server id")
	}

	req := takeSend(t, cmds, 0)
	record := serverRecord("m1", "c1", "u-me", "hello")
	record.LocalKey = req.localKey
	req.done(&record, nil)

	waitFor(t, "confirmation", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Status == StatusConfirmed
	})
	got := store.Messages("c1")[0]
	if got.ID != "m1" || got.LocalKey != req.localKey {
		t.Fatalf("unexpected confirmed entry: %+v", got)
	}

	// The broadcast copy arrives second, without the correlation token.
	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "hello"))
	time.Sleep(50 * time.Millisecond)
	if msgs := store.Messages("c1"); len(msgs) != 1 {
		t.Fatalf("dual delivery duplicated the message: %d entries", len(msgs))
	}
}

func TestBroadcastConfirmsBeforeAck(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if _, err := store.Send(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := takeSend(t, cmds, 0)

	// Broadcast wins the race; it carries no localKey, so the content
	// heuristic must match the pending entry.
	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "hello"))
	waitFor(t, "broadcast confirmation", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Status == StatusConfirmed && msgs[0].ID == "m1"
	})

	// The late ack must be a no-op.
	record := serverRecord("m1", "c1", "u-me", "hello")
	record.LocalKey = req.localKey
	req.done(&record, nil)
	time.Sleep(50 * time.Millisecond)
	if msgs := store.Messages("c1"); len(msgs) != 1 {
		t.Fatalf("late ack duplicated the message: %d entries", len(msgs))
	}
}

func TestContentFallbackMatchesOldestPending(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if _, err := store.Send(context.Background(), "c1", "same text"); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if _, err := store.Send(context.Background(), "c1", "same text"); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	takeSend(t, cmds, 1)
	waitFor(t, "two pending entries", func() bool {
		return len(store.Messages("c1")) == 2
	})

	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "same text"))

	waitFor(t, "first entry confirmed", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 2 && msgs[0].Status == StatusConfirmed
	})
	msgs := store.Messages("c1")
	if msgs[0].ID != "m1" {
		t.Fatalf("oldest pending must be confirmed first, got %+v", msgs[0])
	}
	if msgs[1].Status != StatusPending {
		t.Fatalf("second send must stay pending, got %+v", msgs[1])
	}
}

func TestRejectedSendMarksFailed(t *testing.T) {
	store, cmds, errs := newTestStore(t, nil)

	if _, err := store.Send(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := takeSend(t, cmds, 0)
	req.done(nil, proto.NewCommandError(proto.ErrCodePermissionDenied, "not a channel member"))

	waitFor(t, "failed status", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Status == StatusFailed
	})
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected an error report for the rejected send")
	}
}

func TestUnacknowledgedSendTimesOut(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cmds := &fakeCommander{}
	store := NewStore(Options{
		Commander:    cmds,
		Session:      &session.Session{UserID: "u-me", Role: session.RoleDeveloper},
		HistoryLimit: 50,
		AckTimeout:   50 * time.Millisecond,
		Logger:       &logger,
	})
	defer store.Close()

	if _, err := store.Send(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	takeSend(t, cmds, 0)

	waitFor(t, "timeout failure", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Status == StatusFailed
	})
}

func TestEmptySendRejected(t *testing.T) {
	store, _, _ := newTestStore(t, nil)
	if _, err := store.Send(context.Background(), "c1", ""); err == nil {
		t.Fatal("empty send must be rejected")
	}
}

func TestNoticeChannelUsesNoticeCommand(t *testing.T) {
	kindOf := func(id string) proto.ChannelKind {
		if id == "c-notice" {
			return proto.ChannelNotice
		}
		return proto.ChannelRegular
	}
	store, cmds, _ := newTestStore(t, kindOf)

	if _, err := store.Send(context.Background(), "c-notice", "announcement"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "notice command", func() bool {
		cmds.mu.Lock()
		defer cmds.mu.Unlock()
		return len(cmds.notices) == 1
	})
	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	if len(cmds.sends) != 0 {
		t.Fatal("notice channel send must not use the regular command")
	}
}

func TestEditOptimisticAppliesAndRevertsOnRejection(t *testing.T) {
	store, cmds, errs := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "original"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Edit(context.Background(), "m1", "revised"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	waitFor(t, "optimistic edit", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Text == "revised" && msgs[0].EditedAt != nil
	})
	if got := store.Messages("c1")[0]; got.ID != "m1" {
		t.Fatalf("edit must not change identity, got %+v", got)
	}

	req := takeEdit(t, cmds, 0)
	req.done(nil, proto.NewCommandError(proto.ErrCodePermissionDenied, "only the author may edit"))

	waitFor(t, "revert", func() bool {
		msgs := store.Messages("c1")
		return len(msgs) == 1 && msgs[0].Text == "original" && msgs[0].EditedAt == nil
	})
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected an error report for the rejected edit")
	}
}

func TestEditBroadcastIsAuthoritative(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "original"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Edit(context.Background(), "m1", "mine"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	req := takeEdit(t, cmds, 0)

	// The authoritative edited record lands before the ack resolves.
	now := time.Now()
	edited := serverRecord("m1", "c1", "u-me", "server version")
	edited.EditedAt = &now
	data, _ := json.Marshal(edited)
	store.HandleBroadcast(proto.Frame{Type: proto.TypeMessageEdited, Data: data})

	waitFor(t, "broadcast convergence", func() bool {
		return store.Messages("c1")[0].Text == "server version"
	})

	// A late failure ack must not revert the converged record.
	req.done(nil, proto.NewCommandError(proto.ErrCodeBadRequest, "conflict"))
	time.Sleep(50 * time.Millisecond)
	if got := store.Messages("c1")[0]; got.Text != "server version" {
		t.Fatalf("late ack reverted a converged message: %+v", got)
	}
}

func TestEditUnknownMessage(t *testing.T) {
	store, _, _ := newTestStore(t, nil)
	if err := store.Edit(context.Background(), "no-such-id", "text"); err == nil {
		t.Fatal("editing an unknown message must fail")
	}
}

func TestConcurrentEditRejected(t *testing.T) {
	store, cmds, errs := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "original"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Edit(context.Background(), "m1", "first"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	takeEdit(t, cmds, 0)

	// Second edit while the first round trip is outstanding.
	if err := store.Edit(context.Background(), "m1", "second"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected a rejection for the concurrent edit")
	}
	if got := store.Messages("c1")[0].Text; got != "first" {
		t.Fatalf("second edit must not apply, text = %q", got)
	}
}

func TestDeleteWaitsForAcknowledgement(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-me", "to delete"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Delete(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Not removed optimistically.
	time.Sleep(50 * time.Millisecond)
	if len(store.Messages("c1")) != 1 {
		t.Fatal("delete must not remove before acknowledgement")
	}

	req := takeDelete(t, cmds, 0)
	req.done(nil)
	waitFor(t, "removal", func() bool { return len(store.Messages("c1")) == 0 })
}

func TestRejectedDeleteKeepsMessage(t *testing.T) {
	store, cmds, errs := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-other", "their message"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Delete(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	req := takeDelete(t, cmds, 0)
	req.done(proto.NewCommandError(proto.ErrCodePermissionDenied, "not allowed"))

	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected an error report for the rejected delete")
	}
	if len(store.Messages("c1")) != 1 {
		t.Fatal("rejected delete must leave the sequence untouched")
	}
}

func TestDeleteBroadcastRemoves(t *testing.T) {
	store, _, _ := newTestStore(t, nil)

	broadcastMessage(store, serverRecord("m1", "c1", "u-other", "gone soon"))
	waitFor(t, "seeded message", func() bool { return len(store.Messages("c1")) == 1 })

	data, _ := json.Marshal(proto.DeletedEvent{MessageID: "m1", ChannelID: "c1"})
	store.HandleBroadcast(proto.Frame{Type: proto.TypeMessageDeleted, Data: data})

	waitFor(t, "removal", func() bool { return len(store.Messages("c1")) == 0 })
}

func TestActivateLoadsHistoryPage(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	cmds.mu.Lock()
	joined := len(cmds.joins) == 1 && cmds.joins[0] == "c1"
	cmds.mu.Unlock()
	if !joined {
		t.Fatal("activation must join the channel")
	}

	page := takeHistory(t, cmds, 0)
	page.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		serverRecord("m1", "c1", "u-other", "first"),
		serverRecord("m2", "c1", "u-other", "second"),
	}}, nil)

	waitFor(t, "history applied", func() bool { return len(store.Messages("c1")) == 2 })
	msgs := store.Messages("c1")
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("history order lost: %+v", msgs)
	}
}

func TestDeactivateClosesSubscription(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	page := takeHistory(t, cmds, 0)
	page.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		serverRecord("m1", "c1", "u-other", "first"),
	}}, nil)
	waitFor(t, "channel synced", func() bool { return store.Synced("c1") })

	if err := store.Deactivate(context.Background(), "c1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	cmds.mu.Lock()
	left := len(cmds.leaves) == 1 && cmds.leaves[0] == "c1"
	cmds.mu.Unlock()
	if !left {
		t.Fatal("deactivation must leave the channel")
	}
	if store.Synced("c1") {
		t.Fatal("channel must not report synced after deactivation")
	}
	if len(store.Messages("c1")) != 1 {
		t.Fatal("cached messages must survive deactivation")
	}

	// Deactivating again is a no-op once the subscription is closed.
	if err := store.Deactivate(context.Background(), "c1"); err != nil {
		t.Fatalf("repeat deactivate: %v", err)
	}
	cmds.mu.Lock()
	leaves := len(cmds.leaves)
	cmds.mu.Unlock()
	if leaves != 1 {
		t.Fatalf("expected a single leave command, got %d", leaves)
	}

	// Re-activation opens a fresh subscription and reloads the page.
	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	cmds.mu.Lock()
	joins := len(cmds.joins)
	cmds.mu.Unlock()
	if joins != 2 {
		t.Fatalf("expected re-join, got %d joins", joins)
	}
}

func TestStaleHistoryPageDiscarded(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("activate c1: %v", err)
	}
	pageC1 := takeHistory(t, cmds, 0)

	if err := store.Activate(context.Background(), "c2"); err != nil {
		t.Fatalf("activate c2: %v", err)
	}
	pageC2 := takeHistory(t, cmds, 1)

	// The slow response for the superseded channel lands after the switch.
	pageC1.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		serverRecord("m1", "c1", "u-other", "stale"),
	}}, nil)
	pageC2.done(proto.HistoryPage{ChannelID: "c2", Messages: []proto.Message{
		serverRecord("m2", "c2", "u-other", "fresh"),
	}}, nil)

	waitFor(t, "fresh page applied", func() bool { return len(store.Messages("c2")) == 1 })
	if len(store.Messages("c1")) != 0 {
		t.Fatal("superseded page must be discarded")
	}
}

func TestResyncMergesById(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	page := takeHistory(t, cmds, 0)
	page.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		serverRecord("m1", "c1", "u-other", "original"),
	}}, nil)
	waitFor(t, "initial page", func() bool { return len(store.Messages("c1")) == 1 })

	store.ConnectionLost()
	if err := store.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}

	// Catch-up page: m1 was edited during the outage, m2 is new.
	now := time.Now()
	edited := serverRecord("m1", "c1", "u-other", "edited while away")
	edited.EditedAt = &now
	catchup := takeHistory(t, cmds, 1)
	catchup.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		edited,
		serverRecord("m2", "c1", "u-other", "missed this"),
	}}, nil)

	waitFor(t, "catch-up merge", func() bool { return len(store.Messages("c1")) == 2 })
	msgs := store.Messages("c1")
	if msgs[0].ID != "m1" || msgs[0].Text != "edited while away" {
		t.Fatalf("missed edit not merged: %+v", msgs[0])
	}
	if msgs[1].ID != "m2" {
		t.Fatalf("missed message not appended: %+v", msgs[1])
	}

	cmds.mu.Lock()
	rejoined := len(cmds.joins) == 2
	cmds.mu.Unlock()
	if !rejoined {
		t.Fatal("resync must re-join the active channel")
	}
}

func TestHistoryResetKeepsPendingTail(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	if _, err := store.Send(context.Background(), "c1", "optimistic"); err != nil {
		t.Fatalf("send: %v", err)
	}
	takeSend(t, cmds, 0)
	waitFor(t, "pending entry", func() bool { return len(store.Messages("c1")) == 1 })

	if err := store.Activate(context.Background(), "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	page := takeHistory(t, cmds, 0)
	page.done(proto.HistoryPage{ChannelID: "c1", Messages: []proto.Message{
		serverRecord("m1", "c1", "u-other", "history"),
	}}, nil)

	waitFor(t, "page with pending tail", func() bool { return len(store.Messages("c1")) == 2 })
	msgs := store.Messages("c1")
	if msgs[0].ID != "m1" {
		t.Fatalf("history must come first: %+v", msgs[0])
	}
	if msgs[1].Status != StatusPending || msgs[1].Text != "optimistic" {
		t.Fatalf("pending entry lost in reset: %+v", msgs[1])
	}
}

func TestOnChangeDeliversSnapshots(t *testing.T) {
	store, cmds, _ := newTestStore(t, nil)

	var mu sync.Mutex
	var last []Message
	store.OnChange("c1", func(msgs []Message) {
		mu.Lock()
		last = msgs
		mu.Unlock()
	})

	if _, err := store.Send(context.Background(), "c1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	req := takeSend(t, cmds, 0)
	record := serverRecord("m1", "c1", "u-me", "hello")
	record.LocalKey = req.localKey
	req.done(&record, nil)

	waitFor(t, "confirmed snapshot", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Status == StatusConfirmed
	})
}
