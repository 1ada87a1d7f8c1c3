package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/Gamage-Recruiters/ems-chat/internal/app"
	"github.com/Gamage-Recruiters/ems-chat/internal/chat"
	"github.com/Gamage-Recruiters/ems-chat/internal/policy"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// ui tracks interactive session state shared between the stdin loop and the
// store's change callbacks.
type ui struct {
	app *app.App

	mu      sync.Mutex
	active  string
	names   map[string]string // employee id -> display name
	printed map[string]string // message key -> last rendered line
}

func runInteractive(parent context.Context, a *app.App, channelName string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Connection().Disconnect()

	u := &ui{
		app:     a,
		names:   make(map[string]string),
		printed: make(map[string]string),
	}
	if employees, err := a.Directory().Employees(ctx); err == nil {
		for _, e := range employees {
			u.names[e.ID] = e.DisplayName
		}
	}

	a.Messages().OnError(func(channelID string, err error) {
		fmt.Printf("! %v\n", err)
	})

	if err := u.switchTo(ctx, channelName); err != nil {
		return err
	}

	fmt.Println("Type a message and press Enter. Commands: /channels /join <name> /dm <name> /edit <id> <text> /delete <id> /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "/quit" {
				return nil
			}
			if strings.HasPrefix(text, "/") {
				u.command(ctx, text)
				continue
			}
			u.mu.Lock()
			active := u.active
			u.mu.Unlock()
			if ch, ok := u.app.Directory().Get(active); ok && !policy.CanSend(u.app.Session(), ch) {
				fmt.Println("! you cannot post in this channel")
				continue
			}
			if _, err := u.app.Messages().Send(ctx, active, text); err != nil {
				fmt.Printf("! send: %v\n", err)
			}
		}
	}
}

func (u *ui) command(ctx context.Context, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/channels":
		for _, ch := range u.app.Directory().Visible(u.app.Session()) {
			fmt.Printf("  %-24s %s\n", ch.Name, ch.Kind)
		}
	case "/join":
		if len(fields) != 2 {
			fmt.Println("usage: /join <channel-name>")
			return
		}
		if err := u.switchTo(ctx, fields[1]); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/dm":
		if len(fields) < 2 {
			fmt.Println("usage: /dm <display-name>")
			return
		}
		u.startPrivate(ctx, strings.Join(fields[1:], " "))
	case "/edit":
		if len(fields) < 3 {
			fmt.Println("usage: /edit <id> <new text>")
			return
		}
		msg, ok := u.resolveMessage(fields[1])
		if !ok {
			fmt.Println("! no unique message matches that id")
			return
		}
		if !policy.CanEdit(u.app.Session(), msg) {
			fmt.Println("! you can only edit your own messages")
			return
		}
		if err := u.app.Messages().Edit(ctx, msg.ID, strings.Join(fields[2:], " ")); err != nil {
			fmt.Printf("! edit: %v\n", err)
		}
	case "/delete":
		if len(fields) != 2 {
			fmt.Println("usage: /delete <id>")
			return
		}
		msg, ok := u.resolveMessage(fields[1])
		if !ok {
			fmt.Println("! no unique message matches that id")
			return
		}
		if !policy.CanDelete(u.app.Session(), msg) {
			fmt.Println("! you cannot delete this message")
			return
		}
		if err := u.app.Messages().Delete(ctx, msg.ID); err != nil {
			fmt.Printf("! delete: %v\n", err)
		}
	default:
		fmt.Println("unknown command:", fields[0])
	}
}

func (u *ui) switchTo(ctx context.Context, name string) error {
	ch, ok := channelByName(u.app, name)
	if !ok {
		return fmt.Errorf("no visible channel named %q", name)
	}
	return u.open(ctx, ch)
}

func (u *ui) startPrivate(ctx context.Context, displayName string) {
	var recipientID string
	u.mu.Lock()
	for id, dn := range u.names {
		if strings.EqualFold(dn, displayName) {
			recipientID = id
			break
		}
	}
	u.mu.Unlock()
	if recipientID == "" {
		fmt.Printf("! no employee named %q\n", displayName)
		return
	}

	ch, err := u.app.Directory().StartPrivate(ctx, recipientID)
	if err != nil {
		fmt.Printf("! dm: %v\n", err)
		return
	}
	if err := u.open(ctx, *ch); err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func (u *ui) open(ctx context.Context, ch proto.Channel) error {
	u.mu.Lock()
	previous := u.active
	u.active = ch.ID
	u.printed = make(map[string]string)
	u.mu.Unlock()

	if previous != "" && previous != ch.ID {
		if err := u.app.Messages().Deactivate(ctx, previous); err != nil {
			fmt.Printf("! leave: %v\n", err)
		}
	}

	u.app.Messages().OnChange(ch.ID, func(msgs []chat.Message) {
		u.render(ch.ID, msgs)
	})
	if err := u.app.Messages().Activate(ctx, ch.ID); err != nil {
		return fmt.Errorf("open %s: %w", ch.Name, err)
	}
	fmt.Printf("--- %s (%s) ---\n", ch.Name, ch.Kind)
	return nil
}

// render prints new messages and reprints ones whose text or status changed.
func (u *ui) render(channelID string, msgs []chat.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if channelID != u.active {
		return
	}

	for _, m := range msgs {
		line := u.formatLocked(m)
		key := m.LocalKey
		if key == "" {
			key = m.ID
		}
		if u.printed[key] == line {
			continue
		}
		u.printed[key] = line
		fmt.Println(line)
	}
}

func (u *ui) formatLocked(m chat.Message) string {
	author := u.names[m.AuthorID]
	if author == "" {
		author = m.AuthorID
	}

	id := m.ID
	if len(id) > 8 {
		id = id[:8]
	}

	var marks []string
	if m.EditedAt != nil {
		marks = append(marks, "edited")
	}
	if m.Status != chat.StatusConfirmed {
		marks = append(marks, string(m.Status))
	}
	suffix := ""
	if len(marks) > 0 {
		suffix = " (" + strings.Join(marks, ", ") + ")"
	}
	return fmt.Sprintf("[%s] %s %s: %s%s", m.CreatedAt.Local().Format("15:04"), id, author, m.Text, suffix)
}

// resolveMessage expands a short id prefix to a message within the active
// channel. It fails unless exactly one confirmed message matches.
func (u *ui) resolveMessage(prefix string) (chat.Message, bool) {
	u.mu.Lock()
	active := u.active
	u.mu.Unlock()

	var found chat.Message
	for _, m := range u.app.Messages().Messages(active) {
		if m.ID == "" || !strings.HasPrefix(m.ID, prefix) {
			continue
		}
		if found.ID != "" {
			return chat.Message{}, false
		}
		found = m
	}
	return found, found.ID != ""
}
