// Package app composes the chat client: session store, connection manager,
// REST client, channel directory and message store.
package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/chat"
	"github.com/Gamage-Recruiters/ems-chat/internal/config"
	"github.com/Gamage-Recruiters/ems-chat/internal/conn"
	"github.com/Gamage-Recruiters/ems-chat/internal/directory"
	"github.com/Gamage-Recruiters/ems-chat/internal/dispatch"
	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
	"github.com/Gamage-Recruiters/ems-chat/internal/rest"
	"github.com/Gamage-Recruiters/ems-chat/internal/session"
)

// App is one logged-in chat client instance.
type App struct {
	cfg      config.Config
	log      *zerolog.Logger
	sessions session.Store

	sess *session.Session
	conn *conn.Manager
	disp *dispatch.Dispatcher
	dir  *directory.Directory
	msgs *chat.Store

	// everConnected flips once the first handshake completes, so the state
	// hook can tell a reconnect from the initial connect.
	everConnected atomic.Bool
}

// New builds an app around a persisted session store. No session is required
// yet; Login or Resume supplies one.
func New(cfg config.Config, sessions session.Store, logger *zerolog.Logger) *App {
	return &App{cfg: cfg, sessions: sessions, log: logger}
}

// Login derives the identity from a fresh credential, persists it, and wires
// the client for that session.
func (a *App) Login(credential string) error {
	sess, err := session.FromToken(credential)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := a.sessions.Save(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	a.wire(sess)
	return nil
}

// Resume restores the persisted session, if any.
func (a *App) Resume() error {
	sess, err := a.sessions.Load()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	a.wire(sess)
	return nil
}

// Logout clears the persisted session and tears the connection down.
func (a *App) Logout() error {
	if a.conn != nil {
		a.conn.Disconnect()
	}
	if a.msgs != nil {
		a.msgs.Close()
	}
	if err := a.sessions.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	a.log.Info().Msg("logged out")
	return nil
}

func (a *App) wire(sess *session.Session) {
	a.sess = sess
	a.conn = conn.New(a.cfg.SocketURL, a.cfg.ReconnectAttempts, a.cfg.ReconnectDelay, a.log)
	a.disp = dispatch.New(a.conn, a.log)

	restClient := rest.New(a.cfg.APIBaseURL, sess.Credential)
	a.dir = directory.New(restClient, a.disp, a.log)

	a.msgs = chat.NewStore(chat.Options{
		Commander:    a.disp,
		Session:      sess,
		KindOf:       a.dir.KindOf,
		HistoryLimit: a.cfg.HistoryLimit,
		AckTimeout:   a.cfg.SendAckTimeout,
		Logger:       a.log,
	})

	a.conn.OnBroadcast(func(frame proto.Frame) {
		a.dir.HandleBroadcast(frame)
		a.msgs.HandleBroadcast(frame)
	})
}

// Start opens the connection and loads the channel catalog. The state hook
// re-joins the active channel and re-fetches its latest page after every
// reconnect; delivery continuity across an outage is never assumed.
func (a *App) Start(ctx context.Context) error {
	if a.sess == nil {
		return fmt.Errorf("no session; login first")
	}

	a.conn.OnStateChange(func(s conn.State) {
		switch s.Phase {
		case conn.PhaseConnected:
			if a.everConnected.Swap(true) {
				a.log.Info().Msg("reconnected, resyncing active channel")
				if err := a.msgs.Resync(ctx); err != nil {
					a.log.Warn().Err(err).Msg("resync after reconnect failed")
				}
			}
		case conn.PhaseDisconnected:
			a.msgs.ConnectionLost()
		case conn.PhaseAuthFailed:
			a.log.Error().Msg("credential rejected; re-login required")
		}
	})

	a.conn.Connect(ctx, a.sess.Credential)

	if err := a.dir.Load(ctx); err != nil {
		return err
	}
	return nil
}

// Session returns the current identity.
func (a *App) Session() *session.Session { return a.sess }

// Connection exposes the connection manager (state display, tests).
func (a *App) Connection() *conn.Manager { return a.conn }

// Directory exposes the channel directory.
func (a *App) Directory() *directory.Directory { return a.dir }

// Messages exposes the message store.
func (a *App) Messages() *chat.Store { return a.msgs }
