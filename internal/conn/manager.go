// Package conn owns the single persistent connection to the chat backend:
// dialing, the authentication handshake, bounded reconnection, and routing of
// acks and broadcasts.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// ErrAuthRejected is returned when the server refuses the credential during
// the handshake. It is terminal for the current credential.
var ErrAuthRejected = errors.New("authentication rejected")

// ErrNotConnected is returned by Send when no authenticated connection exists.
var ErrNotConnected = errors.New("not connected")

// errCodeConnectionLost is delivered to pending ack callbacks when the
// connection drops before the server answered.
const errCodeConnectionLost = "connection_lost"

// AckFunc receives the direct response to a command.
type AckFunc func(proto.Ack)

// BroadcastFunc receives server-originated events in receipt order.
type BroadcastFunc func(proto.Frame)

// Manager maintains exactly one connection per session.
type Manager struct {
	url      string
	attempts int
	delay    time.Duration
	log      *zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	credential string
	generation int
	pending    map[string]AckFunc

	stateListeners []func(State)
	broadcastFn    BroadcastFunc

	writeMu sync.Mutex
}

// New builds a manager. attempts bounds dial retries per outage and delay is
// the fixed pause between them; the connection is not opened until Connect.
func New(url string, attempts int, delay time.Duration, logger *zerolog.Logger) *Manager {
	return &Manager{
		url:      url,
		attempts: attempts,
		delay:    delay,
		log:      logger,
		state:    State{Phase: PhaseDisconnected},
		pending:  make(map[string]AckFunc),
	}
}

// OnStateChange registers a listener invoked after every phase transition.
// Must be called before Connect.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListeners = append(m.stateListeners, fn)
}

// OnBroadcast installs the handler for server broadcasts. Frames are
// delivered on the read-loop goroutine, preserving receipt order.
// Must be called before Connect.
func (m *Manager) OnBroadcast(fn BroadcastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastFn = fn
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection lifecycle with the given credential. An empty
// credential is still dialed so the server can reject it explicitly; the
// resulting phase is auth_failed, not an endless retry. Connect supersedes
// any previous lifecycle (e.g. after re-login with a fresh credential).
func (m *Manager) Connect(ctx context.Context, credential string) {
	m.mu.Lock()
	m.credential = credential
	m.generation++
	gen := m.generation
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "superseded")
		m.conn = nil
	}
	m.mu.Unlock()

	go m.run(ctx, gen)
}

// Disconnect tears the connection down and stops reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	m.failPending(errCodeConnectionLost, "disconnected")
	m.setState(State{Phase: PhaseDisconnected})
}

// Send issues a command frame. When ackFn is non-nil the frame carries an ack
// id and ackFn fires exactly once: with the server's response, or with a
// connection_lost failure if the link drops first.
func (m *Manager) Send(ctx context.Context, frameType string, payload any, ackFn AckFunc) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", frameType, err)
	}

	frame := proto.Frame{Type: frameType, Data: data}

	m.mu.Lock()
	if m.state.Phase != PhaseConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	if ackFn != nil {
		frame.AckID = uuid.NewString()
		m.pending[frame.AckID] = ackFn
	}
	m.mu.Unlock()

	if err := m.writeFrame(ctx, conn, frame); err != nil {
		if frame.AckID != "" {
			m.mu.Lock()
			delete(m.pending, frame.AckID)
			m.mu.Unlock()
		}
		return fmt.Errorf("send %s: %w", frameType, err)
	}
	return nil
}

// run dials with a bounded constant-interval retry policy, then hands the
// connection to the read loop. Auth rejection aborts the policy permanently.
func (m *Manager) run(ctx context.Context, gen int) {
	attempt := 0
	operation := func() error {
		if m.stale(gen) {
			return backoff.Permanent(errors.New("superseded"))
		}
		attempt++
		m.setStateFor(gen, State{Phase: PhaseConnecting, ReconnectAttempt: attempt})

		err := m.dialAndAuth(ctx, gen, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			m.setStateFor(gen, State{Phase: PhaseAuthFailed, ReconnectAttempt: attempt, LastError: err})
			return backoff.Permanent(err)
		}
		m.log.Warn().Err(err).Int("attempt", attempt).Msg("connection attempt failed")
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.delay), uint64(m.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrAuthRejected) || m.stale(gen) {
			return
		}
		m.log.Error().Err(err).Int("attempts", attempt).Msg("reconnect attempts exhausted")
		m.setStateFor(gen, State{Phase: PhaseDisconnected, ReconnectAttempt: attempt, LastError: err})
	}
}

func (m *Manager) dialAndAuth(ctx context.Context, gen, attempt int) error {
	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return backoff.Permanent(errors.New("superseded"))
	}
	m.conn = conn
	credential := m.credential
	m.mu.Unlock()

	m.setStateFor(gen, State{Phase: PhaseAuthenticating, ReconnectAttempt: attempt})

	authAck := make(chan proto.Ack, 1)
	ackID := uuid.NewString()
	m.mu.Lock()
	m.pending[ackID] = func(ack proto.Ack) { authAck <- ack }
	m.mu.Unlock()

	go m.readLoop(ctx, conn, gen)

	data, err := json.Marshal(proto.AuthData{Token: credential})
	if err != nil {
		return fmt.Errorf("marshal auth: %w", err)
	}
	if err := m.writeFrame(ctx, conn, proto.Frame{Type: proto.TypeAuth, AckID: ackID, Data: data}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth write failed")
		return fmt.Errorf("write auth: %w", err)
	}

	select {
	case ack := <-authAck:
		if !ack.Success {
			// A link drop mid-handshake resolves the pending ack with
			// connection_lost; that is a transient failure, not a rejection.
			if ack.Error != nil && ack.Error.Code == errCodeConnectionLost {
				return fmt.Errorf("handshake interrupted: %s", ack.Error.Message)
			}
			_ = conn.Close(websocket.StatusPolicyViolation, "auth rejected")
			if ack.Error != nil {
				return fmt.Errorf("%w: %s", ErrAuthRejected, ack.Error.Message)
			}
			return ErrAuthRejected
		}
	case <-ctx.Done():
		_ = conn.Close(websocket.StatusNormalClosure, "context cancelled")
		return ctx.Err()
	}

	m.setStateFor(gen, State{Phase: PhaseConnected})
	m.log.Info().Str("url", m.url).Msg("connected and authenticated")
	return nil
}

// readLoop decodes frames until the connection breaks. Ack frames resolve the
// pending callback registered under their ack id; everything else is a
// broadcast and goes to the broadcast handler in receipt order.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			m.handleReadFailure(ctx, conn, gen, err)
			return
		}

		if frame.Type == proto.TypeAck {
			var ack proto.Ack
			if err := json.Unmarshal(frame.Data, &ack); err != nil {
				m.log.Warn().Err(err).Msg("malformed ack frame")
				continue
			}
			m.mu.Lock()
			fn, ok := m.pending[frame.AckID]
			delete(m.pending, frame.AckID)
			m.mu.Unlock()
			if ok {
				fn(ack)
			} else {
				m.log.Debug().Str("ack_id", frame.AckID).Msg("ack without pending command")
			}
			continue
		}

		m.mu.Lock()
		fn := m.broadcastFn
		m.mu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}
}

func (m *Manager) handleReadFailure(ctx context.Context, conn *websocket.Conn, gen int, err error) {
	_ = conn.Close(websocket.StatusInternalError, "read failed")

	if m.stale(gen) || ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	phase := m.state.Phase
	m.mu.Unlock()

	m.failPending(errCodeConnectionLost, "connection lost before acknowledgement")

	// During the handshake the dial/retry loop owns the lifecycle; it sees
	// the failed auth ack and applies its own policy. After an auth
	// rejection there is nothing to resume.
	if phase != PhaseConnected {
		return
	}

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		m.setStateFor(gen, State{Phase: PhaseDisconnected})
		return
	}

	m.log.Warn().Err(err).Msg("connection lost, reconnecting")
	m.setStateFor(gen, State{Phase: PhaseDisconnected, LastError: err})
	m.run(ctx, gen)
}

func (m *Manager) writeFrame(ctx context.Context, conn *websocket.Conn, frame proto.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return wsjson.Write(ctx, conn, frame)
}

// failPending resolves every outstanding ack callback with a failure so no
// caller waits forever on a dead connection.
func (m *Manager) failPending(code, msg string) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]AckFunc)
	m.mu.Unlock()

	for _, fn := range pending {
		fn(proto.Ack{Success: false, Error: proto.NewCommandError(code, msg)})
	}
}

func (m *Manager) stale(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.generation
}

func (m *Manager) setStateFor(gen int, s State) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = s
	listeners := m.stateListeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	listeners := m.stateListeners
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}
