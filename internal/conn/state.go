package conn

// Phase is the connection lifecycle stage.
type Phase string

const (
	PhaseDisconnected   Phase = "disconnected"
	PhaseConnecting     Phase = "connecting"
	PhaseAuthenticating Phase = "authenticating"
	PhaseConnected      Phase = "connected"
	// PhaseAuthFailed is terminal until Connect is called with a new
	// credential; it is never retried by the backoff loop.
	PhaseAuthFailed Phase = "auth_failed"
)

// State is what UI code observes about the connection.
type State struct {
	Phase            Phase
	ReconnectAttempt int
	LastError        error
}
