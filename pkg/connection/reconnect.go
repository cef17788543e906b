package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultAttemptTimeout bounds one dial, handshake included.
const DefaultAttemptTimeout = 30 * time.Second

// ErrManagerClosed is returned by Run after Close.
var ErrManagerClosed = errors.New("connection manager closed")

// State is the state of a Manager.
type State uint8

const (
	// StateIdle means Run has not been called.
	StateIdle State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the link is up.
	StateConnected

	// StateWaiting means the manager is sleeping before the next dial.
	StateWaiting

	// StateClosed means the manager stopped.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateWaiting:
		return "WAITING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Link is an established connection. Done is closed when it ends.
type Link interface {
	Done() <-chan struct{}
}

// DialFunc establishes a link.
type DialFunc func(ctx context.Context) (Link, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Addr names the target in logs.
	Addr string

	Backoff BackoffConfig

	// AttemptTimeout bounds each dial. Zero means DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// OnStateChange is called after every transition (optional).
	OnStateChange func(old, now State)
}

// Manager keeps one link alive.
type Manager struct {
	config  ManagerConfig
	dial    DialFunc
	backoff *Backoff

	mu    sync.RWMutex
	state State
	done  chan struct{}
	once  sync.Once
}

// NewManager creates a manager that dials with dial.
func NewManager(dial DialFunc, config ManagerConfig) *Manager {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Manager{
		config:  config,
		dial:    dial,
		backoff: NewBackoff(config.Backoff),
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the number of failed dials since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Run dials, waits for the link to end and dials again, until ctx is
// cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateClosed)

	for {
		if err := m.stopped(ctx); err != nil {
			return err
		}

		m.setState(StateConnecting)
		actx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
		link, err := m.dial(actx)
		cancel()

		if err != nil {
			delay := m.backoff.Next()
			m.debugLog("dial failed", "addr", m.config.Addr, "attempt", m.backoff.Attempts(), "retry_in", delay, "error", err)
			m.setState(StateWaiting)
			if !m.sleep(ctx, delay) {
				return m.stopped(ctx)
			}
			continue
		}

		m.backoff.Reset()
		m.setState(StateConnected)
		m.debugLog("connected", "addr", m.config.Addr)

		select {
		case <-link.Done():
			m.debugLog("link closed", "addr", m.config.Addr)
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrManagerClosed
		}

		m.setState(StateWaiting)
		if !m.sleep(ctx, m.backoff.Current()) {
			return m.stopped(ctx)
		}
	}
}

// Close stops Run. An established link is left open.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Manager) stopped(ctx context.Context) error {
	select {
	case <-m.done:
		return ErrManagerClosed
	default:
	}
	return ctx.Err()
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()

	if old != s && m.config.OnStateChange != nil {
		m.config.OnStateChange(old, s)
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}
