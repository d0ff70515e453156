// Package session owns the single engine session of a runner instance and
// decides between continuing the on-disk conversation and starting fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/engine"
)

var (
	// ErrNoActiveSession is returned by Interrupt when no run holds a session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionBusy is returned by Acquire while another handle is active.
	ErrSessionBusy = errors.New("a session is already active")
)

// Handle is the active engine session of one run.
type Handle struct {
	ThreadID string
	Session  engine.Session

	// ContinuationAttempted is set when the first connect asked to continue.
	ContinuationAttempted bool
	// FellBack is set when continuation failed and a fresh session was used;
	// FallbackReason holds the continuation error.
	FellBack       bool
	FallbackReason error

	mu               sync.Mutex
	interrupted      bool
	interruptCh      chan struct{}
	restartRequested bool
}

func newHandle(threadID string, continuation bool) *Handle {
	return &Handle{
		ThreadID:              threadID,
		ContinuationAttempted: continuation,
		interruptCh:           make(chan struct{}),
	}
}

// Interrupted reports whether Interrupt reached this handle.
func (h *Handle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// InterruptSignal is closed when Interrupt reaches this handle.
func (h *Handle) InterruptSignal() <-chan struct{} {
	return h.interruptCh
}

// RestartRequested reports whether a restart was requested during this run.
func (h *Handle) RestartRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restartRequested
}

func (h *Handle) markInterrupted() engine.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.interrupted {
		h.interrupted = true
		close(h.interruptCh)
	}
	return h.Session
}

func (h *Handle) markRestart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restartRequested = true
}

func (h *Handle) setSession(s engine.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Session = s
}

// Manager hands out at most one active Handle at a time.
type Manager struct {
	engine engine.Engine
	logger *logger.Logger

	mu       sync.Mutex
	firstRun bool
	active   *Handle
}

// NewManager creates a Manager for a fresh runner instance.
func NewManager(eng engine.Engine, log *logger.Logger) *Manager {
	return &Manager{
		engine:   eng,
		logger:   log.WithFields(zap.String("component", "session-manager")),
		firstRun: true,
	}
}

// WillContinue reports whether the next Acquire will try to continue the
// on-disk conversation.
func (m *Manager) WillContinue(resume bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.firstRun || resume
}

// Acquire connects an engine session for threadID. Continuation is attempted
// on every run after the first, or on the first when resume is set. A
// continuation that finds no conversation is retried once without it.
func (m *Manager) Acquire(ctx context.Context, threadID string, resume bool, opts engine.Options) (*Handle, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	h := newHandle(threadID, !m.firstRun || resume)
	m.active = h
	m.mu.Unlock()

	log := m.logger.WithFields(zap.String("thread_id", threadID))

	opts.Continue = h.ContinuationAttempted
	sess, err := m.engine.Connect(ctx, opts)
	if err != nil && h.ContinuationAttempted && engine.IsNoConversation(err) {
		log.Info("no conversation to continue, starting fresh", zap.Error(err))
		h.FellBack = true
		h.FallbackReason = err
		opts.Continue = false
		sess, err = m.engine.Connect(ctx, opts)
	}
	if err != nil {
		m.clear(h)
		return nil, fmt.Errorf("failed to connect engine: %w", err)
	}

	h.setSession(sess)

	m.mu.Lock()
	m.firstRun = false
	m.mu.Unlock()

	// An interrupt that arrived while connecting is forwarded now.
	if h.Interrupted() {
		if err := sess.Interrupt(ctx); err != nil {
			log.Warn("failed to forward early interrupt", zap.Error(err))
		}
	}

	log.Info("engine session acquired",
		zap.Bool("continued", h.ContinuationAttempted && !h.FellBack),
		zap.Bool("fell_back", h.FellBack))
	return h, nil
}

// Release disconnects the handle's session and frees the slot.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	defer m.clear(h)

	h.mu.Lock()
	sess := h.Session
	h.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect engine: %w", err)
	}
	return nil
}

func (m *Manager) clear(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == h {
		m.active = nil
	}
}

// Interrupt cancels the active run's engine turn. An empty threadID matches
// any active thread.
func (m *Manager) Interrupt(ctx context.Context, threadID string) error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()

	if h == nil || (threadID != "" && h.ThreadID != threadID) {
		return ErrNoActiveSession
	}

	sess := h.markInterrupted()
	m.logger.Info("interrupting run", zap.String("thread_id", h.ThreadID))
	if sess == nil {
		return nil
	}
	if err := sess.Interrupt(ctx); err != nil {
		return fmt.Errorf("failed to interrupt engine: %w", err)
	}
	return nil
}

// Active returns the active handle, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RequestRestart asks for the session to be re-established after the
// active run completes. Without an active run the request is dropped.
func (m *Manager) RequestRestart() {
	h := m.Active()
	if h == nil {
		m.logger.Warn("session restart requested with no active run, ignoring")
		return
	}
	m.logger.Info("session restart requested", zap.String("thread_id", h.ThreadID))
	h.markRestart()
}
