// Package enginetest provides a scripted engine.Engine for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kandev/claude-runner/internal/engine"
	"github.com/kandev/claude-runner/pkg/claudecode"
)

// Engine replays scripted messages. Connect results are consumed in order
// from ConnectErrs; a nil entry (or an exhausted list) connects.
type Engine struct {
	mu          sync.Mutex
	ConnectErrs []error
	// Script is sent on every turn. StreamErr, when set, ends the turn with
	// that error after the script.
	Script    []*claudecode.CLIMessage
	StreamErr error
	// Block holds the turn open after the script until interrupted or the
	// context is cancelled.
	Block bool
	// QueryErr fails Query.
	QueryErr error
	// ConnectGate, when set, holds Connect until it is closed.
	ConnectGate chan struct{}
	// IgnoreInterrupt makes sessions acknowledge Interrupt without ending
	// the turn.
	IgnoreInterrupt bool
	// OnQuery is called by Query with the prompt, as an engine would call a
	// side tool during the turn.
	OnQuery func(prompt string)

	Connects []engine.Options
	Sessions []*Session
}

// Connect records opts and returns a new Session.
func (e *Engine) Connect(ctx context.Context, opts engine.Options) (engine.Session, error) {
	e.mu.Lock()
	gate := e.ConnectGate
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Connects = append(e.Connects, opts)
	if len(e.ConnectErrs) > 0 {
		err := e.ConnectErrs[0]
		e.ConnectErrs = e.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &Session{
		script:      e.Script,
		streamErr:   e.StreamErr,
		block:       e.Block,
		queryErr:    e.QueryErr,
		ignoreIntr:  e.IgnoreInterrupt,
		onQuery:     e.OnQuery,
		interrupted: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// ConnectCount returns how many times Connect was called.
func (e *Engine) ConnectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Connects)
}

// LastOptions returns the options of the most recent Connect.
func (e *Engine) LastOptions() engine.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Connects) == 0 {
		return engine.Options{}
	}
	return e.Connects[len(e.Connects)-1]
}

// LastSession returns the most recently connected session.
func (e *Engine) LastSession() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Sessions) == 0 {
		return nil
	}
	return e.Sessions[len(e.Sessions)-1]
}

// Session is a scripted engine.Session.
type Session struct {
	mu           sync.Mutex
	script       []*claudecode.CLIMessage
	streamErr    error
	block        bool
	queryErr     error
	ignoreIntr   bool
	onQuery      func(string)
	err          error
	turn         chan *claudecode.CLIMessage
	prompts      []string
	interrupts   int
	disconnected bool

	interruptOnce sync.Once
	interrupted   chan struct{}
	closeOnce     sync.Once
	closed        chan struct{}
}

func (s *Session) Query(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.queryErr != nil {
		s.mu.Unlock()
		return s.queryErr
	}
	s.prompts = append(s.prompts, prompt)
	s.turn = make(chan *claudecode.CLIMessage)
	go s.play(ctx, s.turn)
	onQuery := s.onQuery
	s.mu.Unlock()

	if onQuery != nil {
		onQuery(prompt)
	}
	return nil
}

func (s *Session) play(ctx context.Context, ch chan *claudecode.CLIMessage) {
	defer close(ch)
	for _, msg := range s.script {
		select {
		case ch <- msg:
		case <-s.interrupted:
			s.finishInterrupted(ctx, ch)
			return
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		}
	}
	if s.block {
		select {
		case <-s.interrupted:
			s.finishInterrupted(ctx, ch)
		case <-ctx.Done():
		case <-s.closed:
		}
		return
	}
	if s.streamErr != nil {
		s.mu.Lock()
		s.err = s.streamErr
		s.mu.Unlock()
	}
}

// finishInterrupted ends an interrupted turn with a result, as the CLI does.
func (s *Session) finishInterrupted(ctx context.Context, ch chan *claudecode.CLIMessage) {
	select {
	case ch <- &claudecode.CLIMessage{
		Type:    claudecode.MessageTypeResult,
		Subtype: "error_during_execution",
		IsError: true,
		Result:  json.RawMessage(`"interrupted"`),
	}:
	case <-ctx.Done():
	}
}

func (s *Session) Receive(ctx context.Context) <-chan *claudecode.CLIMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == nil {
		ch := make(chan *claudecode.CLIMessage)
		close(ch)
		return ch
	}
	return s.turn
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	s.interrupts++
	ignore := s.ignoreIntr
	s.mu.Unlock()
	if !ignore {
		s.interruptOnce.Do(func() { close(s.interrupted) })
	}
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Session) SessionID() string { return "fake-session" }

// Prompts returns the prompts sent with Query.
func (s *Session) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Interrupts returns how many times Interrupt was called.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Disconnected reports whether Disconnect was called.
func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}
