// Package runner turns one AG-UI run request into a Claude Code turn and
// streams the resulting wire events.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/agui"
	"github.com/kandev/claude-runner/internal/capabilities"
	"github.com/kandev/claude-runner/internal/common/config"
	"github.com/kandev/claude-runner/internal/common/constants"
	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/common/stringutil"
	"github.com/kandev/claude-runner/internal/runstore"
	"github.com/kandev/claude-runner/internal/session"
	"github.com/kandev/claude-runner/internal/tracing"
)

const (
	// StepProcessingPrompt names the step wrapping the engine turn.
	StepProcessingPrompt = "processing_prompt"

	// EnvResume asks the first run to continue the on-disk conversation.
	EnvResume = "IS_RESUME"

	msgNoUserMessage    = "No user message provided"
	msgResuming         = "Resuming conversation from disk state"
	msgFallback         = "Could not continue conversation, starting fresh..."
	msgRestartRequested = "Claude requested a session restart. Reconnecting..."

	eventBufferSize = 32
	maxPromptRecord = 500
)

// errRunInterrupted marks a run that ended because it was interrupted.
var errRunInterrupted = errors.New("run interrupted")

// Assembler resolves what the engine needs for one run.
type Assembler interface {
	Assemble(rc *config.RunnerContext) (*capabilities.Assembly, error)
}

// Recorder persists run records.
type Recorder interface {
	CreateRun(ctx context.Context, run *runstore.Run) error
	FinishRun(ctx context.Context, run *runstore.Run) error
}

// Publisher receives a copy of every wire event.
type Publisher interface {
	Publish(ctx context.Context, ev agui.Event)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRecorder stores a record of every run.
func WithRecorder(r Recorder) Option {
	return func(a *Adapter) { a.recorder = r }
}

// WithPublisher mirrors every wire event to p.
func WithPublisher(p Publisher) Option {
	return func(a *Adapter) { a.publisher = p }
}

// WithPrerequisites sets the checks run by Initialize.
func WithPrerequisites(checks ...Prerequisite) Option {
	return func(a *Adapter) { a.prerequisites = append(a.prerequisites, checks...) }
}

// Adapter serves runs of one runner session, one at a time.
type Adapter struct {
	rc            *config.RunnerContext
	sessions      *session.Manager
	assembler     Assembler
	recorder      Recorder
	publisher     Publisher
	prerequisites []Prerequisite
	logger        *logger.Logger

	slot         chan struct{}
	drainTimeout time.Duration

	initMu      sync.Mutex
	initialized bool
	initErr     error

	lastExitCode atomic.Int32
	turnCount    atomic.Int64
}

// NewAdapter creates an Adapter. Initialize must succeed before ProcessRun.
func NewAdapter(rc *config.RunnerContext, sessions *session.Manager, assembler Assembler, log *logger.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		rc:        rc,
		sessions:  sessions,
		assembler: assembler,
		logger:    log.WithFields(zap.String("component", "runner")),

		slot:         make(chan struct{}, 1),
		drainTimeout: constants.DrainTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize runs the prerequisite checks once. A failure is remembered and
// returned as a *PrerequisiteError by every later call and by ProcessRun.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.initialized {
		return a.initErr
	}
	a.initialized = true

	for _, p := range a.prerequisites {
		if err := p.Check(ctx); err != nil {
			a.initErr = &PrerequisiteError{Check: p.Name, Err: err}
			a.lastExitCode.Store(ExitPrerequisite)
			a.logger.Error("prerequisite check failed", zap.String("check", p.Name), zap.Error(err))
			return a.initErr
		}
	}
	a.logger.Info("runner initialized",
		zap.String("session_id", a.rc.SessionID),
		zap.Int("prerequisites", len(a.prerequisites)))
	return nil
}

func (a *Adapter) initState() (bool, error) {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.initialized, a.initErr
}

// SessionID is the runner session this adapter serves.
func (a *Adapter) SessionID() string { return a.rc.SessionID }

// LastExitCode is 0 after a successful run, 1 after a run error and 2 after
// a prerequisite failure.
func (a *Adapter) LastExitCode() int { return int(a.lastExitCode.Load()) }

// TurnCount is the highest num_turns reported by the engine so far.
func (a *Adapter) TurnCount() int { return int(a.turnCount.Load()) }

// Interrupt stops the active run of threadID; an empty id matches any.
func (a *Adapter) Interrupt(ctx context.Context, threadID string) error {
	return a.sessions.Interrupt(ctx, threadID)
}

// ProcessRun starts a run and returns its event stream. The returned error
// is reserved for initialization failures; everything else is reported in
// the stream, which ends with exactly one RunFinished or RunError and is
// then closed. Callers must drain the channel.
func (a *Adapter) ProcessRun(ctx context.Context, input agui.RunAgentInput) (<-chan agui.Event, error) {
	initialized, initErr := a.initState()
	if initErr != nil {
		return nil, initErr
	}
	if !initialized {
		return nil, ErrNotInitialized
	}

	threadID := input.ThreadID
	if threadID == "" {
		threadID = a.rc.SessionID
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	r := &run{
		adapter: a,
		em:      agui.NewEmitter(threadID, runID),
		out:     make(chan agui.Event, eventBufferSize),
		logger:  a.logger.WithRun(threadID, runID),
	}
	go a.execute(ctx, r, input)
	return r.out, nil
}

// run is the state of one ProcessRun call.
type run struct {
	adapter *Adapter
	em      *agui.Emitter
	out     chan agui.Event
	logger  *logger.Logger
	record  *runstore.Run
	pubCtx  context.Context
}

func (r *run) emit(ev agui.Event) {
	r.out <- ev
	if r.adapter.publisher != nil {
		r.adapter.publisher.Publish(r.pubCtx, ev)
	}
}

func (a *Adapter) execute(ctx context.Context, r *run, input agui.RunAgentInput) {
	r.pubCtx = context.WithoutCancel(ctx)
	r.emit(r.em.RunStarted())

	select {
	case a.slot <- struct{}{}:
	case <-ctx.Done():
		r.logger.Info("run cancelled while waiting for the previous run")
		r.emit(r.em.RunFinished())
		close(r.out)
		return
	}
	defer func() {
		close(r.out)
		<-a.slot
	}()

	ctx, span := tracing.TraceRun(ctx, r.em.ThreadID(), r.em.RunID())

	prompt := extractPrompt(input.Messages)
	a.startRecord(ctx, r, prompt)

	r.echoHistory(input.Messages)

	var err error
	if prompt == "" {
		if len(input.Messages) > 0 {
			r.emit(r.em.SystemLog(msgNoUserMessage))
		}
	} else {
		err = a.stream(ctx, r, prompt)
	}

	switch {
	case err == nil:
		a.finish(r, runstore.StatusFinished, "")
	case errors.Is(err, errRunInterrupted):
		err = nil
		a.finish(r, runstore.StatusInterrupted, "")
	default:
		r.logger.Error("run failed", zap.Error(err))
		a.finish(r, runstore.StatusError, err.Error())
	}
	tracing.EndWithError(span, err)
}

// finish records the outcome, sets the exit code and emits the terminal event.
func (a *Adapter) finish(r *run, status runstore.Status, errMsg string) {
	if status == runstore.StatusError {
		a.lastExitCode.Store(ExitRunError)
	} else {
		a.lastExitCode.Store(ExitSuccess)
	}
	a.finishRecord(r, status, errMsg)

	if status == runstore.StatusError {
		r.emit(r.em.RunError(errMsg))
		return
	}
	r.emit(r.em.RunFinished())
	r.logger.Info("run finished", zap.String("status", string(status)))
}

// echoHistory replays the input's user messages so the stream carries the
// whole conversation.
func (r *run) echoHistory(messages []agui.Message) {
	for _, msg := range messages {
		if msg.Role != agui.RoleUser {
			continue
		}
		id := msg.ID
		if id == "" {
			id = uuid.New().String()
		}
		if msg.Hidden() {
			r.emit(r.em.Raw(agui.RawMessageMetadata, map[string]any{
				"messageId": id,
				"metadata":  msg.Metadata,
				"hidden":    true,
			}))
		}
		r.emit(r.em.TextMessageStart(id, agui.RoleUser))
		if content := msg.DisplayContent(); content != "" {
			r.emit(r.em.TextMessageContent(id, content))
		}
		r.emit(r.em.TextMessageEnd(id))
	}
}

// stream runs one engine turn for prompt.
func (a *Adapter) stream(ctx context.Context, r *run, prompt string) error {
	asm, err := a.assembler.Assemble(a.rc)
	if err != nil {
		return err
	}
	if r.record != nil {
		r.record.Model = asm.Model.Configured
	}

	if len(asm.AuthWarnings) > 0 {
		servers := make([]string, 0, len(asm.AuthWarnings))
		for _, w := range asm.AuthWarnings {
			servers = append(servers, w.Server)
		}
		r.emit(r.em.Raw(agui.RawMCPAuthWarning, map[string]any{
			"message": capabilities.AuthWarningMessage(asm.AuthWarnings),
			"servers": servers,
		}))
	}

	resume := a.rc.EnvFlag(EnvResume)
	if a.sessions.WillContinue(resume) {
		r.emit(r.em.SystemLog(msgResuming))
	}

	h, err := a.sessions.Acquire(ctx, r.em.ThreadID(), resume, asm.Options)
	if err != nil {
		if ctx.Err() != nil {
			return errRunInterrupted
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.SessionReleaseTimeout)
		defer cancel()
		if err := a.sessions.Release(releaseCtx, h); err != nil {
			r.logger.Warn("failed to release engine session", zap.Error(err))
		}
	}()

	if h.FellBack {
		r.emit(r.em.SystemLog(msgFallback))
	}

	stepID := uuid.New().String()
	r.emit(r.em.StepStarted(stepID, StepProcessingPrompt))
	if traceID, ok := tracing.TraceID(ctx); ok {
		r.emit(r.em.Raw(agui.RawTrace, map[string]any{"traceId": traceID}))
	}

	t := newTranslator(ctx, r.em, r.emit, r.logger)
	interrupted, err := a.turn(ctx, r, h, t, prompt)
	t.finish()
	r.emit(r.em.StepFinished(stepID, StepProcessingPrompt))
	a.recordResult(r, t)

	switch {
	case interrupted:
		return errRunInterrupted
	case err != nil:
		return err
	}

	if h.RestartRequested() {
		r.emit(r.em.Raw(agui.RawSessionRestartRequested, map[string]any{"message": msgRestartRequested}))
	}
	return nil
}

// turn sends prompt and translates the engine's messages until the turn
// ends. An interrupt that lands before the turn starts skips it. Once the
// run is interrupted or ctx is cancelled, draining is bounded by
// drainTimeout so the run always closes.
func (a *Adapter) turn(ctx context.Context, r *run, h *session.Handle, t *translator, prompt string) (bool, error) {
	if h.Interrupted() {
		r.logger.Info("run interrupted before the engine turn started")
		return true, nil
	}
	if err := h.Session.Query(ctx, prompt); err != nil {
		if ctx.Err() != nil || h.Interrupted() {
			return true, nil
		}
		return false, err
	}
	msgs := h.Session.Receive(ctx)

	var (
		drain <-chan time.Time
		timer *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	startDrain := func() {
		if timer == nil {
			timer = time.NewTimer(a.drainTimeout)
			drain = timer.C
		}
	}
	interruptEngine := func() {
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.InterruptTimeout)
		defer cancel()
		if err := h.Session.Interrupt(ictx); err != nil {
			r.logger.Warn("failed to interrupt engine", zap.Error(err))
		}
	}

	interrupts := h.InterruptSignal()
	// The manager forwarded an interrupt that raced Query to an idle engine.
	if h.Interrupted() {
		interrupts = nil
		interruptEngine()
		startDrain()
	}

	done := ctx.Done()
	cancelled := false
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				if cancelled || h.Interrupted() {
					return true, nil
				}
				return false, h.Session.Err()
			}
			t.handle(msg)
		case <-interrupts:
			interrupts = nil
			r.logger.Info("run interrupted, waiting for the engine to end the turn")
			startDrain()
		case <-done:
			done = nil
			cancelled = true
			r.logger.Info("run context cancelled, interrupting engine")
			interruptEngine()
			startDrain()
		case <-drain:
			r.logger.Warn("engine did not end the interrupted turn in time")
			return true, nil
		}
	}
}

func (a *Adapter) recordResult(r *run, t *translator) {
	if t.result == nil {
		return
	}
	res := t.result
	for {
		cur := a.turnCount.Load()
		if int64(res.NumTurns) <= cur || a.turnCount.CompareAndSwap(cur, int64(res.NumTurns)) {
			break
		}
	}
	var cost float64
	if res.TotalCostUSD != nil {
		cost = *res.TotalCostUSD
	}
	if r.record != nil {
		r.record.NumTurns = res.NumTurns
		r.record.TotalCostUSD = cost
		r.record.Usage = res.Usage
	}
	tracing.TraceRunResult(trace.SpanFromContext(t.ctx), res.NumTurns, cost, res.IsError)
}

func (a *Adapter) startRecord(ctx context.Context, r *run, prompt string) {
	if a.recorder == nil {
		return
	}
	rec := &runstore.Run{
		ID:       r.em.RunID(),
		ThreadID: r.em.ThreadID(),
		Status:   runstore.StatusRunning,
		Prompt:   stringutil.TruncateStringWithEllipsis(prompt, maxPromptRecord),
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.RecordTimeout)
	defer cancel()
	if err := a.recorder.CreateRun(rctx, rec); err != nil {
		r.logger.Warn("failed to record run start", zap.Error(err))
		return
	}
	r.record = rec
}

func (a *Adapter) finishRecord(r *run, status runstore.Status, errMsg string) {
	if a.recorder == nil || r.record == nil {
		return
	}
	r.record.Status = status
	r.record.Error = errMsg
	rctx, cancel := context.WithTimeout(r.pubCtx, constants.RecordTimeout)
	defer cancel()
	if err := a.recorder.FinishRun(rctx, r.record); err != nil {
		r.logger.Warn("failed to record run result", zap.Error(err))
	}
}
