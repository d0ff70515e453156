// Package claudecode runs the Claude Code CLI as a subprocess and exposes it
// as an engine.Engine over the stream-json protocol.
package claudecode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/engine"
	"github.com/kandev/claude-runner/internal/tracing"
	cli "github.com/kandev/claude-runner/pkg/claudecode"
)

const (
	// stderrTailLines is the number of recent stderr lines kept for error context.
	stderrTailLines = 50
	turnBufferSize  = 256
	killGrace       = 2 * time.Second
)

// Config configures the subprocess engine.
type Config struct {
	// Command is the CLI executable; Args are placed before the protocol flags.
	Command        string
	Args           []string
	ConnectTimeout time.Duration
	StopTimeout    time.Duration
}

// Engine starts one CLI process per session.
type Engine struct {
	cfg    Config
	logger *logger.Logger
}

// New creates a subprocess engine.
func New(cfg Config, log *logger.Logger) *Engine {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 60 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Engine{cfg: cfg, logger: log.WithFields(zap.String("component", "claude-engine"))}
}

// Connect starts the CLI and performs the initialize handshake. When the
// process exits during connect the returned error carries its stderr tail,
// wrapped with engine.ErrNoConversation if continuation found nothing.
func (e *Engine) Connect(ctx context.Context, opts engine.Options) (_ engine.Session, err error) {
	ctx, span := tracing.TraceEngineConnect(ctx, opts.Continue)
	defer func() { tracing.EndWithError(span, err) }()

	flags, err := BuildArgs(opts)
	if err != nil {
		return nil, err
	}
	if opts.Temperature != nil {
		e.logger.Debug("temperature is not supported by the CLI, ignoring",
			zap.Float64("temperature", *opts.Temperature))
	}

	args := append(append([]string{}, e.cfg.Args...), flags...)
	// Not exec.CommandContext: the process outlives the connecting request.
	cmd := exec.Command(e.cfg.Command, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = BuildEnv(os.Environ(), opts)
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	e.logger.Info("starting claude process",
		zap.String("command", e.cfg.Command),
		zap.String("workdir", opts.WorkDir),
		zap.Bool("continue", opts.Continue),
		zap.Strings("allowed_tools", opts.AllowedTools),
		zap.Int("mcp_server_count", len(opts.MCPServers)))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start claude: %w", err)
	}

	s := newSession(cmd, stdin, stdout, stderr, opts.AllowedTools, e.cfg.StopTimeout, e.logger)
	s.start()

	initCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	if err := s.client.Initialize(initCtx); err != nil {
		return nil, s.connectFailure(err, opts.Continue)
	}

	e.logger.Info("claude process connected", zap.Int("pid", cmd.Process.Pid))
	return s, nil
}

// session is one running CLI process.
type session struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stderr      io.Reader
	client      *cli.Client
	logger      *logger.Logger
	allowed     []string
	stopTimeout time.Duration

	io     errgroup.Group
	exited chan struct{}
	closed chan struct{}

	mu        sync.Mutex
	turn      chan *cli.CLIMessage
	sessionID string
	streamErr error

	stderrMu   sync.Mutex
	stderrTail []string

	disconnectOnce sync.Once
	disconnectErr  error
}

func newSession(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Reader, allowed []string,
	stopTimeout time.Duration, log *logger.Logger) *session {
	s := &session{
		cmd:         cmd,
		stdin:       stdin,
		stderr:      stderr,
		logger:      log,
		allowed:     allowed,
		stopTimeout: stopTimeout,
		exited:      make(chan struct{}),
		closed:      make(chan struct{}),
	}
	s.client = cli.NewClient(stdin, stdout, log)
	s.client.SetMessageHandler(s.deliver)
	s.client.SetRequestHandler(s.handleControlRequest)
	return s
}

func (s *session) start() {
	s.client.Start()
	s.io.Go(func() error {
		s.readStderr()
		return nil
	})
	s.io.Go(func() error {
		<-s.client.Done()
		s.endTurn(s.client.Err(), true)
		return nil
	})
	go func() {
		_ = s.io.Wait()
		if err := s.cmd.Wait(); err != nil {
			s.logger.Info("claude process exited", zap.Error(err))
		} else {
			s.logger.Debug("claude process exited")
		}
		close(s.exited)
	}()
}

// Query sends the prompt and opens a new turn.
func (s *session) Query(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.turn != nil {
		s.mu.Unlock()
		return errors.New("a turn is already in progress")
	}
	select {
	case <-s.client.Done():
		s.mu.Unlock()
		return fmt.Errorf("claude process has exited: %s", s.tailText())
	default:
	}
	s.turn = make(chan *cli.CLIMessage, turnBufferSize)
	s.streamErr = nil
	s.mu.Unlock()

	if err := s.client.SendUserMessage(prompt); err != nil {
		s.mu.Lock()
		s.turn = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to send prompt: %w", err)
	}
	return nil
}

// Receive returns the current turn's messages. Without a turn the channel is
// already closed.
func (s *session) Receive(ctx context.Context) <-chan *cli.CLIMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == nil {
		ch := make(chan *cli.CLIMessage)
		close(ch)
		return ch
	}
	return s.turn
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

func (s *session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *session) Interrupt(ctx context.Context) error {
	select {
	case <-s.client.Done():
		return nil
	default:
	}
	return s.client.Interrupt(ctx)
}

// Disconnect closes stdin and waits for the process to exit, killing its
// process group after the stop timeout.
func (s *session) Disconnect(ctx context.Context) error {
	s.disconnectOnce.Do(func() {
		close(s.closed)
		_ = s.stdin.Close()

		timer := time.NewTimer(s.stopTimeout)
		defer timer.Stop()
		select {
		case <-s.exited:
			return
		case <-ctx.Done():
		case <-timer.C:
		}

		s.logger.Warn("claude process did not exit, killing process group",
			zap.Int("pid", s.cmd.Process.Pid))
		if err := killProcessGroup(s.cmd); err != nil {
			s.disconnectErr = fmt.Errorf("failed to kill claude process: %w", err)
			return
		}
		select {
		case <-s.exited:
		case <-time.After(killGrace):
			s.disconnectErr = errors.New("claude process did not exit after kill")
		}
	})
	return s.disconnectErr
}

func (s *session) deliver(msg *cli.CLIMessage) {
	if msg.SessionID != "" {
		s.mu.Lock()
		s.sessionID = msg.SessionID
		s.mu.Unlock()
	}

	s.mu.Lock()
	ch := s.turn
	s.mu.Unlock()
	if ch == nil {
		s.logger.Debug("dropping message outside of a turn", zap.String("type", msg.Type))
		return
	}

	select {
	case ch <- msg:
	case <-s.closed:
		return
	}
	if msg.Type == cli.MessageTypeResult {
		s.endTurn(nil, false)
	}
}

// endTurn closes the open turn. exited marks an end caused by the stdout
// stream closing, which is an error when a turn was still open.
func (s *session) endTurn(readErr error, exited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == nil {
		return
	}
	if exited {
		switch {
		case readErr != nil:
			s.streamErr = fmt.Errorf("claude output stream failed: %w", readErr)
		default:
			s.streamErr = fmt.Errorf("claude exited before the turn completed: %s", s.tailText())
		}
	}
	close(s.turn)
	s.turn = nil
}

// handleControlRequest answers permission prompts for tools outside the
// allowed list and acknowledges hook callbacks.
func (s *session) handleControlRequest(requestID string, req *cli.ControlRequest) {
	resp := &cli.ControlResponse{Subtype: "success", RequestID: requestID}
	switch req.Subtype {
	case cli.SubtypeCanUseTool:
		if toolAllowed(s.allowed, req.ToolName) {
			resp.Response = &cli.PermissionResult{Behavior: cli.BehaviorAllow, UpdatedInput: req.Input}
		} else {
			s.logger.Info("denying tool outside the allowed list", zap.String("tool", req.ToolName))
			resp.Response = &cli.PermissionResult{
				Behavior: cli.BehaviorDeny,
				Message:  fmt.Sprintf("tool %s is not enabled for this session", req.ToolName),
			}
		}
	case cli.SubtypeHookCallback:
	default:
		resp.Subtype = "error"
		resp.Error = "unsupported control request: " + req.Subtype
	}
	if err := s.client.SendControlResponse(&cli.ControlResponseMessage{
		Type:     cli.MessageTypeControlResponse,
		Response: resp,
	}); err != nil {
		s.logger.Warn("failed to answer control request", zap.String("request_id", requestID), zap.Error(err))
	}
}

// toolAllowed matches exact names and mcp__<server> prefixes.
func toolAllowed(allowed []string, name string) bool {
	for _, a := range allowed {
		if a == name || (strings.HasPrefix(a, "mcp__") && strings.HasPrefix(name, a+"__")) {
			return true
		}
	}
	return false
}

// connectFailure kills the process and builds the connect error.
func (s *session) connectFailure(cause error, continued bool) error {
	select {
	case <-s.client.Done():
		// Let the stderr reader drain before reading the tail.
		select {
		case <-s.exited:
		case <-time.After(killGrace):
		}
	default:
	}
	_ = s.Disconnect(context.Background())

	tail := s.tailText()
	msg := cause.Error()
	if tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, tail)
	}
	if continued && tail != "" && engine.IsNoConversation(errors.New(tail)) {
		return fmt.Errorf("%w: %s", engine.ErrNoConversation, msg)
	}
	return fmt.Errorf("claude connect failed: %s", msg)
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func (s *session) readStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		line := ansiEscape.ReplaceAllString(scanner.Text(), "")
		s.logger.Debug("claude stderr", zap.String("line", line))

		s.stderrMu.Lock()
		if len(s.stderrTail) >= stderrTailLines {
			s.stderrTail = s.stderrTail[1:]
		}
		s.stderrTail = append(s.stderrTail, line)
		s.stderrMu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("stderr reader error", zap.Error(err))
	}
}

func (s *session) tailText() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return strings.TrimSpace(strings.Join(s.stderrTail, "\n"))
}
