package claudecode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kandev/claude-runner/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

func TestClient_SendUserMessage(t *testing.T) {
	var buf bytes.Buffer
	client := NewClient(&buf, strings.NewReader(""), newTestLogger())

	if err := client.SendUserMessage("Hello, Claude!"); err != nil {
		t.Fatalf("SendUserMessage() error = %v", err)
	}

	var msg UserMessage
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg); err != nil {
		t.Fatalf("failed to parse sent message: %v", err)
	}
	if msg.Type != MessageTypeUser {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeUser)
	}
	if msg.Message.Role != "user" {
		t.Errorf("Message.Role = %q, want %q", msg.Message.Role, "user")
	}
	if msg.Message.Content != "Hello, Claude!" {
		t.Errorf("Message.Content = %q, want %q", msg.Message.Content, "Hello, Claude!")
	}
}

func TestClient_HandleMessages(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"sess123"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello"}]}}`,
	}, "\n") + "\n"

	client := NewClient(io.Discard, strings.NewReader(input), newTestLogger())

	var received []*CLIMessage
	client.SetMessageHandler(func(msg *CLIMessage) {
		received = append(received, msg)
	})
	client.Start()
	<-client.Done()

	if len(received) != 2 {
		t.Fatalf("received %d messages, want 2", len(received))
	}
	if received[0].SessionID != "sess123" {
		t.Errorf("SessionID = %q, want %q", received[0].SessionID, "sess123")
	}
	if client.Err() != nil {
		t.Errorf("Err() = %v, want nil on clean EOF", client.Err())
	}
}

func TestClient_SkipsEmptyLinesAndInvalidJSON(t *testing.T) {
	input := "\n\n{invalid json}\n{\"type\":\"system\"}\n\n"
	client := NewClient(io.Discard, strings.NewReader(input), newTestLogger())

	count := 0
	client.SetMessageHandler(func(msg *CLIMessage) { count++ })
	client.Start()
	<-client.Done()

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestClient_HandleControlRequest(t *testing.T) {
	input := `{"type":"control_request","request_id":"req123","request":{"subtype":"can_use_tool","tool_name":"Bash"}}` + "\n"
	client := NewClient(io.Discard, strings.NewReader(input), newTestLogger())

	var receivedID string
	var receivedReq *ControlRequest
	client.SetRequestHandler(func(requestID string, req *ControlRequest) {
		receivedID = requestID
		receivedReq = req
	})
	client.Start()
	<-client.Done()

	if receivedID != "req123" {
		t.Errorf("requestID = %q, want %q", receivedID, "req123")
	}
	if receivedReq == nil || receivedReq.ToolName != "Bash" {
		t.Fatalf("unexpected request: %+v", receivedReq)
	}
}

func TestClient_NoHandlerAutoReject(t *testing.T) {
	input := `{"type":"control_request","request_id":"req123","request":{"subtype":"can_use_tool","tool_name":"Bash"}}` + "\n"

	var buf bytes.Buffer
	client := NewClient(&buf, strings.NewReader(input), newTestLogger())
	client.Start()
	<-client.Done()

	var resp ControlResponseMessage
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Response == nil || resp.Response.Subtype != "error" || resp.Response.RequestID != "req123" {
		t.Errorf("expected error response for req123, got %+v", resp.Response)
	}
}

// fakeCLI answers every control request written to stdin with the given subtype.
func fakeCLI(t *testing.T, stdinR io.Reader, stdoutW io.Writer, subtype, errMsg string) {
	t.Helper()
	go func() {
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req SDKControlRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.Type != MessageTypeControlRequest {
				continue
			}
			line := fmt.Sprintf(`{"type":"control_response","response":{"subtype":%q,"request_id":%q,"error":%q}}`+"\n",
				subtype, req.RequestID, errMsg)
			if _, err := stdoutW.Write([]byte(line)); err != nil {
				return
			}
		}
	}()
}

func TestClient_Initialize(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	defer stdoutW.Close()
	defer stdinW.Close()

	fakeCLI(t, stdinR, stdoutW, "success", "")

	client := NewClient(stdinW, stdoutR, newTestLogger())
	client.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := client.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
}

func TestClient_RequestErrorResponse(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	defer stdoutW.Close()
	defer stdinW.Close()

	fakeCLI(t, stdinR, stdoutW, "error", "not now")

	client := NewClient(stdinW, stdoutR, newTestLogger())
	client.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.Interrupt(ctx)
	if err == nil || !strings.Contains(err.Error(), "not now") {
		t.Fatalf("Interrupt() error = %v, want error containing %q", err, "not now")
	}
}

func TestClient_RequestFailsWhenStreamCloses(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	client := NewClient(io.Discard, stdoutR, newTestLogger())
	client.Start()
	_ = stdoutW.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Initialize(ctx); err == nil {
		t.Fatal("Initialize() succeeded after stdout closed")
	}
}
