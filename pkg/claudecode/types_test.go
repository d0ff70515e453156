package claudecode

import (
	"encoding/json"
	"testing"
)

func TestCLIMessage_GetResultString(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{"string result", `"done"`, "done"},
		{"object result", `{"text":"x"}`, ""},
		{"missing", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := CLIMessage{Result: json.RawMessage(tt.result)}
			if got := msg.GetResultString(); got != tt.want {
				t.Errorf("GetResultString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCLIMessage_ParseResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","is_error":false,"duration_ms":1200,"num_turns":3,` +
		`"result":"all good","total_cost_usd":0.012,"usage":{"input_tokens":10,"output_tokens":20}}`

	var msg CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.NumTurns != 3 || msg.DurationMS != 1200 {
		t.Errorf("NumTurns/DurationMS = %d/%d", msg.NumTurns, msg.DurationMS)
	}
	if msg.TotalCostUSD == nil || *msg.TotalCostUSD != 0.012 {
		t.Errorf("TotalCostUSD = %v, want 0.012", msg.TotalCostUSD)
	}
	if msg.Usage["output_tokens"] != float64(20) {
		t.Errorf("Usage = %v", msg.Usage)
	}
	if msg.GetResultString() != "all good" {
		t.Errorf("result = %q", msg.GetResultString())
	}
}

func TestCLIMessage_ParseStreamEvent(t *testing.T) {
	line := `{"type":"stream_event","session_id":"s1","parent_tool_use_id":null,` +
		`"event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}}`

	var msg CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Event == nil || msg.Event.Type != StreamEventContentBlockDelta {
		t.Fatalf("Event = %+v", msg.Event)
	}
	if msg.Event.Delta == nil || msg.Event.Delta.Type != DeltaTypeText || msg.Event.Delta.Text != "Hel" {
		t.Errorf("Delta = %+v", msg.Event.Delta)
	}
	if msg.ParentToolUseID != "" {
		t.Errorf("ParentToolUseID = %q, want empty for null", msg.ParentToolUseID)
	}
}

func TestMessage_Blocks(t *testing.T) {
	t.Run("block list", func(t *testing.T) {
		m := &Message{Content: json.RawMessage(`[{"type":"thinking","thinking":"hmm","signature":"sig"},` +
			`{"type":"tool_use","id":"t1","name":"search","input":{"q":"x"}}]`)}
		blocks := m.Blocks()
		if len(blocks) != 2 {
			t.Fatalf("len(blocks) = %d, want 2", len(blocks))
		}
		if blocks[0].Signature != "sig" || blocks[1].Input["q"] != "x" {
			t.Errorf("unexpected blocks: %+v", blocks)
		}
	})

	t.Run("string content", func(t *testing.T) {
		m := &Message{Content: json.RawMessage(`"plain prompt"`)}
		blocks := m.Blocks()
		if len(blocks) != 1 || blocks[0].Type != BlockTypeText || blocks[0].Text != "plain prompt" {
			t.Errorf("unexpected blocks: %+v", blocks)
		}
	})

	t.Run("nil message", func(t *testing.T) {
		var m *Message
		if m.Blocks() != nil {
			t.Error("expected nil blocks")
		}
	})
}

func TestContentBlock_ResultText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `"ok"`, "ok"},
		{"block list", `[{"type":"text","text":"a"}]`, `[{"text":"a","type":"text"}]`},
		{"null", `null`, ""},
		{"empty", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ContentBlock{Content: json.RawMessage(tt.content)}
			if got := b.ResultText(); got != tt.want {
				t.Errorf("ResultText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIncomingControlResponse_Parse(t *testing.T) {
	line := `{"type":"control_response","response":{"subtype":"success","request_id":"r1","response":{"commands":[]}}}`
	var msg CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Response == nil || msg.Response.RequestID != "r1" || msg.Response.Subtype != "success" {
		t.Errorf("Response = %+v", msg.Response)
	}
}
