package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHandleLineAssistant(t *testing.T) {
	c := NewClaude()
	stream := newStream(context.Background())
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`

	c.handleLine(context.Background(), []byte(line), stream, &stdinWriter{w: &bytes.Buffer{}}, nil)

	select {
	case msg := <-stream.ch:
		if msg.Type != MessageAssistant {
			t.Fatalf("type = %s", msg.Type)
		}
		if len(msg.Content) != 2 {
			t.Fatalf("blocks = %d, want 2", len(msg.Content))
		}
		if msg.Content[0].Text != "hi" {
			t.Errorf("text = %q", msg.Content[0].Text)
		}
		if msg.Content[1].Name != "Bash" || msg.Content[1].ID != "t1" {
			t.Errorf("tool block = %+v", msg.Content[1])
		}
	default:
		t.Fatal("no message emitted")
	}
}

func TestHandleLineResult(t *testing.T) {
	c := NewClaude()
	stream := newStream(context.Background())
	line := `{"type":"result","total_cost_usd":0.07,"num_turns":2}`

	c.handleLine(context.Background(), []byte(line), stream, &stdinWriter{w: &bytes.Buffer{}}, nil)

	msg := <-stream.ch
	if msg.Type != MessageResult || msg.TotalCostUSD != 0.07 || msg.NumTurns != 2 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestHandleLineIgnoresNoise(t *testing.T) {
	c := NewClaude()
	stream := newStream(context.Background())
	w := &stdinWriter{w: &bytes.Buffer{}}
	for _, line := range []string{
		"not json at all",
		`{"type":"system","subtype":"init"}`,
		`{"type":"tool_progress","detail":"..."}`,
	} {
		c.handleLine(context.Background(), []byte(line), stream, w, nil)
	}
	select {
	case msg := <-stream.ch:
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestHandleLinePermissionRoundTrip(t *testing.T) {
	c := NewClaude()
	stream := newStream(context.Background())
	var buf bytes.Buffer
	w := &stdinWriter{w: &buf}

	asked := make(chan struct{})
	canUse := func(ctx context.Context, tool string, input json.RawMessage, req ToolUseRequest) Decision {
		defer close(asked)
		if tool != "Bash" || req.ToolUseID != "t1" {
			t.Errorf("callback got tool=%s req=%+v", tool, req)
		}
		return Deny("nope")
	}

	line := `{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm"},"tool_use_id":"t1","description":"run rm"}}`
	c.handleLine(context.Background(), []byte(line), stream, w, canUse)

	select {
	case <-asked:
	case <-time.After(2 * time.Second):
		t.Fatal("permission callback never invoked")
	}

	// The control response is written asynchronously; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := buf.Len()
		w.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.mu.Lock()
	out := buf.String()
	w.mu.Unlock()
	var resp struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string   `json:"subtype"`
			RequestID string   `json:"request_id"`
			Response  Decision `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &resp); err != nil {
		t.Fatalf("parse control response %q: %v", out, err)
	}
	if resp.Type != "control_response" || resp.Response.RequestID != "r1" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Response.Response.Behavior != "deny" || resp.Response.Response.Message != "nope" {
		t.Errorf("decision = %+v", resp.Response.Response)
	}
}

func TestStdinWriterUserTurn(t *testing.T) {
	var buf bytes.Buffer
	w := &stdinWriter{w: &buf}
	if err := w.writeUserTurn(UserTurn{Content: "do the thing"}); err != nil {
		t.Fatal(err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Error("line not newline-terminated")
	}
	var msg struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "user" || msg.Message.Role != "user" {
		t.Errorf("envelope = %+v", msg)
	}
	if len(msg.Message.Content) != 1 || msg.Message.Content[0].Text != "do the thing" {
		t.Errorf("content = %+v", msg.Message.Content)
	}
}

func TestScannerHandlesLongLines(t *testing.T) {
	// Mirrors the 1MiB buffer the reader goroutine configures.
	long := strings.Repeat("x", 512*1024)
	scanner := bufio.NewScanner(strings.NewReader(long + "\n"))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		t.Fatalf("scan failed: %v", scanner.Err())
	}
	if len(scanner.Text()) != len(long) {
		t.Errorf("line length = %d, want %d", len(scanner.Text()), len(long))
	}
}
