package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Claude runs the claude CLI through the sandbox wrapper in bidirectional
// stream-json mode.
type Claude struct{}

func NewClaude() *Claude {
	return &Claude{}
}

func (c *Claude) Run(ctx context.Context, turns <-chan UserTurn, opts Options) (*Stream, error) {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
		"--verbose",
	}
	cmd := exec.CommandContext(ctx, opts.WrapperPath, args...)
	cmd.Env = append(os.Environ(), opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	stream := newStream(ctx)
	w := &stdinWriter{w: stdin}

	// Cancellation kills the wrapper, but a child it forked can still hold
	// stdout open; closing our read end lets the reader below finish.
	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stdout.Close()
		case <-exited:
		}
	}()

	// Writer: user turns become user-message lines. Closing the turns
	// channel ends the agent's input.
	go func() {
		defer stdin.Close()
		for {
			select {
			case t, ok := <-turns:
				if !ok {
					return
				}
				if err := w.writeUserTurn(t); err != nil {
					logger.Warn("agent stdin write failed", "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Reader: parse each output line into a semantic message or a
	// permission round-trip.
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			c.handleLine(ctx, scanner.Bytes(), stream, w, opts.CanUseTool)
		}
		close(exited)
		err := cmd.Wait()
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if scanErr := scanner.Err(); scanErr != nil && err == nil {
			err = scanErr
		}
		stream.close(err)
	}()

	return stream, nil
}

type outputLine struct {
	Type    string `json:"type"`
	Message *struct {
		Content []ContentBlock `json:"content"`
	} `json:"message,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	NumTurns     int             `json:"num_turns,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Request      *controlRequest `json:"request,omitempty"`
}

type controlRequest struct {
	Subtype     string          `json:"subtype"`
	ToolName    string          `json:"tool_name"`
	Input       json.RawMessage `json:"input"`
	ToolUseID   string          `json:"tool_use_id"`
	Description string          `json:"description,omitempty"`
}

func (c *Claude) handleLine(ctx context.Context, line []byte, stream *Stream, w *stdinWriter, canUse CanUseToolFunc) {
	var ev outputLine
	if err := json.Unmarshal(line, &ev); err != nil {
		return // non-JSON noise on stdout is ignored
	}

	switch ev.Type {
	case "assistant":
		if ev.Message != nil {
			stream.send(Message{Type: MessageAssistant, Content: ev.Message.Content})
		}
	case "result":
		stream.send(Message{
			Type:         MessageResult,
			TotalCostUSD: ev.TotalCostUSD,
			NumTurns:     ev.NumTurns,
		})
	case "control_request":
		if ev.Request == nil || ev.Request.Subtype != "can_use_tool" {
			return
		}
		req := *ev.Request
		requestID := ev.RequestID
		// The agent is paused until the response line arrives; answer from a
		// separate goroutine so tool_progress output keeps draining.
		go func() {
			decision := Deny("no permission handler")
			if canUse != nil {
				decision = canUse(ctx, req.ToolName, req.Input, ToolUseRequest{
					ToolUseID:   req.ToolUseID,
					Description: req.Description,
				})
			}
			if err := w.writeControlResponse(requestID, decision); err != nil {
				logger.Warn("control response write failed", "error", err)
			}
		}()
	}
}

// stdinWriter serializes writes from the turn pump and permission responders.
type stdinWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *stdinWriter) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(data, '\n'))
	return err
}

func (s *stdinWriter) writeUserTurn(t UserTurn) error {
	return s.writeLine(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]string{
				{"type": "text", "text": t.Content},
			},
		},
	})
}

func (s *stdinWriter) writeControlResponse(requestID string, d Decision) error {
	return s.writeLine(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   d,
		},
	})
}
