// Package agent drives the coding agent subprocess through the sandbox
// wrapper and bridges its stream-json protocol: user turns in, semantic
// messages out, permission callbacks answered inline.
package agent

import (
	"context"
	"encoding/json"
)

// UserTurn is one message from the human to the agent.
type UserTurn struct {
	Content string
}

// ContentBlock is one block of an assistant message: text, or a tool use.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Message kinds yielded by the output stream.
const (
	MessageAssistant    = "assistant"
	MessageToolProgress = "tool_progress"
	MessageResult       = "result"
)

// Message is one semantic record from the agent's output stream.
type Message struct {
	Type         string
	Content      []ContentBlock // assistant
	TotalCostUSD float64        // result
	NumTurns     int            // result
}

// Decision answers a permission callback.
type Decision struct {
	Behavior string `json:"behavior"` // "allow" | "deny"
	Message  string `json:"message,omitempty"`
}

func Allow() Decision             { return Decision{Behavior: "allow"} }
func Deny(reason string) Decision { return Decision{Behavior: "deny", Message: reason} }

func (d Decision) Allowed() bool { return d.Behavior == "allow" }

// ToolUseRequest carries the identifiers of a permission callback.
type ToolUseRequest struct {
	ToolUseID   string
	Description string
}

// CanUseToolFunc is invoked when the agent asks whether a tool invocation is
// permitted. It may suspend until a human answers; the agent stays paused.
type CanUseToolFunc func(ctx context.Context, toolName string, input json.RawMessage, req ToolUseRequest) Decision

// Options configure one agent run.
type Options struct {
	// WrapperPath is the executable that spawns the agent inside the
	// sandbox, piping stdio through.
	WrapperPath string
	// Env entries appended to the subprocess environment (the OAuth token
	// travels here).
	Env []string
	CanUseTool CanUseToolFunc
}

// Runner starts an agent session. The returned stream terminates when the
// subprocess exits or ctx is cancelled; Err reports which.
type Runner interface {
	Run(ctx context.Context, turns <-chan UserTurn, opts Options) (*Stream, error)
}
