// Package ws carries the browser WebSocket wire protocol and the
// reconnecting reference client.
package ws

import "encoding/json"

// Server → client message types.
const (
	TypeText              = "text"
	TypeToolStart         = "tool_start"
	TypeToolEnd           = "tool_end"
	TypePermissionRequest = "permission_request"
	TypeSessionState      = "session_state"
	TypeCost              = "cost"
	TypeError             = "error"
)

// Client → server message types.
const (
	TypeMessage            = "message"
	TypePermissionResponse = "permission_response"
	TypeInterrupt          = "interrupt"
)

// Envelope wraps every message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Text is a chunk of assistant output. Clients append it to the current
// assistant message.
type Text struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ToolStart announces a tool-use block in the assistant's output.
type ToolStart struct {
	Type      string          `json:"type"`
	Tool      string          `json:"tool"`
	ToolUseID string          `json:"toolUseId"`
	Input     json.RawMessage `json:"input"`
}

// ToolEnd reports a completed tool invocation.
type ToolEnd struct {
	Type      string `json:"type"`
	Tool      string `json:"tool"`
	ToolUseID string `json:"toolUseId"`
	Output    string `json:"output"`
}

// PermissionRequest asks the browser whether a tool invocation may proceed.
type PermissionRequest struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Description string          `json:"description"`
}

// SessionState reports a state machine transition.
type SessionState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// Cost reports the cumulative session cost.
type Cost struct {
	Type     string  `json:"type"`
	TotalUSD float64 `json:"totalUsd"`
}

// ErrorMsg carries a user-visible error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Message is a user chat turn from the browser.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// PermissionResponse answers a PermissionRequest.
type PermissionResponse struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Allow bool   `json:"allow"`
}
