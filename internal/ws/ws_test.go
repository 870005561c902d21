package ws

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBackoffDoublesToCap(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("after reset = %v, want 1s", got)
	}
}

func TestToolStartWireFormat(t *testing.T) {
	data, err := json.Marshal(ToolStart{
		Type:      TypeToolStart,
		Tool:      "Bash",
		ToolUseID: "t1",
		Input:     json.RawMessage(`{"command":"ls"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["toolUseId"] != "t1" {
		t.Errorf("toolUseId field = %v; raw %s", m["toolUseId"], data)
	}
	if m["tool"] != "Bash" {
		t.Errorf("tool field = %v", m["tool"])
	}
}

func TestCostWireFormat(t *testing.T) {
	data, _ := json.Marshal(Cost{Type: TypeCost, TotalUSD: 0.25})
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["totalUsd"] != 0.25 {
		t.Errorf("totalUsd = %v; raw %s", m["totalUsd"], data)
	}
}
