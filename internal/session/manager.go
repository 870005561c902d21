// Package session owns the single-active-session state machine: it drives
// the agent subprocess, merges browser input into the agent's turn stream,
// fans agent output out to every subscriber, and arbitrates tool-permission
// requests across the network boundary.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/agent"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/store"
	"github.com/ehrlich-b/perch/internal/ws"
)

// Session states.
const (
	StateIdle              = "idle"
	StateRunning           = "running"
	StateWaitingPermission = "waiting_permission"
	StateDone              = "done"
	StateError             = "error"
)

var (
	// ErrInvalidState means the operation is not permitted in the current
	// state (e.g. a second startSession while running).
	ErrInvalidState = errors.New("invalid session state")
	// ErrNoActiveSession means sendMessage was called with no session.
	ErrNoActiveSession = errors.New("no active session")
)

// permissionTimeout is how long a permission request may stay unanswered.
// Variable so tests can shrink it.
var permissionTimeout = 5 * time.Minute

// Subscriber is one delivery target for broadcast events. The WS handler
// wraps each connection in one; tests use fakes that record each event.
type Subscriber interface {
	Send(ctx context.Context, data []byte) error
}

type pendingPermission struct {
	resp        chan agent.Decision
	timer       *time.Timer
	tool        string
	input       json.RawMessage
	description string
}

// Manager is the process-local singleton driving at most one agent session.
// All state mutation happens under mu; broadcasts snapshot the subscriber
// set under the lock and send outside it so a slow connection cannot stall a
// transition.
type Manager struct {
	store  *store.Store
	runner agent.Runner

	mu        sync.Mutex
	state     string
	subs      map[Subscriber]struct{}
	pending   map[string]*pendingPermission
	totalCost float64
	turnCount int
	sessionID string
	queue     *inputQueue
	cancel    context.CancelFunc
}

func NewManager(st *store.Store, runner agent.Runner) *Manager {
	return &Manager{
		store:   st,
		runner:  runner,
		state:   StateIdle,
		subs:    make(map[Subscriber]struct{}),
		pending: make(map[string]*pendingPermission),
	}
}

// State returns the current state label.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddSubscriber registers a connection and synchronizes it: the first event
// it sees is the current state, followed by the running total cost when
// non-zero.
func (m *Manager) AddSubscriber(ctx context.Context, s Subscriber) {
	m.mu.Lock()
	m.subs[s] = struct{}{}
	state := m.state
	cost := m.totalCost
	m.mu.Unlock()

	m.sendTo(ctx, s, ws.SessionState{Type: ws.TypeSessionState, State: state})
	if cost != 0 {
		m.sendTo(ctx, s, ws.Cost{Type: ws.TypeCost, TotalUSD: cost})
	}
}

// RemoveSubscriber drops a connection from the set. Never fails.
func (m *Manager) RemoveSubscriber(s Subscriber) {
	m.mu.Lock()
	delete(m.subs, s)
	m.mu.Unlock()
}

// SubscriberCount is used by tests and the monitor endpoint.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Broadcast serializes an event and attempts delivery to every subscriber.
// Individual send failures are swallowed; the dead connection's own close
// handler removes it.
func (m *Manager) Broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("marshal broadcast event", "error", err)
		return
	}
	m.mu.Lock()
	targets := make([]Subscriber, 0, len(m.subs))
	for s := range m.subs {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range targets {
		if err := s.Send(ctx, data); err != nil {
			logger.Debug("subscriber send failed", "error", err)
		}
	}
}

func (m *Manager) sendTo(ctx context.Context, s Subscriber, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.Send(ctx, data); err != nil {
		logger.Debug("subscriber send failed", "error", err)
	}
}

// setStateLocked transitions under the caller-held lock and returns the broadcast
// to perform after unlocking.
func (m *Manager) setStateLocked(state string) ws.SessionState {
	m.state = state
	return ws.SessionState{Type: ws.TypeSessionState, State: state}
}

// StartSession launches the agent subprocess with the given OAuth token in
// its environment and begins the output loop in the background. Returns the
// new session id promptly. Fails with ErrInvalidState unless the current
// state is idle, done, or error.
func (m *Manager) StartSession(token, wrapperPath string) (string, error) {
	m.mu.Lock()
	switch m.state {
	case StateRunning, StateWaitingPermission:
		m.mu.Unlock()
		return "", ErrInvalidState
	}

	id := uuid.New().String()
	queue := newInputQueue()
	ctx, cancel := context.WithCancel(context.Background())

	if err := m.store.CreateSession(id, time.Now()); err != nil {
		cancel()
		m.mu.Unlock()
		return "", err
	}

	m.sessionID = id
	m.queue = queue
	m.cancel = cancel
	m.totalCost = 0
	m.turnCount = 0
	ev := m.setStateLocked(StateRunning)
	m.mu.Unlock()

	m.Broadcast(ev)

	opts := agent.Options{
		WrapperPath: wrapperPath,
		Env:         []string{"CLAUDE_CODE_OAUTH_TOKEN=" + token},
		CanUseTool:  m.canUseTool,
	}
	go m.runLoop(ctx, id, queue, opts)

	return id, nil
}

func (m *Manager) runLoop(ctx context.Context, id string, queue *inputQueue, opts agent.Options) {
	stream, err := m.runner.Run(ctx, queue.Turns(), opts)
	if err != nil {
		m.finalize(id, err)
		return
	}

	for {
		msg, ok := stream.Next()
		if !ok {
			break
		}
		switch msg.Type {
		case agent.MessageAssistant:
			for _, block := range msg.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						m.Broadcast(ws.Text{Type: ws.TypeText, Content: block.Text})
					}
				case "tool_use":
					m.Broadcast(ws.ToolStart{
						Type:      ws.TypeToolStart,
						Tool:      block.Name,
						ToolUseID: block.ID,
						Input:     block.Input,
					})
				}
			}
		case agent.MessageResult:
			m.mu.Lock()
			m.totalCost = msg.TotalCostUSD
			m.turnCount++
			turns := m.turnCount
			m.mu.Unlock()
			m.Broadcast(ws.Cost{Type: ws.TypeCost, TotalUSD: msg.TotalCostUSD})
			if err := m.store.RecordResult(id, turns, msg.TotalCostUSD); err != nil {
				logger.Warn("record result", "error", err)
			}
		}
	}

	m.finalize(id, stream.Err())
}

// finalize closes out the session on every exit path: normal end,
// subprocess error, or interrupt. Pending permissions resolve as deny,
// the input queue closes, and the state machine lands on done or error.
func (m *Manager) finalize(id string, runErr error) {
	interrupted := errors.Is(runErr, context.Canceled)
	failed := runErr != nil && !interrupted

	m.mu.Lock()
	if m.sessionID != id {
		m.mu.Unlock()
		return
	}
	pendings := make([]*pendingPermission, 0, len(m.pending))
	for pid, p := range m.pending {
		delete(m.pending, pid)
		pendings = append(pendings, p)
	}
	queue := m.queue
	cancel := m.cancel
	m.queue = nil
	m.cancel = nil

	status := "stopped"
	state := StateDone
	if failed {
		status = "error"
		state = StateError
	}
	ev := m.setStateLocked(state)
	m.mu.Unlock()

	for _, p := range pendings {
		p.timer.Stop()
		p.resp <- agent.Deny("session ended")
	}
	if queue != nil {
		queue.Close()
	}
	if cancel != nil {
		cancel()
	}

	if err := m.store.FinishSession(id, status, time.Now()); err != nil {
		logger.Warn("finish session", "error", err)
	}

	if failed {
		m.Broadcast(ws.ErrorMsg{Type: ws.TypeError, Message: runErr.Error()})
		logger.Error("agent session failed", "session", id, "error", runErr)
	}
	m.Broadcast(ev)
}

// SendMessage enqueues a user turn. Valid while running or waiting on a
// permission (the turn becomes the next one after the current completes).
func (m *Manager) SendMessage(content string) error {
	m.mu.Lock()
	switch m.state {
	case StateRunning, StateWaitingPermission:
	default:
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	queue := m.queue
	m.mu.Unlock()

	if queue == nil {
		return ErrNoActiveSession
	}
	return queue.Push(agent.UserTurn{Content: content})
}

// canUseTool is the agent adapter's permission callback. It parks the agent
// until a browser answers, the 5-minute deadline passes, or the session
// ends.
func (m *Manager) canUseTool(ctx context.Context, toolName string, input json.RawMessage, req agent.ToolUseRequest) agent.Decision {
	id := req.ToolUseID
	p := &pendingPermission{
		resp:        make(chan agent.Decision, 1),
		tool:        toolName,
		input:       input,
		description: req.Description,
	}

	m.mu.Lock()
	m.pending[id] = p
	p.timer = time.AfterFunc(permissionTimeout, func() {
		m.resolvePermission(id, agent.Deny("permission request timed out"))
	})
	stateEv := m.setStateLocked(StateWaitingPermission)
	m.mu.Unlock()

	m.Broadcast(ws.PermissionRequest{
		Type:        ws.TypePermissionRequest,
		ID:          id,
		Tool:        toolName,
		Input:       input,
		Description: req.Description,
	})
	m.Broadcast(stateEv)

	select {
	case d := <-p.resp:
		return d
	case <-ctx.Done():
		// Abort landed while parked; clean up our pending entry.
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		p.timer.Stop()
		return agent.Deny("session ended")
	}
}

// resolvePermission delivers a decision to the parked callback. The
// delete-then-send under the lock guarantees a single resolution; later
// calls with the same id are no-ops.
func (m *Manager) resolvePermission(id string, d agent.Decision) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, id)
	var ev ws.SessionState
	resumed := false
	if m.state == StateWaitingPermission {
		ev = m.setStateLocked(StateRunning)
		resumed = true
	}
	m.mu.Unlock()

	p.timer.Stop()
	// State event goes out before the agent wakes: anything it emits next
	// belongs to the running state.
	if resumed {
		m.Broadcast(ev)
	}
	p.resp <- d
	return true
}

// HandlePermissionResponse routes a browser answer to its pending
// permission. Unknown ids are silently discarded — the client may be racing
// a timeout, or a second tab may have answered first.
func (m *Manager) HandlePermissionResponse(id string, allow bool) {
	d := agent.Deny("denied by user")
	if allow {
		d = agent.Allow()
	}
	m.resolvePermission(id, d)
}

// Interrupt aborts the current agent subprocess, best-effort and
// idempotent. Any parked permission resolves as deny immediately so the
// subprocess gets a clean answer before the abort lands.
func (m *Manager) Interrupt() {
	m.mu.Lock()
	cancel := m.cancel
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.resolvePermission(id, agent.Deny("session interrupted"))
	}
	if cancel != nil {
		cancel()
	}
}

// TotalCost is the running cost of the current or last session.
func (m *Manager) TotalCost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCost
}
