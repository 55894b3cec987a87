// Package bus is the local WebSocket event endpoint. Observers connect
// to watch skill executions, heal actions and memory queries in real
// time, and to answer confirmation prompts raised by running skills.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/toolsmith-ai/toolsmith/internal/heal"
)

// DefaultAddr is where the bus listens unless configured otherwise.
const DefaultAddr = "127.0.0.1:8765"

// LetClaude is the confirmation default meaning "proceed with the happy
// path without waiting for a human".
const LetClaude = "let_claude"

const (
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	sendBuffer      = 64
)

// frame is the single wire shape, inbound and outbound.
type frame struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Response string         `json:"response,omitempty"`
	Remember bool           `json:"remember,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// SkillSnapshot is the running-skill state replayed to new connections.
type SkillSnapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	StepCount int            `json:"step_count"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// ConfirmationRequest describes one prompt raised toward connected
// observers.
type ConfirmationRequest struct {
	SkillID        string
	StepIndex      int
	Prompt         string
	Options        []string
	Default        string
	Suggestion     string
	TimeoutSeconds int
}

// Answer resolves a confirmation. TimedOut marks answers synthesized
// from the default.
type Answer struct {
	Response string
	Remember bool
	TimedOut bool
}

type pendingConfirmation struct {
	id        string
	req       ConfirmationRequest
	ch        chan Answer
	timer     *time.Timer
	deadline  time.Time
	remaining time.Duration
	paused    bool
	resolved  bool
}

// Bus fans events out to connected clients. Clients, running skills and
// pending confirmations are guarded by separate mutexes so a slow
// consumer on one set cannot stall the others.
type Bus struct {
	addr     string
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	skillsMu sync.Mutex
	running  map[string]SkillSnapshot

	confirmMu sync.Mutex
	pending   map[string]*pendingConfirmation

	closed chan struct{}
}

// New builds a bus listening on addr; empty means DefaultAddr.
func New(addr string, logger *slog.Logger) *Bus {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
		running: map[string]SkillSnapshot{},
		pending: map[string]*pendingConfirmation{},
		closed:  make(chan struct{}),
	}
}

// Addr returns the bound address once Start has succeeded.
func (b *Bus) Addr() string {
	if b.listener != nil {
		return b.listener.Addr().String()
	}
	return b.addr
}

// Start binds the listener and serves until ctx is cancelled or Close is
// called.
func (b *Bus) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("bus listen on %s: %w", b.addr, err)
	}
	b.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleWS)
	b.server = &http.Server{Handler: mux}

	b.logger.Info("event bus listening", "addr", ln.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
		case <-b.closed:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = b.server.Shutdown(shutdownCtx)
	}()

	if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bus serve: %w", err)
	}
	return nil
}

// Close announces shutdown to clients and stops the server.
func (b *Bus) Close() {
	b.broadcast("server_stopping", nil)

	b.clientsMu.Lock()
	for c := range b.clients {
		c.close()
	}
	b.clients = map[*client]struct{}{}
	b.clientsMu.Unlock()

	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
}

func (b *Bus) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(b, conn)

	b.clientsMu.Lock()
	b.clients[c] = struct{}{}
	b.clientsMu.Unlock()

	c.enqueueFrame(frame{Type: "hello", Payload: map[string]any{
		"running_skills":        b.runningSnapshot(),
		"pending_confirmations": b.pendingSnapshot(),
	}})
	c.run()

	b.clientsMu.Lock()
	delete(b.clients, c)
	b.clientsMu.Unlock()
}

func (b *Bus) runningSnapshot() []SkillSnapshot {
	b.skillsMu.Lock()
	defer b.skillsMu.Unlock()
	out := make([]SkillSnapshot, 0, len(b.running))
	for _, s := range b.running {
		out = append(out, s)
	}
	return out
}

func (b *Bus) pendingSnapshot() []map[string]any {
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()
	out := make([]map[string]any, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, confirmationPayload(p.id, p.req))
	}
	return out
}

// broadcast fans one event out to every connected client. A client with
// a full send buffer misses the event rather than blocking the rest.
func (b *Bus) broadcast(eventType string, payload map[string]any) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	for c := range b.clients {
		c.enqueueFrame(frame{Type: eventType, Payload: payload})
	}
}

func (b *Bus) handleInbound(c *client, f frame) {
	switch f.Type {
	case "heartbeat":
		c.enqueueFrame(frame{Type: "heartbeat_ack"})
	case "confirmation_response":
		b.resolveConfirmation(f.ID, Answer{Response: f.Response, Remember: f.Remember})
	case "pause_timer":
		b.pauseTimer(f.ID)
	case "resume_timer":
		b.resumeTimer(f.ID)
	default:
		b.logger.Debug("unknown bus message", "type", f.Type)
	}
}

// RequestConfirmation raises a prompt toward observers and returns a
// future. The future resolves with a client answer, or with the request
// default when the timeout lapses.
func (b *Bus) RequestConfirmation(req ConfirmationRequest) <-chan Answer {
	p := &pendingConfirmation{
		id:  uuid.NewString(),
		req: req,
		ch:  make(chan Answer, 1),
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	b.confirmMu.Lock()
	p.deadline = time.Now().Add(timeout)
	p.timer = time.AfterFunc(timeout, func() {
		b.resolveConfirmation(p.id, Answer{Response: req.Default, TimedOut: true})
	})
	b.pending[p.id] = p
	b.confirmMu.Unlock()

	b.broadcast("confirmation_required", confirmationPayload(p.id, req))
	return p.ch
}

func (b *Bus) resolveConfirmation(id string, a Answer) {
	b.confirmMu.Lock()
	p, ok := b.pending[id]
	if ok && !p.resolved {
		p.resolved = true
		p.timer.Stop()
		delete(b.pending, id)
	} else {
		ok = false
	}
	b.confirmMu.Unlock()

	if !ok {
		return
	}
	p.ch <- a

	event := "confirmation_answered"
	if a.TimedOut {
		event = "confirmation_expired"
	}
	b.broadcast(event, map[string]any{"id": id, "response": a.Response})
}

// pauseTimer freezes a confirmation's timeout so a human can take their
// time; resumeTimer restarts it with the remaining budget.
func (b *Bus) pauseTimer(id string) {
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()
	p, ok := b.pending[id]
	if !ok || p.paused {
		return
	}
	p.timer.Stop()
	p.remaining = time.Until(p.deadline)
	if p.remaining < 0 {
		p.remaining = 0
	}
	p.paused = true
}

func (b *Bus) resumeTimer(id string) {
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()
	p, ok := b.pending[id]
	if !ok || !p.paused {
		return
	}
	p.paused = false
	p.deadline = time.Now().Add(p.remaining)
	p.timer.Reset(p.remaining)
}

func confirmationPayload(id string, req ConfirmationRequest) map[string]any {
	return map[string]any{
		"id":              id,
		"skill_id":        req.SkillID,
		"step_index":      req.StepIndex,
		"prompt":          req.Prompt,
		"options":         req.Options,
		"default":         req.Default,
		"suggestion":      req.Suggestion,
		"timeout_seconds": req.TimeoutSeconds,
	}
}

// Skill lifecycle events. Started inserts the execution into the replay
// snapshot; Completed and Failed remove it.

func (b *Bus) SkillStarted(id, name string, stepCount int, inputs map[string]any) {
	snap := SkillSnapshot{ID: id, Name: name, StepCount: stepCount, Inputs: inputs, StartedAt: time.Now()}
	b.skillsMu.Lock()
	b.running[id] = snap
	b.skillsMu.Unlock()

	b.broadcast("skill_started", map[string]any{
		"id": id, "name": name, "step_count": stepCount, "inputs": inputs,
	})
}

func (b *Bus) SkillCompleted(id, name string, duration time.Duration) {
	b.dropRunning(id)
	b.broadcast("skill_completed", map[string]any{
		"id": id, "name": name, "duration_seconds": duration.Seconds(),
	})
}

func (b *Bus) SkillFailed(id, name, errText string, duration time.Duration) {
	b.dropRunning(id)
	b.broadcast("skill_failed", map[string]any{
		"id": id, "name": name, "error": errText, "duration_seconds": duration.Seconds(),
	})
}

func (b *Bus) dropRunning(id string) {
	b.skillsMu.Lock()
	delete(b.running, id)
	b.skillsMu.Unlock()
}

// Step lifecycle events.

func (b *Bus) StepStarted(skillID string, index int, name string) {
	b.broadcast("step_started", map[string]any{
		"skill_id": skillID, "step_index": index, "name": name,
	})
}

func (b *Bus) StepCompleted(skillID string, index int, name string, duration time.Duration) {
	b.broadcast("step_completed", map[string]any{
		"skill_id": skillID, "step_index": index, "name": name, "duration_seconds": duration.Seconds(),
	})
}

func (b *Bus) StepFailed(skillID string, index int, name, errText string) {
	b.broadcast("step_failed", map[string]any{
		"skill_id": skillID, "step_index": index, "name": name, "error": errText,
	})
}

func (b *Bus) StepSkipped(skillID string, index int, name string) {
	b.broadcast("step_skipped", map[string]any{
		"skill_id": skillID, "step_index": index, "name": name,
	})
}

// Heal events, satisfying the wrapper's notifier.

func (b *Bus) HealTriggered(tool string, class heal.Class, fix string) {
	b.broadcast("heal_triggered", map[string]any{
		"tool": tool, "class": string(class), "fix": fix,
	})
}

func (b *Bus) HealCompleted(tool string, class heal.Class, fix string, success bool) {
	b.broadcast("heal_completed", map[string]any{
		"tool": tool, "class": string(class), "fix": fix, "success": success,
	})
}

// Memory query events.

func (b *Bus) MemoryQueryStarted(id, query string, sources []string) {
	b.broadcast("memory_query_started", map[string]any{
		"id": id, "query": query, "sources": sources,
	})
}

func (b *Bus) MemoryQueryCompleted(id string, latency time.Duration) {
	b.broadcast("memory_query_completed", map[string]any{
		"id": id, "duration_seconds": latency.Seconds(),
	})
}

func (b *Bus) MemoryIntentClassified(id, intent string) {
	b.broadcast("memory_intent_classified", map[string]any{
		"id": id, "intent": intent,
	})
}

func marshalFrame(f frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(data) > maxPayloadBytes {
		return nil, fmt.Errorf("payload too large")
	}
	return data, nil
}
