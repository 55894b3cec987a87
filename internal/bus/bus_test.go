package bus

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHelloCarriesRunningSnapshot(t *testing.T) {
	b := New("", discardLogger())
	b.SkillStarted("exec-1", "triage", 3, map[string]any{"issue": "AAP-1"})

	srv := newWSServer(t, b)
	defer srv.Close()
	conn := connect(t, srv)
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Type != "hello" {
		t.Fatalf("first frame = %q, want hello", f.Type)
	}
	skills, ok := f.Payload["running_skills"].([]any)
	if !ok || len(skills) != 1 {
		t.Fatalf("running_skills = %v", f.Payload["running_skills"])
	}
	snap := skills[0].(map[string]any)
	if snap["name"] != "triage" {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestHeartbeatAck(t *testing.T) {
	b := New("", discardLogger())
	srv := newWSServer(t, b)
	defer srv.Close()
	conn := connect(t, srv)
	defer conn.Close()

	readFrame(t, conn) // hello

	if err := conn.WriteJSON(frame{Type: "heartbeat"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != "heartbeat_ack" {
		t.Errorf("got %q, want heartbeat_ack", f.Type)
	}
}

func TestConfirmationAnsweredByClient(t *testing.T) {
	b := New("", discardLogger())
	srv := newWSServer(t, b)
	defer srv.Close()
	conn := connect(t, srv)
	defer conn.Close()
	readFrame(t, conn) // hello

	future := b.RequestConfirmation(ConfirmationRequest{
		SkillID:        "exec-1",
		StepIndex:      2,
		Prompt:         "merge the MR?",
		Options:        []string{"yes", "no"},
		Default:        "no",
		TimeoutSeconds: 30,
	})

	f := readFrame(t, conn)
	if f.Type != "confirmation_required" {
		t.Fatalf("got %q, want confirmation_required", f.Type)
	}
	id := f.Payload["id"].(string)

	if err := conn.WriteJSON(frame{Type: "confirmation_response", ID: id, Response: "yes", Remember: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case a := <-future:
		if a.Response != "yes" || !a.Remember || a.TimedOut {
			t.Errorf("answer = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("future never resolved")
	}

	if len(b.pendingSnapshot()) != 0 {
		t.Error("resolved confirmation should leave the pending set")
	}
}

func TestConfirmationTimeoutResolvesDefault(t *testing.T) {
	b := New("", discardLogger())

	future := b.RequestConfirmation(ConfirmationRequest{
		Prompt:         "proceed?",
		Default:        LetClaude,
		TimeoutSeconds: 1,
	})

	select {
	case a := <-future:
		if a.Response != LetClaude || !a.TimedOut {
			t.Errorf("answer = %+v", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestConfirmationResolveIsIdempotent(t *testing.T) {
	b := New("", discardLogger())
	future := b.RequestConfirmation(ConfirmationRequest{Default: "no", TimeoutSeconds: 60})

	id := b.pendingSnapshot()[0]["id"].(string)
	b.resolveConfirmation(id, Answer{Response: "yes"})
	b.resolveConfirmation(id, Answer{Response: "no"}) // late duplicate

	a := <-future
	if a.Response != "yes" {
		t.Errorf("first answer wins, got %+v", a)
	}
	select {
	case a := <-future:
		t.Errorf("future resolved twice: %+v", a)
	default:
	}
}

func TestPauseAndResumeTimer(t *testing.T) {
	b := New("", discardLogger())
	future := b.RequestConfirmation(ConfirmationRequest{Default: "no", TimeoutSeconds: 1})
	id := b.pendingSnapshot()[0]["id"].(string)

	b.pauseTimer(id)
	select {
	case a := <-future:
		t.Fatalf("paused timer fired: %+v", a)
	case <-time.After(1500 * time.Millisecond):
	}

	b.resumeTimer(id)
	select {
	case a := <-future:
		if !a.TimedOut {
			t.Errorf("answer = %+v", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("resumed timer never fired")
	}
}

func TestSkillLifecycleMaintainsSnapshot(t *testing.T) {
	b := New("", discardLogger())
	b.SkillStarted("a", "triage", 2, nil)
	b.SkillStarted("b", "deploy", 5, nil)
	if got := len(b.runningSnapshot()); got != 2 {
		t.Fatalf("running = %d", got)
	}
	b.SkillCompleted("a", "triage", time.Second)
	b.SkillFailed("b", "deploy", "step 3 exploded", 2*time.Second)
	if got := len(b.runningSnapshot()); got != 0 {
		t.Errorf("running after completion = %d", got)
	}
}

func TestDurationsBroadcastInSeconds(t *testing.T) {
	b := New("", discardLogger())
	srv := newWSServer(t, b)
	defer srv.Close()
	conn := connect(t, srv)
	defer conn.Close()
	readFrame(t, conn) // hello

	b.SkillCompleted("a", "triage", 1500*time.Millisecond)
	b.StepCompleted("a", 0, "fetch", 250*time.Millisecond)
	b.MemoryQueryCompleted("q1", 80*time.Millisecond)

	want := map[string]float64{
		"skill_completed":        1.5,
		"step_completed":         0.25,
		"memory_query_completed": 0.08,
	}
	for range want {
		f := readFrame(t, conn)
		wantSecs, ok := want[f.Type]
		if !ok {
			t.Fatalf("unexpected frame %q", f.Type)
		}
		secs, ok := f.Payload["duration_seconds"].(float64)
		if !ok {
			t.Fatalf("%s payload = %v, want duration_seconds", f.Type, f.Payload)
		}
		if secs != wantSecs {
			t.Errorf("%s duration_seconds = %v, want %v", f.Type, secs, wantSecs)
		}
	}
}

func newWSServer(t *testing.T, b *Bus) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(b.handleWS))
}

func connect(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}
