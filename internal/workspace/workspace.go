// Package workspace tracks the client workspaces the runtime has seen and
// the conversation sessions inside them. The registry is the only owner of
// this data; everything else borrows through it.
package workspace

import (
	"time"

	"github.com/google/uuid"
)

// StalenessThreshold is the age past which an inactive session may be
// removed by cleanup.
const StalenessThreshold = 24 * time.Hour

// DefaultURI is used when the host protocol exposes no workspace roots.
const DefaultURI = "file:///default"

// Session is one conversation within a workspace.
type Session struct {
	ID           string    `json:"id"`
	Persona      string    `json:"persona,omitempty"`
	Project      string    `json:"project,omitempty"`
	ActiveIssue  string    `json:"active_issue,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Workspace is the per-client root the host protocol identifies by URI.
type Workspace struct {
	URI           string              `json:"uri"`
	Persona       string              `json:"persona,omitempty"`
	Project       string              `json:"project,omitempty"`
	Sessions      map[string]*Session `json:"sessions,omitempty"`
	SessionOrder  []string            `json:"session_order,omitempty"`
	ActiveSession string              `json:"active_session,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`

	// ToolFilter caches the last tool-name filter the client applied.
	ToolFilter []string `json:"tool_filter,omitempty"`
}

// NewSession creates a session, appends it in order and returns it.
func (w *Workspace) NewSession(persona, project string, now time.Time) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		Persona:      persona,
		Project:      project,
		CreatedAt:    now,
		LastActivity: now,
	}
	if w.Sessions == nil {
		w.Sessions = map[string]*Session{}
	}
	w.Sessions[s.ID] = s
	w.SessionOrder = append(w.SessionOrder, s.ID)
	return s
}

// Session returns a session by id.
func (w *Workspace) Session(id string) (*Session, bool) {
	s, ok := w.Sessions[id]
	return s, ok
}

// SetActive marks a session as the active one. Unknown ids are ignored
// so the invariant "active session exists in the map" holds.
func (w *Workspace) SetActive(id string) bool {
	if _, ok := w.Sessions[id]; !ok {
		return false
	}
	w.ActiveSession = id
	return true
}

// Touch bumps a session's last-activity stamp.
func (w *Workspace) Touch(id string, now time.Time) {
	if s, ok := w.Sessions[id]; ok {
		s.LastActivity = now
	}
}

// removeSession drops a session and repairs the order slice.
func (w *Workspace) removeSession(id string) {
	delete(w.Sessions, id)
	for i, sid := range w.SessionOrder {
		if sid == id {
			w.SessionOrder = append(w.SessionOrder[:i], w.SessionOrder[i+1:]...)
			break
		}
	}
	if w.ActiveSession == id {
		w.ActiveSession = ""
	}
}
