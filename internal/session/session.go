// Package session holds per-connection Language Server state: the framing
// buffer, negotiated capabilities, and the open-file table.
//
// Grounded on original_source/server/server.cpp's ClientData (the
// recv-buffer-plus-files-map bundle attached to each socket) and on the
// teacher's per-connection currentFile/currentContent/mu bundle in
// server/websocket.go's HandleWebSocket closure, generalized from "one
// file" to the uri-keyed table spec.md §3 requires.
package session

import (
	"strings"
	"sync"

	"github.com/PlutoLang/Language-Server/internal/frame"
)

// State indicates where a session sits in the LSP lifecycle (spec.md §4.7).
type State int

const (
	PreInit State = iota
	Initialized
	Shutdown
)

// Session is one connected client's state. Its lifecycle state, capability
// flag and file table are guarded by a mutex; Frames is not, and is used
// only by the connection's own read loop, which processes messages
// serially.
type Session struct {
	ID string

	Frames *frame.Buffer

	mu                      sync.Mutex
	state                   State
	supportsPullDiagnostics bool
	files                   map[string]string
}

// New returns a freshly connected session in the PreInit state.
func New(id string) *Session {
	return &Session{
		ID:     id,
		Frames: frame.NewBuffer(),
		files:  make(map[string]string),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to the given state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// SetSupportsPullDiagnostics records the client's diagnostic-pull
// capability, negotiated during initialize.
func (s *Session) SetSupportsPullDiagnostics(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supportsPullDiagnostics = v
}

// SupportsPullDiagnostics reports whether the client advertised pull-model
// diagnostics during initialize.
func (s *Session) SupportsPullDiagnostics() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supportsPullDiagnostics
}

// UpdateFile normalizes text's line endings and stores it under uri,
// replacing any prior contents.
func (s *Session) UpdateFile(uri, text string) {
	normalized := NormalizeNewlines(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[uri] = normalized
}

// File returns the current contents for uri and whether it is open.
func (s *Session) File(uri string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.files[uri]
	return text, ok
}

// NormalizeNewlines rewrites every "\r\n" occurrence to "\n", leaving
// standalone "\r" or "\n" untouched.
func NormalizeNewlines(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}
