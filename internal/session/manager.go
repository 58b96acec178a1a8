package session

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const maxClipboardBytes = 1_048_576

var nameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeName trims surrounding whitespace and replaces every character
// outside [A-Za-z0-9_-] with '-'.
func sanitizeName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return nameSanitizer.ReplaceAllString(trimmed, "-")
}

// EventSink receives the events a Manager emits as a side effect of its
// operations. The Connection layer supplies the concrete implementation;
// Manager only knows this interface so it never imports the
// wire/connection packages.
type EventSink interface {
	// BroadcastSessions is sent whenever the session set changes shape
	// (create/kill/rename) to every authenticated connection.
	BroadcastSessions(list []Info)
	// SessionExited is sent to every Connection that was attached to name
	// at the moment its child process ended.
	SessionExited(name string, info ExitInfo, attached []Client)
	// SessionKilled is sent to every Connection that was attached to name
	// when an explicit kill completed.
	SessionKilled(name string, attached []Client)
	// SessionRenamed is sent to every Connection attached to the renamed
	// Session so client UIs can retitle without re-attaching.
	SessionRenamed(oldName, newName string, attached []Client)
}

// Manager is the registry of all live Sessions plus the shared clipboard.
// All mutation of the registry happens under mu; each Session still owns
// its own finer-grained lock for client/scrollback state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clipboard string

	log  zerolog.Logger
	sink EventSink
}

// NewManager constructs an empty registry. sink may be nil during tests
// that don't care about broadcasts.
func NewManager(log zerolog.Logger, sink EventSink) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      log,
		sink:     sink,
	}
}

// Create validates name, spawns a new Session, and registers it. The
// session-list broadcast is the caller's job (via BroadcastSessions)
// once it has finished attaching the requester, so the broadcast list
// reflects the attachment.
func (m *Manager) Create(name string) (*Session, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return nil, ErrInvalidName
	}

	m.mu.Lock()
	if _, exists := m.sessions[clean]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	// Reserve the name before spawning so concurrent creates of the same
	// name can't both succeed; release it again on spawn failure.
	m.sessions[clean] = nil
	m.mu.Unlock()

	s, err := spawn(clean, m.log, m.onSessionExit)
	m.mu.Lock()
	if err != nil {
		delete(m.sessions, clean)
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[clean] = s
	m.mu.Unlock()

	return s, nil
}

// BroadcastSessions pushes the current session list to every
// authenticated connection via the sink.
func (m *Manager) BroadcastSessions() {
	m.broadcastSessions()
}

// Attach attaches connection c to the named Session, replaying scrollback.
func (m *Manager) Attach(ctx context.Context, name string, c Client) (*Session, error) {
	s, err := m.get(name)
	if err != nil {
		return nil, err
	}
	s.Attach(ctx, c)
	return s, nil
}

// Detach removes c from name's client set, applying any resulting resize.
func (m *Manager) Detach(name string, c Client) {
	s, err := m.get(name)
	if err != nil {
		return
	}
	s.Detach(c)
}

// DetachAll removes c from every Session it is currently attached to.
func (m *Manager) DetachAll(c Client) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Detach(c)
	}
}

// Write forwards data to the named Session's PTY.
func (m *Manager) Write(name string, data []byte) error {
	s, err := m.get(name)
	if err != nil {
		return err
	}
	return s.Write(data)
}

// Resize applies the resize request, see Session.Resize.
func (m *Manager) Resize(name string, c Client, cols, rows int) error {
	s, err := m.get(name)
	if err != nil {
		return err
	}
	s.Resize(c, cols, rows)
	return nil
}

// Kill removes the named Session from the registry immediately, then
// terminates its child; it also synchronously broadcasts `killed` via the
// sink to whoever was attached at the moment of the call.
func (m *Manager) Kill(name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	if !ok || s == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, name)
	m.mu.Unlock()

	attached := s.attachedClients()
	s.Kill()

	if m.sink != nil {
		m.sink.SessionKilled(name, attached)
	}
	m.broadcastSessions()
	return nil
}

// Rename re-keys a Session under a new, sanitized name.
func (m *Manager) Rename(oldName, newName string) error {
	clean := sanitizeName(newName)
	if clean == "" {
		return ErrInvalidName
	}

	m.mu.Lock()
	s, ok := m.sessions[oldName]
	if !ok || s == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	if _, exists := m.sessions[clean]; exists {
		m.mu.Unlock()
		return ErrAlreadyExists
	}
	delete(m.sessions, oldName)
	m.sessions[clean] = s
	m.mu.Unlock()

	s.rename(clean)

	if m.sink != nil {
		m.sink.SessionRenamed(oldName, clean, s.attachedClients())
	}
	m.broadcastSessions()
	return nil
}

// List returns session names in a stable (lexical) order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sessions))
	for name, s := range m.sessions {
		if s != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Info returns the snapshot for one Session.
func (m *Manager) Info(name string) (Info, error) {
	s, err := m.get(name)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// AllInfo returns info snapshots for every live Session, in List() order.
func (m *Manager) AllInfo() []Info {
	names := m.List()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		if s, err := m.get(name); err == nil {
			out = append(out, s.info())
		}
	}
	return out
}

// SetClipboard stores content, subject to the 1 MiB cap.
func (m *Manager) SetClipboard(content string) error {
	if len(content) > maxClipboardBytes {
		return ErrClipboardLarge
	}
	m.mu.Lock()
	m.clipboard = content
	m.mu.Unlock()
	return nil
}

// GetClipboard returns the current clipboard content.
func (m *Manager) GetClipboard() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clipboard
}

// KillAll terminates every live Session, ignoring per-session errors; used
// during graceful shutdown.
func (m *Manager) KillAll() {
	for _, name := range m.List() {
		_ = m.Kill(name)
	}
}

func (m *Manager) get(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok || s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) broadcastSessions() {
	if m.sink == nil {
		return
	}
	m.sink.BroadcastSessions(m.AllInfo())
}

// onSessionExit is the Session reader goroutine's exit callback: remove
// the Session from the registry (if still present under its current
// name) and notify the sink, unless this exit was already handled by an
// explicit Kill (which removes the entry itself before calling Kill()).
func (m *Manager) onSessionExit(s *Session, info ExitInfo) {
	name := s.info().Name

	m.mu.Lock()
	cur, ok := m.sessions[name]
	stillRegistered := ok && cur == s
	if stillRegistered {
		delete(m.sessions, name)
	}
	m.mu.Unlock()

	if !stillRegistered {
		// Already removed by an explicit Kill; that path already
		// broadcast SessionKilled/sessions.
		return
	}

	attached := s.attachedClients()
	if m.sink != nil {
		m.sink.SessionExited(name, info, attached)
	}
	m.broadcastSessions()
}

// attachedClients returns a snapshot of currently-attached clients. It is
// defined here (rather than exported on Session for general use) because
// only Manager needs it, to feed terminal-event broadcasts.
func (s *Session) attachedClients() []Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}
