package devmode

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/config"
)

// Manager tracks live PTY sessions so an admin can see what's running and so
// a disconnecting WebSocket can find and terminate its own session. Sessions
// are never persisted: dev-mode is diagnostic, not durable state.
type Manager struct {
	enabled bool

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{enabled: cfg.DevMode.Enabled, sessions: make(map[string]*Session)}
}

// Enabled reports whether dev-mode is turned on; callers should refuse to
// open new PTY sessions when it is not.
func (m *Manager) Enabled() bool { return m.enabled }

// OpenShell starts an interactive shell session.
func (m *Manager) OpenShell() (*Session, error) {
	return m.open("/bin/bash", nil, nil)
}

// OpenPython starts an interactive Python REPL session.
func (m *Manager) OpenPython() (*Session, error) {
	return m.open("/usr/bin/python3", []string{"-i", "-u"}, []string{"PYTHONUNBUFFERED=1"})
}

func (m *Manager) open(name string, args, env []string) (*Session, error) {
	s := NewSession(uuid.NewString(), name, args, env)
	if err := s.Start(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Close terminates and forgets a session.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		_ = s.Terminate()
	}
}

// Active lists the IDs of currently tracked sessions.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
