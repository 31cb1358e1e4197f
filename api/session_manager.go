package api

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lookbusy1344/dexlab/config"
	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/graph"
)

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists is returned when trying to create a session with an existing ID.
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Session holds one client's decoded multi-dex set and, once built, its
// super-graph. Evidence and subgraph queries are read-only against this
// state; only dex loading and graph building mutate it.
type Session struct {
	ID        string
	Dexes     *dex.MultiDex
	CreatedAt time.Time

	mu           sync.RWMutex
	graph        *graph.Graph
	graphBuildOn bool
}

// Graph returns the session's built super-graph, if any.
func (s *Session) Graph() (*graph.Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph, s.graph != nil
}

func (s *Session) setGraph(g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = g
	s.graphBuildOn = false
}

func (s *Session) setBuilding(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphBuildOn = on
}

func (s *Session) status() (building bool, ready bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphBuildOn, s.graph != nil
}

// SessionManager tracks every open Session, keyed by a random id.
type SessionManager struct {
	cfg         *config.Config
	broadcaster *Broadcaster

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager returns an empty manager.
func NewSessionManager(cfg *config.Config, broadcaster *Broadcaster) *SessionManager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &SessionManager{
		cfg:         cfg,
		broadcaster: broadcaster,
		sessions:    make(map[string]*Session),
	}
}

// CreateSession opens a new session with no DEX loaded yet.
func (sm *SessionManager) CreateSession() (*Session, error) {
	id := uuid.New().String()

	session := &Session{
		ID:        id,
		Dexes:     dex.NewMultiDex(),
		CreatedAt: time.Now(),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.sessions[id]; exists {
		return nil, ErrSessionAlreadyExists
	}
	sm.sessions[id] = session
	return session, nil
}

// GetSession retrieves a session by ID.
func (sm *SessionManager) GetSession(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DestroySession removes a session by ID.
func (sm *SessionManager) DestroySession(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(sm.sessions, id)
	return nil
}

// ListSessions returns every open session id.
func (sm *SessionManager) ListSessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of open sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
