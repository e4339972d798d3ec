// Package session owns the per-browser chat sessions: each session holds
// its own conversation memory, orchestrator and uploaded-file registry,
// and disappears with its TTL.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/internal/chat"
	"github.com/modelfleet/modelfleet/internal/memory"
	"github.com/modelfleet/modelfleet/internal/telemetry"
	"github.com/modelfleet/modelfleet/models"
)

// Session is one live chat session.
type Session struct {
	id           string
	expiresAt    time.Time
	Orchestrator *chat.Orchestrator
	Memory       *memory.Store

	mu    sync.RWMutex
	files map[string]models.FileContent
	order []string
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Expire pushes the session's expiry ttl into the future.
func (s *Session) Expire(ttl time.Duration) { s.expiresAt = time.Now().Add(ttl) }

// Expired reports whether the session's TTL has lapsed.
func (s *Session) Expired() bool { return time.Now().After(s.expiresAt) }

// AddFile registers a processed file with the session.
func (s *Session) AddFile(fileID string, content models.FileContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		s.order = append(s.order, fileID)
	}
	s.files[fileID] = content
}

// RemoveFile forgets a file. Unknown ids are a no-op.
func (s *Session) RemoveFile(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return
	}
	delete(s.files, fileID)
	for i, id := range s.order {
		if id == fileID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// File returns a registered file.
func (s *Session) File(fileID string) (models.FileContent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.files[fileID]
	return c, ok
}

// Files lists registered files in upload order.
func (s *Session) Files() []models.FileContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FileContent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.files[id])
	}
	return out
}

// Store hands out sessions by id.
type Store interface {
	// EnsureSession returns the session with the given id, refreshing
	// its TTL, or creates a fresh one when id is empty or unknown.
	EnsureSession(id string) (*Session, error)
	// GetSession returns the live session with the given id, or nil.
	GetSession(id string) (*Session, bool)
	// DropSession tears a session down, cancelling any in-flight round.
	DropSession(id string)
}

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	gateway config.GatewayConfig
	client  chat.ModelInvoker
	tele    *telemetry.Telemetry
	ttl     time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewInMemoryStore builds a session store that mints a dedicated memory
// store and orchestrator per session.
func NewInMemoryStore(gateway config.GatewayConfig, client chat.ModelInvoker, tele *telemetry.Telemetry, ttl time.Duration, logger *log.Logger) *InMemoryStore {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &InMemoryStore{
		gateway:  gateway,
		client:   client,
		tele:     tele,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func (st *InMemoryStore) EnsureSession(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.evictExpiredLocked()
	if id != "" {
		if sess, ok := st.sessions[id]; ok {
			sess.Expire(st.ttl)
			return sess, nil
		}
	}

	mem := memory.NewStore(st.logger)
	sess := &Session{
		id:           uuid.NewString(),
		Orchestrator: chat.NewOrchestrator(st.gateway, st.client, mem, st.tele, st.logger),
		Memory:       mem,
		files:        make(map[string]models.FileContent),
	}
	sess.Expire(st.ttl)
	st.sessions[sess.id] = sess
	return sess, nil
}

func (st *InMemoryStore) GetSession(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok || sess.Expired() {
		return nil, false
	}
	return sess, true
}

func (st *InMemoryStore) DropSession(id string) {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		sess.Orchestrator.Clear()
	}
}

// evictExpiredLocked tears down sessions past their TTL.
func (st *InMemoryStore) evictExpiredLocked() {
	for id, sess := range st.sessions {
		if sess.Expired() {
			delete(st.sessions, id)
			go sess.Orchestrator.Clear()
		}
	}
}
