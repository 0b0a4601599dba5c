package autosave

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

var (
	ErrSessionExists   = errors.New("autosave session already open")
	ErrSessionNotFound = errors.New("autosave session not found")
)

// ManagerConfig wires the session registry.
type ManagerConfig struct {
	Consultations store.ConsultationStore
	Debounce      time.Duration
	FlushTimeout  time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
	Events        func(Event)
}

func (c *ManagerConfig) normalize() error {
	if c.Consultations == nil {
		return errors.New("autosave: consultation store is required")
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Manager owns at most one autosave session per consultation. Opening a
// consultation that is already being edited is rejected rather than silently
// attaching a second writer.
type Manager struct {
	config ManagerConfig

	mu       sync.Mutex
	sessions map[clinical.ConsultationID]*Session
}

// NewManager builds an empty session registry.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	return &Manager{
		config:   config,
		sessions: make(map[clinical.ConsultationID]*Session),
	}, nil
}

// Open starts an autosave session for the consultation, seeded with its
// persisted content.
func (m *Manager) Open(consultationID clinical.ConsultationID, baseline clinical.Content) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[consultationID]; ok {
		return nil, ErrSessionExists
	}

	session, err := NewSession(SessionConfig{
		ConsultationID: consultationID,
		Baseline:       baseline,
		Consultations:  m.config.Consultations,
		Debounce:       m.config.Debounce,
		FlushTimeout:   m.config.FlushTimeout,
		Clock:          m.config.Clock,
		Logger:         m.config.Logger,
		Events:         m.config.Events,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[consultationID] = session
	return session, nil
}

// Get returns the open session for the consultation.
func (m *Manager) Get(consultationID clinical.ConsultationID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[consultationID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Close ends the session for the consultation. Without force it propagates
// ErrUnsavedChanges and keeps the session registered so the caller can save
// and retry.
func (m *Manager) Close(consultationID clinical.ConsultationID, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[consultationID]
	if !ok {
		return ErrSessionNotFound
	}
	if err := session.Close(force); err != nil {
		return err
	}
	delete(m.sessions, consultationID)
	return nil
}

// CloseAll force-closes every session during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if err := session.Close(true); err != nil {
			m.config.Logger.Error("autosave session close failed",
				zap.String("operation", "autosave.close_all"),
				zap.String("consultation_id", id.String()),
				zap.Error(err))
		}
		delete(m.sessions, id)
	}
}
