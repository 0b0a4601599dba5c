// Package autosave persists in-progress consultation content in the
// background. Each actively edited consultation gets one Session that
// watches content revisions, debounces them onto a single timer, and writes
// through the consultation store only when the content fingerprint actually
// moved since the last persisted revision. A failed write keeps the session
// dirty so the next edit or a manual save carries the same data again; drafts
// are never dropped on error, and the session never retries on its own.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/auth"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

const (
	// DefaultDebounce is the quiet period after the last observed edit
	// before the pending content is flushed.
	DefaultDebounce = 30 * time.Second

	defaultFlushTimeout = 10 * time.Second
)

var (
	ErrUnsavedChanges = errors.New("session has unsaved changes")
	ErrSaveInFlight   = errors.New("save already in flight")
	ErrSessionClosed  = errors.New("session closed")
)

// EventType identifies a session lifecycle notification.
type EventType string

const (
	EventSaved      EventType = "autosave-saved"
	EventSaveFailed EventType = "autosave-failed"
)

// Event is emitted after each flush attempt so the realtime feed can show
// save state without polling.
type Event struct {
	Type           EventType
	ConsultationID string
	At             time.Time
}

// SessionConfig wires one autosave session.
type SessionConfig struct {
	ConsultationID clinical.ConsultationID
	// Baseline is the persisted content at the moment editing began.
	Baseline      clinical.Content
	Consultations store.ConsultationStore
	Debounce      time.Duration
	FlushTimeout  time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
	Events        func(Event)
}

func (c *SessionConfig) normalize() error {
	if c.ConsultationID == "" {
		return errors.New("autosave: consultation id is required")
	}
	if c.Consultations == nil {
		return errors.New("autosave: consultation store is required")
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// State is a point-in-time snapshot of a session, safe to hand to HTTP
// handlers.
type State struct {
	ConsultationID string     `json:"consultationId"`
	Dirty          bool       `json:"dirty"`
	Saving         bool       `json:"saving"`
	SaveCount      int        `json:"saveCount"`
	LastSavedAt    *time.Time `json:"lastSavedAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// Session tracks unsaved content for one consultation. The debounce timer is
// an owned resource: exactly one timer exists at a time, each Observe that
// changes the fingerprint restarts it, and Close stops and releases it.
type Session struct {
	config SessionConfig

	mu            sync.Mutex
	pending       clinical.Content
	pendingHash   string
	persistedHash string
	callerToken   string
	timer         *time.Timer
	saving        bool
	closed        bool
	saveCount     int
	lastSavedAt   time.Time
	lastError     error
}

// NewSession opens an autosave session seeded with the persisted baseline.
// Nothing is scheduled until the first Observe that changes the content.
func NewSession(config SessionConfig) (*Session, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	return &Session{
		config:        config,
		pending:       config.Baseline,
		pendingHash:   config.Baseline.Fingerprint(),
		persistedHash: config.Baseline.Fingerprint(),
	}, nil
}

// Observe records the latest editor content. When the fingerprint differs
// from the last persisted revision the debounce timer is (re)started; when
// the edit returns the content to the persisted revision the pending flush is
// cancelled instead. The caller token on ctx is kept for the timer-fired
// flush, which otherwise has no request to borrow a credential from.
func (s *Session) Observe(ctx context.Context, content clinical.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if token, ok := auth.CallerToken(ctx); ok {
		s.callerToken = token
	}

	s.pending = content
	s.pendingHash = content.Fingerprint()

	if s.pendingHash == s.persistedHash {
		s.stopTimerLocked()
		return nil
	}
	s.restartTimerLocked()
	return nil
}

// Save flushes the pending content immediately, cancelling any scheduled
// flush. It is a no-op when the content already matches the persisted
// revision and returns ErrSaveInFlight while a flush is running.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if token, ok := auth.CallerToken(ctx); ok {
		s.callerToken = token
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	if s.pendingHash == s.persistedHash {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	content, hash := s.pending, s.pendingHash
	s.saving = true
	s.mu.Unlock()

	return s.persist(ctx, content, hash)
}

// State reports the current dirty/saving snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		ConsultationID: s.config.ConsultationID.String(),
		Dirty:          s.pendingHash != s.persistedHash,
		Saving:         s.saving,
		SaveCount:      s.saveCount,
	}
	if !s.lastSavedAt.IsZero() {
		savedAt := s.lastSavedAt
		state.LastSavedAt = &savedAt
	}
	if s.lastError != nil {
		state.LastError = s.lastError.Error()
	}
	return state
}

// Close releases the session and its timer. With unsaved changes and
// force=false it refuses with ErrUnsavedChanges, mirroring the editor's
// leave-page confirmation; force=true discards the pending content.
func (s *Session) Close(force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !force && s.pendingHash != s.persistedHash {
		return ErrUnsavedChanges
	}
	s.stopTimerLocked()
	s.closed = true
	return nil
}

// restartTimerLocked arms the debounce timer, replacing any previous one.
// Callers must hold mu.
func (s *Session) restartTimerLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.config.Debounce, s.flush)
}

// stopTimerLocked stops and releases the owned timer. Callers must hold mu.
func (s *Session) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}

// flush runs on timer expiry. The saving flag keeps at most one store write
// in flight; an expiry racing a manual save simply leaves the content dirty
// for the next round.
func (s *Session) flush() {
	s.mu.Lock()
	if s.closed || s.saving || s.pendingHash == s.persistedHash {
		s.mu.Unlock()
		return
	}
	content, hash := s.pending, s.pendingHash
	token := s.callerToken
	s.saving = true
	s.mu.Unlock()

	ctx := context.Background()
	if token != "" {
		ctx = auth.WithCallerToken(ctx, token)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.FlushTimeout)
	defer cancel()
	_ = s.persist(ctx, content, hash)
}

// persist writes one content revision through the store and settles the
// session bookkeeping. The saving flag is set by the caller and always
// cleared here.
func (s *Session) persist(ctx context.Context, content clinical.Content, hash string) error {
	err := s.config.Consultations.UpdateConsultation(ctx, s.config.ConsultationID, store.ConsultationPatch{
		Content: &content,
	})

	s.mu.Lock()
	s.saving = false
	if err != nil {
		// The revision stays pending and the session stays dirty. No
		// retry is scheduled here: the next edit or a manual save
		// re-triggers the cycle with the same content.
		s.lastError = err
		s.mu.Unlock()
		s.config.Logger.Error("autosave flush failed",
			zap.String("operation", "autosave.flush"),
			zap.String("consultation_id", s.config.ConsultationID.String()),
			zap.Error(err))
		s.emit(EventSaveFailed)
		return err
	}

	s.persistedHash = hash
	s.saveCount++
	s.lastSavedAt = s.config.Clock().UTC()
	s.lastError = nil
	if s.pendingHash == s.persistedHash {
		s.stopTimerLocked()
	}
	s.mu.Unlock()

	s.emit(EventSaved)
	return nil
}

func (s *Session) emit(eventType EventType) {
	if s.config.Events == nil {
		return
	}
	s.config.Events(Event{
		Type:           eventType,
		ConsultationID: s.config.ConsultationID.String(),
		At:             s.config.Clock().UTC(),
	})
}
