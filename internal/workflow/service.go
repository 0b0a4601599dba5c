// Package workflow coordinates the appointment/consultation lifecycle across
// the two record stores. Every scheduled appointment gets exactly one
// consultation; the lookup-before-create check is the only idempotency guard,
// and no cross-store transaction exists. Multi-step operations run
// sequentially and report late-step failures as partial-consistency warnings
// rather than rolling back clinical writes.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/store"
)

var (
	errMissingAppointmentStore  = errors.New("appointment store is required")
	errMissingConsultationStore = errors.New("consultation store is required")
	noOpLogger                  = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "workflow.service.new"
	opCreateDraft = "workflow.create_consultation_from_appointment"
	opStart       = "workflow.start_from_agenda"
	opComplete    = "workflow.complete_with_follow_up"
	opCancel      = "workflow.cancel_cascade"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig carries the coordinator dependencies.
type ServiceConfig struct {
	Appointments  store.AppointmentStore
	Consultations store.ConsultationStore
	Clock         func() time.Time
	Logger        *zap.Logger
	// Events receives lifecycle notifications; nil disables them.
	Events func(Event)
}

// Service is the lifecycle coordinator.
type Service struct {
	appointments  store.AppointmentStore
	consultations store.ConsultationStore
	clock         func() time.Time
	logger        *zap.Logger
	events        func(Event)
}

// NewService constructs the coordinator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Appointments == nil {
		return nil, newServiceError(opServiceNew, "missing_appointment_store", errMissingAppointmentStore)
	}
	if cfg.Consultations == nil {
		return nil, newServiceError(opServiceNew, "missing_consultation_store", errMissingConsultationStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		appointments:  cfg.Appointments,
		consultations: cfg.Consultations,
		clock:         clock,
		logger:        logger,
		events:        cfg.Events,
	}, nil
}

func (s *Service) publish(event Event) {
	if s.events == nil {
		return
	}
	event.At = s.clock().UTC()
	s.events(event)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("workflow error", attrs...)
}

func (s *Service) logWarning(warning *PartialConsistency, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("step", warning.Step),
		zap.String("appointment_id", warning.AppointmentID),
		zap.String("consultation_id", warning.ConsultationID),
	}
	if warning.Cause != nil {
		attrs = append(attrs, zap.Error(warning.Cause))
	}
	attrs = append(attrs, fields...)
	// Warnings mark windows that need manual reconciliation; keep the ids
	// grep-able.
	s.logger.Warn("workflow partial consistency", attrs...)
}
