package sandbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

const (
	opAppointmentGet    = "sandbox.get_appointment"
	opAppointmentCreate = "sandbox.create_appointment"
	opAppointmentUpdate = "sandbox.update_appointment"
)

// AppointmentStore persists appointments in the local SQLite database.
// Appointments are never deleted, only status-transitioned.
type AppointmentStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider clinical.IDProvider
	logger     *zap.Logger
}

// NewAppointmentStore constructs the sandbox appointment store.
func NewAppointmentStore(cfg StoreConfig) (*AppointmentStore, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &AppointmentStore{
		db:         normalized.Database,
		clock:      normalized.Clock,
		idProvider: normalized.IDProvider,
		logger:     normalized.Logger,
	}, nil
}

// GetAppointment fetches one appointment by id.
func (s *AppointmentStore) GetAppointment(ctx context.Context, id clinical.AppointmentID) (clinical.Appointment, error) {
	var appointment clinical.Appointment
	err := s.db.WithContext(ctx).
		Where("appointment_id = ?", id.String()).
		Take(&appointment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return clinical.Appointment{}, store.NewError(store.KindNotFound, opAppointmentGet, err)
	}
	if err != nil {
		s.logger.Error("appointment lookup failed",
			zap.String("operation", opAppointmentGet),
			zap.String("appointment_id", id.String()),
			zap.Error(err))
		return clinical.Appointment{}, store.NewError(store.KindTransport, opAppointmentGet, err)
	}
	return appointment, nil
}

// CreateAppointment inserts a new appointment in scheduled status.
func (s *AppointmentStore) CreateAppointment(ctx context.Context, draft store.AppointmentDraft) (clinical.Appointment, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindValidation, opAppointmentCreate, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return clinical.Appointment{}, store.NewError(store.KindTransport, opAppointmentCreate, err)
	}

	now := s.clock().UTC().Unix()
	appointment := clinical.Appointment{
		ID:                      id,
		PatientID:               draft.PatientID,
		ScheduledDate:           draft.ScheduledDate,
		ScheduledTime:           draft.ScheduledTime,
		Type:                    draft.Type,
		Reason:                  draft.Reason,
		Status:                  clinical.AppointmentScheduled,
		CreatedFromConsultation: draft.CreatedFromConsultation,
		OriginConsultationID:    draft.OriginConsultationID,
		CreatedAtSeconds:        now,
		UpdatedAtSeconds:        now,
	}
	if err := s.db.WithContext(ctx).Create(&appointment).Error; err != nil {
		s.logger.Error("appointment insert failed",
			zap.String("operation", opAppointmentCreate),
			zap.String("patient_id", draft.PatientID),
			zap.Error(err))
		return clinical.Appointment{}, store.NewError(store.KindTransport, opAppointmentCreate, err)
	}
	return appointment, nil
}

// UpdateAppointment applies a partial update to an appointment.
func (s *AppointmentStore) UpdateAppointment(ctx context.Context, id clinical.AppointmentID, patch store.AppointmentPatch) error {
	if patch.IsZero() {
		return store.NewError(store.KindValidation, opAppointmentUpdate, errors.New("empty patch"))
	}

	updates := map[string]interface{}{
		"updated_at_s": s.clock().UTC().Unix(),
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.StartedAtSeconds != nil {
		updates["started_at_s"] = *patch.StartedAtSeconds
	}

	result := s.db.WithContext(ctx).
		Model(&clinical.Appointment{}).
		Where("appointment_id = ?", id.String()).
		Updates(updates)
	if result.Error != nil {
		s.logger.Error("appointment update failed",
			zap.String("operation", opAppointmentUpdate),
			zap.String("appointment_id", id.String()),
			zap.Error(result.Error))
		return store.NewError(store.KindTransport, opAppointmentUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.NewError(store.KindNotFound, opAppointmentUpdate, gorm.ErrRecordNotFound)
	}
	return nil
}
