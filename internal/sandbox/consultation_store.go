// Package sandbox provides GORM/SQLite-backed implementations of the record
// store contracts for local development and integration tests. Production
// deployments use the REST clients in internal/agenda and internal/expedix;
// the sandbox keeps the same interfaces and error kinds so the coordinator
// cannot tell the difference.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

var (
	errMissingDatabase   = errors.New("sandbox: database handle is required")
	errMissingIDProvider = errors.New("sandbox: id provider is required")
)

const (
	opConsultationGetByAppointment = "sandbox.get_consultation_by_appointment"
	opConsultationCreate           = "sandbox.create_consultation"
	opConsultationUpdate           = "sandbox.update_consultation"
	opConsultationDelete           = "sandbox.delete_consultation"
)

// StoreConfig carries the shared dependencies of the sandbox stores.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider clinical.IDProvider
	Logger     *zap.Logger
}

func (cfg StoreConfig) normalize() (StoreConfig, error) {
	if cfg.Database == nil {
		return StoreConfig{}, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return StoreConfig{}, errMissingIDProvider
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

// ConsultationStore persists consultations in the local SQLite database.
type ConsultationStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider clinical.IDProvider
	logger     *zap.Logger
}

// NewConsultationStore constructs the sandbox consultation store.
func NewConsultationStore(cfg StoreConfig) (*ConsultationStore, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &ConsultationStore{
		db:         normalized.Database,
		clock:      normalized.Clock,
		idProvider: normalized.IDProvider,
		logger:     normalized.Logger,
	}, nil
}

// GetConsultationByAppointmentID resolves the consultation referencing an appointment.
func (s *ConsultationStore) GetConsultationByAppointmentID(ctx context.Context, appointmentID clinical.AppointmentID) (clinical.Consultation, error) {
	var consultation clinical.Consultation
	err := s.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID.String()).
		Take(&consultation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return clinical.Consultation{}, store.NewError(store.KindNotFound, opConsultationGetByAppointment, err)
	}
	if err != nil {
		s.logger.Error("consultation lookup failed",
			zap.String("operation", opConsultationGetByAppointment),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
		return clinical.Consultation{}, store.NewError(store.KindTransport, opConsultationGetByAppointment, err)
	}
	return consultation, nil
}

// CreateConsultation inserts a new consultation in draft status.
func (s *ConsultationStore) CreateConsultation(ctx context.Context, draft store.ConsultationDraft) (clinical.Consultation, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindValidation, opConsultationCreate, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return clinical.Consultation{}, store.NewError(store.KindTransport, opConsultationCreate, err)
	}

	now := s.clock().UTC().Unix()
	consultation := clinical.Consultation{
		ID:                     id,
		AppointmentID:          draft.AppointmentID,
		PatientID:              draft.PatientID,
		NoteType:               draft.NoteType,
		Status:                 clinical.ConsultationDraft,
		CreatedFromAppointment: draft.CreatedFromAppointment,
		Content:                draft.Content,
		CreatedAtSeconds:       now,
		UpdatedAtSeconds:       now,
	}
	if err := s.db.WithContext(ctx).Create(&consultation).Error; err != nil {
		s.logger.Error("consultation insert failed",
			zap.String("operation", opConsultationCreate),
			zap.String("patient_id", draft.PatientID),
			zap.Error(err))
		return clinical.Consultation{}, store.NewError(store.KindTransport, opConsultationCreate, err)
	}
	return consultation, nil
}

// UpdateConsultation applies a partial update; nil patch fields stay untouched.
func (s *ConsultationStore) UpdateConsultation(ctx context.Context, id clinical.ConsultationID, patch store.ConsultationPatch) error {
	if patch.IsZero() {
		return store.NewError(store.KindValidation, opConsultationUpdate, errors.New("empty patch"))
	}

	updates := map[string]interface{}{
		"updated_at_s": s.clock().UTC().Unix(),
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Content != nil {
		// Map-based Updates bypasses the model's serializer:json tag, so
		// marshal to the same text representation the serializer writes.
		raw, err := json.Marshal(*patch.Content)
		if err != nil {
			return store.NewError(store.KindTransport, opConsultationUpdate, err)
		}
		updates["content"] = string(raw)
	}
	if patch.StartedAtSeconds != nil {
		updates["started_at_s"] = *patch.StartedAtSeconds
	}
	if patch.CompletedAtSeconds != nil {
		updates["completed_at_s"] = *patch.CompletedAtSeconds
	}
	if patch.StartedBy != nil {
		updates["started_by"] = *patch.StartedBy
	}
	if patch.CompletedBy != nil {
		updates["completed_by"] = *patch.CompletedBy
	}

	result := s.db.WithContext(ctx).
		Model(&clinical.Consultation{}).
		Where("consultation_id = ?", id.String()).
		Updates(updates)
	if result.Error != nil {
		s.logger.Error("consultation update failed",
			zap.String("operation", opConsultationUpdate),
			zap.String("consultation_id", id.String()),
			zap.Error(result.Error))
		return store.NewError(store.KindTransport, opConsultationUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.NewError(store.KindNotFound, opConsultationUpdate, gorm.ErrRecordNotFound)
	}
	return nil
}

// DeleteConsultation removes a consultation record. Used only by the
// cancellation cascade.
func (s *ConsultationStore) DeleteConsultation(ctx context.Context, id clinical.ConsultationID) error {
	result := s.db.WithContext(ctx).
		Where("consultation_id = ?", id.String()).
		Delete(&clinical.Consultation{})
	if result.Error != nil {
		s.logger.Error("consultation delete failed",
			zap.String("operation", opConsultationDelete),
			zap.String("consultation_id", id.String()),
			zap.Error(result.Error))
		return store.NewError(store.KindTransport, opConsultationDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.NewError(store.KindNotFound, opConsultationDelete, gorm.ErrRecordNotFound)
	}
	return nil
}
