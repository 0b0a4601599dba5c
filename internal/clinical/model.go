package clinical

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidAppointmentID indicates that an appointment identifier is empty or exceeds storage bounds.
	ErrInvalidAppointmentID = errors.New("clinical: invalid appointment id")
	// ErrInvalidConsultationID indicates that a consultation identifier is empty or exceeds storage bounds.
	ErrInvalidConsultationID = errors.New("clinical: invalid consultation id")
	// ErrInvalidPatientID indicates that a patient identifier is empty or exceeds storage bounds.
	ErrInvalidPatientID = errors.New("clinical: invalid patient id")
	// ErrInvalidStatus indicates an unknown lifecycle status value.
	ErrInvalidStatus = errors.New("clinical: invalid status")
)

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// AppointmentID represents a validated appointment identifier.
type AppointmentID string

// NewAppointmentID validates raw input and returns an AppointmentID.
func NewAppointmentID(rawInput string) (AppointmentID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidAppointmentID)
	if err != nil {
		return "", err
	}
	return AppointmentID(value), nil
}

// String returns the underlying string identifier.
func (id AppointmentID) String() string {
	return string(id)
}

// ConsultationID represents a validated consultation identifier.
type ConsultationID string

// NewConsultationID validates raw input and returns a ConsultationID.
func NewConsultationID(rawInput string) (ConsultationID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidConsultationID)
	if err != nil {
		return "", err
	}
	return ConsultationID(value), nil
}

// String returns the underlying string identifier.
func (id ConsultationID) String() string {
	return string(id)
}

// PatientID represents a validated patient identifier.
type PatientID string

// NewPatientID validates raw input and returns a PatientID.
func NewPatientID(rawInput string) (PatientID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidPatientID)
	if err != nil {
		return "", err
	}
	return PatientID(value), nil
}

// String returns the underlying string identifier.
func (id PatientID) String() string {
	return string(id)
}

// AppointmentStatus enumerates the scheduling lifecycle of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
)

// ParseAppointmentStatus validates a raw status value.
func ParseAppointmentStatus(value string) (AppointmentStatus, error) {
	switch AppointmentStatus(strings.ToLower(strings.TrimSpace(value))) {
	case AppointmentScheduled:
		return AppointmentScheduled, nil
	case AppointmentInProgress:
		return AppointmentInProgress, nil
	case AppointmentCompleted:
		return AppointmentCompleted, nil
	case AppointmentCancelled:
		return AppointmentCancelled, nil
	default:
		return "", fmt.Errorf("%w: appointment status %q", ErrInvalidStatus, value)
	}
}

// CanStart reports whether the appointment may transition to in_progress.
func (s AppointmentStatus) CanStart() bool {
	return s == AppointmentScheduled || s == AppointmentInProgress
}

// CanComplete reports whether the appointment may transition to completed.
func (s AppointmentStatus) CanComplete() bool {
	return s == AppointmentScheduled || s == AppointmentInProgress
}

// CanCancel reports whether the appointment may transition to cancelled.
func (s AppointmentStatus) CanCancel() bool {
	return s != AppointmentCompleted && s != AppointmentCancelled
}

// ConsultationStatus enumerates the clinical-record lifecycle of a consultation.
type ConsultationStatus string

const (
	ConsultationDraft      ConsultationStatus = "draft"
	ConsultationInProgress ConsultationStatus = "in_progress"
	ConsultationCompleted  ConsultationStatus = "completed"
)

// ParseConsultationStatus validates a raw status value.
func ParseConsultationStatus(value string) (ConsultationStatus, error) {
	switch ConsultationStatus(strings.ToLower(strings.TrimSpace(value))) {
	case ConsultationDraft:
		return ConsultationDraft, nil
	case ConsultationInProgress:
		return ConsultationInProgress, nil
	case ConsultationCompleted:
		return ConsultationCompleted, nil
	default:
		return "", fmt.Errorf("%w: consultation status %q", ErrInvalidStatus, value)
	}
}

// CanStart reports whether the consultation may transition to in_progress.
// Restarting an already in-progress consultation is permitted so that a
// second "begin visit" click resolves to the same record instead of erroring.
func (s ConsultationStatus) CanStart() bool {
	return s == ConsultationDraft || s == ConsultationInProgress
}

// CanComplete reports whether the consultation may transition to completed.
func (s ConsultationStatus) CanComplete() bool {
	return s == ConsultationDraft || s == ConsultationInProgress
}

// Editable reports whether autosave may persist content for this status.
func (s ConsultationStatus) Editable() bool {
	return s == ConsultationDraft || s == ConsultationInProgress
}

// Appointment models a scheduled clinical visit owned by the scheduling system.
// Appointments are never deleted, only status-transitioned.
type Appointment struct {
	ID                      string            `gorm:"column:appointment_id;primaryKey;size:190;not null"`
	PatientID               string            `gorm:"column:patient_id;size:190;not null;index:idx_appointments_patient"`
	ScheduledDate           string            `gorm:"column:scheduled_date;size:10;not null"`
	ScheduledTime           string            `gorm:"column:scheduled_time;size:5;not null"`
	Type                    string            `gorm:"column:appointment_type;size:64;not null"`
	Reason                  string            `gorm:"column:reason;size:512"`
	Status                  AppointmentStatus `gorm:"column:status;size:20;not null;default:'scheduled'"`
	CreatedFromConsultation bool              `gorm:"column:created_from_consultation;not null;default:false"`
	OriginConsultationID    string            `gorm:"column:origin_consultation_id;size:190"`
	StartedAtSeconds        int64             `gorm:"column:started_at_s;not null;default:0"`
	CreatedAtSeconds        int64             `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds        int64             `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Appointment) TableName() string {
	return "appointments"
}

// Consultation models the clinical-record entity capturing what happened
// during a visit. AppointmentID is empty for walk-in consultations created
// without a prior appointment.
type Consultation struct {
	ID                     string             `gorm:"column:consultation_id;primaryKey;size:190;not null"`
	AppointmentID          string             `gorm:"column:appointment_id;size:190;index:idx_consultations_appointment"`
	PatientID              string             `gorm:"column:patient_id;size:190;not null;index:idx_consultations_patient"`
	NoteType               string             `gorm:"column:note_type;size:64;not null"`
	Status                 ConsultationStatus `gorm:"column:status;size:20;not null;default:'draft'"`
	CreatedFromAppointment bool               `gorm:"column:created_from_appointment;not null;default:false"`
	StartedBy              string             `gorm:"column:started_by;size:190"`
	CompletedBy            string             `gorm:"column:completed_by;size:190"`
	StartedAtSeconds       int64              `gorm:"column:started_at_s;not null;default:0"`
	CompletedAtSeconds     int64              `gorm:"column:completed_at_s;not null;default:0"`
	Content                Content            `gorm:"column:content;serializer:json;type:text"`
	CreatedAtSeconds       int64              `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds       int64              `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Consultation) TableName() string {
	return "consultations"
}
