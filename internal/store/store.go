package store

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
)

var scheduledTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ConsultationDraft is the input for creating a consultation record.
type ConsultationDraft struct {
	AppointmentID          string
	PatientID              string
	NoteType               string
	CreatedFromAppointment bool
	Content                clinical.Content
}

// Validate enforces the draft invariants before any write is attempted.
func (d ConsultationDraft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.PatientID, validation.Required, validation.Length(1, 190)),
		validation.Field(&d.NoteType, validation.Required, validation.Length(1, 64)),
		validation.Field(&d.AppointmentID, validation.Length(0, 190)),
	)
}

// ConsultationPatch is a partial update of a consultation record. Nil fields
// are left untouched; the stores apply patches last-write-wins with no
// concurrency token.
type ConsultationPatch struct {
	Status             *clinical.ConsultationStatus
	Content            *clinical.Content
	StartedAtSeconds   *int64
	CompletedAtSeconds *int64
	StartedBy          *string
	CompletedBy        *string
}

// IsZero reports whether the patch carries no changes.
func (p ConsultationPatch) IsZero() bool {
	return p.Status == nil &&
		p.Content == nil &&
		p.StartedAtSeconds == nil &&
		p.CompletedAtSeconds == nil &&
		p.StartedBy == nil &&
		p.CompletedBy == nil
}

// AppointmentDraft is the input for creating an appointment record.
type AppointmentDraft struct {
	PatientID               string
	ScheduledDate           string
	ScheduledTime           string
	Type                    string
	Reason                  string
	CreatedFromConsultation bool
	OriginConsultationID    string
}

// Validate enforces the draft invariants before any write is attempted.
func (d AppointmentDraft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.PatientID, validation.Required, validation.Length(1, 190)),
		validation.Field(&d.ScheduledDate, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&d.ScheduledTime, validation.Required, validation.Match(scheduledTimePattern)),
		validation.Field(&d.Type, validation.Length(0, 64)),
	)
}

// AppointmentPatch is a partial update of an appointment record.
type AppointmentPatch struct {
	Status           *clinical.AppointmentStatus
	StartedAtSeconds *int64
}

// IsZero reports whether the patch carries no changes.
func (p AppointmentPatch) IsZero() bool {
	return p.Status == nil && p.StartedAtSeconds == nil
}

// ConsultationStore exposes the clinical-record backend ("Expedix").
type ConsultationStore interface {
	// GetConsultationByAppointmentID resolves the consultation referencing an
	// appointment. A KindNotFound error means "no consultation yet", which
	// the coordinator treats as "must create", not as a fatal failure.
	GetConsultationByAppointmentID(ctx context.Context, appointmentID clinical.AppointmentID) (clinical.Consultation, error)
	CreateConsultation(ctx context.Context, draft ConsultationDraft) (clinical.Consultation, error)
	UpdateConsultation(ctx context.Context, id clinical.ConsultationID, patch ConsultationPatch) error
	DeleteConsultation(ctx context.Context, id clinical.ConsultationID) error
}

// AppointmentStore exposes the scheduling backend ("Agenda").
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id clinical.AppointmentID) (clinical.Appointment, error)
	CreateAppointment(ctx context.Context, draft AppointmentDraft) (clinical.Appointment, error)
	UpdateAppointment(ctx context.Context, id clinical.AppointmentID, patch AppointmentPatch) error
}
