package workflow

import (
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// PartialConsistency records a multi-step operation that succeeded in an
// earlier step but failed in a later one. It is reported alongside the
// result, distinct from outright failure, so the UI can tell the clinician
// that the clinical record is safe even though a follow-up action needs a
// manual retry.
type PartialConsistency struct {
	Step           string
	AppointmentID  string
	ConsultationID string
	Cause          error
}

func (w *PartialConsistency) Error() string {
	return fmt.Sprintf("partial consistency at %s (appointment=%s consultation=%s): %v",
		w.Step, w.AppointmentID, w.ConsultationID, w.Cause)
}

func (w *PartialConsistency) Unwrap() error {
	return w.Cause
}

// Steps reported in partial-consistency warnings.
const (
	StepAppointmentStart    = "appointment_start"
	StepAppointmentComplete = "appointment_complete"
	StepFollowUpAppointment = "follow_up_appointment"
	StepFollowUpDraft       = "follow_up_draft"
	StepConsultationLookup  = "consultation_lookup"
	StepConsultationDelete  = "consultation_delete"
)

// StartResult is the navigation target returned to the scheduling UI after a
// "begin visit" action.
type StartResult struct {
	ConsultationID string
	PatientID      string
	RedirectPath   string
	CreatedDraft   bool
	Warning        *PartialConsistency
}

// CompletionResult reports what a completion call achieved. The consultation
// fields are always valid when the error is nil; follow-up fields are only
// set when a follow-up was requested and created.
type CompletionResult struct {
	ConsultationID         string
	FollowUpCreated        bool
	FollowUpAppointmentID  string
	FollowUpConsultationID string
	Warnings               []*PartialConsistency
}

// CancelResult reports the outcome of a cancellation cascade.
type CancelResult struct {
	AppointmentID       string
	ConsultationRemoved bool
	Warning             *PartialConsistency
}

var followUpTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// FollowUpRequest describes the optional next appointment scheduled while
// completing a consultation. The patient id comes from the completing UI,
// which already holds the patient context.
type FollowUpRequest struct {
	PatientID string
	Date      string
	Time      string
	Type      string
	Reason    string
}

// Validate enforces the follow-up invariants.
func (r FollowUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.Required, validation.Length(1, 190)),
		validation.Field(&r.Date, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&r.Time, validation.Required, validation.Match(followUpTimePattern)),
		validation.Field(&r.Type, validation.Length(0, 64)),
	)
}

// EventType names a lifecycle notification.
type EventType string

const (
	EventConsultationStarted   EventType = "consultation-started"
	EventConsultationCompleted EventType = "consultation-completed"
	EventAppointmentCancelled  EventType = "appointment-cancelled"
	EventFollowUpScheduled     EventType = "follow-up-scheduled"
	EventPartialConsistency    EventType = "partial-consistency"
)

// Event is published to the realtime stream after lifecycle transitions.
type Event struct {
	Type           EventType
	AppointmentID  string
	ConsultationID string
	PatientID      string
	At             time.Time
}
