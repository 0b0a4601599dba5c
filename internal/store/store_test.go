package store

import (
	"errors"
	"testing"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
)

func TestErrorKindsAreDistinguishable(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := NewError(KindTransport, "expedix.update_consultation", cause)

	if !IsTransport(wrapped) {
		t.Fatalf("expected transport kind")
	}
	if IsNotFound(wrapped) || IsValidation(wrapped) || IsUnauthorized(wrapped) {
		t.Fatalf("kinds must not overlap")
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped cause to unwrap")
	}
}

func TestErrorKindSurvivesWrapping(t *testing.T) {
	inner := NewError(KindNotFound, "agenda.get_appointment", nil)
	outer := errors.Join(errors.New("start failed"), inner)

	if !IsNotFound(outer) {
		t.Fatalf("expected not-found kind through errors.Join")
	}
}

func TestKindPredicatesRejectPlainErrors(t *testing.T) {
	if IsNotFound(errors.New("not a store error")) {
		t.Fatalf("plain errors must not match store kinds")
	}
	if IsTransport(nil) {
		t.Fatalf("nil must not match store kinds")
	}
}

func TestConsultationDraftValidation(t *testing.T) {
	valid := ConsultationDraft{
		AppointmentID: "appt-1",
		PatientID:     "patient-1",
		NoteType:      clinical.DefaultNoteType,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	missingPatient := ConsultationDraft{NoteType: clinical.DefaultNoteType}
	if err := missingPatient.Validate(); err == nil {
		t.Fatalf("expected validation error for missing patient id")
	}

	missingNoteType := ConsultationDraft{PatientID: "patient-1"}
	if err := missingNoteType.Validate(); err == nil {
		t.Fatalf("expected validation error for missing note type")
	}
}

func TestAppointmentDraftValidation(t *testing.T) {
	valid := AppointmentDraft{
		PatientID:     "patient-1",
		ScheduledDate: "2025-03-10",
		ScheduledTime: "09:00",
		Type:          "follow_up",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	tests := []struct {
		name  string
		draft AppointmentDraft
	}{
		{name: "missing patient", draft: AppointmentDraft{ScheduledDate: "2025-03-10", ScheduledTime: "09:00"}},
		{name: "bad date", draft: AppointmentDraft{PatientID: "p", ScheduledDate: "10/03/2025", ScheduledTime: "09:00"}},
		{name: "bad time", draft: AppointmentDraft{PatientID: "p", ScheduledDate: "2025-03-10", ScheduledTime: "9am"}},
		{name: "out of range time", draft: AppointmentDraft{PatientID: "p", ScheduledDate: "2025-03-10", ScheduledTime: "24:00"}},
	}
	for _, tc := range tests {
		if err := tc.draft.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestPatchIsZero(t *testing.T) {
	if !(ConsultationPatch{}).IsZero() || !(AppointmentPatch{}).IsZero() {
		t.Fatalf("empty patches should report zero")
	}
	status := clinical.ConsultationCompleted
	if (ConsultationPatch{Status: &status}).IsZero() {
		t.Fatalf("patch with status should not report zero")
	}
}
