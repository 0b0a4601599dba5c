package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

// fakeStores implements both record-store contracts in memory with
// scriptable per-operation failures, standing in for the two independently
// failing backends.
type fakeStores struct {
	appointments  map[string]clinical.Appointment
	consultations map[string]clinical.Consultation

	failConsultationLookup error
	failConsultationCreate error
	failConsultationUpdate error
	failConsultationDelete error
	failAppointmentGet     error
	failAppointmentCreate  error
	failAppointmentUpdate  error

	consultationCreates int
	nextConsultation    int
	nextAppointment     int
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		appointments:  make(map[string]clinical.Appointment),
		consultations: make(map[string]clinical.Consultation),
	}
}

func (f *fakeStores) addAppointment(appointment clinical.Appointment) {
	f.appointments[appointment.ID] = appointment
}

func (f *fakeStores) GetConsultationByAppointmentID(_ context.Context, appointmentID clinical.AppointmentID) (clinical.Consultation, error) {
	if f.failConsultationLookup != nil {
		return clinical.Consultation{}, f.failConsultationLookup
	}
	for _, consultation := range f.consultations {
		if consultation.AppointmentID == appointmentID.String() {
			return consultation, nil
		}
	}
	return clinical.Consultation{}, store.NewError(store.KindNotFound, "fake.get_consultation_by_appointment", nil)
}

func (f *fakeStores) CreateConsultation(_ context.Context, draft store.ConsultationDraft) (clinical.Consultation, error) {
	f.consultationCreates++
	if f.failConsultationCreate != nil {
		return clinical.Consultation{}, f.failConsultationCreate
	}
	if err := draft.Validate(); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindValidation, "fake.create_consultation", err)
	}
	f.nextConsultation++
	for {
		if _, exists := f.consultations[fmt.Sprintf("c-%d", f.nextConsultation)]; !exists {
			break
		}
		f.nextConsultation++
	}
	consultation := clinical.Consultation{
		ID:                     fmt.Sprintf("c-%d", f.nextConsultation),
		AppointmentID:          draft.AppointmentID,
		PatientID:              draft.PatientID,
		NoteType:               draft.NoteType,
		Status:                 clinical.ConsultationDraft,
		CreatedFromAppointment: draft.CreatedFromAppointment,
		Content:                draft.Content,
	}
	f.consultations[consultation.ID] = consultation
	return consultation, nil
}

func (f *fakeStores) UpdateConsultation(_ context.Context, id clinical.ConsultationID, patch store.ConsultationPatch) error {
	if f.failConsultationUpdate != nil {
		return f.failConsultationUpdate
	}
	consultation, ok := f.consultations[id.String()]
	if !ok {
		return store.NewError(store.KindNotFound, "fake.update_consultation", nil)
	}
	if patch.Status != nil {
		consultation.Status = *patch.Status
	}
	if patch.Content != nil {
		consultation.Content = *patch.Content
	}
	if patch.StartedAtSeconds != nil {
		consultation.StartedAtSeconds = *patch.StartedAtSeconds
	}
	if patch.CompletedAtSeconds != nil {
		consultation.CompletedAtSeconds = *patch.CompletedAtSeconds
	}
	if patch.StartedBy != nil {
		consultation.StartedBy = *patch.StartedBy
	}
	if patch.CompletedBy != nil {
		consultation.CompletedBy = *patch.CompletedBy
	}
	f.consultations[id.String()] = consultation
	return nil
}

func (f *fakeStores) DeleteConsultation(_ context.Context, id clinical.ConsultationID) error {
	if f.failConsultationDelete != nil {
		return f.failConsultationDelete
	}
	if _, ok := f.consultations[id.String()]; !ok {
		return store.NewError(store.KindNotFound, "fake.delete_consultation", nil)
	}
	delete(f.consultations, id.String())
	return nil
}

func (f *fakeStores) GetAppointment(_ context.Context, id clinical.AppointmentID) (clinical.Appointment, error) {
	if f.failAppointmentGet != nil {
		return clinical.Appointment{}, f.failAppointmentGet
	}
	appointment, ok := f.appointments[id.String()]
	if !ok {
		return clinical.Appointment{}, store.NewError(store.KindNotFound, "fake.get_appointment", nil)
	}
	return appointment, nil
}

func (f *fakeStores) CreateAppointment(_ context.Context, draft store.AppointmentDraft) (clinical.Appointment, error) {
	if f.failAppointmentCreate != nil {
		return clinical.Appointment{}, f.failAppointmentCreate
	}
	if err := draft.Validate(); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindValidation, "fake.create_appointment", err)
	}
	f.nextAppointment++
	for {
		if _, exists := f.appointments[fmt.Sprintf("a-%d", f.nextAppointment)]; !exists {
			break
		}
		f.nextAppointment++
	}
	appointment := clinical.Appointment{
		ID:                      fmt.Sprintf("a-%d", f.nextAppointment),
		PatientID:               draft.PatientID,
		ScheduledDate:           draft.ScheduledDate,
		ScheduledTime:           draft.ScheduledTime,
		Type:                    draft.Type,
		Reason:                  draft.Reason,
		Status:                  clinical.AppointmentScheduled,
		CreatedFromConsultation: draft.CreatedFromConsultation,
		OriginConsultationID:    draft.OriginConsultationID,
	}
	f.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (f *fakeStores) UpdateAppointment(_ context.Context, id clinical.AppointmentID, patch store.AppointmentPatch) error {
	if f.failAppointmentUpdate != nil {
		return f.failAppointmentUpdate
	}
	appointment, ok := f.appointments[id.String()]
	if !ok {
		return store.NewError(store.KindNotFound, "fake.update_appointment", nil)
	}
	if patch.Status != nil {
		appointment.Status = *patch.Status
	}
	if patch.StartedAtSeconds != nil {
		appointment.StartedAtSeconds = *patch.StartedAtSeconds
	}
	f.appointments[id.String()] = appointment
	return nil
}

func newTestService(t *testing.T, stores *fakeStores, events func(Event)) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Appointments:  stores,
		Consultations: stores,
		Clock:         func() time.Time { return time.Unix(1750000000, 0) },
		Logger:        zap.NewNop(),
		Events:        events,
	})
	if err != nil {
		t.Fatalf("failed to build workflow service: %v", err)
	}
	return service
}

func mustAppointmentID(t *testing.T, value string) clinical.AppointmentID {
	t.Helper()
	id, err := clinical.NewAppointmentID(value)
	if err != nil {
		t.Fatalf("unexpected appointment id error: %v", err)
	}
	return id
}

func mustConsultationID(t *testing.T, value string) clinical.ConsultationID {
	t.Helper()
	id, err := clinical.NewConsultationID(value)
	if err != nil {
		t.Fatalf("unexpected consultation id error: %v", err)
	}
	return id
}

func mustPatientID(t *testing.T, value string) clinical.PatientID {
	t.Helper()
	id, err := clinical.NewPatientID(value)
	if err != nil {
		t.Fatalf("unexpected patient id error: %v", err)
	}
	return id
}
