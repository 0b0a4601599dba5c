package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/auth"
	"github.com/aurelia-health/consulta/backend/internal/autosave"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
	"github.com/aurelia-health/consulta/backend/internal/workflow"
)

const (
	testSigningSecret = "router-test-secret"
	testSessionIssuer = "consulta-auth"
	testCookieName    = "consulta_session"
	testClinicianID   = "clinician-test"
)

// memoryStores is a minimal in-memory double for both record stores.
type memoryStores struct {
	appointments  map[string]clinical.Appointment
	consultations map[string]clinical.Consultation
	updateErr     error
	nextID        int
}

func newMemoryStores() *memoryStores {
	return &memoryStores{
		appointments:  make(map[string]clinical.Appointment),
		consultations: make(map[string]clinical.Consultation),
	}
}

func (m *memoryStores) GetConsultationByAppointmentID(_ context.Context, appointmentID clinical.AppointmentID) (clinical.Consultation, error) {
	for _, consultation := range m.consultations {
		if consultation.AppointmentID == appointmentID.String() {
			return consultation, nil
		}
	}
	return clinical.Consultation{}, store.NewError(store.KindNotFound, "memory.get_consultation_by_appointment", nil)
}

func (m *memoryStores) CreateConsultation(_ context.Context, draft store.ConsultationDraft) (clinical.Consultation, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindValidation, "memory.create_consultation", err)
	}
	m.nextID++
	for {
		if _, exists := m.consultations[fmt.Sprintf("c-%d", m.nextID)]; !exists {
			break
		}
		m.nextID++
	}
	consultation := clinical.Consultation{
		ID:                     fmt.Sprintf("c-%d", m.nextID),
		AppointmentID:          draft.AppointmentID,
		PatientID:              draft.PatientID,
		NoteType:               draft.NoteType,
		Status:                 clinical.ConsultationDraft,
		CreatedFromAppointment: draft.CreatedFromAppointment,
		Content:                draft.Content,
	}
	m.consultations[consultation.ID] = consultation
	return consultation, nil
}

func (m *memoryStores) UpdateConsultation(_ context.Context, id clinical.ConsultationID, patch store.ConsultationPatch) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	consultation, ok := m.consultations[id.String()]
	if !ok {
		return store.NewError(store.KindNotFound, "memory.update_consultation", nil)
	}
	if patch.Status != nil {
		consultation.Status = *patch.Status
	}
	if patch.Content != nil {
		consultation.Content = *patch.Content
	}
	if patch.StartedBy != nil {
		consultation.StartedBy = *patch.StartedBy
	}
	if patch.CompletedBy != nil {
		consultation.CompletedBy = *patch.CompletedBy
	}
	m.consultations[id.String()] = consultation
	return nil
}

func (m *memoryStores) DeleteConsultation(_ context.Context, id clinical.ConsultationID) error {
	if _, ok := m.consultations[id.String()]; !ok {
		return store.NewError(store.KindNotFound, "memory.delete_consultation", nil)
	}
	delete(m.consultations, id.String())
	return nil
}

func (m *memoryStores) GetAppointment(_ context.Context, id clinical.AppointmentID) (clinical.Appointment, error) {
	appointment, ok := m.appointments[id.String()]
	if !ok {
		return clinical.Appointment{}, store.NewError(store.KindNotFound, "memory.get_appointment", nil)
	}
	return appointment, nil
}

func (m *memoryStores) CreateAppointment(_ context.Context, draft store.AppointmentDraft) (clinical.Appointment, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindValidation, "memory.create_appointment", err)
	}
	m.nextID++
	for {
		if _, exists := m.appointments[fmt.Sprintf("a-%d", m.nextID)]; !exists {
			break
		}
		m.nextID++
	}
	appointment := clinical.Appointment{
		ID:                      fmt.Sprintf("a-%d", m.nextID),
		PatientID:               draft.PatientID,
		ScheduledDate:           draft.ScheduledDate,
		ScheduledTime:           draft.ScheduledTime,
		Type:                    draft.Type,
		Reason:                  draft.Reason,
		Status:                  clinical.AppointmentScheduled,
		CreatedFromConsultation: draft.CreatedFromConsultation,
		OriginConsultationID:    draft.OriginConsultationID,
	}
	m.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (m *memoryStores) UpdateAppointment(_ context.Context, id clinical.AppointmentID, patch store.AppointmentPatch) error {
	appointment, ok := m.appointments[id.String()]
	if !ok {
		return store.NewError(store.KindNotFound, "memory.update_appointment", nil)
	}
	if patch.Status != nil {
		appointment.Status = *patch.Status
	}
	m.appointments[id.String()] = appointment
	return nil
}

type testServer struct {
	handler    http.Handler
	stores     *memoryStores
	dispatcher *RealtimeDispatcher
	issuer     *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stores := newMemoryStores()
	// handlers flush explicitly in tests
	return newTestServerWithAutosave(t, stores, stores, time.Hour)
}

// newTestServerWithAutosave builds the full handler stack with a dedicated
// consultation store behind the autosave manager, so proxy-style stores can
// be exercised through the HTTP surface.
func newTestServerWithAutosave(t *testing.T, stores *memoryStores, autosaveStore store.ConsultationStore, debounce time.Duration) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dispatcher := NewRealtimeDispatcher()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testSessionIssuer,
	})

	workflowService, err := workflow.NewService(workflow.ServiceConfig{
		Appointments:  stores,
		Consultations: stores,
		Clock:         func() time.Time { return time.Unix(1750000000, 0) },
		Logger:        zap.NewNop(),
		Events:        func(event workflow.Event) { dispatcher.Publish(FromWorkflowEvent(event)) },
	})
	if err != nil {
		t.Fatalf("failed to build workflow service: %v", err)
	}

	autosaveManager, err := autosave.NewManager(autosave.ManagerConfig{
		Consultations: autosaveStore,
		Debounce:      debounce,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build autosave manager: %v", err)
	}
	t.Cleanup(autosaveManager.CloseAll)

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  validator,
		TokenIssuer:       issuer,
		Workflow:          workflowService,
		Autosave:          autosaveManager,
		Realtime:          dispatcher,
		Logger:            zap.NewNop(),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testServer{handler: handler, stores: stores, dispatcher: dispatcher, issuer: issuer}
}

func (s *testServer) mintToken(t *testing.T) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(testClinicianID, "doc@example.com", "Test Doc", nil)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}
