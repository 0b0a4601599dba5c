// Package agenda implements the appointment record store contract over the
// scheduling backend's REST API. Appointments are never deleted by this
// client, only created and status-transitioned.
package agenda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/auth"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

const (
	opGet    = "agenda.get_appointment"
	opCreate = "agenda.create_appointment"
	opUpdate = "agenda.update_appointment"

	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 1 << 20
)

var (
	errMissingBaseURL     = errors.New("agenda: base url is required")
	errMissingCallerToken = errors.New("agenda: caller token missing from context")
)

// Config configures the Agenda REST client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the scheduling backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client after validating the configuration.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("agenda: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: base, httpClient: httpClient, logger: logger}, nil
}

type appointmentPayload struct {
	ID                      string `json:"id"`
	PatientID               string `json:"patient_id"`
	ScheduledDate           string `json:"scheduled_date"`
	ScheduledTime           string `json:"scheduled_time"`
	Type                    string `json:"appointment_type"`
	Reason                  string `json:"reason,omitempty"`
	Status                  string `json:"status"`
	CreatedFromConsultation bool   `json:"created_from_consultation,omitempty"`
	OriginConsultationID    string `json:"origin_consultation_id,omitempty"`
	StartedAtSeconds        int64  `json:"started_at_s,omitempty"`
	CreatedAtSeconds        int64  `json:"created_at_s,omitempty"`
	UpdatedAtSeconds        int64  `json:"updated_at_s,omitempty"`
}

type appointmentPatchPayload struct {
	Status           *string `json:"status,omitempty"`
	StartedAtSeconds *int64  `json:"started_at_s,omitempty"`
}

func (p appointmentPayload) toDomain() (clinical.Appointment, error) {
	status, err := clinical.ParseAppointmentStatus(p.Status)
	if err != nil {
		return clinical.Appointment{}, err
	}
	return clinical.Appointment{
		ID:                      p.ID,
		PatientID:               p.PatientID,
		ScheduledDate:           p.ScheduledDate,
		ScheduledTime:           p.ScheduledTime,
		Type:                    p.Type,
		Reason:                  p.Reason,
		Status:                  status,
		CreatedFromConsultation: p.CreatedFromConsultation,
		OriginConsultationID:    p.OriginConsultationID,
		StartedAtSeconds:        p.StartedAtSeconds,
		CreatedAtSeconds:        p.CreatedAtSeconds,
		UpdatedAtSeconds:        p.UpdatedAtSeconds,
	}, nil
}

// GetAppointment fetches one appointment by id.
func (c *Client) GetAppointment(ctx context.Context, id clinical.AppointmentID) (clinical.Appointment, error) {
	endpoint := fmt.Sprintf("%s/appointments/%s", c.baseURL, url.PathEscape(id.String()))
	body, err := c.do(ctx, opGet, http.MethodGet, endpoint, nil)
	if err != nil {
		return clinical.Appointment{}, err
	}

	var payload appointmentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindTransport, opGet, err)
	}
	appointment, err := payload.toDomain()
	if err != nil {
		return clinical.Appointment{}, store.NewError(store.KindTransport, opGet, err)
	}
	return appointment, nil
}

// CreateAppointment creates an appointment in scheduled status.
func (c *Client) CreateAppointment(ctx context.Context, draft store.AppointmentDraft) (clinical.Appointment, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindValidation, opCreate, err)
	}

	request := appointmentPayload{
		PatientID:               draft.PatientID,
		ScheduledDate:           draft.ScheduledDate,
		ScheduledTime:           draft.ScheduledTime,
		Type:                    draft.Type,
		Reason:                  draft.Reason,
		Status:                  string(clinical.AppointmentScheduled),
		CreatedFromConsultation: draft.CreatedFromConsultation,
		OriginConsultationID:    draft.OriginConsultationID,
	}
	body, err := c.do(ctx, opCreate, http.MethodPost, c.baseURL+"/appointments", request)
	if err != nil {
		return clinical.Appointment{}, err
	}

	var payload appointmentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return clinical.Appointment{}, store.NewError(store.KindTransport, opCreate, err)
	}
	appointment, err := payload.toDomain()
	if err != nil {
		return clinical.Appointment{}, store.NewError(store.KindTransport, opCreate, err)
	}
	return appointment, nil
}

// UpdateAppointment applies a partial update to an appointment.
func (c *Client) UpdateAppointment(ctx context.Context, id clinical.AppointmentID, patch store.AppointmentPatch) error {
	if patch.IsZero() {
		return store.NewError(store.KindValidation, opUpdate, errors.New("empty patch"))
	}

	request := appointmentPatchPayload{StartedAtSeconds: patch.StartedAtSeconds}
	if patch.Status != nil {
		status := string(*patch.Status)
		request.Status = &status
	}

	endpoint := fmt.Sprintf("%s/appointments/%s", c.baseURL, url.PathEscape(id.String()))
	_, err := c.do(ctx, opUpdate, http.MethodPatch, endpoint, request)
	return err
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, requestBody any) ([]byte, error) {
	token, ok := auth.CallerToken(ctx)
	if !ok {
		return nil, store.NewError(store.KindUnauthorized, op, errMissingCallerToken)
	}

	var reader *bytes.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, store.NewError(store.KindValidation, op, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, store.NewError(store.KindTransport, op, err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("agenda request failed", zap.String("operation", op), zap.Error(err))
		return nil, store.NewError(store.KindTransport, op, err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		return nil, store.NewError(store.KindTransport, op, readErr)
	}

	if kind, failed := classifyStatus(response.StatusCode); failed {
		c.logger.Warn("agenda request rejected",
			zap.String("operation", op),
			zap.Int("status", response.StatusCode))
		return nil, store.NewError(kind, op, fmt.Errorf("upstream status %d", response.StatusCode))
	}
	return body, nil
}

func classifyStatus(status int) (store.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusNotFound:
		return store.KindNotFound, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return store.KindUnauthorized, true
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		return store.KindValidation, true
	default:
		return store.KindTransport, true
	}
}
