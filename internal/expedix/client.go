// Package expedix implements the consultation record store contract over the
// clinical-record backend's REST API. Every call is a single attempt; the
// caller session token is forwarded unchanged.
package expedix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	opGetByAppointment = "expedix.get_consultation_by_appointment"
	opCreate           = "expedix.create_consultation"
	opUpdate           = "expedix.update_consultation"
	opDelete           = "expedix.delete_consultation"

	defaultRequestTimeout = 15 * time.Second
)

var (
	errMissingBaseURL     = errors.New("expedix: base url is required")
	errMissingCallerToken = errors.New("expedix: caller token missing from context")
)

// Config configures the Expedix REST client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the clinical-record backend.
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
		return nil, fmt.Errorf("expedix: invalid base url: %w", err)
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

type consultationPayload struct {
	ID                     string           `json:"id"`
	AppointmentID          string           `json:"appointment_id,omitempty"`
	PatientID              string           `json:"patient_id"`
	NoteType               string           `json:"note_type"`
	Status                 string           `json:"status"`
	CreatedFromAppointment bool             `json:"created_from_appointment"`
	StartedBy              string           `json:"started_by,omitempty"`
	CompletedBy            string           `json:"completed_by,omitempty"`
	StartedAtSeconds       int64            `json:"started_at_s,omitempty"`
	CompletedAtSeconds     int64            `json:"completed_at_s,omitempty"`
	Content                clinical.Content `json:"content"`
	CreatedAtSeconds       int64            `json:"created_at_s,omitempty"`
	UpdatedAtSeconds       int64            `json:"updated_at_s,omitempty"`
}

type consultationPatchPayload struct {
	Status             *string           `json:"status,omitempty"`
	Content            *clinical.Content `json:"content,omitempty"`
	StartedAtSeconds   *int64            `json:"started_at_s,omitempty"`
	CompletedAtSeconds *int64            `json:"completed_at_s,omitempty"`
	StartedBy          *string           `json:"started_by,omitempty"`
	CompletedBy        *string           `json:"completed_by,omitempty"`
}

func (p consultationPayload) toDomain() (clinical.Consultation, error) {
	status, err := clinical.ParseConsultationStatus(p.Status)
	if err != nil {
		return clinical.Consultation{}, err
	}
	return clinical.Consultation{
		ID:                     p.ID,
		AppointmentID:          p.AppointmentID,
		PatientID:              p.PatientID,
		NoteType:               p.NoteType,
		Status:                 status,
		CreatedFromAppointment: p.CreatedFromAppointment,
		StartedBy:              p.StartedBy,
		CompletedBy:            p.CompletedBy,
		StartedAtSeconds:       p.StartedAtSeconds,
		CompletedAtSeconds:     p.CompletedAtSeconds,
		Content:                p.Content,
		CreatedAtSeconds:       p.CreatedAtSeconds,
		UpdatedAtSeconds:       p.UpdatedAtSeconds,
	}, nil
}

// GetConsultationByAppointmentID resolves the consultation referencing the
// appointment, or a not-found error when no consultation exists yet.
func (c *Client) GetConsultationByAppointmentID(ctx context.Context, appointmentID clinical.AppointmentID) (clinical.Consultation, error) {
	endpoint := fmt.Sprintf("%s/consultations?appointment_id=%s", c.baseURL, url.QueryEscape(appointmentID.String()))
	body, err := c.do(ctx, opGetByAppointment, http.MethodGet, endpoint, nil)
	if err != nil {
		return clinical.Consultation{}, err
	}

	var payload consultationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindTransport, opGetByAppointment, err)
	}
	consultation, err := payload.toDomain()
	if err != nil {
		return clinical.Consultation{}, store.NewError(store.KindTransport, opGetByAppointment, err)
	}
	return consultation, nil
}

// CreateConsultation creates a consultation record.
func (c *Client) CreateConsultation(ctx context.Context, draft store.ConsultationDraft) (clinical.Consultation, error) {
	if err := draft.Validate(); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindValidation, opCreate, err)
	}

	request := consultationPayload{
		AppointmentID:          draft.AppointmentID,
		PatientID:              draft.PatientID,
		NoteType:               draft.NoteType,
		Status:                 string(clinical.ConsultationDraft),
		CreatedFromAppointment: draft.CreatedFromAppointment,
		Content:                draft.Content,
	}
	body, err := c.do(ctx, opCreate, http.MethodPost, c.baseURL+"/consultations", request)
	if err != nil {
		return clinical.Consultation{}, err
	}

	var payload consultationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return clinical.Consultation{}, store.NewError(store.KindTransport, opCreate, err)
	}
	consultation, err := payload.toDomain()
	if err != nil {
		return clinical.Consultation{}, store.NewError(store.KindTransport, opCreate, err)
	}
	return consultation, nil
}

// UpdateConsultation applies a partial update to a consultation record.
func (c *Client) UpdateConsultation(ctx context.Context, id clinical.ConsultationID, patch store.ConsultationPatch) error {
	if patch.IsZero() {
		return store.NewError(store.KindValidation, opUpdate, errors.New("empty patch"))
	}

	request := consultationPatchPayload{
		Content:            patch.Content,
		StartedAtSeconds:   patch.StartedAtSeconds,
		CompletedAtSeconds: patch.CompletedAtSeconds,
		StartedBy:          patch.StartedBy,
		CompletedBy:        patch.CompletedBy,
	}
	if patch.Status != nil {
		status := string(*patch.Status)
		request.Status = &status
	}

	endpoint := fmt.Sprintf("%s/consultations/%s", c.baseURL, url.PathEscape(id.String()))
	_, err := c.do(ctx, opUpdate, http.MethodPatch, endpoint, request)
	return err
}

// DeleteConsultation removes a consultation record.
func (c *Client) DeleteConsultation(ctx context.Context, id clinical.ConsultationID) error {
	endpoint := fmt.Sprintf("%s/consultations/%s", c.baseURL, url.PathEscape(id.String()))
	_, err := c.do(ctx, opDelete, http.MethodDelete, endpoint, nil)
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
		c.logger.Warn("expedix request failed", zap.String("operation", op), zap.Error(err))
		return nil, store.NewError(store.KindTransport, op, err)
	}
	defer response.Body.Close()

	body, readErr := readBody(response)
	if readErr != nil {
		return nil, store.NewError(store.KindTransport, op, readErr)
	}

	if kind, failed := classifyStatus(response.StatusCode); failed {
		c.logger.Warn("expedix request rejected",
			zap.String("operation", op),
			zap.Int("status", response.StatusCode))
		return nil, store.NewError(kind, op, fmt.Errorf("upstream status %d", response.StatusCode))
	}
	return body, nil
}
