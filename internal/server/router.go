package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/auth"
	"github.com/aurelia-health/consulta/backend/internal/autosave"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/clinicians"
	"github.com/aurelia-health/consulta/backend/internal/store"
	"github.com/aurelia-health/consulta/backend/internal/workflow"
)

const (
	clinicianIDContextKey = "consulta_clinician_id"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingWorkflowService  = errors.New("workflow service dependency required")
	errMissingAutosaveManager  = errors.New("autosave manager dependency required")
	errMissingDispatcher       = errors.New("realtime dispatcher dependency required")
)

// Dependencies wires the HTTP surface. TokenIssuer is optional and enables
// the sandbox-only dev-token endpoint; Clinicians is optional and, when
// present, resolves session claims to canonical directory ids.
type Dependencies struct {
	SessionValidator  *auth.SessionValidator
	TokenIssuer       *auth.TokenIssuer
	Clinicians        *clinicians.Service
	Workflow          *workflow.Service
	Autosave          *autosave.Manager
	Realtime          *RealtimeDispatcher
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// NewHTTPHandler assembles the gin router with CORS, session authentication,
// the lifecycle endpoints, the autosave endpoints, and the event stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Workflow == nil {
		return nil, errMissingWorkflowService
	}
	if deps.Autosave == nil {
		return nil, errMissingAutosaveManager
	}
	if deps.Realtime == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:   deps.SessionValidator,
		issuer:     deps.TokenIssuer,
		clinicians: deps.Clinicians,
		workflow:   deps.Workflow,
		autosave:   deps.Autosave,
		realtime:   deps.Realtime,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	if deps.TokenIssuer != nil {
		router.POST("/auth/dev-token", handler.handleDevToken)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/workflow/appointments/:id/start", handler.handleStartAppointment)
	protected.POST("/workflow/appointments/:id/cancel", handler.handleCancelAppointment)
	protected.POST("/workflow/consultations/:id/complete", handler.handleCompleteConsultation)
	protected.POST("/consultations/:id/draft", handler.handleObserveDraft)
	protected.POST("/consultations/:id/save", handler.handleManualSave)
	protected.GET("/consultations/:id/autosave", handler.handleAutosaveState)
	protected.DELETE("/consultations/:id/autosave", handler.handleCloseAutosave)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	sessions   *auth.SessionValidator
	issuer     *auth.TokenIssuer
	clinicians *clinicians.Service
	workflow   *workflow.Service
	autosave   *autosave.Manager
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
	heartbeat  time.Duration
}

// authorizeRequest validates the session token, resolves the canonical
// clinician id, and stashes the raw token on the request context so store
// clients can forward it upstream.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, rawToken, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	clinicianID := claims.ClinicianID
	if h.clinicians != nil {
		clinicianID, err = h.clinicians.ResolveCanonicalClinicianID(claims)
		if err != nil {
			h.logger.Warn("clinician resolution failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	c.Set(clinicianIDContextKey, clinicianID)
	c.Request = c.Request.WithContext(auth.WithCallerToken(c.Request.Context(), rawToken))
	c.Next()
}

type devTokenRequestPayload struct {
	ClinicianID string   `json:"clinician_id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

type devTokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleDevToken(c *gin.Context) {
	var request devTokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ClinicianID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.issuer.IssueSessionToken(request.ClinicianID, request.Email, request.DisplayName, request.Roles)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, devTokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type startRequestPayload struct {
	PatientID string `json:"patient_id"`
}

type warningPayload struct {
	Step           string `json:"step"`
	AppointmentID  string `json:"appointment_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
	Detail         string `json:"detail"`
}

func warningFrom(warning *workflow.PartialConsistency) *warningPayload {
	if warning == nil {
		return nil
	}
	payload := &warningPayload{
		Step:           string(warning.Step),
		AppointmentID:  warning.AppointmentID,
		ConsultationID: warning.ConsultationID,
	}
	if warning.Cause != nil {
		payload.Detail = warning.Cause.Error()
	}
	return payload
}

func warningsFrom(warnings []*workflow.PartialConsistency) []warningPayload {
	if len(warnings) == 0 {
		return nil
	}
	payloads := make([]warningPayload, 0, len(warnings))
	for _, warning := range warnings {
		payloads = append(payloads, *warningFrom(warning))
	}
	return payloads
}

type startResponsePayload struct {
	ConsultationID string          `json:"consultation_id"`
	PatientID      string          `json:"patient_id"`
	RedirectPath   string          `json:"redirect_path"`
	CreatedDraft   bool            `json:"created_draft"`
	Warning        *warningPayload `json:"warning,omitempty"`
}

func (h *httpHandler) handleStartAppointment(c *gin.Context) {
	appointmentID, err := clinical.NewAppointmentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_appointment_id"})
		return
	}
	var request startRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patientID, err := clinical.NewPatientID(request.PatientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return
	}

	result, err := h.workflow.StartFromAgenda(c.Request.Context(), appointmentID, patientID, c.GetString(clinicianIDContextKey))
	if err != nil {
		h.respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, startResponsePayload{
		ConsultationID: result.ConsultationID,
		PatientID:      result.PatientID,
		RedirectPath:   result.RedirectPath,
		CreatedDraft:   result.CreatedDraft,
		Warning:        warningFrom(result.Warning),
	})
}

type followUpPayload struct {
	PatientID string `json:"patient_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
}

type completeRequestPayload struct {
	AppointmentID string           `json:"appointment_id"`
	Content       clinical.Content `json:"content"`
	FollowUp      *followUpPayload `json:"follow_up"`
}

type completeResponsePayload struct {
	ConsultationID         string           `json:"consultation_id"`
	FollowUpCreated        bool             `json:"follow_up_created"`
	FollowUpAppointmentID  string           `json:"follow_up_appointment_id,omitempty"`
	FollowUpConsultationID string           `json:"follow_up_consultation_id,omitempty"`
	Warnings               []warningPayload `json:"warnings,omitempty"`
}

func (h *httpHandler) handleCompleteConsultation(c *gin.Context) {
	consultationID, err := clinical.NewConsultationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_consultation_id"})
		return
	}
	var request completeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var appointmentID clinical.AppointmentID
	if strings.TrimSpace(request.AppointmentID) != "" {
		appointmentID, err = clinical.NewAppointmentID(request.AppointmentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_appointment_id"})
			return
		}
	}

	var followUp *workflow.FollowUpRequest
	if request.FollowUp != nil {
		followUp = &workflow.FollowUpRequest{
			PatientID: request.FollowUp.PatientID,
			Date:      request.FollowUp.Date,
			Time:      request.FollowUp.Time,
			Type:      request.FollowUp.Type,
			Reason:    request.FollowUp.Reason,
		}
	}

	result, err := h.workflow.CompleteWithFollowUp(c.Request.Context(), consultationID, appointmentID, request.Content, followUp, c.GetString(clinicianIDContextKey))
	if err != nil {
		h.respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, completeResponsePayload{
		ConsultationID:         result.ConsultationID,
		FollowUpCreated:        result.FollowUpCreated,
		FollowUpAppointmentID:  result.FollowUpAppointmentID,
		FollowUpConsultationID: result.FollowUpConsultationID,
		Warnings:               warningsFrom(result.Warnings),
	})
}

type cancelResponsePayload struct {
	AppointmentID       string          `json:"appointment_id"`
	ConsultationRemoved bool            `json:"consultation_removed"`
	Warning             *warningPayload `json:"warning,omitempty"`
}

func (h *httpHandler) handleCancelAppointment(c *gin.Context) {
	appointmentID, err := clinical.NewAppointmentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_appointment_id"})
		return
	}

	result, err := h.workflow.CancelCascade(c.Request.Context(), appointmentID)
	if err != nil {
		h.respondWorkflowError(c, err)
		return
	}

	c.JSON(http.StatusOK, cancelResponsePayload{
		AppointmentID:       result.AppointmentID,
		ConsultationRemoved: result.ConsultationRemoved,
		Warning:             warningFrom(result.Warning),
	})
}

// respondWorkflowError maps coordinator failures onto HTTP statuses using
// the wrapped store error kind, with state-machine refusals as conflicts.
func (h *httpHandler) respondWorkflowError(c *gin.Context, err error) {
	var serviceErr *workflow.ServiceError
	code := "workflow_failed"
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	status := http.StatusInternalServerError
	switch {
	case store.IsNotFound(err):
		status = http.StatusNotFound
	case store.IsValidation(err):
		status = http.StatusBadRequest
	case store.IsUnauthorized(err):
		status = http.StatusUnauthorized
	case store.IsTransport(err):
		status = http.StatusBadGateway
	case strings.HasSuffix(code, "_not_startable"), strings.HasSuffix(code, "_not_cancelable"):
		status = http.StatusConflict
	case strings.HasSuffix(code, "invalid_follow_up"):
		status = http.StatusBadRequest
	}

	h.logger.Warn("workflow request failed",
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err))
	c.JSON(status, gin.H{"error": code})
}

// handleEventStream serves the realtime feed as server-sent events with
// periodic heartbeats so intermediaries keep the connection open.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	messages, cleanup := h.realtime.Subscribe(c.Request.Context())
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
