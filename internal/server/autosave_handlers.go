package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/autosave"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

type draftRequestPayload struct {
	// Baseline is the persisted content the editor loaded; only consulted
	// when this request opens the session.
	Baseline *clinical.Content `json:"baseline,omitempty"`
	Content  clinical.Content  `json:"content"`
}

// handleObserveDraft feeds the latest editor content into the consultation's
// autosave session, opening the session on first contact.
func (h *httpHandler) handleObserveDraft(c *gin.Context) {
	consultationID, err := clinical.NewConsultationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_consultation_id"})
		return
	}
	var request draftRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.autosave.Get(consultationID)
	if errors.Is(err, autosave.ErrSessionNotFound) {
		baseline := clinical.Content{}
		if request.Baseline != nil {
			baseline = *request.Baseline
		}
		session, err = h.autosave.Open(consultationID, baseline)
		if errors.Is(err, autosave.ErrSessionExists) {
			// Lost the open race against another tab; attach to the winner.
			session, err = h.autosave.Get(consultationID)
		}
	}
	if err != nil {
		h.logger.Error("autosave session open failed",
			zap.String("consultation_id", consultationID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "autosave_unavailable"})
		return
	}

	if err := session.Observe(c.Request.Context(), request.Content); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "session_closed"})
		return
	}
	c.JSON(http.StatusOK, session.State())
}

// handleManualSave flushes pending content immediately, bypassing the
// debounce window.
func (h *httpHandler) handleManualSave(c *gin.Context) {
	consultationID, err := clinical.NewConsultationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_consultation_id"})
		return
	}

	session, err := h.autosave.Get(consultationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}

	if err := session.Save(c.Request.Context()); err != nil {
		switch {
		case errors.Is(err, autosave.ErrSaveInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "save_in_flight"})
		case errors.Is(err, autosave.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "session_closed"})
		case store.IsUnauthorized(err):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case store.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "consultation_not_found"})
		default:
			h.logger.Error("manual save failed",
				zap.String("consultation_id", consultationID.String()),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "save_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, session.State())
}

func (h *httpHandler) handleAutosaveState(c *gin.Context) {
	consultationID, err := clinical.NewConsultationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_consultation_id"})
		return
	}

	session, err := h.autosave.Get(consultationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	c.JSON(http.StatusOK, session.State())
}

// handleCloseAutosave ends the editing session. Without force it refuses
// while changes are unsaved, mirroring the editor's leave-page guard.
func (h *httpHandler) handleCloseAutosave(c *gin.Context) {
	consultationID, err := clinical.NewConsultationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_consultation_id"})
		return
	}

	force := false
	if raw := c.Query("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_force_flag"})
			return
		}
	}

	err = h.autosave.Close(consultationID, force)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"closed": true})
	case errors.Is(err, autosave.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, autosave.ErrUnsavedChanges):
		c.JSON(http.StatusConflict, gin.H{"error": "unsaved_changes"})
	default:
		h.logger.Error("autosave close failed",
			zap.String("consultation_id", consultationID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "close_failed"})
	}
}
