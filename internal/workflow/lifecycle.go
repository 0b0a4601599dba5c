package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

var (
	errConsultationNotStartable  = errors.New("consultation already completed")
	errAppointmentNotStartable   = errors.New("appointment not startable")
	errAppointmentNotCompletable = errors.New("appointment not completable")
	errAppointmentNotCancelable  = errors.New("appointment not cancelable")
)

func pointerTo[T any](value T) *T {
	return &value
}

// CreateConsultationFromAppointment builds a draft consultation seeded from
// the appointment: the visit reason, the scheduled date and time, and the
// appointment type mapped onto the clinical note taxonomy.
//
// This call performs no duplicate check of its own; StartFromAgenda only
// invokes it after the lookup found no existing consultation, which is the
// sole idempotency guard.
func (s *Service) CreateConsultationFromAppointment(ctx context.Context, appointment clinical.Appointment) (clinical.Consultation, error) {
	draft := store.ConsultationDraft{
		AppointmentID:          appointment.ID,
		PatientID:              appointment.PatientID,
		NoteType:               clinical.NoteTypeForAppointment(appointment.Type),
		CreatedFromAppointment: true,
		Content: clinical.Content{
			Reason:        appointment.Reason,
			ScheduledDate: appointment.ScheduledDate,
			ScheduledTime: appointment.ScheduledTime,
		},
	}

	consultation, err := s.consultations.CreateConsultation(ctx, draft)
	if err != nil {
		s.logError(opCreateDraft, "consultation_create_failed", err,
			zap.String("appointment_id", appointment.ID),
			zap.String("patient_id", appointment.PatientID))
		return clinical.Consultation{}, newServiceError(opCreateDraft, "consultation_create_failed", err)
	}
	return consultation, nil
}

// StartFromAgenda is the "begin visit" entry point from the scheduling UI.
// It resolves (or lazily creates) the consultation for the appointment,
// transitions consultation then appointment to in_progress, and returns the
// navigation target. The two status writes hit different stores with no
// shared transaction: when the appointment write fails after the
// consultation write succeeded, the consultation is authoritative and the
// stale appointment is reported as a partial-consistency warning.
//
// Calling StartFromAgenda twice for the same appointment is safe: the second
// call finds the in-progress consultation and returns its id unchanged.
func (s *Service) StartFromAgenda(ctx context.Context, appointmentID clinical.AppointmentID, patientID clinical.PatientID, clinicianID string) (StartResult, error) {
	consultation, err := s.consultations.GetConsultationByAppointmentID(ctx, appointmentID)
	createdDraft := false
	switch {
	case err == nil:
		// Existing consultation is the idempotency hit.
	case store.IsNotFound(err):
		appointment, fetchErr := s.appointments.GetAppointment(ctx, appointmentID)
		if fetchErr != nil {
			reason := "appointment_fetch_failed"
			if store.IsNotFound(fetchErr) {
				reason = "appointment_not_found"
			}
			s.logError(opStart, reason, fetchErr, zap.String("appointment_id", appointmentID.String()))
			return StartResult{}, newServiceError(opStart, reason, fetchErr)
		}
		if !appointment.Status.CanStart() {
			s.logError(opStart, "appointment_not_startable", errAppointmentNotStartable,
				zap.String("appointment_id", appointmentID.String()),
				zap.String("status", string(appointment.Status)))
			return StartResult{}, newServiceError(opStart, "appointment_not_startable", errAppointmentNotStartable)
		}
		if appointment.PatientID == "" {
			appointment.PatientID = patientID.String()
		} else if appointment.PatientID != patientID.String() {
			// Agenda and the UI disagree about the patient; the appointment
			// record wins but the drift needs manual review.
			s.logger.Warn("patient mismatch on start",
				zap.String("operation", opStart),
				zap.String("appointment_id", appointmentID.String()),
				zap.String("appointment_patient_id", appointment.PatientID),
				zap.String("caller_patient_id", patientID.String()))
		}
		consultation, err = s.CreateConsultationFromAppointment(ctx, appointment)
		if err != nil {
			return StartResult{}, newServiceError(opStart, "draft_create_failed", err)
		}
		createdDraft = true
	default:
		s.logError(opStart, "consultation_lookup_failed", err, zap.String("appointment_id", appointmentID.String()))
		return StartResult{}, newServiceError(opStart, "consultation_lookup_failed", err)
	}

	if !consultation.Status.CanStart() {
		s.logError(opStart, "consultation_not_startable", errConsultationNotStartable,
			zap.String("consultation_id", consultation.ID),
			zap.String("status", string(consultation.Status)))
		return StartResult{}, newServiceError(opStart, "consultation_not_startable", errConsultationNotStartable)
	}

	result := StartResult{
		ConsultationID: consultation.ID,
		PatientID:      consultation.PatientID,
		RedirectPath:   "/consultations/" + consultation.ID,
		CreatedDraft:   createdDraft,
	}

	if consultation.Status == clinical.ConsultationInProgress {
		// Double-start from a second tab: both records already moved.
		return result, nil
	}

	consultationID, err := clinical.NewConsultationID(consultation.ID)
	if err != nil {
		s.logError(opStart, "invalid_consultation_id", err, zap.String("consultation_id", consultation.ID))
		return StartResult{}, newServiceError(opStart, "invalid_consultation_id", err)
	}

	startedAt := s.clock().UTC().Unix()
	err = s.consultations.UpdateConsultation(ctx, consultationID, store.ConsultationPatch{
		Status:           pointerTo(clinical.ConsultationInProgress),
		StartedAtSeconds: pointerTo(startedAt),
		StartedBy:        pointerTo(clinicianID),
	})
	if err != nil {
		s.logError(opStart, "consultation_start_failed", err,
			zap.String("consultation_id", consultation.ID),
			zap.String("appointment_id", appointmentID.String()))
		return StartResult{}, newServiceError(opStart, "consultation_start_failed", err)
	}

	// Known inconsistency window: the consultation is already in_progress.
	err = s.appointments.UpdateAppointment(ctx, appointmentID, store.AppointmentPatch{
		Status:           pointerTo(clinical.AppointmentInProgress),
		StartedAtSeconds: pointerTo(startedAt),
	})
	if err != nil {
		warning := &PartialConsistency{
			Step:           StepAppointmentStart,
			AppointmentID:  appointmentID.String(),
			ConsultationID: consultation.ID,
			Cause:          err,
		}
		s.logWarning(warning)
		result.Warning = warning
		s.publish(Event{
			Type:           EventPartialConsistency,
			AppointmentID:  appointmentID.String(),
			ConsultationID: consultation.ID,
			PatientID:      consultation.PatientID,
		})
	}

	s.publish(Event{
		Type:           EventConsultationStarted,
		AppointmentID:  appointmentID.String(),
		ConsultationID: consultation.ID,
		PatientID:      consultation.PatientID,
	})
	return result, nil
}

// CompleteWithFollowUp persists the final consultation content and closes the
// visit, optionally scheduling the next appointment with a draft
// consultation already waiting. The steps run in order: consultation write,
// appointment write, follow-up creation. A failure after the first step never
// rolls the clinical record back; later-step failures degrade to
// partial-consistency warnings in the result.
//
// appointmentID may be zero for consultations that never had an appointment.
func (s *Service) CompleteWithFollowUp(ctx context.Context, consultationID clinical.ConsultationID, appointmentID clinical.AppointmentID, content clinical.Content, followUp *FollowUpRequest, clinicianID string) (CompletionResult, error) {
	if followUp != nil {
		if err := followUp.Validate(); err != nil {
			s.logError(opComplete, "invalid_follow_up", err, zap.String("consultation_id", consultationID.String()))
			return CompletionResult{}, newServiceError(opComplete, "invalid_follow_up", err)
		}
	}

	completedAt := s.clock().UTC().Unix()
	err := s.consultations.UpdateConsultation(ctx, consultationID, store.ConsultationPatch{
		Status:             pointerTo(clinical.ConsultationCompleted),
		Content:            &content,
		CompletedAtSeconds: pointerTo(completedAt),
		CompletedBy:        pointerTo(clinicianID),
	})
	if err != nil {
		s.logError(opComplete, "consultation_complete_failed", err,
			zap.String("consultation_id", consultationID.String()),
			zap.String("appointment_id", appointmentID.String()))
		return CompletionResult{}, newServiceError(opComplete, "consultation_complete_failed", err)
	}

	result := CompletionResult{ConsultationID: consultationID.String()}

	if appointmentID != "" {
		s.completeAppointment(ctx, appointmentID, consultationID, &result)
	}

	if followUp != nil {
		s.scheduleFollowUp(ctx, consultationID, *followUp, &result)
	}

	s.publish(Event{
		Type:           EventConsultationCompleted,
		AppointmentID:  appointmentID.String(),
		ConsultationID: consultationID.String(),
	})
	return result, nil
}

// completeAppointment moves the appointment to completed after the clinical
// record is already safe. The transition is gated on the appointment's own
// status: a terminal appointment is left untouched and reported as a warning,
// never rolled into a hard failure.
func (s *Service) completeAppointment(ctx context.Context, appointmentID clinical.AppointmentID, consultationID clinical.ConsultationID, result *CompletionResult) {
	warn := func(cause error) {
		warning := &PartialConsistency{
			Step:           StepAppointmentComplete,
			AppointmentID:  appointmentID.String(),
			ConsultationID: consultationID.String(),
			Cause:          cause,
		}
		s.logWarning(warning)
		result.Warnings = append(result.Warnings, warning)
	}

	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		warn(err)
		return
	}
	if !appointment.Status.CanComplete() {
		warn(fmt.Errorf("%w: status %q", errAppointmentNotCompletable, appointment.Status))
		return
	}

	err = s.appointments.UpdateAppointment(ctx, appointmentID, store.AppointmentPatch{
		Status: pointerTo(clinical.AppointmentCompleted),
	})
	if err != nil {
		warn(err)
	}
}

// scheduleFollowUp creates the next appointment plus its draft consultation,
// recording warnings instead of failing.
func (s *Service) scheduleFollowUp(ctx context.Context, consultationID clinical.ConsultationID, followUp FollowUpRequest, result *CompletionResult) {
	followUpType := followUp.Type
	if followUpType == "" {
		followUpType = "follow_up"
	}
	appointment, err := s.appointments.CreateAppointment(ctx, store.AppointmentDraft{
		PatientID:               followUp.PatientID,
		ScheduledDate:           followUp.Date,
		ScheduledTime:           followUp.Time,
		Type:                    followUpType,
		Reason:                  followUp.Reason,
		CreatedFromConsultation: true,
		OriginConsultationID:    consultationID.String(),
	})
	if err != nil {
		warning := &PartialConsistency{
			Step:           StepFollowUpAppointment,
			ConsultationID: consultationID.String(),
			Cause:          err,
		}
		s.logWarning(warning)
		result.Warnings = append(result.Warnings, warning)
		return
	}

	result.FollowUpCreated = true
	result.FollowUpAppointmentID = appointment.ID

	draft, err := s.CreateConsultationFromAppointment(ctx, appointment)
	if err != nil {
		warning := &PartialConsistency{
			Step:          StepFollowUpDraft,
			AppointmentID: appointment.ID,
			Cause:         err,
		}
		s.logWarning(warning)
		result.Warnings = append(result.Warnings, warning)
		return
	}
	result.FollowUpConsultationID = draft.ID

	s.publish(Event{
		Type:           EventFollowUpScheduled,
		AppointmentID:  appointment.ID,
		ConsultationID: draft.ID,
		PatientID:      followUp.PatientID,
	})
}

// CancelCascade removes the consultation attached to an appointment (when one
// exists) and marks the appointment cancelled. Terminal appointments refuse
// the cascade before anything is touched. Appointment status is
// authoritative for the scheduling view: consultation lookup or delete
// failures are tolerated, reported as an orphan warning, and cleaned up
// out-of-band.
func (s *Service) CancelCascade(ctx context.Context, appointmentID clinical.AppointmentID) (CancelResult, error) {
	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		reason := "appointment_fetch_failed"
		if store.IsNotFound(err) {
			reason = "appointment_not_found"
		}
		s.logError(opCancel, reason, err, zap.String("appointment_id", appointmentID.String()))
		return CancelResult{}, newServiceError(opCancel, reason, err)
	}
	if !appointment.Status.CanCancel() {
		s.logError(opCancel, "appointment_not_cancelable", errAppointmentNotCancelable,
			zap.String("appointment_id", appointmentID.String()),
			zap.String("status", string(appointment.Status)))
		return CancelResult{}, newServiceError(opCancel, "appointment_not_cancelable", errAppointmentNotCancelable)
	}

	result := CancelResult{AppointmentID: appointmentID.String()}

	consultation, err := s.consultations.GetConsultationByAppointmentID(ctx, appointmentID)
	switch {
	case err == nil:
		consultationID, idErr := clinical.NewConsultationID(consultation.ID)
		if idErr != nil {
			result.Warning = &PartialConsistency{
				Step:           StepConsultationDelete,
				AppointmentID:  appointmentID.String(),
				ConsultationID: consultation.ID,
				Cause:          idErr,
			}
			s.logWarning(result.Warning)
			break
		}
		if deleteErr := s.consultations.DeleteConsultation(ctx, consultationID); deleteErr != nil {
			result.Warning = &PartialConsistency{
				Step:           StepConsultationDelete,
				AppointmentID:  appointmentID.String(),
				ConsultationID: consultation.ID,
				Cause:          deleteErr,
			}
			s.logWarning(result.Warning)
		} else {
			result.ConsultationRemoved = true
		}
	case store.IsNotFound(err):
		// Nothing to cascade.
	default:
		result.Warning = &PartialConsistency{
			Step:          StepConsultationLookup,
			AppointmentID: appointmentID.String(),
			Cause:         err,
		}
		s.logWarning(result.Warning)
	}

	err = s.appointments.UpdateAppointment(ctx, appointmentID, store.AppointmentPatch{
		Status: pointerTo(clinical.AppointmentCancelled),
	})
	if err != nil {
		s.logError(opCancel, "appointment_cancel_failed", err, zap.String("appointment_id", appointmentID.String()))
		return CancelResult{}, newServiceError(opCancel, "appointment_cancel_failed", err)
	}

	s.publish(Event{
		Type:          EventAppointmentCancelled,
		AppointmentID: appointmentID.String(),
	})
	return result, nil
}
