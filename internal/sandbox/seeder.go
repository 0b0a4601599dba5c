package sandbox

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/store"
)

// Seed loads a small demo schedule into an empty sandbox database so the web
// client has appointments to start consultations from. An already-populated
// database is left untouched.
func Seed(ctx context.Context, db *gorm.DB, appointments *AppointmentStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var existing int64
	if err := db.WithContext(ctx).Model(&clinical.Appointment{}).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		logger.Debug("sandbox seed skipped", zap.Int64("appointments", existing))
		return nil
	}

	drafts := []store.AppointmentDraft{
		{PatientID: "demo-patient-ana", ScheduledDate: "2026-09-01", ScheduledTime: "09:00", Type: "initial", Reason: "Primera valoración"},
		{PatientID: "demo-patient-ana", ScheduledDate: "2026-09-15", ScheduledTime: "09:30", Type: "follow_up", Reason: "Control mensual"},
		{PatientID: "demo-patient-luis", ScheduledDate: "2026-09-01", ScheduledTime: "11:00", Type: "therapy", Reason: "Sesión semanal"},
		{PatientID: "demo-patient-sofia", ScheduledDate: "2026-09-02", ScheduledTime: "16:00", Type: "telemedicine", Reason: "Revisión de resultados"},
	}

	for _, draft := range drafts {
		if _, err := appointments.CreateAppointment(ctx, draft); err != nil {
			return err
		}
	}

	logger.Info("sandbox seeded", zap.Int("appointments", len(drafts)))
	return nil
}
