package clinical

import "strings"

// DefaultNoteType is assigned when an appointment type has no taxonomy entry.
const DefaultNoteType = "Consulta General"

// noteTypeByAppointmentType maps scheduling appointment types onto the
// clinical note taxonomy. Unknown types fall back to DefaultNoteType and are
// never an error.
var noteTypeByAppointmentType = map[string]string{
	"initial":       "Primera Vez",
	"first_visit":   "Primera Vez",
	"follow_up":     "Seguimiento",
	"control":       "Seguimiento",
	"therapy":       "Sesión de Terapia",
	"psychotherapy": "Sesión de Terapia",
	"evaluation":    "Evaluación Clínica",
	"assessment":    "Evaluación Clínica",
	"interconsult":  "Interconsulta",
	"emergency":     "Urgencia",
	"telemedicine":  "Teleconsulta",
	"video_call":    "Teleconsulta",
	"lab_review":    "Revisión de Estudios",
	"prescription":  "Receta",
	"general":       DefaultNoteType,
	"consultation":  DefaultNoteType,
}

// NoteTypeForAppointment resolves the clinical note type for a scheduling
// appointment type.
func NoteTypeForAppointment(appointmentType string) string {
	key := strings.ToLower(strings.TrimSpace(appointmentType))
	if noteType, ok := noteTypeByAppointmentType[key]; ok {
		return noteType
	}
	return DefaultNoteType
}
