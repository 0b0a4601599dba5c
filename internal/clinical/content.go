package clinical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Medication captures one prescribed medication line in a consultation note.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// Content is the free-form clinical payload of a consultation. The
// coordinator and autosave treat it as an opaque structured value; only the
// clinician edits its fields.
type Content struct {
	Reason        string            `json:"reason,omitempty"`
	ScheduledDate string            `json:"scheduled_date,omitempty"`
	ScheduledTime string            `json:"scheduled_time,omitempty"`
	VitalSigns    map[string]string `json:"vital_signs,omitempty"`
	Diagnosis     string            `json:"diagnosis,omitempty"`
	Medications   []Medication      `json:"medications,omitempty"`
	Narrative     map[string]string `json:"narrative,omitempty"`
}

// IsZero reports whether no field of the content has been filled in.
func (c Content) IsZero() bool {
	return c.Reason == "" &&
		c.ScheduledDate == "" &&
		c.ScheduledTime == "" &&
		len(c.VitalSigns) == 0 &&
		c.Diagnosis == "" &&
		len(c.Medications) == 0 &&
		len(c.Narrative) == 0
}

// Fingerprint returns a stable hex digest of the content. encoding/json
// emits map keys in sorted order, so equal content always produces an equal
// fingerprint regardless of insertion order.
func (c Content) Fingerprint() string {
	encoded, err := json.Marshal(c)
	if err != nil {
		// Content is composed of marshalable primitives; this branch is
		// unreachable in practice but a distinct digest keeps it safe.
		encoded = []byte(err.Error())
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:])
}
