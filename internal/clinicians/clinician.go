package clinicians

import (
	"strings"
	"time"
)

// Clinician is the locally known directory entry for a practitioner who has
// authenticated against this service. The session token is authoritative for
// identity; this table only tracks profile details and activity.
type Clinician struct {
	ID          string    `gorm:"column:clinician_id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Roles       string    `gorm:"column:roles;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the clinician directory.
func (Clinician) TableName() string {
	return "clinicians"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func joinRoles(roles []string) string {
	cleaned := make([]string, 0, len(roles))
	for _, role := range roles {
		if trimmed := normalize(role); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ",")
}
