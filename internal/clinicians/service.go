package clinicians

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/aurelia-health/consulta/backend/internal/auth"
)

// ErrInvalidIdentity indicates the session claims carried no usable
// clinician identifier.
var ErrInvalidIdentity = errors.New("clinicians: invalid identity")

// ServiceConfig describes the dependencies for clinician resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves session claims to canonical clinician identifiers,
// registering first-time visitors and refreshing profile details for known
// ones. Resolved ids are cached per process since a clinician id never
// changes once issued.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the clinician directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("clinicians: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// ResolveCanonicalClinicianID returns the canonical clinician id for the
// provided session claims, creating the directory entry when the clinician
// has not been seen before.
func (s *Service) ResolveCanonicalClinicianID(claims auth.SessionClaims) (string, error) {
	clinicianID := normalize(claims.ClinicianID)
	if clinicianID == "" {
		clinicianID = normalize(claims.Subject)
	}
	if clinicianID == "" {
		return "", ErrInvalidIdentity
	}

	if cached, ok := s.cache.Load(clinicianID); ok {
		if canonical, ok := cached.(string); ok {
			return canonical, nil
		}
	}

	var clinician Clinician
	err := s.db.Where("clinician_id = ?", clinicianID).First(&clinician).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		clinician = Clinician{
			ID:          clinicianID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			Roles:       joinRoles(claims.Roles),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&clinician).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != clinician.Email {
			updates["email"] = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != clinician.DisplayName {
			updates["display_name"] = display
		}
		if roles := joinRoles(claims.Roles); roles != "" && roles != clinician.Roles {
			updates["roles"] = roles
		}
		updates["last_seen_at"] = s.now()
		if len(updates) > 0 {
			_ = s.db.Model(&Clinician{}).
				Where("clinician_id = ?", clinicianID).
				Updates(updates).
				Error
		}
	}

	s.cache.Store(clinicianID, clinician.ID)
	return clinician.ID, nil
}
