package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "consulta-auth"
	testSessionCookieName    = "consulta_session"
	testClinicianID          = "clinician-123"
	testClinicianEmail       = "doctor@clinic.example"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func mintTestToken(t *testing.T, issuedAt, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		ClinicianID: testClinicianID,
		Email:       testClinicianEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testClinicianID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := mintTestToken(t, clockNow.Add(-time.Minute), clockNow.Add(time.Hour))

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.ClinicianID != testClinicianID {
		t.Fatalf("unexpected clinician id: %s", claims.ClinicianID)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := mintTestToken(t, clockNow.Add(-2*time.Hour), clockNow.Add(-time.Hour))

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected ErrExpiredSessionToken, got %v", err)
	}
}

func TestSessionValidatorRejectsForeignIssuer(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		ClinicianID: testClinicianID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   testClinicianID,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
}

func TestSessionValidatorValidateRequestUsesBearerHeader(t *testing.T) {
	validator := newTestValidator(t, nil)
	signed := mintTestToken(t, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/consultations/c-1/autosave", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)

	claims, rawToken, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.ClinicianID != testClinicianID {
		t.Fatalf("unexpected clinician id: %s", claims.ClinicianID)
	}
	if rawToken != signed {
		t.Fatalf("expected raw token to round-trip for upstream forwarding")
	}
}

func TestSessionValidatorValidateRequestUsesCookie(t *testing.T) {
	validator := newTestValidator(t, nil)
	signed := mintTestToken(t, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	request := httptest.NewRequest(http.MethodGet, "/consultations/c-1/autosave", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})

	claims, _, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if claims.ClinicianID != testClinicianID {
		t.Fatalf("unexpected clinician id: %s", claims.ClinicianID)
	}
}

func TestSessionValidatorValidateRequestMissingToken(t *testing.T) {
	validator := newTestValidator(t, nil)
	request := httptest.NewRequest(http.MethodGet, "/events", http.NoBody)

	if _, _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected ErrMissingSessionToken, got %v", err)
	}
}
