package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waitroomlab/waitroom/internal/domain"
	"github.com/waitroomlab/waitroom/internal/repository"
	"github.com/waitroomlab/waitroom/pkg/clock"
)

const passPurpose = "admission_pass"

// AccessPassConfig holds access pass signing configuration
type AccessPassConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// PassClaims are the claims carried by an access pass token
type PassClaims struct {
	UserID    string `json:"user_id"`
	QueueID   string `json:"queue_id"`
	SessionID string `json:"session_id"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// AccessPassService issues and validates admission passes. A pass is
// an HS256 token handed to a released session; a server-side copy with
// matching TTL lets validation reject passes that were superseded or
// revoked before their expiry.
type AccessPassService struct {
	config      AccessPassConfig
	sessionRepo repository.SessionRepository
	clk         clock.Clock
}

// NewAccessPassService creates a new access pass service
func NewAccessPassService(config AccessPassConfig, sessionRepo repository.SessionRepository, clk clock.Clock) *AccessPassService {
	return &AccessPassService{config: config, sessionRepo: sessionRepo, clk: clk}
}

// Issue signs a pass for a released session and stores the server-side copy
func (s *AccessPassService) Issue(ctx context.Context, session *domain.Session, now time.Time) (string, error) {
	claims := PassClaims{
		UserID:    session.UserID,
		QueueID:   session.QueueID,
		SessionID: session.ID,
		Purpose:   passPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access pass: %w", err)
	}

	if err := s.sessionRepo.StoreAccessPass(ctx, session.QueueID, session.UserID, signed, s.config.TTL); err != nil {
		return "", err
	}
	return signed, nil
}

// Validate checks a pass signature and claims against the stored copy.
// Expiry is judged by the injected clock, not the wall clock.
func (s *AccessPassService) Validate(ctx context.Context, pass string) (*PassClaims, error) {
	claims := &PassClaims{}
	token, err := jwt.ParseWithClaims(pass, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.config.Secret, nil
	}, jwt.WithTimeFunc(s.clk.Now))
	if err != nil || !token.Valid {
		return nil, domain.ErrInvalidAccessPass
	}
	if claims.Purpose != passPurpose {
		return nil, domain.ErrInvalidAccessPass
	}

	stored, err := s.sessionRepo.GetAccessPass(ctx, claims.QueueID, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, domain.ErrInvalidAccessPass
	}
	if stored == "" || stored != pass {
		return nil, domain.ErrInvalidAccessPass
	}
	return claims, nil
}
