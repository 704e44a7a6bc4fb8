package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dronehire/realtime-service/internal/domain"
	"github.com/dronehire/realtime-service/internal/repository"
	"github.com/dronehire/realtime-service/pkg/jwt"
	"github.com/dronehire/realtime-service/pkg/middleware"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Validator resolves a client token to a participant.
type Validator interface {
	Validate(ctx context.Context, token string) (*domain.Participant, error)
}

// SessionValidator accepts session tokens issued by the web backend's login.
type SessionValidator struct {
	repo repository.ParticipantRepository
	now  func() time.Time
}

func NewSessionValidator(repo repository.ParticipantRepository) *SessionValidator {
	return &SessionValidator{repo: repo, now: time.Now}
}

func (v *SessionValidator) Validate(ctx context.Context, token string) (*domain.Participant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	p, err := v.repo.GetParticipantBySessionToken(ctx, token, v.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	return p, nil
}

// JWTValidator accepts HMAC-signed tokens carrying user_id, name and role.
type JWTValidator struct {
	manager *jwt.Manager
}

func NewJWTValidator(manager *jwt.Manager) *JWTValidator {
	return &JWTValidator{manager: manager}
}

func (v *JWTValidator) Validate(_ context.Context, token string) (*domain.Participant, error) {
	claims, err := v.manager.Validate(strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return &domain.Participant{
		ID:   claims.UserID,
		Name: claims.Name,
		Role: domain.ParseRole(claims.Role),
	}, nil
}

// TokenValidator adapts a Validator to the HTTP auth middleware.
type TokenValidator struct {
	validator Validator
}

func NewTokenValidator(v Validator) *TokenValidator {
	return &TokenValidator{validator: v}
}

func (t *TokenValidator) ValidateToken(ctx context.Context, token string) (*middleware.Identity, error) {
	p, err := t.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Identity{UserID: p.ID, Name: p.Name, Role: string(p.Role)}, nil
}

// IsRejection reports whether err means the token itself was refused, as
// opposed to the lookup failing.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken)
}
