package services

import (
	"context"
	"net/mail"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// RegistrationService creates and deletes staff accounts.
type RegistrationService struct {
	api  ports.AuthAPI
	auth *AuthService
	log  *zap.Logger
}

func NewRegistrationService(api ports.AuthAPI, auth *AuthService, log *zap.Logger) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{api: api, auth: auth, log: log}
}

// Register creates an account. When the server signs the new user in
// straight away, the session starts too.
func (s *RegistrationService) Register(ctx context.Context, r domain.Registration) (*domain.User, error) {
	if err := validateRegistration(r); err != nil {
		return nil, err
	}
	res, err := s.api.Register(ctx, r)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, &domain.APIError{Message: "Registration failed"}
	}
	if res.Token != "" {
		if err := s.auth.begin(ctx, res.Token, res.User); err != nil {
			return nil, err
		}
	}
	s.log.Info("Account registered", zap.String("user_id", res.User.ID), zap.String("role", string(res.User.Role)))
	return &res.User, nil
}

// DeleteAccount removes the signed-in user's account and ends the session.
func (s *RegistrationService) DeleteAccount(ctx context.Context) error {
	if s.auth.Token() == "" {
		return domain.ErrNoSession
	}
	if err := s.api.DeleteAccount(ctx); err != nil {
		return err
	}
	return s.auth.end(ctx)
}

func validateRegistration(r domain.Registration) error {
	switch {
	case r.Name == "":
		return &domain.ValidationError{Field: "name", Message: "name is required"}
	case r.Email == "":
		return &domain.ValidationError{Field: "email", Message: "email is required"}
	case len(r.Password) < 6:
		return &domain.ValidationError{Field: "password", Message: "password must be at least 6 characters"}
	case !r.Role.Valid():
		return &domain.ValidationError{Field: "role", Message: "unknown role"}
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return &domain.ValidationError{Field: "email", Message: "email is not valid"}
	}
	return nil
}
