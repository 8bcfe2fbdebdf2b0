// Package service implements login, token and profile logic of the registry
// auth service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/metrics"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/GunarsK-portfolio/registry-auth/internal/repository"
	"github.com/sirupsen/logrus"
)

// LoginResponse is returned after a successful login or registration.
type LoginResponse struct {
	Token     string   `json:"token"`
	Name      string   `json:"name"`
	Groups    []string `json:"groups"`
	ExpiresIn int64    `json:"expires_in"`
}

type AuthService interface {
	Login(ctx context.Context, name, password string) (*LoginResponse, error)
	Register(ctx context.Context, name, password string) (*LoginResponse, error)
	ValidateToken(token string) (int64, *Claims, error)
	// AddUser logs name in, registering it first when no such user exists.
	// created reports whether a registration happened.
	AddUser(ctx context.Context, name, password string) (resp *LoginResponse, created bool, err error)
}

type authService struct {
	store   repository.CredentialStore
	tokens  TokenService
	log     *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAuthService(store repository.CredentialStore, tokens TokenService, log *logrus.Logger, m *metrics.Metrics) AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &authService{
		store:   store,
		tokens:  tokens,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *authService) Login(ctx context.Context, name, password string) (*LoginResponse, error) {
	entry := s.log.WithField("username", name)

	if name == "" || password == "" {
		s.metrics.ObserveLogin(metrics.ResultFailure)
		return nil, apperrors.ErrLoginFailed
	}

	ok, err := s.store.Verify(ctx, name, password)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	if !ok {
		s.metrics.ObserveLogin(metrics.ResultFailure)
		entry.Warn("login failed")
		return nil, apperrors.ErrLoginFailed
	}

	user, err := s.store.Lookup(ctx, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		// Renamed between the two reads.
		s.metrics.ObserveLogin(metrics.ResultFailure)
		return nil, apperrors.ErrLoginFailed
	}
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	resp, err := s.issue(user)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return nil, err
	}

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	entry.Info("login succeeded")
	return resp, nil
}

func (s *authService) Register(ctx context.Context, name, password string) (*LoginResponse, error) {
	user, err := s.store.Create(ctx, name, password, nil)
	if err != nil {
		result := metrics.ResultFailure
		if errors.Is(err, apperrors.ErrStoreIO) {
			result = metrics.ResultError
		}
		s.metrics.ObserveRegistration(result)
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	resp, err := s.issue(user)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.ResultError)
		return nil, err
	}

	s.metrics.ObserveRegistration(metrics.ResultSuccess)
	s.log.WithField("username", name).Info("user registered")
	return resp, nil
}

func (s *authService) AddUser(ctx context.Context, name, password string) (*LoginResponse, bool, error) {
	if name == "" {
		return nil, false, apperrors.ErrLoginFailed
	}
	_, err := s.store.Lookup(ctx, name)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		resp, err := s.Register(ctx, name, password)
		if err == nil {
			return resp, true, nil
		}
		// Registered concurrently since the lookup.
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, false, err
		}
	case err != nil:
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	resp, err := s.Login(ctx, name, password)
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// ValidateToken verifies token and returns its remaining lifetime in seconds.
func (s *authService) ValidateToken(token string) (int64, *Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return 0, nil, err
	}

	ttl := int64(claims.ExpiresAt.Sub(s.now()).Seconds())
	if ttl < 0 {
		ttl = 0
	}
	return ttl, claims, nil
}

func (s *authService) issue(user *models.User) (*LoginResponse, error) {
	identity := models.NewIdentity(user.Username, user.Groups)
	token, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &LoginResponse{
		Token:     token,
		Name:      identity.Name,
		Groups:    identity.Groups,
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
	}, nil
}
