package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/metrics"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/GunarsK-portfolio/registry-auth/internal/repository"
	"github.com/sirupsen/logrus"
)

// ProfileOptions carries the capability flags of the profile service.
type ProfileOptions struct {
	TFAEnabled bool
}

type ProfileService interface {
	GetProfile(ctx context.Context, identity *models.Identity) (*models.ProfileView, error)
	UpdateProfile(ctx context.Context, identity *models.Identity, req *models.ProfileUpdateRequest) (*models.ProfileView, error)
}

type profileService struct {
	store   repository.CredentialStore
	tokens  TokenService
	opts    ProfileOptions
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewProfileService(store repository.CredentialStore, tokens TokenService, opts ProfileOptions, log *logrus.Logger, m *metrics.Metrics) ProfileService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &profileService{store: store, tokens: tokens, opts: opts, log: log, metrics: m}
}

// GetProfile answers from the identity alone. The store is only read for
// the TFA flag, and only while the capability is enabled.
func (s *profileService) GetProfile(ctx context.Context, identity *models.Identity) (*models.ProfileView, error) {
	view := newView(identity)
	if s.opts.TFAEnabled {
		if user, err := s.store.Lookup(ctx, identity.Name); err == nil {
			view.TFA = user.TFAEnabled
		}
	}
	return view, nil
}

// UpdateProfile applies req and stops at the first failure. Errors are
// reported in a fixed order: the TFA gate, then the password change, then
// the rename. A rename returns a fresh token for the new name.
func (s *profileService) UpdateProfile(ctx context.Context, identity *models.Identity, req *models.ProfileUpdateRequest) (*models.ProfileView, error) {
	view, err := s.update(ctx, identity, req)
	switch {
	case err == nil:
		s.metrics.ObserveProfileUpdate(metrics.ResultSuccess)
	case errors.Is(err, apperrors.ErrStoreIO):
		s.metrics.ObserveProfileUpdate(metrics.ResultError)
	default:
		s.metrics.ObserveProfileUpdate(metrics.ResultFailure)
	}
	return view, err
}

func (s *profileService) update(ctx context.Context, identity *models.Identity, req *models.ProfileUpdateRequest) (*models.ProfileView, error) {
	if req == nil {
		return newView(identity), nil
	}

	if req.TFA != nil {
		if _, ok := s.store.(repository.TFASetter); !s.opts.TFAEnabled || !ok {
			s.log.WithField("username", identity.Name).Debug("tfa update rejected, capability disabled")
			return nil, apperrors.CapabilityDisabled(apperrors.CapabilityTFA)
		}
		if req.TFA.Enabled == nil {
			return nil, fmt.Errorf("%w: tfa.enabled is required", apperrors.ErrInvalidRequest)
		}
	}

	var (
		user *models.User
		err  error
	)
	if applier, ok := s.store.(repository.ChangeApplier); ok {
		user, err = s.applyAtomically(ctx, applier, identity, req)
	} else {
		user, err = s.applyInSteps(ctx, identity, req)
	}
	if err != nil {
		return nil, err
	}

	view := newView(identity)
	if user == nil {
		return view, nil
	}
	view.TFA = user.TFAEnabled
	if user.Username != identity.Name {
		renamed := models.NewIdentity(user.Username, user.Groups)
		token, err := s.tokens.Issue(renamed)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		view.Name = renamed.Name
		view.Groups = renamed.Groups
		view.Token = token
	}
	return view, nil
}

func (s *profileService) applyAtomically(ctx context.Context, applier repository.ChangeApplier, identity *models.Identity, req *models.ProfileUpdateRequest) (*models.User, error) {
	var change repository.Change
	if req.Password != nil {
		change.Password = &repository.PasswordChange{Old: req.Password.Old, New: req.Password.New}
	}
	if req.Name != nil {
		change.Name = *req.Name
	}
	if req.TFA != nil {
		change.TFA = req.TFA.Enabled
	}
	if change.Password == nil && change.TFA == nil && (change.Name == "" || change.Name == identity.Name) {
		return nil, nil
	}

	user, err := applier.ApplyChange(ctx, identity.Name, change)
	if err != nil {
		s.log.WithField("username", identity.Name).WithError(err).Warn("profile update rejected")
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// applyInSteps serves backends without ChangeApplier. Rename is skipped
// unless the backend is a Renamer.
func (s *profileService) applyInSteps(ctx context.Context, identity *models.Identity, req *models.ProfileUpdateRequest) (*models.User, error) {
	entry := s.log.WithField("username", identity.Name)

	renamer, canRename := s.store.(repository.Renamer)
	rename := req.Name != nil && *req.Name != identity.Name && canRename
	if rename {
		if err := repository.ValidateUsername(*req.Name); err != nil {
			return nil, err
		}
		if _, err := s.store.Lookup(ctx, *req.Name); err == nil {
			return nil, fmt.Errorf("rename to %s: %w", *req.Name, apperrors.ErrAlreadyExists)
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	var current *models.User
	if req.Password != nil {
		user, err := s.store.UpdatePassword(ctx, identity.Name, req.Password.Old, req.Password.New)
		if err != nil {
			entry.WithError(err).Warn("password change rejected")
			return nil, fmt.Errorf("update password: %w", err)
		}
		current = user
	}

	if rename {
		user, err := renamer.Rename(ctx, identity.Name, *req.Name)
		if err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}
		current = user
	}

	if req.TFA != nil {
		name := identity.Name
		if current != nil {
			name = current.Username
		}
		user, err := s.store.(repository.TFASetter).SetTFA(ctx, name, *req.TFA.Enabled)
		if err != nil {
			return nil, fmt.Errorf("set tfa: %w", err)
		}
		current = user
	}
	return current, nil
}

func newView(identity *models.Identity) *models.ProfileView {
	return &models.ProfileView{
		Name:   identity.Name,
		Groups: append([]string{}, identity.Groups...),
	}
}
