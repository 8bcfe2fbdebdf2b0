package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	fieldHash   = "hash"
	fieldGroups = "groups"
	fieldTFA    = "tfa"
)

// RedisStore keeps one hash per user and a set of all usernames. Mutations
// run in WATCH/MULTI transactions; a concurrent modification aborts the
// transaction and is reported as a store error.
type RedisStore struct {
	client *redis.Client
	prefix string
	limits Limits
	log    *logrus.Logger
}

// NewRedisStore creates a store using client. Keys are namespaced by prefix.
func NewRedisStore(client *redis.Client, prefix string, limits Limits, log *logrus.Logger) *RedisStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if prefix == "" {
		prefix = "registry"
	}
	return &RedisStore{client: client, prefix: prefix, limits: limits, log: log}
}

func (s *RedisStore) userKey(username string) string {
	return s.prefix + ":user:" + username
}

func (s *RedisStore) usersKey() string {
	return s.prefix + ":users"
}

func (s *RedisStore) Lookup(ctx context.Context, username string) (*models.User, error) {
	return s.get(ctx, s.client, username)
}

func (s *RedisStore) Verify(ctx context.Context, username, password string) (bool, error) {
	user, err := s.get(ctx, s.client, username)
	if errors.Is(err, apperrors.ErrNotFound) {
		burnCompare(password)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return checkPassword(user.PasswordHash, password), nil
}

func (s *RedisStore) Create(ctx context.Context, username, password string, groups []string) (*models.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := hashPassword(password, s.limits.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", apperrors.ErrStoreIO, err)
	}
	user := &models.User{Username: username, PasswordHash: hash, Groups: normalizeGroups(groups)}
	key := s.userKey(username)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("create %s: %w", username, apperrors.ErrAlreadyExists)
		}
		count, err := tx.SCard(ctx, s.usersKey()).Result()
		if err != nil {
			return err
		}
		if err := s.limits.allowsAnother(int(count)); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeUser(user))
			pipe.SAdd(ctx, s.usersKey(), username)
			return nil
		})
		return err
	}, key, s.usersKey())
	if err != nil {
		return nil, storeError(err)
	}

	s.log.WithField("username", username).Info("credential created")
	return user.Clone(), nil
}

func (s *RedisStore) UpdatePassword(ctx context.Context, username, oldPassword, newPassword string) (*models.User, error) {
	return s.ApplyChange(ctx, username, Change{Password: &PasswordChange{Old: oldPassword, New: newPassword}})
}

func (s *RedisStore) Rename(ctx context.Context, oldName, newName string) (*models.User, error) {
	if err := ValidateUsername(newName); err != nil {
		return nil, err
	}
	return s.ApplyChange(ctx, oldName, Change{Name: newName})
}

func (s *RedisStore) SetTFA(ctx context.Context, username string, enabled bool) (*models.User, error) {
	return s.ApplyChange(ctx, username, Change{TFA: &enabled})
}

// ApplyChange checks and applies every edit in change in a single
// transaction.
func (s *RedisStore) ApplyChange(ctx context.Context, username string, change Change) (*models.User, error) {
	if err := change.validate(username); err != nil {
		return nil, err
	}

	var newHash string
	if change.Password != nil {
		hash, err := hashPassword(change.Password.New, s.limits.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("%w: hash password: %w", apperrors.ErrStoreIO, err)
		}
		newHash = hash
	}

	rename := change.renames(username)
	key := s.userKey(username)
	watched := []string{key}
	if rename {
		watched = append(watched, s.userKey(change.Name), s.usersKey())
	}

	var updated *models.User
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		user, err := s.get(ctx, tx, username)
		if errors.Is(err, apperrors.ErrNotFound) && change.Password != nil {
			burnCompare(change.Password.Old)
		}
		if err != nil {
			return err
		}
		if change.Password != nil && !checkPassword(user.PasswordHash, change.Password.Old) {
			return apperrors.ErrInvalidCredentials
		}
		if rename {
			exists, err := tx.Exists(ctx, s.userKey(change.Name)).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return fmt.Errorf("rename %s to %s: %w", username, change.Name, apperrors.ErrAlreadyExists)
			}
		}

		fields := map[string]any{}
		if change.Password != nil {
			user.PasswordHash = newHash
			fields[fieldHash] = newHash
		}
		if change.TFA != nil && user.TFAEnabled != *change.TFA {
			user.TFAEnabled = *change.TFA
			fields[fieldTFA] = boolField(user.TFAEnabled)
		}
		if len(fields) == 0 && !rename {
			updated = user
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, key, fields)
			}
			if rename {
				pipe.Rename(ctx, key, s.userKey(change.Name))
				pipe.SRem(ctx, s.usersKey(), username)
				pipe.SAdd(ctx, s.usersKey(), change.Name)
			}
			return nil
		})
		if err == nil {
			if rename {
				user.Username = change.Name
			}
			updated = user
		}
		return err
	}, watched...)
	if err != nil {
		return nil, storeError(err)
	}

	entry := s.log.WithField("username", username)
	if change.Password != nil {
		entry.Info("password changed")
	}
	if rename {
		entry.WithField("new_username", change.Name).Info("user renamed")
	}
	return updated, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", apperrors.ErrStoreIO, err)
	}
	return nil
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) get(ctx context.Context, c hashReader, username string) (*models.User, error) {
	values, err := c.HGetAll(ctx, s.userKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read user %s: %w", apperrors.ErrStoreIO, username, err)
	}
	if len(values) == 0 || values[fieldHash] == "" {
		return nil, fmt.Errorf("lookup %s: %w", username, apperrors.ErrNotFound)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: values[fieldHash],
		Groups:       []string{},
		TFAEnabled:   values[fieldTFA] == "1",
	}
	if g := values[fieldGroups]; g != "" {
		user.Groups = normalizeGroups(strings.Split(g, ","))
	}
	return user, nil
}

func encodeUser(u *models.User) map[string]any {
	return map[string]any{
		fieldHash:   u.PasswordHash,
		fieldGroups: strings.Join(u.Groups, ","),
		fieldTFA:    boolField(u.TFAEnabled),
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// storeError passes domain errors through and normalises everything else,
// including lost optimistic transactions, to ErrStoreIO.
func storeError(err error) error {
	for _, known := range []error{
		apperrors.ErrNotFound,
		apperrors.ErrAlreadyExists,
		apperrors.ErrRegistrationClosed,
		apperrors.ErrInvalidCredentials,
		apperrors.ErrStoreIO,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent modification", apperrors.ErrStoreIO)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrStoreIO, err)
}
