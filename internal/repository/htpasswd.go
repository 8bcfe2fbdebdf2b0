package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const tfaFlag = "tfa"

// line is one line of the credential file. Lines that are not records
// (comments, blanks) keep their raw text so rewrites preserve them.
type line struct {
	raw  string
	user *models.User
}

// HtpasswdStore keeps credentials in an htpasswd-compatible file with one
// record per line: username:hash[:groups[:flags]].
type HtpasswdStore struct {
	path   string
	limits Limits
	log    *logrus.Logger

	mu     sync.Mutex
	lines  []line
	loaded bool
}

// NewHtpasswdStore creates a store backed by the file at path. The file is
// created on the first write if it does not exist.
func NewHtpasswdStore(path string, limits Limits, log *logrus.Logger) *HtpasswdStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HtpasswdStore{
		path:   filepath.Clean(path),
		limits: limits,
		log:    log,
	}
}

// Path returns the location of the credential file.
func (s *HtpasswdStore) Path() string {
	return s.path
}

func (s *HtpasswdStore) Lookup(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	_, u := s.find(username)
	if u == nil {
		return nil, fmt.Errorf("lookup %s: %w", username, apperrors.ErrNotFound)
	}
	return u.Clone(), nil
}

func (s *HtpasswdStore) Verify(_ context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return false, err
	}
	_, u := s.find(username)
	if u == nil {
		burnCompare(password)
		return false, nil
	}
	return checkPassword(u.PasswordHash, password), nil
}

func (s *HtpasswdStore) Create(_ context.Context, username, password string, groups []string) (*models.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	if _, u := s.find(username); u != nil {
		return nil, fmt.Errorf("create %s: %w", username, apperrors.ErrAlreadyExists)
	}
	if err := s.limits.allowsAnother(s.count()); err != nil {
		return nil, err
	}

	hash, err := hashPassword(password, s.limits.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %w", apperrors.ErrStoreIO, err)
	}

	user := &models.User{Username: username, PasswordHash: hash, Groups: normalizeGroups(groups)}
	next := append(s.snapshot(), line{user: user})
	if err := s.commit(next); err != nil {
		return nil, err
	}

	s.log.WithField("username", username).Info("credential created")
	return user.Clone(), nil
}

func (s *HtpasswdStore) UpdatePassword(ctx context.Context, username, oldPassword, newPassword string) (*models.User, error) {
	return s.ApplyChange(ctx, username, Change{Password: &PasswordChange{Old: oldPassword, New: newPassword}})
}

func (s *HtpasswdStore) Rename(ctx context.Context, oldName, newName string) (*models.User, error) {
	if err := ValidateUsername(newName); err != nil {
		return nil, err
	}
	return s.ApplyChange(ctx, oldName, Change{Name: newName})
}

func (s *HtpasswdStore) SetTFA(ctx context.Context, username string, enabled bool) (*models.User, error) {
	return s.ApplyChange(ctx, username, Change{TFA: &enabled})
}

// ApplyChange checks and applies every edit in change under one lock and
// writes the file once.
func (s *HtpasswdStore) ApplyChange(_ context.Context, username string, change Change) (*models.User, error) {
	if err := change.validate(username); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	idx, u := s.find(username)
	if u == nil {
		if change.Password != nil {
			burnCompare(change.Password.Old)
		}
		return nil, fmt.Errorf("update %s: %w", username, apperrors.ErrNotFound)
	}
	if change.Password != nil && !checkPassword(u.PasswordHash, change.Password.Old) {
		return nil, apperrors.ErrInvalidCredentials
	}
	rename := change.renames(username)
	if rename {
		if _, taken := s.find(change.Name); taken != nil {
			return nil, fmt.Errorf("rename %s to %s: %w", username, change.Name, apperrors.ErrAlreadyExists)
		}
	}

	updated := u.Clone()
	dirty := false
	if change.Password != nil {
		hash, err := hashPassword(change.Password.New, s.limits.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("%w: hash password: %w", apperrors.ErrStoreIO, err)
		}
		updated.PasswordHash = hash
		dirty = true
	}
	if rename {
		updated.Username = change.Name
		dirty = true
	}
	if change.TFA != nil && updated.TFAEnabled != *change.TFA {
		updated.TFAEnabled = *change.TFA
		dirty = true
	}
	if !dirty {
		return updated, nil
	}

	next := s.snapshot()
	next[idx] = line{user: updated}
	if err := s.commit(next); err != nil {
		return nil, err
	}

	entry := s.log.WithField("username", username)
	if change.Password != nil {
		entry.Info("password changed")
	}
	if rename {
		entry.WithField("new_username", change.Name).Info("user renamed")
	}
	return updated.Clone(), nil
}

// Ping checks that the credential file is reachable. The file is only
// parsed again when the cache has been invalidated.
func (s *HtpasswdStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Created on the first write.
	case err != nil:
		return fmt.Errorf("%w: stat credential file: %w", apperrors.ErrStoreIO, err)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%w: credential path %s is not a regular file", apperrors.ErrStoreIO, s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Invalidate drops the parsed cache; the next operation re-reads the file.
func (s *HtpasswdStore) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// Watch invalidates the cache whenever the credential file is changed by
// another process. It returns once the watcher is running; the watcher stops
// when ctx is cancelled.
func (s *HtpasswdStore) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: create credential dir: %w", apperrors.ErrStoreIO, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory is watched because rewrites replace the file.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == s.path {
					s.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("credential file watcher error")
			}
		}
	}()
	return nil
}

// load parses the file into the cache unless it is already loaded.
// Callers hold s.mu.
func (s *HtpasswdStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.lines = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read credential file: %w", apperrors.ErrStoreIO, err)
	}

	lines, err := parseHtpasswd(data)
	if err != nil {
		return err
	}
	s.lines = lines
	s.loaded = true
	return nil
}

func (s *HtpasswdStore) find(username string) (int, *models.User) {
	for i, l := range s.lines {
		if l.user != nil && l.user.Username == username {
			return i, l.user
		}
	}
	return -1, nil
}

func (s *HtpasswdStore) count() int {
	n := 0
	for _, l := range s.lines {
		if l.user != nil {
			n++
		}
	}
	return n
}

func (s *HtpasswdStore) snapshot() []line {
	return append([]line(nil), s.lines...)
}

// commit writes next to a temporary file and renames it over the original,
// then swaps the cache. On failure the cache is left untouched.
func (s *HtpasswdStore) commit(next []line) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: create credential dir: %w", apperrors.ErrStoreIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", apperrors.ErrStoreIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(formatHtpasswd(next)); err != nil {
		cleanup()
		return fmt.Errorf("%w: write temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %w", apperrors.ErrStoreIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace credential file: %w", apperrors.ErrStoreIO, err)
	}

	s.lines = next
	s.loaded = true
	return nil
}

func parseHtpasswd(data []byte) ([]line, error) {
	var lines []line
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			lines = append(lines, line{raw: raw})
			continue
		}

		fields := strings.Split(trimmed, ":")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			return nil, fmt.Errorf("%w: malformed credential file line %d", apperrors.ErrStoreIO, n)
		}
		if seen[fields[0]] {
			return nil, fmt.Errorf("%w: duplicate user on credential file line %d", apperrors.ErrStoreIO, n)
		}
		seen[fields[0]] = true

		user := &models.User{Username: fields[0], PasswordHash: fields[1], Groups: []string{}}
		if len(fields) > 2 && fields[2] != "" {
			user.Groups = normalizeGroups(strings.Split(fields[2], ","))
		}
		if len(fields) > 3 {
			for _, flag := range strings.Split(fields[3], ",") {
				if flag == tfaFlag {
					user.TFAEnabled = true
				}
			}
		}
		lines = append(lines, line{user: user})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan credential file: %w", apperrors.ErrStoreIO, err)
	}
	return lines, nil
}

func formatHtpasswd(lines []line) []byte {
	var buf bytes.Buffer
	for _, l := range lines {
		if l.user == nil {
			buf.WriteString(l.raw)
			buf.WriteByte('\n')
			continue
		}
		buf.WriteString(l.user.Username)
		buf.WriteByte(':')
		buf.WriteString(l.user.PasswordHash)
		if len(l.user.Groups) > 0 || l.user.TFAEnabled {
			buf.WriteByte(':')
			buf.WriteString(strings.Join(l.user.Groups, ","))
		}
		if l.user.TFAEnabled {
			buf.WriteByte(':')
			buf.WriteString(tfaFlag)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
