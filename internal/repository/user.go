// Package repository provides the credential stores of the registry auth service.
package repository

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
)

// MinPasswordLength is the shortest password a store accepts.
const MinPasswordLength = 8

// CredentialStore defines the operations every credential backend supports.
// Implementations serialise their own mutations; callers need no locking.
type CredentialStore interface {
	Lookup(ctx context.Context, username string) (*models.User, error)
	Verify(ctx context.Context, username, password string) (bool, error)
	Create(ctx context.Context, username, password string, groups []string) (*models.User, error)
	UpdatePassword(ctx context.Context, username, oldPassword, newPassword string) (*models.User, error)
	Ping(ctx context.Context) error
}

// Renamer is implemented by backends that can change a username.
type Renamer interface {
	Rename(ctx context.Context, oldName, newName string) (*models.User, error)
}

// TFASetter is implemented by backends that can persist the TFA flag.
type TFASetter interface {
	SetTFA(ctx context.Context, username string, enabled bool) (*models.User, error)
}

// PasswordChange replaces a password after checking the current one.
type PasswordChange struct {
	Old string
	New string
}

// Change is a set of account edits applied as one unit. Nil or empty
// fields are left as they are.
type Change struct {
	Password *PasswordChange
	Name     string
	TFA      *bool
}

func (c Change) renames(current string) bool {
	return c.Name != "" && c.Name != current
}

// validate runs the checks that need no stored state.
func (c Change) validate(current string) error {
	if c.Password != nil {
		if err := CheckPasswordPolicy(c.Password.New); err != nil {
			return err
		}
	}
	if c.renames(current) {
		if err := ValidateUsername(c.Name); err != nil {
			return err
		}
	}
	return nil
}

// ChangeApplier is implemented by backends that apply a Change atomically:
// either every edit is stored or none is. Failures are reported in the
// order password policy, unknown user, old password, taken name.
type ChangeApplier interface {
	Renamer
	TFASetter
	ApplyChange(ctx context.Context, username string, change Change) (*models.User, error)
}

// Limits shared by the backends.
type Limits struct {
	// MaxUsers caps registrations: 0 means unlimited, a negative value
	// disables registration.
	MaxUsers int
	// BcryptCost is the cost for new hashes; zero selects bcrypt.DefaultCost.
	BcryptCost int
}

func (l Limits) allowsAnother(current int) error {
	if l.MaxUsers < 0 || (l.MaxUsers > 0 && current >= l.MaxUsers) {
		return apperrors.ErrRegistrationClosed
	}
	return nil
}

// CheckPasswordPolicy returns ErrPasswordPolicy for passwords shorter than
// MinPasswordLength characters.
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperrors.ErrPasswordPolicy
	}
	return nil
}

// ValidateUsername rejects names that cannot be stored in a credential line.
func ValidateUsername(username string) error {
	if username == "" || strings.ContainsAny(username, ":\r\n#") || strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: invalid username %q", apperrors.ErrInvalidRequest, username)
	}
	return nil
}

func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] || strings.ContainsAny(g, ":,\r\n") {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
