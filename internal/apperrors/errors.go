// Package apperrors defines the error kinds shared by the auth service and
// maps them to HTTP status codes and user-facing messages.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrMustBeLogged       = errors.New("must be logged")
	ErrInvalidCredentials = errors.New("old password incorrect")
	ErrPasswordPolicy     = errors.New("new password too short")
	ErrCapabilityDisabled = errors.New("capability disabled")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("username is already registered")
	ErrRegistrationClosed = errors.New("maximum amount of users reached")
	ErrLoginFailed        = errors.New("bad username/password, access denied")
	ErrInvalidRequest     = errors.New("bad request")
	ErrStoreIO            = errors.New("internal error")
)

// CapabilityTFA names the two-factor authentication capability.
const CapabilityTFA = "tfa"

// CapabilityError reports a request for a feature that is switched off.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s disabled", e.Capability)
}

// Is lets errors.Is(err, ErrCapabilityDisabled) match any capability.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityDisabled
}

// CapabilityDisabled returns the error for a disabled capability.
func CapabilityDisabled(capability string) error {
	return &CapabilityError{Capability: capability}
}

type mapping struct {
	err     error
	status  int
	message string
}

// Order matters: MustBeLogged wraps its cause, so it is checked first.
var table = []mapping{
	{ErrMustBeLogged, http.StatusUnauthorized, "must be logged"},
	{ErrMissingToken, http.StatusUnauthorized, "must be logged"},
	{ErrInvalidToken, http.StatusUnauthorized, "must be logged"},
	{ErrTokenExpired, http.StatusUnauthorized, "must be logged"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "old password incorrect"},
	{ErrPasswordPolicy, http.StatusUnauthorized, "new password too short"},
	{ErrLoginFailed, http.StatusUnauthorized, "bad username/password, access denied"},
	{ErrNotFound, http.StatusNotFound, "not found"},
	{ErrAlreadyExists, http.StatusConflict, "username is already registered"},
	{ErrRegistrationClosed, http.StatusConflict, "maximum amount of users reached"},
	{ErrInvalidRequest, http.StatusBadRequest, "bad request"},
	{ErrStoreIO, http.StatusInternalServerError, "internal error"},
}

// Resolve returns the HTTP status and message for err. Errors that are not
// part of the taxonomy are reported as internal errors so backend details
// never reach the client.
func Resolve(err error) (int, string) {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return http.StatusServiceUnavailable, capErr.Error()
	}

	for _, m := range table {
		if errors.Is(err, m.err) {
			return m.status, m.message
		}
	}

	return http.StatusInternalServerError, "internal error"
}

// MustBeLogged wraps cause so it resolves as ErrMustBeLogged while keeping
// the original error available to errors.Is.
func MustBeLogged(cause error) error {
	if cause == nil {
		return ErrMustBeLogged
	}
	return fmt.Errorf("%w: %w", ErrMustBeLogged, cause)
}
