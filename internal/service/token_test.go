package service

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret   = "test-secret-key-at-least-32-chars-long"
	testTokenTTL = 15 * time.Minute
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTokenService(t *testing.T, clock *fakeClock) *tokenService {
	t.Helper()
	svc, err := newTokenService(testSecret, testTokenTTL, clock.Now)
	if err != nil {
		t.Fatalf("newTokenService() error = %v", err)
	}
	return svc
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewTokenService(t *testing.T) {
	svc, err := NewTokenService(testSecret, testTokenTTL)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	if got := svc.TTL(); got != testTokenTTL {
		t.Errorf("TTL() = %v, want %v", got, testTokenTTL)
	}
}

func TestNewTokenService_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		ttl    time.Duration
	}{
		{"empty secret", "", testTokenTTL},
		{"short secret", "short", testTokenTTL},
		{"zero ttl", testSecret, 0},
		{"negative ttl", testSecret, -time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenService(tt.secret, tt.ttl); err == nil {
				t.Error("NewTokenService() should fail")
			}
		})
	}
}

// =============================================================================
// Issue / Verify Tests
// =============================================================================

func TestIssueAndVerify(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTokenService(t, clock)
	identity := models.NewIdentity("JotaJWT", []string{"dev"})

	token, err := svc.Issue(identity)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not a JWT", token)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Name != "JotaJWT" {
		t.Errorf("Claims.Name = %q, want JotaJWT", claims.Name)
	}
	if claims.Subject != "JotaJWT" {
		t.Errorf("Claims.Subject = %q, want JotaJWT", claims.Subject)
	}
	if len(claims.RealGroups) != 1 || claims.RealGroups[0] != "dev" {
		t.Errorf("Claims.RealGroups = %v, want [dev]", claims.RealGroups)
	}
	if !claims.Identity().InGroup(models.GroupAuthenticated) {
		t.Errorf("Claims.Groups = %v, want implicit groups", claims.Groups)
	}
	if !claims.IssuedAt.Time.Equal(clock.Now()) {
		t.Errorf("IssuedAt = %v, want %v", claims.IssuedAt.Time, clock.Now())
	}
	if !claims.ExpiresAt.Time.Equal(clock.Now().Add(testTokenTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, clock.Now().Add(testTokenTTL))
	}
}

func TestVerify_Expiry(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTokenService(t, clock)

	token, err := svc.Issue(models.NewIdentity("alice", nil))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.Advance(testTokenTTL - time.Second)
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	clock.Advance(2 * time.Second)
	_, err = svc.Verify(token)
	if !errors.Is(err, apperrors.ErrTokenExpired) {
		t.Errorf("Verify() error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, apperrors.ErrInvalidToken) {
		t.Error("expired token should not be reported as invalid")
	}
}

func TestVerify_MalformedToken(t *testing.T) {
	svc := newTestTokenService(t, newFakeClock())

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"literal fake token", "fakeToken"},
		{"incomplete token", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
		{"two parts", "header.payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			if !errors.Is(err, apperrors.ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	clock := newFakeClock()
	issuer, err := newTokenService("secret1-at-least-32-chars-long-11111", testTokenTTL, clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := newTokenService("secret2-at-least-32-chars-long-22222", testTokenTTL, clock.Now)
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuer.Issue(models.NewIdentity("alice", nil))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTokenService(t, clock)

	token, err := svc.Issue(models.NewIdentity("alice", nil))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Re-sign a different payload with another key and splice in the original signature.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	forgedString, err := forged.SignedString([]byte("attacker-secret-at-least-32-bytes!!"))
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(forgedString, ".")
	original := strings.Split(token, ".")
	spliced := parts[0] + "." + parts[1] + "." + original[2]

	if _, err := svc.Verify(spliced); !errors.Is(err, apperrors.ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTokenService(t, clock)

	claims := Claims{
		Name: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}

	tests := []struct {
		name   string
		method jwt.SigningMethod
		key    interface{}
	}{
		{"HS512", jwt.SigningMethodHS512, []byte(testSecret)},
		{"none", jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(tt.method, claims).SignedString(tt.key)
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			if _, err := svc.Verify(token); !errors.Is(err, apperrors.ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestVerify_RequiresExpiryAndName(t *testing.T) {
	clock := newFakeClock()
	svc := newTestTokenService(t, clock)

	tests := []struct {
		name   string
		claims Claims
	}{
		{
			name: "no expiry",
			claims: Claims{
				Name:             "alice",
				RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(clock.Now())},
			},
		},
		{
			name: "no name",
			claims: Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(clock.Now()),
					ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := svc.Verify(token); !errors.Is(err, apperrors.ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestConcurrentTokenVerification(t *testing.T) {
	svc := newTestTokenService(t, newFakeClock())

	token, err := svc.Issue(models.NewIdentity("alice", nil))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	concurrency := 20
	errs := make(chan error, concurrency)
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claims, err := svc.Verify(token)
			if err == nil && claims.Name != "alice" {
				err = errors.New("unexpected subject")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent verification error: %v", err)
		}
	}
}
