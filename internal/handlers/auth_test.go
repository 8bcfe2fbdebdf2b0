package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/middleware"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockAuthService struct {
	loginFunc         func(ctx context.Context, name, password string) (*service.LoginResponse, error)
	registerFunc      func(ctx context.Context, name, password string) (*service.LoginResponse, error)
	validateTokenFunc func(token string) (int64, *service.Claims, error)
	addUserFunc       func(ctx context.Context, name, password string) (*service.LoginResponse, bool, error)
}

func (m *mockAuthService) Login(ctx context.Context, name, password string) (*service.LoginResponse, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, name, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) Register(ctx context.Context, name, password string) (*service.LoginResponse, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, name, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) ValidateToken(token string) (int64, *service.Claims, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(token)
	}
	return 0, nil, errors.New("not implemented")
}

func (m *mockAuthService) AddUser(ctx context.Context, name, password string) (*service.LoginResponse, bool, error) {
	if m.addUserFunc != nil {
		return m.addUserFunc(ctx, name, password)
	}
	return nil, false, errors.New("not implemented")
}

// =============================================================================
// Test Helpers
// =============================================================================

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func createTestContext(method, path string, body interface{}) (*httptest.ResponseRecorder, *gin.Context) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyBytes []byte
	switch b := body.(type) {
	case nil:
	case string:
		bodyBytes = []byte(b)
	default:
		bodyBytes, _ = json.Marshal(body)
	}

	c.Request = httptest.NewRequest(method, path, bytes.NewReader(bodyBytes))
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	return body.Error
}

// =============================================================================
// Login Handler Tests
// =============================================================================

func TestLogin_Success(t *testing.T) {
	mockService := &mockAuthService{
		loginFunc: func(ctx context.Context, name, password string) (*service.LoginResponse, error) {
			if name != "JotaJWT" || password != "secretPass" {
				t.Errorf("Login(%q, %q) received unexpected credentials", name, password)
			}
			return &service.LoginResponse{
				Token:     "token_123",
				Name:      name,
				Groups:    []string{models.GroupAll, models.GroupAuthenticated},
				ExpiresIn: 900,
			}, nil
		},
	}

	handler := NewAuthHandler(mockService, quietLogger())
	w, c := createTestContext(http.MethodPost, "/api/v1/auth/login", CredentialsRequest{
		Name:     "JotaJWT",
		Password: "secretPass",
	})

	handler.Login(c)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response service.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Token != "token_123" {
		t.Errorf("expected Token=token_123, got %s", response.Token)
	}
	if response.Name != "JotaJWT" {
		t.Errorf("expected Name=JotaJWT, got %s", response.Name)
	}
	if response.ExpiresIn != 900 {
		t.Errorf("expected ExpiresIn=900, got %d", response.ExpiresIn)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "bad credentials",
			body:       CredentialsRequest{Name: "alice", Password: "wrong"},
			serviceErr: apperrors.ErrLoginFailed,
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "bad username/password, access denied",
		},
		{
			name:       "store failure",
			body:       CredentialsRequest{Name: "alice", Password: "secretPass"},
			serviceErr: fmt.Errorf("verify credentials: %w", apperrors.ErrStoreIO),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal error",
		},
		{
			name:       "malformed body",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantMsg:    "bad request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &mockAuthService{
				loginFunc: func(ctx context.Context, name, password string) (*service.LoginResponse, error) {
					return nil, tt.serviceErr
				},
			}
			handler := NewAuthHandler(mockService, quietLogger())
			w, c := createTestContext(http.MethodPost, "/api/v1/auth/login", tt.body)

			handler.Login(c)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := decodeError(t, w); got != tt.wantMsg {
				t.Errorf("expected error %q, got %q", tt.wantMsg, got)
			}
		})
	}
}

// =============================================================================
// Register Handler Tests
// =============================================================================

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantMsg    string
	}{
		{"created", nil, http.StatusCreated, ""},
		{"taken", apperrors.ErrAlreadyExists, http.StatusConflict, "username is already registered"},
		{"closed", apperrors.ErrRegistrationClosed, http.StatusConflict, "maximum amount of users reached"},
		{"short password", apperrors.ErrPasswordPolicy, http.StatusUnauthorized, "new password too short"},
		{"invalid name", apperrors.ErrInvalidRequest, http.StatusBadRequest, "bad request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &mockAuthService{
				registerFunc: func(ctx context.Context, name, password string) (*service.LoginResponse, error) {
					if tt.serviceErr != nil {
						return nil, fmt.Errorf("register %s: %w", name, tt.serviceErr)
					}
					return &service.LoginResponse{Token: "token_123", Name: name}, nil
				},
			}
			handler := NewAuthHandler(mockService, quietLogger())
			w, c := createTestContext(http.MethodPost, "/api/v1/auth/register", CredentialsRequest{
				Name:     "userTest2000",
				Password: "secretPass000",
			})

			handler.Register(c)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantMsg != "" {
				if got := decodeError(t, w); got != tt.wantMsg {
					t.Errorf("expected error %q, got %q", tt.wantMsg, got)
				}
			}
		})
	}
}

// =============================================================================
// Logout Handler Tests
// =============================================================================

func TestLogout(t *testing.T) {
	handler := NewAuthHandler(&mockAuthService{}, quietLogger())
	w, c := createTestContext(http.MethodPost, "/api/v1/auth/logout", nil)
	c.Set(middleware.IdentityKey, models.NewIdentity("alice", nil))

	handler.Logout(c)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["message"] == "" {
		t.Error("expected a logout message")
	}
}

// =============================================================================
// Validate Handler Tests
// =============================================================================

func TestValidate_Success(t *testing.T) {
	mockService := &mockAuthService{
		validateTokenFunc: func(token string) (int64, *service.Claims, error) {
			return 600, &service.Claims{Name: "alice", Groups: []string{"dev", models.GroupAll}}, nil
		},
	}
	handler := NewAuthHandler(mockService, quietLogger())
	w, c := createTestContext(http.MethodPost, "/api/v1/auth/validate", ValidateRequest{Token: "valid"})

	handler.Validate(c)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var response ValidateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !response.Valid || response.TTLSeconds != 600 || response.Name != "alice" {
		t.Errorf("unexpected response %+v", response)
	}
	if len(response.Groups) != 2 {
		t.Errorf("expected 2 groups, got %v", response.Groups)
	}
}

func TestValidate_InvalidToken(t *testing.T) {
	for _, serviceErr := range []error{apperrors.ErrInvalidToken, apperrors.ErrTokenExpired} {
		t.Run(serviceErr.Error(), func(t *testing.T) {
			mockService := &mockAuthService{
				validateTokenFunc: func(token string) (int64, *service.Claims, error) {
					return 0, nil, serviceErr
				},
			}
			handler := NewAuthHandler(mockService, quietLogger())
			w, c := createTestContext(http.MethodPost, "/api/v1/auth/validate", ValidateRequest{Token: "fakeToken"})

			handler.Validate(c)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
			var response ValidateResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response.Valid {
				t.Error("expected valid=false")
			}
		})
	}
}

func TestValidate_MalformedBody(t *testing.T) {
	handler := NewAuthHandler(&mockAuthService{}, quietLogger())
	w, c := createTestContext(http.MethodPost, "/api/v1/auth/validate", "[]")

	handler.Validate(c)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// =============================================================================
// NpmAddUser Handler Tests
// =============================================================================

func TestNpmAddUser(t *testing.T) {
	tests := []struct {
		name        string
		body        CredentialsRequest
		created     bool
		expectedOK  string
		expectedArg string
	}{
		{"new user", CredentialsRequest{Name: "alice", Password: "secretPass"}, true, "user 'alice' created", "alice"},
		{"existing user", CredentialsRequest{Name: "alice", Password: "secretPass"}, false, "you are authenticated as 'alice'", "alice"},
		{"name taken from url", CredentialsRequest{Password: "secretPass"}, false, "you are authenticated as 'alice'", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &mockAuthService{
				addUserFunc: func(ctx context.Context, name, password string) (*service.LoginResponse, bool, error) {
					if name != tt.expectedArg || password != "secretPass" {
						t.Errorf("AddUser(%q, %q) received unexpected credentials", name, password)
					}
					return &service.LoginResponse{Token: "token_123", Name: name}, tt.created, nil
				},
			}
			handler := NewAuthHandler(mockService, quietLogger())
			w, c := createTestContext(http.MethodPut, "/-/user/org.couchdb.user:alice", tt.body)
			c.Params = gin.Params{{Key: "id", Value: "org.couchdb.user:alice"}}

			handler.NpmAddUser(c)

			if w.Code != http.StatusCreated {
				t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
			}
			var response NpmAddUserResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response.OK != tt.expectedOK {
				t.Errorf("expected ok=%q, got %q", tt.expectedOK, response.OK)
			}
			if response.Token != "token_123" {
				t.Errorf("expected Token=token_123, got %s", response.Token)
			}
		})
	}
}

func TestNpmAddUser_Errors(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		body           interface{}
		serviceErr     error
		expectedStatus int
		expectedError  string
	}{
		{"missing couchdb prefix", "alice", CredentialsRequest{Name: "alice", Password: "secretPass"}, nil, http.StatusBadRequest, "bad request"},
		{"name mismatch", "org.couchdb.user:alice", CredentialsRequest{Name: "bob", Password: "secretPass"}, nil, http.StatusBadRequest, "bad request"},
		{"malformed body", "org.couchdb.user:alice", "{", nil, http.StatusBadRequest, "bad request"},
		{"wrong password", "org.couchdb.user:alice", CredentialsRequest{Password: "wrongPass"}, apperrors.ErrLoginFailed, http.StatusUnauthorized, "bad username/password, access denied"},
		{"password policy", "org.couchdb.user:alice", CredentialsRequest{Password: "p1"}, apperrors.ErrPasswordPolicy, http.StatusUnauthorized, "new password too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockService := &mockAuthService{
				addUserFunc: func(ctx context.Context, name, password string) (*service.LoginResponse, bool, error) {
					called = true
					return nil, false, tt.serviceErr
				},
			}
			handler := NewAuthHandler(mockService, quietLogger())
			w, c := createTestContext(http.MethodPut, "/-/user/"+tt.id, tt.body)
			c.Params = gin.Params{{Key: "id", Value: tt.id}}

			handler.NpmAddUser(c)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if got := decodeError(t, w); got != tt.expectedError {
				t.Errorf("expected error %q, got %q", tt.expectedError, got)
			}
			if called != (tt.serviceErr != nil) {
				t.Errorf("AddUser called = %v, want %v", called, tt.serviceErr != nil)
			}
		})
	}
}
