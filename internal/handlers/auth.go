// Package handlers contains HTTP request handlers for the auth service.
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/middleware"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthHandler handles authentication HTTP requests.
type AuthHandler struct {
	authService service.AuthService
	log         *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler instance.
func NewAuthHandler(authService service.AuthService, log *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

// CredentialsRequest is the login and registration payload.
type CredentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ValidateRequest represents the token validation request payload.
type ValidateRequest struct {
	Token string `json:"token"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "Login credentials"
// @Success 200 {object} service.LoginResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	response, err := h.authService.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Register godoc
// @Summary Register user
// @Description Create an account and return a bearer token for it
// @Tags auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "New account"
// @Success 201 {object} service.LoginResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	response, err := h.authService.Register(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, response)
}

// Logout godoc
// @Summary User logout
// @Description Tokens are stateless; the client discards its token
// @Tags auth
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} middleware.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if identity := middleware.IdentityFromContext(c); identity != nil {
		h.log.WithField("username", identity.Name).Info("logout")
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// ValidateResponse represents the token validation response.
type ValidateResponse struct {
	Valid      bool     `json:"valid"`
	TTLSeconds int64    `json:"ttl_seconds"`
	Name       string   `json:"name,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

// Validate godoc
// @Summary Validate token
// @Description Validate a token and return its TTL with the caller's name and groups
// @Tags auth
// @Accept json
// @Produce json
// @Param request body ValidateRequest true "Bearer token"
// @Success 200 {object} ValidateResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} ValidateResponse
// @Router /auth/validate [post]
func (h *AuthHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	ttl, claims, err := h.authService.ValidateToken(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ValidateResponse{Valid: false})
		return
	}

	c.JSON(http.StatusOK, ValidateResponse{
		Valid:      true,
		TTLSeconds: ttl,
		Name:       claims.Name,
		Groups:     claims.Groups,
	})
}

const couchUserPrefix = "org.couchdb.user:"

// NpmAddUserResponse is the body npm expects from an adduser request.
type NpmAddUserResponse struct {
	OK    string `json:"ok"`
	Token string `json:"token"`
}

// NpmAddUser godoc
// @Summary npm adduser / login
// @Description Log in, or register when the user does not exist yet, as `npm login` expects
// @Tags npm
// @Accept json
// @Produce json
// @Param id path string true "org.couchdb.user:<name>"
// @Param request body CredentialsRequest true "Credentials"
// @Success 201 {object} NpmAddUserResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /-/user/{id} [put]
func (h *AuthHandler) NpmAddUser(c *gin.Context) {
	id := c.Param("id")
	if !strings.HasPrefix(id, couchUserPrefix) {
		respondError(c, h.log, fmt.Errorf("%w: unexpected user id %q", apperrors.ErrInvalidRequest, id))
		return
	}
	name := strings.TrimPrefix(id, couchUserPrefix)

	var req CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}
	if req.Name != "" && req.Name != name {
		respondError(c, h.log, fmt.Errorf("%w: name %q does not match %q", apperrors.ErrInvalidRequest, req.Name, name))
		return
	}

	response, created, err := h.authService.AddUser(c.Request.Context(), name, req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	message := fmt.Sprintf("you are authenticated as '%s'", response.Name)
	if created {
		message = fmt.Sprintf("user '%s' created", response.Name)
	}
	c.JSON(http.StatusCreated, NpmAddUserResponse{OK: message, Token: response.Token})
}
