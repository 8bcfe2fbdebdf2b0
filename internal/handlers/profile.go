package handlers

import (
	"net/http"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/middleware"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ProfileHandler serves the caller's own profile. Every route sits behind
// middleware.Auth.
type ProfileHandler struct {
	profileService service.ProfileService
	log            *logrus.Logger
}

func NewProfileHandler(profileService service.ProfileService, log *logrus.Logger) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		log:            log,
	}
}

// GetProfile godoc
// @Summary Get profile
// @Tags profile
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.ProfileView
// @Failure 401 {object} middleware.ErrorResponse
// @Router /profile [get]
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	if identity == nil {
		respondError(c, h.log, apperrors.MustBeLogged(apperrors.ErrMissingToken))
		return
	}

	view, err := h.profileService.GetProfile(c.Request.Context(), identity)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// UpdateProfile godoc
// @Summary Update profile
// @Description Change password, rename or toggle two-factor authentication
// @Tags profile
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body models.ProfileUpdateRequest true "Profile changes"
// @Success 200 {object} models.ProfileView
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse
// @Router /profile [post]
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	if identity == nil {
		respondError(c, h.log, apperrors.MustBeLogged(apperrors.ErrMissingToken))
		return
	}

	var req models.ProfileUpdateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.profileService.UpdateProfile(c.Request.Context(), identity, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
