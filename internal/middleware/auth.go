// Package middleware provides the gin middleware of the auth service.
package middleware

import (
	"strings"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/metrics"
	"github.com/GunarsK-portfolio/registry-auth/internal/models"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IdentityKey is the gin context key holding the caller's *models.Identity.
const IdentityKey = "identity"

const bearerScheme = "Bearer"

// Auth rejects requests without a valid bearer token and stores the caller
// identity for the handlers behind it.
func Auth(tokens service.TokenService, log *logrus.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var claims *service.Claims
			claims, err = tokens.Verify(token)
			if err == nil {
				m.ObserveTokenCheck(metrics.ResultSuccess)
				c.Set(IdentityKey, claims.Identity())
				c.Next()
				return
			}
		}

		m.ObserveTokenCheck(metrics.ResultFailure)
		AbortWithError(c, log, apperrors.MustBeLogged(err))
	}
}

// IdentityFromContext returns the identity set by Auth, or nil when the
// route is not behind it.
func IdentityFromContext(c *gin.Context) *models.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*models.Identity)
	return identity
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", apperrors.ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.ErrMissingToken
	}
	return token, nil
}
