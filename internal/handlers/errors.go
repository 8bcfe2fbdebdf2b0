package handlers

import (
	"fmt"

	"github.com/GunarsK-portfolio/registry-auth/internal/apperrors"
	"github.com/GunarsK-portfolio/registry-auth/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func respondError(c *gin.Context, log *logrus.Logger, err error) {
	middleware.AbortWithError(c, log, err)
}

func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, err)
	}
	return nil
}
