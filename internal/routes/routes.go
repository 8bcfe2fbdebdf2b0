// Package routes defines HTTP routes for the auth service.
package routes

import (
	"github.com/GunarsK-portfolio/registry-auth/internal/handlers"
	"github.com/GunarsK-portfolio/registry-auth/internal/metrics"
	"github.com/GunarsK-portfolio/registry-auth/internal/middleware"
	"github.com/GunarsK-portfolio/registry-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps bundles what the router needs.
type Deps struct {
	AuthHandler    *handlers.AuthHandler
	ProfileHandler *handlers.ProfileHandler
	HealthHandler  *handlers.HealthHandler
	Tokens         service.TokenService
	Log            *logrus.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// Setup configures all HTTP routes for the application.
func Setup(router *gin.Engine, deps Deps) {
	router.Use(middleware.RequestID(), middleware.Logger(deps.Log, deps.Metrics))

	// Health check
	router.GET("/health", deps.HealthHandler.Check)
	// Metrics
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	requireAuth := middleware.Auth(deps.Tokens, deps.Log, deps.Metrics)

	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", deps.AuthHandler.Login)
		auth.POST("/register", deps.AuthHandler.Register)
		auth.POST("/logout", requireAuth, deps.AuthHandler.Logout)
		auth.POST("/validate", deps.AuthHandler.Validate)
	}

	profile := router.Group("/api/v1/profile", requireAuth)
	{
		profile.GET("", deps.ProfileHandler.GetProfile)
		profile.POST("", deps.ProfileHandler.UpdateProfile)
	}

	// npm client compatibility
	router.PUT("/-/user/:id", deps.AuthHandler.NpmAddUser)

	npm := router.Group("/-/npm/v1/user", requireAuth)
	{
		npm.GET("", deps.ProfileHandler.GetProfile)
		npm.POST("", deps.ProfileHandler.UpdateProfile)
	}
}
