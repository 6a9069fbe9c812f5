package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/syncstack/airsync/api/handlers"
	"github.com/syncstack/airsync/api/middleware"
	"github.com/syncstack/airsync/internal/repository"
	"github.com/syncstack/airsync/internal/tracing"
	"github.com/syncstack/airsync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-AIRSYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", handlers.ListAccounts(repos.AccountRepository))
			accounts.POST("", handlers.AddAccount(repos.AccountRepository, s))
			accounts.GET("/:id", handlers.GetAccount(repos.AccountRepository))
			accounts.DELETE("/:id", handlers.RemoveAccount(repos.AccountRepository, s))
			accounts.PUT("/:id/mode", handlers.SetSyncMode(repos.AccountRepository, s))
			accounts.POST("/:id/sync", handlers.TriggerSync(s))
			accounts.GET("/:id/folders", handlers.ListFolders(repos.FolderRepository))
		}
	}
}
