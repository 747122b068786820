package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/reelsmith/reelsmith-backend/internal/handlers"
	"github.com/reelsmith/reelsmith-backend/internal/middleware"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
)

type RouterConfig struct {
	Mode           string
	AllowOrigins   []string
	AuthMiddleware *middleware.AuthMiddleware
	JobHandler     *handlers.JobHandler
	AssetHandler   *handlers.AssetHandler
	PresetHandler  *handlers.PresetHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("reelsmith-api"))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/metrics", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.Status(http.StatusOK)
		_ = observability.GetMetrics().WritePrometheus(c.Writer)
	})

	// Downloads accept either the API key or a job-scoped token.
	downloads := router.Group("/api/v2/jobs/:id")
	downloads.Use(cfg.AuthMiddleware.RequireDownloadAccess())
	downloads.GET("/download", cfg.JobHandler.DownloadOutput)
	downloads.GET("/thumbnail", cfg.JobHandler.DownloadThumbnail)
	downloads.GET("/captions", cfg.JobHandler.DownloadCaptions)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api/v2")
	api.Use(cfg.AuthMiddleware.RequireAPIKey())
	// Jobs
	api.POST("/jobs", cfg.JobHandler.CreateJob)
	api.GET("/jobs", cfg.JobHandler.ListJobs)
	api.GET("/jobs/:id", cfg.JobHandler.GetJob)
	api.GET("/jobs/:id/scene-graph", cfg.JobHandler.GetSceneGraph)
	api.GET("/jobs/:id/timeline", cfg.JobHandler.GetTimeline)
	api.POST("/jobs/:id/download-token", cfg.JobHandler.CreateDownloadToken)
	api.POST("/scene-graph/validate", cfg.JobHandler.ValidateSceneGraph)
	// Assets
	api.POST("/assets", cfg.AssetHandler.UploadAsset)
	// Presets
	api.GET("/presets", cfg.PresetHandler.ListPresets)
	api.GET("/presets/:id", cfg.PresetHandler.GetPreset)

	return router
}
