package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/doc_gen_server/config"
	"github.com/qs3c/doc_gen_server/internal/api/handler"
	"github.com/qs3c/doc_gen_server/internal/api/middleware"
)

type Router struct {
	analysisHandler  *handler.AnalysisHandler
	uploadHandler    *handler.UploadHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	cfg              *config.Config
}

func NewRouter(
	analysisHandler *handler.AnalysisHandler,
	uploadHandler *handler.UploadHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		analysisHandler:  analysisHandler,
		uploadHandler:    uploadHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/health", r.healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(r.cfg.RateLimit)

	api := engine.Group("/api/analysis")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 提交接口限流
		submit := api.Group("")
		submit.Use(middleware.RateLimit(limiter))
		{
			submit.POST("/github", r.analysisHandler.SubmitGithub)
			submit.POST("/upload", r.uploadHandler.Submit)
		}

		api.GET("/status/:id", r.analysisHandler.Status)
		api.GET("/results/:id", r.analysisHandler.Results)
		api.GET("/results/:id/documents/*name", r.analysisHandler.Document)
		api.GET("/list", r.analysisHandler.List)
		api.GET("/history", r.analysisHandler.History)
		api.POST("/:id/cancel", r.analysisHandler.Cancel)
		api.DELETE("/cleanup", r.analysisHandler.Cleanup)
	}

	return engine
}
