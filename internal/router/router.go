package router

import (
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/handler"
	"github.com/stemsi/quizjourney/internal/middleware"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/response"
	"github.com/stemsi/quizjourney/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Progress *handler.ProgressHandler
	WS       *handler.WSHandler
	Monitor  *handler.MonitorHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	authLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli(brotli.DefaultCompression, middleware.DefaultBrotliMinLength))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/anonymous", authLimiter.Middleware(), handlers.Auth.Anonymous)
		auth.POST("/register", authLimiter.Middleware(), handlers.Auth.Register)
		auth.POST("/login", authLimiter.Middleware(), handlers.Auth.Login)
		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Progress Group (JWT, anonymous or registered) ──────────────
	progressAPI := router.Group("/api/v1/progress/:assignment_id")
	progressAPI.Use(middleware.RequireJWT(authService))
	{
		progressAPI.POST("/start", handlers.Progress.StartAttempt)
		progressAPI.POST("/questions/:question_id/start", handlers.Progress.QuestionStart)
		progressAPI.POST("/questions/:question_id/answer", handlers.Progress.QuestionAnswer)
		progressAPI.GET("/questions/:question_id/time", handlers.Progress.GetQuestionTime)
		progressAPI.POST("/navigate", handlers.Progress.Navigate)
		progressAPI.POST("/complete", handlers.Progress.Complete)
		progressAPI.GET("/stats", handlers.Progress.GetStats)
		progressAPI.POST("/save", handlers.Progress.Save)
		progressAPI.GET("/history", handlers.Progress.GetHistory)
		progressAPI.DELETE("", handlers.Progress.Release)
	}

	// ─── 3. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/progress/:assignment_id/stream", handlers.WS.ProgressStream)
	}

	// ─── 4. Admin Group (JWT + org admin) ──────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleOrgAdmin),
	)
	{
		adminAPI.GET("/assignments/:assignment_id/progress", handlers.Monitor.ListAssignmentProgress)
		adminAPI.GET("/assignments/:assignment_id/monitor", handlers.Monitor.MonitorAssignmentSSE)
	}

	return router
}
