package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/soriano-club/clubapi/config"
	"github.com/soriano-club/clubapi/controllers"
	"github.com/soriano-club/clubapi/middleware"
	"github.com/soriano-club/clubapi/services"
	"github.com/soriano-club/clubapi/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, engine *services.Engine, revocations *utils.TokenRevocations) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file, at the application log level
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", utils.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", utils.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	loyalty := controllers.NewLoyaltyController(engine, utils.L().Named("http"))
	auth := middleware.AuthRequired(cfg.JWTSecret, revocations)
	limit := middleware.RateLimitMiddleware(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	api.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	member := api.Group("/loyalty", auth)
	member.GET("/summary", loyalty.Summary)
	member.GET("/ledger", loyalty.Ledger)
	member.GET("/quiz", loyalty.DailyQuiz)
	member.GET("/badges", loyalty.Badges)
	member.GET("/rewards", loyalty.Rewards)
	member.GET("/redemptions", loyalty.Redemptions)
	member.POST("/checkin", limit, loyalty.CheckIn)
	member.POST("/quiz", limit, loyalty.SubmitQuiz)
	member.POST("/rewards/:id/redeem", limit, loyalty.Redeem)

	internal := api.Group("/internal/loyalty", auth, middleware.AdminRequired(cfg.IsAdminRole))
	internal.POST("/earn", loyalty.Earn)
	internal.GET("/reconcile/:userId", loyalty.Reconcile)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
