package router

import (
	"time"

	"restopos/internal/config"
	"restopos/internal/handler"
	"restopos/internal/infra"
	"restopos/internal/middleware"
	"restopos/internal/model"
	"restopos/internal/repository"
	"restopos/internal/service"
	"restopos/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, mailer *infra.Mailer) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins, cfg.IsProduction()))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.NewRedisRateLimiter(rdb, "api", 1000, time.Minute).Middleware()) // 1000 req/min per IP

	// ── Repositories ─────────────────────────────────────────────────────────
	operatorRepo := repository.NewOperatorRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(operatorRepo, cfg)
	cashierSvc := service.NewCashierService(sessionRepo, newLocker(cfg, rdb), worker.NewDispatcher(rdb), cfg)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(authSvc)
	operatorsH := handler.NewOperatorsHandler(authSvc)
	cashierH := handler.NewCashierHandler(cashierSvc)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, mailer))

	// Auth (public)
	loginLimiter := middleware.NewRateLimiter("login", 20, time.Minute)
	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", loginLimiter.Middleware(), authH.Login)
		auth.POST("/refresh", authH.Refresh)
	}

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		anyRole := middleware.RequireRole(model.RoleCashier, model.RoleSupervisor, model.RoleAdmin)
		managers := middleware.RequireRole(model.RoleSupervisor, model.RoleAdmin)

		cashier := v1.Group("/cashier")
		{
			cashier.POST("/open", anyRole, cashierH.Open)
			cashier.GET("/active", anyRole, cashierH.GetActive)
			cashier.GET("/history", managers, cashierH.History)
			cashier.GET("/closings.xlsx", managers, cashierH.ExportClosings)
			cashier.GET("/:id", anyRole, cashierH.GetSession)
			cashier.POST("/:id/movements", anyRole, cashierH.RecordMovement)
			cashier.POST("/:id/sales", anyRole, cashierH.RegisterSale)
			cashier.POST("/:id/sales/:sale_id/payment", anyRole, cashierH.FinalizePayment)
			cashier.POST("/:id/sales/:sale_id/cancel", anyRole, cashierH.CancelSale)
			cashier.POST("/:id/close", anyRole, cashierH.Close)
		}

		operators := v1.Group("/operators", middleware.RequireRole(model.RoleAdmin))
		{
			operators.POST("", operatorsH.Create)
			operators.GET("", operatorsH.List)
		}
	}

	// Swagger UI, only outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}

func newLocker(cfg *config.Config, rdb *redis.Client) service.Locker {
	if cfg.LockBackend == "local" {
		log.Warn().Msg("router: in-process session locks, run a single API instance")
		return infra.NewLocalLocker()
	}
	return infra.NewRedisLocker(rdb, time.Duration(cfg.LockTTLSeconds)*time.Second)
}
