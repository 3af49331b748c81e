package router

import (
	"context"
	"time"

	"paybridge/config"
	"paybridge/internal/domain"
	"paybridge/internal/handler"
	"paybridge/internal/middleware"
	"paybridge/internal/repository"
	"paybridge/internal/service"
	"paybridge/internal/ws"
	"paybridge/pkg/cloudinary"
	"paybridge/pkg/events"
	"paybridge/pkg/payment"
	"paybridge/pkg/throttle"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps carries the external clients built in main. Provider is required;
// every other field may be nil and the matching feature is then disabled or
// falls back to an in-process implementation.
type Deps struct {
	Provider    payment.Provider
	Cloud       cloudinary.Client
	Redis       redis.Cmdable
	Events      *events.Publisher
	Pusher      service.Pusher
	RateLimiter middleware.RateLimiter
}

// App is the wired HTTP engine plus the background sweeper main must start.
type App struct {
	Engine  *gin.Engine
	Sweeper *service.PollSweeper
	Hub     *ws.Hub
}

func Setup(cfg *config.Config, db *gorm.DB, deps Deps, log *zap.Logger) *App {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Skip gin.Logger() to reduce log noise; use gin.Default() if you need request logging
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, time.Minute)
	}
	// Provider callbacks come from a few fixed addresses and must always be
	// acknowledged, so only the client-facing routes are limited.
	rateMw := middleware.RateLimit(limiter, log.Named("ratelimit"))

	// Repositories
	paymentRepo := repository.NewPaymentRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	hub := ws.NewHub()

	var pollLimiter throttle.Limiter
	if deps.Redis != nil {
		pollLimiter = throttle.NewRedis(deps.Redis, "paybridge:poll:", cfg.Reconcile.PollMinInterval)
		log.Info("poll throttle backed by redis")
	} else {
		pollLimiter = throttle.NewMemory(cfg.Reconcile.PollMinInterval)
		log.Info("poll throttle in process: set REDIS_ADDR to share it across replicas")
	}

	// Services
	audit := service.NewAuditTrail(auditRepo, log)
	notifSvc := service.NewNotificationService(notificationRepo, deps.Pusher, log)
	var store service.ReceiptStore
	if deps.Cloud != nil {
		store = deps.Cloud
	}
	settlementSvc := service.NewSettlementService(paymentRepo, bookingRepo, store, cfg.Cloudinary.Folder, notifSvc, audit, log)
	reconSvc := service.NewReconciliationService(paymentRepo, audit, deps.Provider, pollLimiter, settlementSvc, log,
		service.WithEvents(deps.Events),
		service.WithBroadcaster(hub),
		service.WithEffectsTimeout(cfg.Reconcile.EffectsTimeout))
	initiationSvc := service.NewInitiationService(paymentRepo, bookingRepo, deps.Provider, audit, log)
	sweeper := service.NewPollSweeper(paymentRepo, reconSvc, cfg.Reconcile.SweepInterval, cfg.Reconcile.SweepAge, cfg.Reconcile.SweepBatch, log)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(initiationSvc, reconSvc, log)
	mpesaWebhookHandler := handler.NewMpesaWebhookHandler(reconSvc, log)
	notificationHandler := handler.NewNotificationHandler(notificationRepo)
	adminHandler := handler.NewAdminHandler(auditRepo)

	authMw := middleware.AuthRequired(&cfg.JWT)
	clientMw := middleware.RequireRole(domain.RoleService, domain.RoleAdmin)

	api := r.Group("/api/v1")
	{
		api.POST("/webhooks/mpesa", mpesaWebhookHandler.Handle)

		payments := api.Group("/payments")
		payments.Use(rateMw, authMw, clientMw)
		{
			payments.POST("", paymentHandler.Initiate)
			payments.GET("/:id", paymentHandler.Get)
			payments.GET("/by-checkout/:correlation_id", paymentHandler.GetByCheckout)
			payments.POST("/:id/effects/rerun", middleware.AdminRequired(), paymentHandler.RerunEffects)
		}
		bookings := api.Group("/bookings")
		bookings.Use(rateMw, authMw, clientMw)
		{
			bookings.GET("/:reference/payment", paymentHandler.GetByBooking)
			bookings.GET("/:reference/notifications", notificationHandler.ListByBooking)
		}
		admin := api.Group("/admin")
		admin.Use(rateMw, authMw, middleware.AdminRequired())
		{
			admin.GET("/audit/flagged", adminHandler.ListFlagged)
			admin.GET("/audit/:correlation_id", adminHandler.Trail)
		}
	}

	r.GET("/ws/payments/:id", rateMw, ws.UpgradePaymentWS(&cfg.JWT, hub, func(ctx context.Context, paymentID string) (interface{}, error) {
		proj, err := reconSvc.Status(ctx, service.StatusQuery{PaymentID: paymentID})
		if err != nil {
			return nil, err
		}
		return service.StatusEvent{Type: service.StatusEventType, Payment: proj}, nil
	}))

	return &App{Engine: r, Sweeper: sweeper, Hub: hub}
}
