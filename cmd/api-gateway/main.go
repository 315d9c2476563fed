package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/coursemart-api/api/swagger"
	"github.com/noah-isme/coursemart-api/internal/handler"
	"github.com/noah-isme/coursemart-api/internal/middleware"
	"github.com/noah-isme/coursemart-api/internal/repository"
	"github.com/noah-isme/coursemart-api/internal/service"
	"github.com/noah-isme/coursemart-api/pkg/cache"
	"github.com/noah-isme/coursemart-api/pkg/config"
	"github.com/noah-isme/coursemart-api/pkg/database"
	"github.com/noah-isme/coursemart-api/pkg/jobs"
	"github.com/noah-isme/coursemart-api/pkg/logger"
	"github.com/noah-isme/coursemart-api/pkg/payment"
	"github.com/noah-isme/coursemart-api/pkg/sanitize"
	"github.com/noah-isme/coursemart-api/pkg/storage"
)

// @title CourseMart API
// @version 1.0.0
// @description Course catalog, checkout and entitlement service.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const replayBatch = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.MigrateUp(cfg.Database.URL()); err != nil {
		logr.Fatal("migrations failed", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	files, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		logr.Fatal("storage unavailable", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	resolver := storage.NewURLResolver(signer, cfg.PublicURL)

	validate := validator.New()
	sanitizer := sanitize.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	entitlements := repository.NewEntitlementRepository(db)
	checkouts := repository.NewCheckoutRepository(db)
	purchases := repository.NewPurchaseRepository(db)
	events := repository.NewPaymentEventRepository(db)
	transactions := repository.NewTransactionRepository(db)
	resources := repository.NewResourceRepository(db)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Catalog.CacheTTL, logr)

	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(users, validate, sanitizer, logr)
	courseSvc := service.NewCourseService(courses, users, cacheSvc, validate, sanitizer, logr, cfg.Catalog.DefaultCurrency)
	accessSvc := service.NewAccessService(courses, entitlements, resolver, metrics, logr)
	checkoutSvc := service.NewCheckoutService(checkouts, courses, users, entitlements, validate, logr, service.CheckoutConfig{
		PublicKey:       cfg.Payment.PublicKey,
		RedirectURL:     cfg.Payment.RedirectURL,
		DefaultCurrency: cfg.Catalog.DefaultCurrency,
	})

	var purchaseSvc *service.PurchaseService
	purchaseCfg := service.PurchaseConfig{DefaultCurrency: cfg.Catalog.DefaultCurrency}
	if cfg.Payment.VerifyRemote {
		gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout, nil)
		purchaseSvc = service.NewPurchaseService(purchases, checkouts, courses, gateway, validate, metrics, logr, purchaseCfg)
	} else {
		purchaseSvc = service.NewPurchaseService(purchases, checkouts, courses, nil, validate, metrics, logr, purchaseCfg)
	}

	verifier := payment.NewVerifier(cfg.Payment.SecretHash, cfg.Payment.SigningSecret)
	eventSvc := service.NewPaymentEventService(events, purchaseSvc, verifier, metrics, logr)

	queue := jobs.NewQueue("payment-events", eventSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Purchases.Workers,
		MaxRetries: cfg.Purchases.MaxRetries,
		RetryDelay: cfg.Purchases.RetryDelay,
		Logger:     logr,
		DeadLetter: eventSvc.DeadLetter,
	})
	eventSvc.AttachQueue(queue)
	metrics.TrackQueue(queue.Depth)

	entitlementSvc := service.NewEntitlementService(entitlements, purchases, users, courses, users, validate, logr, cfg.Catalog.DefaultCurrency)
	transactionSvc := service.NewTransactionService(transactions, logr)
	resourceSvc := service.NewResourceService(resources, files, resolver, signer, accessSvc, users, validate, sanitizer, logr, service.ResourceConfig{
		MaxFileSize:  cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Storage.AllowedMIMEs,
	})

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RatePerMinute: cfg.Webhook.RatePerMinute,
		Burst:         cfg.Webhook.Burst,
	}, logr)
	defer limiter.Stop()

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Metrics:        metrics,
		Tokens:         authSvc,
		Audit:          users,
		WebhookLimiter: limiter,
		Auth:           handler.NewAuthHandler(authSvc),
		Users:          handler.NewUserHandler(userSvc),
		Me:             handler.NewMeHandler(userSvc, entitlementSvc),
		Courses:        handler.NewCourseHandler(courseSvc, accessSvc),
		Payments:       handler.NewPaymentHandler(checkoutSvc, eventSvc, logr),
		Admin:          handler.NewAdminHandler(transactionSvc, entitlementSvc),
		Resources:      handler.NewResourceHandler(resourceSvc),
		Health:         handler.NewMetricsHandler(metrics, db),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	if cfg.Purchases.ReplayOnStart {
		queued, err := eventSvc.EnqueuePending(ctx, replayBatch)
		if err != nil {
			logr.Warn("replay of pending payment events failed", zap.Error(err))
		} else if queued > 0 {
			logr.Info("replaying pending payment events", zap.Int("count", queued))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	queue.Stop()
}
