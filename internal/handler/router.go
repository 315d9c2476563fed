package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/coursemart-api/internal/middleware"
	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
	"github.com/noah-isme/coursemart-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/coursemart-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/coursemart-api/pkg/middleware/requestid"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditWriter
	WebhookLimiter *middleware.RateLimiter

	Auth      *AuthHandler
	Users     *UserHandler
	Me        *MeHandler
	Courses   *CourseHandler
	Payments  *PaymentHandler
	Admin     *AdminHandler
	Resources *ResourceHandler
	Health    *MetricsHandler
}

// NewRouter assembles the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.GET("/health", cfg.Health.Health)
	r.GET("/ready", cfg.Health.Ready)
	r.GET("/metrics", cfg.Health.Prometheus)
	r.GET("/files/:token", cfg.Resources.Serve)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authRequired := middleware.JWT(cfg.Tokens)

	auth := api.Group("/auth")
	auth.POST("/register", cfg.Auth.Register)
	auth.POST("/login", cfg.Auth.Login)
	auth.POST("/refresh", cfg.Auth.Refresh)
	auth.POST("/logout", authRequired, cfg.Auth.Logout)
	auth.POST("/change-password", authRequired, cfg.Auth.ChangePassword)
	auth.GET("/me", authRequired, cfg.Auth.Me)

	courses := api.Group("/courses")
	courses.GET("", cfg.Courses.List)
	courses.GET("/:id", cfg.Courses.Get)
	courses.GET("/:id/access", middleware.OptionalJWT(cfg.Tokens), cfg.Courses.Access)
	courses.GET("/:id/player", middleware.OptionalJWT(cfg.Tokens), cfg.Courses.Player)

	me := api.Group("/me", authRequired)
	me.GET("/profile", cfg.Me.Profile)
	me.PUT("/profile", cfg.Me.UpdateProfile)
	me.GET("/courses", cfg.Me.Courses)

	api.POST("/checkout", authRequired, cfg.Payments.StartCheckout)
	api.POST("/checkout/:ref/cancel", authRequired, cfg.Payments.CancelCheckout)
	api.POST("/payments/callback", authRequired, cfg.Payments.Callback)

	webhook := []gin.HandlerFunc{}
	if cfg.WebhookLimiter != nil {
		webhook = append(webhook, cfg.WebhookLimiter.Middleware())
	}
	api.POST("/webhooks/payments", append(webhook, cfg.Payments.Webhook)...)

	api.GET("/resources/:id/download", authRequired, cfg.Resources.DownloadLink)

	staff := api.Group("/admin", authRequired, middleware.RequireStaff())
	staff.POST("/courses", cfg.Courses.Create)
	staff.GET("/courses/:id", cfg.Courses.Manage)
	staff.PUT("/courses/:id", cfg.Courses.Update)
	staff.POST("/courses/:id/sections", cfg.Courses.AddSection)
	staff.POST("/courses/:id/sections/:sectionId/lessons", cfg.Courses.AddLesson)
	staff.DELETE("/courses/:id/lessons/:lessonId", cfg.Courses.DeleteLesson)
	staff.POST("/resources", cfg.Resources.Upload)
	staff.GET("/resources", cfg.Resources.List)
	staff.GET("/resources/:id", cfg.Resources.Get)
	staff.PUT("/resources/:id", cfg.Resources.Update)

	admin := api.Group("/admin", authRequired, middleware.RequireRoles(models.RoleAdmin, models.RoleSuperuser))
	admin.DELETE("/courses/:id", cfg.Courses.Delete)
	admin.DELETE("/resources/:id", cfg.Resources.Delete)
	admin.GET("/users", cfg.Users.List)
	admin.GET("/users/:id", cfg.Users.Get)
	admin.PUT("/users/:id", cfg.Users.Update)
	admin.DELETE("/users/:id", cfg.Users.Delete)
	admin.GET("/users/:id/entitlements", cfg.Admin.UserEntitlements)
	admin.DELETE("/users/:id/entitlements/:courseId", cfg.Admin.RevokeEntitlement)
	admin.POST("/entitlements", cfg.Admin.GrantEntitlement)
	admin.GET("/transactions", cfg.Admin.Transactions)
	admin.GET("/transactions/export",
		middleware.Audit(cfg.Audit, cfg.Logger, models.AuditActionTransactionExport, "transactions"),
		cfg.Admin.ExportTransactions)
	admin.GET("/metrics", cfg.Health.Snapshot)

	return r
}
