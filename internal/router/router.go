// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/handlers"
	"github.com/chanvault/chanvault-backend/internal/middleware"
	"github.com/chanvault/chanvault-backend/internal/services"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, *services.TimerService) {
	// Initialize services
	notificationService := services.NewNotificationService(db, cfg)
	storageService := services.NewStorageService(cfg)
	dealService := services.NewDealService(db, cfg, notificationService)
	timerService := services.NewTimerService(db, cfg, dealService)
	paymentService := services.NewPaymentService(db, cfg, dealService)
	cryptoPayService := services.NewCryptoPayService(db, cfg, dealService)
	listingService := services.NewListingService(db)
	adminService := services.NewAdminService(db)

	// Initialize handlers
	dealHandler := handlers.NewDealHandler(dealService, storageService)
	paymentHandler := handlers.NewPaymentHandler(paymentService, cryptoPayService)
	webhookHandler := handlers.NewWebhookHandler(paymentService, cryptoPayService)
	listingHandler := handlers.NewListingHandler(listingService)
	adminHandler := handlers.NewAdminHandler(adminService, dealService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(db))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Gateway callbacks, authenticated by signature rather than JWT.
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/stripe", webhookHandler.StripeWebhook)
			webhooks.POST("/crypto", webhookHandler.CryptoWebhook)
		}

		// Listing routes
		listings := v1.Group("/listings")
		{
			listings.GET("", listingHandler.ListListings)
			listings.GET("/:id", listingHandler.GetListing)
			listings.POST("", middleware.AuthRequired(), listingHandler.CreateListing)
		}

		// Deal routes
		deals := v1.Group("/deals")
		deals.Use(middleware.AuthRequired())
		{
			deals.POST("", dealHandler.CreateDeal)
			deals.GET("", dealHandler.ListDeals)
			deals.GET("/:id", dealHandler.GetDeal)

			// Workflow transitions
			deals.POST("/:id/agree", dealHandler.SellerAgree)
			deals.POST("/:id/access", dealHandler.GrantAccess)
			deals.POST("/:id/buyer-paid", dealHandler.MarkBuyerPaid)
			deals.POST("/:id/confirm-payment", dealHandler.ConfirmSellerPaid)

			// Escrow fee payments
			deals.POST("/:id/payments/card", paymentHandler.CreateCardPayment)
			deals.POST("/:id/payments/crypto", paymentHandler.CreateCryptoPayment)
			deals.GET("/:id/payments", paymentHandler.ListDealPayments)

			// Chat
			deals.POST("/:id/messages", dealHandler.PostMessage)
			deals.GET("/:id/messages", dealHandler.ListMessages)

			// Access evidence
			deals.POST("/:id/evidence", middleware.UploadRateLimit(), dealHandler.UploadEvidence)
			deals.GET("/:id/evidence", dealHandler.GetEvidenceURL)
		}

		// Payment reconciliation
		payments := v1.Group("/payments")
		payments.Use(middleware.AuthRequired())
		{
			payments.POST("/:id/reconcile", paymentHandler.ReconcilePayment)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.GET("/dashboard", adminHandler.GetDashboard)
			admin.GET("/deals", adminHandler.ListDeals)
			admin.GET("/deals/:id", adminHandler.GetDeal)
			admin.POST("/deals/:id/promote", dealHandler.PromoteAgent)
			admin.GET("/settings", adminHandler.GetSettings)
			admin.PUT("/settings/:category/:key", adminHandler.UpdateSetting)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	return r, timerService
}
