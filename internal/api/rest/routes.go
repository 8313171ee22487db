package rest

import (
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers собирает все HTTP обработчики сервиса
type Handlers struct {
	Health       *handlers.HealthHandler
	Plan         *handlers.PlanHandler
	Subscription *handlers.SubscriptionHandler
	Usage        *handlers.UsageHandler
	Webhook      *handlers.WebhookHandler
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	log *logger.Logger,
	registry *prometheus.Registry,
	h Handlers,
	auth *middleware.JWTMiddleware,
	tenant *middleware.TenantMiddleware,
) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", h.Health.Check)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		// Каталог планов доступен без аутентификации
		v1.GET("/plans", h.Plan.List)

		// Маршруты, требующие аутентификации и контекста организации
		protected := v1.Group("")
		protected.Use(auth.RequireAuth())
		protected.Use(tenant.ResolveTenant())
		{
			protected.GET("/tenant", func(c *gin.Context) {
				desc, ok := middleware.TenantFromContext(c)
				if !ok {
					c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"tenant": desc})
			})

			subscription := protected.Group("/subscription")
			{
				subscription.GET("", h.Subscription.Get)
				subscription.PUT("/plan", h.Subscription.ChangePlan)
				subscription.POST("/cancel", h.Subscription.Cancel)
				subscription.POST("/reactivate", h.Subscription.Reactivate)
				subscription.GET("/history", h.Subscription.BillingHistory)
				subscription.GET("/plan-changes", h.Subscription.PlanChanges)
			}

			usage := protected.Group("/usage")
			{
				usage.GET("", h.Usage.Summary)
				usage.POST("/check", h.Usage.Check)
				usage.POST("/track", h.Usage.Track)
				usage.POST("/release", h.Usage.Release)
			}
		}

		// Платежные маршруты проверяют только членство: организация
		// с неактивной подпиской должна иметь возможность оплатить
		billing := v1.Group("")
		billing.Use(auth.RequireAuth())
		billing.Use(tenant.ResolveMembership())
		{
			billing.POST("/subscribe", h.Subscription.Subscribe)
			billing.POST("/create-checkout-session", h.Subscription.CreateCheckoutSession)
			billing.POST("/portal", h.Subscription.CreatePortalSession)
			billing.GET("/invoices", h.Subscription.ListInvoices)
		}
	}

	// Вебхуки на корневом уровне роутера
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", h.Webhook.HandleStripe)
	}

	return r
}
