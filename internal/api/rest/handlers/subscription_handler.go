package handlers

import (
	"net/http"
	"strconv"

	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// управлять подпиской могут только владелец и администратор организации
var billingRoles = []domain.Role{domain.RoleOwner, domain.RoleAdmin}

// SubscriptionHandler обрабатывает запросы управления подпиской организации
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
	usage         service.UsageService
	log           *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(subscriptions service.SubscriptionService, usage service.UsageService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		usage:         usage,
		log:           log,
	}
}

// Get возвращает текущую подписку организации
func (h *SubscriptionHandler) Get(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}

	sub, err := h.subscriptions.Get(c.Request.Context(), desc.OrgID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Subscribe оформляет новую подписку для организации
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	var req domain.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	sub, err := h.subscriptions.Subscribe(c.Request.Context(), desc.OrgID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("Subscription created for organization %s (plan: %s)", desc.OrgID, req.Plan)
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// ChangePlan меняет тарифный план подписки и возвращает расчет пропорциональной корректировки
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	var req domain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	sub, proration, err := h.subscriptions.ChangePlan(c.Request.Context(), desc.OrgID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("Plan changed for organization %s (new plan: %s)", desc.OrgID, req.Plan)
	c.JSON(http.StatusOK, gin.H{
		"subscription": sub,
		"proration":    proration,
	})
}

// Cancel отменяет подписку немедленно или в конце расчетного периода
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	var req domain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	sub, err := h.subscriptions.Cancel(c.Request.Context(), desc.OrgID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("Subscription canceled for organization %s (immediate: %v)", desc.OrgID, req.Immediate)
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Reactivate снимает отложенную отмену подписки
func (h *SubscriptionHandler) Reactivate(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	sub, err := h.subscriptions.Reactivate(c.Request.Context(), desc.OrgID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("Subscription reactivated for organization %s", desc.OrgID)
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// CreateCheckoutSession создает сессию оплаты и возвращает URL для редиректа
func (h *SubscriptionHandler) CreateCheckoutSession(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	var req domain.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	url, err := h.subscriptions.CreateCheckoutSession(c.Request.Context(), desc.OrgID, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout_url": url})
}

// CreatePortalSession создает сессию личного кабинета оплаты
func (h *SubscriptionHandler) CreatePortalSession(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	url, err := h.subscriptions.CreatePortalSession(c.Request.Context(), desc.OrgID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"portal_url": url})
}

// ListInvoices возвращает счета организации из платежной системы
func (h *SubscriptionHandler) ListInvoices(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	limit := queryInt(c, "limit", 20)
	invoices, err := h.subscriptions.ListInvoices(c.Request.Context(), desc.OrgID, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// BillingHistory возвращает журнал биллинговых событий организации
func (h *SubscriptionHandler) BillingHistory(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, err := h.subscriptions.BillingHistory(c.Request.Context(), desc.OrgID, limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// PlanChanges возвращает историю смен тарифного плана
func (h *SubscriptionHandler) PlanChanges(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}
	if err := h.usage.RequireRole(desc, billingRoles...); err != nil {
		respondError(c, h.log, err)
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, err := h.subscriptions.PlanChanges(c.Request.Context(), desc.OrgID, limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// queryInt читает целочисленный query-параметр со значением по умолчанию
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
