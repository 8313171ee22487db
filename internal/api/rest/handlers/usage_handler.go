package handlers

import (
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/internal/api/rest/middleware"
	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/Dhoini/Entitlement-microservice/pkg/req"
	"github.com/gin-gonic/gin"
)

// UsageHandler обрабатывает запросы использования ресурсов организации
type UsageHandler struct {
	usage service.UsageService
	log   *logger.Logger
}

// NewUsageHandler создает новый обработчик использования ресурсов
func NewUsageHandler(usage service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, log: log}
}

// Summary возвращает сводку использования по всем ресурсам тарифного плана
func (h *UsageHandler) Summary(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":  desc.Plan,
		"usage": h.usage.Summary(desc),
	})
}

// checkUsageRequest запрос на проверку или изменение счетчика ресурса
type checkUsageRequest struct {
	Resource domain.Resource `json:"resource" validate:"required"`
	Delta    int64           `json:"delta"`
}

// Check выполняет мягкую проверку лимита без изменения счетчиков
func (h *UsageHandler) Check(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}

	body, err := req.HandleBody[checkUsageRequest](c, h.log)
	if err != nil {
		return
	}
	if body.Delta <= 0 {
		body.Delta = 1
	}

	if err := h.usage.CheckUsage(desc, body.Resource, body.Delta); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"allowed": true})
}

// Track атомарно проверяет лимит и увеличивает счетчик ресурса
func (h *UsageHandler) Track(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}

	body, err := req.HandleBody[checkUsageRequest](c, h.log)
	if err != nil {
		return
	}
	if body.Delta <= 0 {
		body.Delta = 1
	}

	if err := h.usage.TrackUsage(c.Request.Context(), desc, body.Resource, body.Delta); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tracked": true})
}

// Release уменьшает счетчик при освобождении ресурса
func (h *UsageHandler) Release(c *gin.Context) {
	desc, ok := middleware.TenantFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant context missing"})
		return
	}

	body, err := req.HandleBody[checkUsageRequest](c, h.log)
	if err != nil {
		return
	}
	if body.Delta <= 0 {
		body.Delta = 1
	}

	if err := h.usage.ReleaseUsage(c.Request.Context(), desc.OrgID, body.Resource, body.Delta); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": true})
}
