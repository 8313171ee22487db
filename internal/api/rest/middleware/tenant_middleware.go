package middleware

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/Dhoini/Entitlement-microservice/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TenantMiddleware разрешает контекст арендатора для каждого запроса
type TenantMiddleware struct {
	tenants service.TenantService
	log     *logger.Logger
}

// NewTenantMiddleware создает новый middleware разрешения арендатора
func NewTenantMiddleware(tenants service.TenantService, log *logger.Logger) *TenantMiddleware {
	return &TenantMiddleware{
		tenants: tenants,
		log:     log,
	}
}

// ResolveTenant извлекает организацию из заголовка и собирает дескриптор арендатора.
// Запрос с неактивной подпиской получает структурированный 402.
func (m *TenantMiddleware) ResolveTenant() gin.HandlerFunc {
	return m.resolveWith(func(c *gin.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error) {
		return m.tenants.Resolve(c.Request.Context(), orgID, userID)
	})
}

// ResolveMembership собирает дескриптор без проверки активности подписки.
// Ставится на платежные маршруты: организация с истекшим пробным периодом
// должна попадать на оформление оплаты, а не в вечный 402.
func (m *TenantMiddleware) ResolveMembership() gin.HandlerFunc {
	return m.resolveWith(func(c *gin.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error) {
		return m.tenants.ResolveMember(c.Request.Context(), orgID, userID)
	})
}

func (m *TenantMiddleware) resolveWith(resolve func(c *gin.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			m.abort(c, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		orgHeader := c.GetHeader(OrganizationHeader)
		if orgHeader == "" {
			m.abort(c, http.StatusBadRequest, "Organization context missing", nil)
			return
		}
		orgID, err := uuid.Parse(orgHeader)
		if err != nil {
			m.abort(c, http.StatusBadRequest, "Invalid organization ID format", nil)
			return
		}

		desc, err := resolve(c, orgID, userID)
		if err != nil {
			m.handleResolveError(c, err)
			return
		}

		c.Set(string(ContextTenantKey), desc)
		c.Next()
	}
}

// handleResolveError преобразует ошибки разрешения арендатора в HTTP-статусы
func (m *TenantMiddleware) handleResolveError(c *gin.Context, err error) {
	var inactive *domain.SubscriptionInactiveError

	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		m.abort(c, http.StatusUnauthorized, "Authentication required", nil)
	case errors.Is(err, domain.ErrOrganizationContextMissing):
		m.abort(c, http.StatusBadRequest, "Organization context missing", nil)
	case errors.Is(err, domain.ErrOrganizationNotFound):
		m.abort(c, http.StatusNotFound, "Organization not found", nil)
	case errors.Is(err, domain.ErrNotAMember):
		m.abort(c, http.StatusForbidden, "Not a member of organization", nil)
	case errors.As(err, &inactive):
		m.abort(c, http.StatusPaymentRequired, "Subscription inactive", gin.H{
			"subscription_status":  string(inactive.Status),
			"remaining_trial_days": inactive.RemainingTrialDays,
		})
	default:
		m.log.Errorw("Failed to resolve tenant", "error", err, "path", c.Request.URL.Path)
		m.abort(c, http.StatusInternalServerError, "Failed to resolve organization context", nil)
	}
}

func (m *TenantMiddleware) abort(c *gin.Context, status int, message string, details any) {
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: status,
		Details:   details,
	}, status)
	c.Abort()
}

// TenantFromContext возвращает дескриптор арендатора из контекста Gin
func TenantFromContext(c *gin.Context) (*domain.TenantDescriptor, bool) {
	value, exists := c.Get(string(ContextTenantKey))
	if !exists {
		return nil, false
	}
	desc, ok := value.(*domain.TenantDescriptor)
	return desc, ok
}
