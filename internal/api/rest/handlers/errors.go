package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// respondError преобразует доменные ошибки в HTTP-ответы
func respondError(c *gin.Context, log *logger.Logger, err error) {
	var (
		inactive *domain.SubscriptionInactiveError
		limit    *domain.LimitExceededError
		usage    *domain.UsageExceedsTargetPlanError
		notFound *domain.NotFoundError
	)

	switch {
	case errors.As(err, &inactive):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":                "Subscription inactive",
			"subscription_status":  string(inactive.Status),
			"remaining_trial_days": inactive.RemainingTrialDays,
		})
	case errors.As(err, &limit):
		c.JSON(http.StatusForbidden, gin.H{
			"error":       "Resource limit exceeded",
			"resource":    string(limit.Resource),
			"limit":       limit.Limit,
			"current":     limit.Current,
			"upgrade_url": limit.UpgradeHint,
		})
	case errors.As(err, &usage):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "Usage exceeds target plan limits",
			"dimension": string(usage.Dimension),
			"current":   usage.Current,
			"limit":     usage.Limit,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.Is(err, domain.ErrOrganizationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Organization not found"})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, domain.ErrAlreadySubscribed):
		c.JSON(http.StatusConflict, gin.H{"error": "Organization already has an active subscription"})
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, domain.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, domain.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown plan"})
	case errors.Is(err, domain.ErrInvalidOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid operation"})
	case errors.Is(err, repository.ErrInvalidData):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data in request"})
	default:
		log.Error("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
