package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// maxWebhookBodyBytes ограничивает размер тела вебхука
const maxWebhookBodyBytes = 65536

// WebhookHandler обрабатывает вебхуки платежной системы
type WebhookHandler struct {
	webhooks service.WebhookService
	timeout  time.Duration
	log      *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков.
// Обработка события ограничена таймаутом: он длиннее таймаута
// синхронных вызовов, так как применение события пишет в несколько хранилищ.
func NewWebhookHandler(webhooks service.WebhookService, timeout time.Duration, log *logger.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookHandler{webhooks: webhooks, timeout: timeout, log: log}
}

// HandleStripe принимает и обрабатывает событие Stripe.
// Ответ 5xx заставляет Stripe повторить доставку, поэтому ошибки
// проверки подписи возвращают 400, а дубликаты и устаревшие
// события подтверждаются как успешные.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn("Failed to read webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing Stripe-Signature header"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.webhooks.ProcessWebhook(ctx, payload, sigHeader); err != nil {
		if errors.Is(err, domain.ErrWebhookVerificationFailed) {
			h.log.Warn("Webhook signature verification failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook signature"})
			return
		}
		h.log.Error("Webhook processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
