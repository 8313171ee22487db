package stripe

import (
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// Ключи метаданных для связи объектов Stripe с нашими сущностями
	metadataOrganizationIDKey = "organization_id"
	metadataPlanKey           = "plan"
	metadataIntervalKey       = "interval"
)

// Config конфигурация для шлюза Stripe
type Config struct {
	APIKey          string
	WebhookSecret   string
	CallTimeout     time.Duration
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Gateway реализует операции с биллингом через Stripe SDK
type Gateway struct {
	client        *client.API
	webhookSecret string
	callTimeout   time.Duration
	successURL    string
	cancelURL     string
	portalURL     string
	log           *logger.Logger

	// Кеш соответствия план+интервал -> Stripe Price ID
	priceMu    sync.Mutex
	priceCache map[string]string
}

// NewGateway создает новый экземпляр шлюза Stripe
func NewGateway(cfg Config, log *logger.Logger) (*Gateway, error) {
	if cfg.APIKey == "" {
		log.Errorw("Stripe API key is not configured")
		return nil, errors.New("stripe api key is not configured")
	}

	sc := &client.API{}
	sc.Init(cfg.APIKey, nil)

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}

	return &Gateway{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		callTimeout:   callTimeout,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		portalURL:     cfg.PortalReturnURL,
		log:           log,
		priceCache:    make(map[string]string),
	}, nil
}

// logStripeError вспомогательная функция для логирования деталей ошибки Stripe
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
