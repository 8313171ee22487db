package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrAuthenticationRequired пользователь не аутентифицирован
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrOrganizationContextMissing не указан идентификатор организации
	ErrOrganizationContextMissing = errors.New("organization context missing")

	// ErrOrganizationNotFound организация не найдена
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrNotAMember пользователь не является участником организации
	ErrNotAMember = errors.New("not a member of organization")

	// ErrAlreadySubscribed активная подписка уже существует
	ErrAlreadySubscribed = errors.New("organization already has an active subscription")

	// ErrInvalidPeriod неверные границы расчетного периода
	ErrInvalidPeriod = errors.New("invalid billing period")

	// ErrInvalidOperation неверная операция
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrWebhookVerificationFailed не удалось проверить подпись вебхука
	ErrWebhookVerificationFailed = errors.New("webhook verification failed")

	// ErrUnknownPlan неизвестный тарифный план (ошибка конфигурации)
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrForbidden доступ запрещен
	ErrForbidden = errors.New("forbidden")

	// ErrLimitExceeded превышен лимит ресурса
	ErrLimitExceeded = errors.New("resource limit exceeded")

	// ErrSubscriptionInactive подписка неактивна, требуется оплата
	ErrSubscriptionInactive = errors.New("subscription inactive")

	// ErrUsageExceedsTargetPlan использование превышает лимиты целевого плана
	ErrUsageExceedsTargetPlan = errors.New("usage exceeds target plan limits")
)

// SubscriptionInactiveError подписка неактивна (эквивалент 402)
type SubscriptionInactiveError struct {
	OrgID              string
	Status             SubscriptionStatus
	RemainingTrialDays int
}

// Error реализует интерфейс error
func (e *SubscriptionInactiveError) Error() string {
	return fmt.Sprintf("subscription inactive for organization %s (status: %s)", e.OrgID, e.Status)
}

// Is проверяет, является ли ошибка ошибкой неактивной подписки
func (e *SubscriptionInactiveError) Is(target error) bool {
	return target == ErrSubscriptionInactive
}

// ForbiddenError доступ запрещен по роли или разрешению
type ForbiddenError struct {
	RequiredRoles []Role
	CurrentRole   Role
	Permission    string
}

// Error реализует интерфейс error
func (e *ForbiddenError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("forbidden: missing permission %q", e.Permission)
	}
	return fmt.Sprintf("forbidden: role %s is not one of %v", e.CurrentRole, e.RequiredRoles)
}

// Is проверяет, является ли ошибка ошибкой запрета доступа
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// LimitExceededError превышен лимит ресурса тарифного плана
type LimitExceededError struct {
	Resource    Resource
	Limit       int64
	Current     int64
	UpgradeHint string
}

// Error реализует интерфейс error
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded for %s: %d of %d used", e.Resource, e.Current, e.Limit)
}

// Is проверяет, является ли ошибка ошибкой превышения лимита
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// UsageExceedsTargetPlanError использование превышает лимиты целевого плана при даунгрейде
type UsageExceedsTargetPlanError struct {
	Dimension Resource
	Current   int64
	Limit     int64
}

// Error реализует интерфейс error
func (e *UsageExceedsTargetPlanError) Error() string {
	return fmt.Sprintf("cannot downgrade: %s usage %d exceeds target plan limit %d", e.Dimension, e.Current, e.Limit)
}

// Is проверяет, является ли ошибка ошибкой превышения лимитов целевого плана
func (e *UsageExceedsTargetPlanError) Is(target error) bool {
	return target == ErrUsageExceedsTargetPlan
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
