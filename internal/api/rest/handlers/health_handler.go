package handlers

import (
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// HealthHandler обрабатывает запросы проверки работоспособности сервиса
type HealthHandler struct {
	log *logger.Logger
}

// NewHealthHandler создает новый обработчик проверки работоспособности
func NewHealthHandler(log *logger.Logger) *HealthHandler {
	return &HealthHandler{log: log}
}

// Check возвращает текущее состояние сервиса
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "entitlement-microservice",
	})
}
