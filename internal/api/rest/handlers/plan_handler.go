package handlers

import (
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/internal/plans"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// PlanHandler обрабатывает запросы каталога тарифных планов
type PlanHandler struct {
	log *logger.Logger
}

// NewPlanHandler создает новый обработчик каталога планов
func NewPlanHandler(log *logger.Logger) *PlanHandler {
	return &PlanHandler{log: log}
}

// List возвращает все тарифные планы в порядке возрастания ранга
func (h *PlanHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": plans.All()})
}
