package req

import (
	"net/http"

	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/Dhoini/Entitlement-microservice/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// IsValid валидирует структуру типа T.
func IsValid[T any](payload T) error {
	return validate.Struct(payload)
}

// HandleBody декодирует и валидирует тело запроса.
// При ошибке ответ уже записан, вызывающему достаточно прервать обработку.
func HandleBody[T any](c *gin.Context, log *logger.Logger) (*T, error) {
	var payload T
	if err := c.ShouldBindJSON(&payload); err != nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{
			Error:     "Invalid request body",
			ErrorCode: http.StatusUnprocessableEntity,
		}, http.StatusUnprocessableEntity, log)
		return nil, err
	}

	if err := IsValid(payload); err != nil {
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{
			Error:     "Invalid request data",
			ErrorCode: http.StatusUnprocessableEntity,
			Details:   err.Error(),
		}, http.StatusUnprocessableEntity, log)
		return nil, err
	}

	return &payload, nil
}
