package req

import (
	"net/http"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// HandleBody decodes the request body into T and validates it. On failure it
// writes the error response itself and returns nil.
func HandleBody[T any](c *gin.Context, log *logger.Logger) *T {
	var payload T
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warnw("Failed to decode request body", "error", err, "path", c.FullPath())
		res.Error(c, http.StatusUnprocessableEntity, "invalid request body")
		return nil
	}

	if err := validate.Struct(payload); err != nil {
		log.Warnw("Request body validation failed", "error", err, "path", c.FullPath())
		res.ErrorWithDetails(c, http.StatusUnprocessableEntity, "invalid request data", err.Error())
		return nil
	}

	return &payload
}
