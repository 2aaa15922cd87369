package res

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON shape returned for every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with the given status.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Error writes an ErrorResponse with the given status and aborts the chain.
func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// ErrorWithDetails writes an ErrorResponse carrying extra details
// (validation errors, for example).
func ErrorWithDetails(c *gin.Context, status int, msg string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Details: details})
}

// NoContent writes an empty 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
