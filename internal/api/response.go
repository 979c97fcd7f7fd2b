package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// writeData answers with the success envelope: the fields of data plus
// success, an optional message and the trace id.
func writeData(c *gin.Context, status int, message string, data gin.H) {
	body := gin.H{
		"success":  true,
		"trace_id": traceIDFromContext(c),
	}
	if message != "" {
		body["message"] = message
	}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":    message,
		"code":     code,
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
}

func writeInternal(c *gin.Context, message string) {
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
