package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

func success(c *gin.Context, code int, data gin.H) {
	c.JSON(code, gin.H{
		"success": true,
		"data":    data,
	})
}

func failMsg(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   msg,
	})
}

// fail translates a fault (or plain error) into the HTTP envelope. Validation
// faults carry the per-field detail clients need to highlight corrections.
func fail(c *gin.Context, err error) {
	f, ok := model.AsFault(err)
	if !ok {
		failMsg(c, http.StatusInternalServerError, "internal error")
		return
	}

	body := gin.H{
		"success": false,
		"error":   f.Message,
		"kind":    f.Kind,
	}
	if f.Retryable {
		body["retryable"] = true
	}
	if len(f.Fields) > 0 {
		body["validationErrors"] = f.Fields
	}
	c.JSON(statusOf(f.Kind), body)
}

func statusOf(kind model.FaultKind) int {
	switch kind {
	case model.FaultNotFound:
		return http.StatusNotFound
	case model.FaultConflict, model.FaultAlreadyProcessed:
		return http.StatusConflict
	case model.FaultInvalidInput:
		return http.StatusBadRequest
	case model.FaultValidationFailed:
		return http.StatusUnprocessableEntity
	case model.FaultServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
