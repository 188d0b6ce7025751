package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"enom_tracker/middleware"
	"enom_tracker/services"
)

// statusForKind соответствие вида ошибки сервиса коду HTTP
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindPermissionDenied:
		return http.StatusForbidden
	case services.KindInvalidTransition, services.KindConflict:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError отвечает типизированной ошибкой сервиса или 500
func respondError(c *gin.Context, err error) {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		c.JSON(statusForKind(svcErr.Kind), gin.H{
			"status": "error",
			"kind":   svcErr.Kind,
			"error":  svcErr.Error(),
		})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Внутренняя ошибка сервера"})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

func respondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": message})
}

// parseID разбирает параметр пути; при ошибке ответ уже отправлен
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Неверный ID")
		return 0, false
	}
	return uint(id), true
}

// currentActor действующее лицо из токена; при отсутствии ответ уже отправлен
func currentActor(c *gin.Context) (services.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "Authentication required"})
		return services.Actor{}, false
	}
	return actor, true
}
