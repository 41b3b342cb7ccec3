package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// statusFor maps an orchestration error to an HTTP status
func statusFor(err error) int {
	var e *models.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case models.KindValidation, models.KindInvalidCombination:
		return http.StatusBadRequest
	case models.KindPrecondition:
		return http.StatusConflict
	case models.KindFileMissing:
		return http.StatusNotFound
	case models.KindEngine:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var e *models.Error
	if errors.As(err, &e) {
		c.JSON(statusFor(err), gin.H{"error": e})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
}
