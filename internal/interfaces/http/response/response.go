package response

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	domainerrors "referral-tracker.backend/internal/domain/errors"
	"referral-tracker.backend/pkg/logger"
)

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error renders err as {"error": message}. Anything that is not an AppError
// becomes a 500 whose cause is logged but not sent.
func Error(c *gin.Context, err error) {
	appErr, ok := domainerrors.AsAppError(err)
	if !ok {
		appErr = domainerrors.InternalError(err)
	}

	if appErr.Status >= 500 {
		logger.Error(c.Request.Context(), "Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", appErr.Code),
			zap.Error(appErr.Err),
		)
	}

	c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr.Message})
}
