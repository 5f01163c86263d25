package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jobs/integration-engine/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const requestIDHeader = "X-Request-ID"

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestID 透传或生成请求 ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func Cors(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", requestIDHeader)
	cfg.ExposeHeaders = []string{requestIDHeader}
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

// statusOf 错误哨兵到 HTTP 状态码
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errors.ErrScheduleConfigInvalid):
		return http.StatusUnprocessableEntity, "SCHEDULE_CONFIG_INVALID"
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, errors.ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, errors.ErrQueueFull):
		return http.StatusServiceUnavailable, "QUEUE_FULL"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// ErrorHandlingMiddleware 统一错误处理中间件
func ErrorHandlingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method))

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Code:      "INTERNAL_ERROR",
					Message:   "an internal error occurred",
					RequestID: c.GetString("request_id"),
				})
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status, code := statusOf(err)
		fields := []zap.Field{
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", status),
			zap.String("request_id", c.GetString("request_id")),
		}
		message := err.Error()
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			logger.Error("request error", fields...)
			message = "an error occurred while processing your request"
		} else {
			logger.Debug("request rejected", fields...)
		}

		c.JSON(status, ErrorResponse{
			Code:      code,
			Message:   message,
			RequestID: c.GetString("request_id"),
		})
	}
}
