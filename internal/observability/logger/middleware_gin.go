package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/meetpay/meetpay/internal/observability/context"
	"github.com/meetpay/meetpay/internal/observability/tracing"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// MiddlewareConfig controls the request logging middleware.
type MiddlewareConfig struct {
	// SkipPaths are matched exactly and excluded from access logging.
	SkipPaths []string
}

// GinMiddleware assigns every request an id, exposes it in the response, and
// writes one masked access-log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-Id", requestID)
		ctx := tracing.ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx = obscontext.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if _, skipped := skip[c.FullPath()]; skipped {
			return
		}

		FromContext(ctx).Info("http request",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Any("request", SafeFieldsFromRequest(c.Request)),
		)
	}
}
