package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"go.uber.org/zap"
)

// IngestUsage accepts a batch of 1..1000 usage events. The whole batch
// is validated before anything is persisted.
func (s *Server) IngestUsage(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	events, err := decodeIngestBody(raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.usage.Ingest(c.Request.Context(), c.Param("appId"), events)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// decodeIngestBody reads the documented bare JSON array of events. A
// {"events": [...]} wrapper is also accepted for older clients.
// Malformed bodies surface through the batch validation shape so
// callers always get an issues list.
func decodeIngestBody(raw []byte) ([]usagedomain.EventInput, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Events []usagedomain.EventInput `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, malformedIngestBody()
		}
		return wrapped.Events, nil
	}

	var events []usagedomain.EventInput
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, malformedIngestBody()
	}
	return events, nil
}

func malformedIngestBody() error {
	return &usagedomain.BatchValidationError{Issues: []usagedomain.ValidationIssue{{
		Field:   "body",
		Message: "request body must be a JSON array of usage events",
	}}}
}

// UsageIngestRateLimit throttles ingestion per app when the redis
// limiter is configured. Limiter failures fail open: usage loss costs
// more than a burst.
func (s *Server) UsageIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		appID := c.Param("appId")
		result, err := s.usageLimiter.AllowApp(c.Request.Context(), appID)
		if err != nil {
			s.log.Warn("usage rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), appID, "usage_ingest", "app_bucket")
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limited",
				"message":    "Too many requests",
				"statusCode": http.StatusTooManyRequests,
				"requestId":  c.GetString("request_id"),
			})
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), appID, "usage_ingest")
		c.Next()
	}
}
