package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"coursemail/pkg/auth"
	"coursemail/pkg/logger"
	"coursemail/pkg/metrics"
	"coursemail/pkg/rbac"
	"coursemail/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dispatchTokenHeader = "X-Dispatch-Token"

// TraceMiddleware puts the caller's X-Trace-ID, or a fresh one, into the request context.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName)
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// RequestLogger logs each request and records its latency.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		took := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(status), took)

		log := logger.WithTrace(c.Request.Context(), base)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("took", took),
		}
		if status >= http.StatusInternalServerError {
			log.Error("HTTP request", fields...)
		} else {
			log.Debug("HTTP request", fields...)
		}
	}
}

func authenticate(c *gin.Context, jwtSecret string) bool {
	token := auth.ExtractToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return false
	}

	claims, err := auth.ParseJWT(token, jwtSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return false
	}

	c.Set("user_id", claims.UserID)
	c.Set("role", claims.Role)
	return true
}

func authorize(c *gin.Context, permission string) bool {
	role, exists := c.Get("role")
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return false
	}

	r, _ := role.(string)
	if err := rbac.CheckPermission(r, permission); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, jwtSecret) {
			c.Next()
		}
	}
}

// RequirePermission must run after AuthMiddleware.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authorize(c, permission) {
			c.Next()
		}
	}
}

// DispatchAuth admits the external scheduler by shared token, or a bearer
// token whose role may dispatch.
func DispatchAuth(dispatchToken, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if given := c.GetHeader(dispatchTokenHeader); given != "" {
			if dispatchToken == "" || subtle.ConstantTimeCompare([]byte(given), []byte(dispatchToken)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid dispatch token"})
				return
			}
			c.Next()
			return
		}

		if authenticate(c, jwtSecret) && authorize(c, rbac.PermissionDispatch) {
			c.Next()
		}
	}
}
