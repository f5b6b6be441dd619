package httpserver

import (
	"context"
	"net/http"
	"time"

	"coursemail/internal/api"
	"coursemail/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Handlers struct {
	EmailJobs *api.EmailJobHandler
	Dispatch  *api.DispatchHandler
	Stats     *api.StatsHandler
}

type Options struct {
	JWTSecret     string
	DispatchToken string
	Readiness     map[string]ReadinessCheck
	Logger        *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, opts Options) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), RequestLogger(opts.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readyz(opts.Readiness))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := r.Group("/internal")
	internal.Use(DispatchAuth(opts.DispatchToken, opts.JWTSecret))
	{
		internal.POST("/dispatch", h.Dispatch.Dispatch)
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(opts.JWTSecret))
	{
		v1.POST("/email-jobs", RequirePermission(rbac.PermissionEnqueueEmail), h.EmailJobs.Enqueue)
		v1.POST("/email-jobs/batch", RequirePermission(rbac.PermissionEnqueueEmail), h.EmailJobs.EnqueueBatch)
		v1.POST("/email-jobs/templated", RequirePermission(rbac.PermissionEnqueueEmail), h.EmailJobs.EnqueueTemplated)
		v1.GET("/email-jobs/:id", RequirePermission(rbac.PermissionReadEmailJob), h.EmailJobs.GetJob)

		admin := v1.Group("/admin")
		admin.GET("/email-statistics", RequirePermission(rbac.PermissionReadStats), h.Stats.GetEmailStatistics)
		admin.POST("/email-jobs/:id/retry", RequirePermission(rbac.PermissionRetryEmailJob), h.EmailJobs.RetryFailed)
	}

	return &Router{Engine: r}
}

func readyz(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "errors": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func (r *Router) Handler() http.Handler {
	return r.Engine
}
