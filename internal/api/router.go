package api

import (
	"net/http"
	"os"

	"realtime-board/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Router struct {
	wsh      *WebSocketHandler
	ah       *AuditHandlers
	limiter  *middleware.IPRateLimiter
	gatherer prometheus.Gatherer
	pagePath string
	logger   logrus.FieldLogger
}

// NewRouter wires the handlers. ah may be nil when the audit trail is off.
func NewRouter(wsh *WebSocketHandler, ah *AuditHandlers, limiter *middleware.IPRateLimiter, gatherer prometheus.Gatherer, pagePath string, logger logrus.FieldLogger) *Router {
	return &Router{
		wsh:      wsh,
		ah:       ah,
		limiter:  limiter,
		gatherer: gatherer,
		pagePath: pagePath,
		logger:   logger,
	}
}

func (r *Router) RegisterRoutes(router *gin.Engine) {
	router.Use(gin.Recovery(), middleware.RequestLogger(r.logger))

	{
		board := router.Group("/")
		board.GET("/", r.PageHandler)
		board.GET("/hc", HealthCheckHandler)
		board.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	{
		ws := router.Group("/ws")
		ws.GET("", middleware.RateLimitMiddleware(r.limiter), r.wsh.HandleWebSocket)
		ws.GET("/info", r.wsh.GetConnectionInfo)
	}

	if r.ah != nil {
		router.GET("/audit", r.ah.GetAuditLogsHandler)
	}
}

// PageHandler serves the board page.
func (r *Router) PageHandler(c *gin.Context) {
	if _, err := os.Stat(r.pagePath); err != nil {
		r.logger.WithError(err).WithField("page_path", r.pagePath).Warn("board page unavailable")
		c.String(http.StatusNotFound, "Board page not found")
		return
	}
	c.File(r.pagePath)
}

func HealthCheckHandler(c *gin.Context) {
	c.String(http.StatusOK, "Running")
}
