package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"pos-gateway/internal/adapter"
	"pos-gateway/internal/auth"
	"pos-gateway/internal/gateway"
	"pos-gateway/internal/service"
	"pos-gateway/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultGatewayPath is where POS systems post signed requests
const DefaultGatewayPath = "/api/v1/pos"

const readyTimeout = 2 * time.Second

// Dispatcher handles one authenticated gateway call
type Dispatcher interface {
	Handle(ctx context.Context, env *auth.Envelope) *gateway.Response
}

// Pinger is a dependency checked by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	gateway     Dispatcher
	adapters    *adapter.Registry
	gatewayPath string
	deps        map[string]Pinger
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are pinged by /ready.
func NewHandler(gw Dispatcher, adapters *adapter.Registry, gatewayPath string, deps map[string]Pinger) *Handler {
	if gatewayPath == "" {
		gatewayPath = DefaultGatewayPath
	}
	return &Handler{
		gateway:     gw,
		adapters:    adapters,
		gatewayPath: gatewayPath,
		deps:        deps,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST(h.gatewayPath, h.handleGateway)
	router.GET("/api/v1/vendors", h.listVendors)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once every dependency answers a ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// handleGateway passes the raw signed request to the gateway. The body must
// reach the authenticator byte for byte, so it is never bound or re-encoded.
func (h *Handler) handleGateway(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gateway.Response{
			Code:    service.CodeBadRequest,
			Message: "failed to read request body",
		})
		return
	}

	resp := h.gateway.Handle(c.Request.Context(), &auth.Envelope{
		Method:  c.Request.Method,
		Path:    c.Request.URL.Path,
		Headers: auth.ExtractHeaders(c.GetHeader),
		Body:    string(body),
	})

	if resp.RequestID != "" {
		c.Header("X-Request-ID", resp.RequestID)
	}
	c.JSON(httpStatus(resp.Code), resp)
}

// listVendors returns the POS vendors the gateway can talk to
func (h *Handler) listVendors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"vendors": h.adapters.Supported(),
	})
}

func httpStatus(code int) int {
	if code == service.CodeOK {
		return http.StatusOK
	}
	if code >= 400 && code < 600 {
		return code
	}
	return http.StatusInternalServerError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
