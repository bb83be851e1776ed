package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// Handler reports dependency connectivity at GET /api/health.
type Handler struct {
	checks  map[string]PingFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a health handler. A nil check is reported as disconnected.
func NewHandler(checks map[string]PingFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{checks: checks, timeout: 2 * time.Second, logger: logger}
}

// Check handles GET /api/health. It answers 200 even when a dependency is down so
// load balancers keep the instance while operators read the per-dependency state.
func (h *Handler) Check(c *gin.Context) {
	body := gin.H{"status": "ok"}
	for name, ping := range h.checks {
		body[name] = h.status(c.Request.Context(), name, ping)
	}
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	c.JSON(http.StatusOK, body)
}

func (h *Handler) status(ctx context.Context, name string, ping PingFunc) string {
	if ping == nil {
		return "disconnected"
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
		return "disconnected"
	}
	return "connected"
}
