// Package api serves the local HTTP control surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/devicelab-dev/airplane-runner/pkg/airplane"
	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/device"
	"github.com/devicelab-dev/airplane-runner/pkg/oplog"
	"github.com/devicelab-dev/airplane-runner/pkg/privilege"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

// Backend is the service surface the handlers call.
type Backend interface {
	Status(ctx context.Context) (service.Status, error)
	Settings() (config.ToggleConfiguration, error)
	ApplySettings(ctx context.Context, patch config.SettingsPatch) (config.ToggleConfiguration, error)
	SmartToggle(ctx context.Context, req service.Request) (airplane.SmartResult, error)
	TimedToggle(ctx context.Context, req service.Request) (airplane.TimedResult, error)
	TurnOn(ctx context.Context, req service.Request) (bool, error)
	TurnOff(ctx context.Context, req service.Request) (bool, error)
	ForceRefresh(ctx context.Context) error
	RefreshPrivilege(ctx context.Context) (privilege.State, error)
	DeviceInfo(ctx context.Context) (device.DeviceInfo, error)
	Logs(ctx context.Context, limit int) ([]oplog.Entry, error)
	ClearLogs(ctx context.Context) (int64, error)
}

// Options configures the server.
type Options struct {
	Listen string
	Rate   float64 // Toggle requests per second
	Burst  int
	Debug  bool
}

// Server is the HTTP control surface.
type Server struct {
	backend Backend
	opts    Options
	limiter *rate.Limiter
	engine  *gin.Engine
	server  *http.Server
}

// NewServer creates a server; call Start to listen.
func NewServer(backend Backend, opts Options) *Server {
	if opts.Rate <= 0 {
		opts.Rate = 0.5
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	s := &Server{
		backend: backend,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
	}
	s.engine = s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() *gin.Engine {
	if s.opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	// ClientIP must come from the socket, not X-Forwarded-For.
	_ = engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(OnlyAllowLocal())

	engine.GET("/status", s.handleStatus)
	engine.GET("/settings", s.handleGetSettings)
	engine.PUT("/settings", s.handlePutSettings)
	engine.GET("/device", s.handleDevice)
	engine.GET("/logs", s.handleLogs)
	engine.DELETE("/logs", s.handleClearLogs)
	engine.POST("/privilege/refresh", s.handleRefreshPrivilege)

	limited := engine.Group("/", RateLimit(s.limiter))
	{
		limited.POST("/toggle/:action", s.handleToggle)
		limited.POST("/refresh", s.handleForceRefresh)
	}
	return engine
}

// Start listens and serves until Shutdown. It returns once the listener is bound.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logServeError(err)
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
