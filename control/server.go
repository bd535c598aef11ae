package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

const requestIDHeader = "X-Request-ID"

// Status is the optional read side of a Controller, served on /v1/status.
type Status interface {
	Active() bool
	Idle() bool
	CurrentLabel() (string, bool)
	ScreenshotInterval() time.Duration
}

type StatusReply struct {
	Active                    bool   `json:"active"`
	Idle                      bool   `json:"idle"`
	CurrentLabel              string `json:"currentLabel,omitempty"`
	ScreenshotIntervalSeconds int    `json:"screenshotIntervalSeconds"`
}

// Server exposes a Surface over HTTP on a loopback address.
type Server struct {
	surface *Surface
	status  Status
	logger  *zap.Logger
	router  *gin.Engine
	srv     *http.Server
}

func NewServer(addr string, surface *Surface, status Status, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{surface: surface, status: status, logger: logger}

	router := gin.New()
	router.Use(loggerMiddleware(logger), gin.Recovery())

	router.GET("/health", s.healthHandler)
	api := router.Group("/v1")
	{
		api.POST("/commands", s.commandHandler)
		api.GET("/backend-address", s.backendAddressHandler)
		api.GET("/status", s.statusHandler)
	}

	s.router = router
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("control API listening", zap.String("address", l.Addr().String()))
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// loggerMiddleware adds a zap logger and request ID to the request context
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := zapctx.WithLogger(c.Request.Context(), logger.With(zap.String("request_id", id)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) commandHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		zapctx.Warn(ctx, "Invalid control request", zap.Error(err))
		c.JSON(http.StatusBadRequest, Reply{Error: "invalid request"})
		return
	}

	reply, err := s.surface.Dispatch(ctx, req)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		zapctx.Warn(ctx, "Unknown control command", zap.String("command", string(req.Command)))
		c.JSON(http.StatusBadRequest, reply)
	case errors.Is(err, ErrInvalidInterval):
		zapctx.Warn(ctx, "Rejected screenshot interval", zap.Int("seconds", req.Seconds), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, reply)
	case err != nil:
		zapctx.Error(ctx, "Control command failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, reply)
	default:
		c.JSON(http.StatusOK, reply)
	}
}

func (s *Server) backendAddressHandler(c *gin.Context) {
	reply, _ := s.surface.Dispatch(c.Request.Context(), Request{Command: CommandGetBackendAddress})
	c.JSON(http.StatusOK, reply)
}

func (s *Server) statusHandler(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "status unavailable"})
		return
	}
	label, _ := s.status.CurrentLabel()
	c.JSON(http.StatusOK, StatusReply{
		Active:                    s.status.Active(),
		Idle:                      s.status.Idle(),
		CurrentLabel:              label,
		ScreenshotIntervalSeconds: int(s.status.ScreenshotInterval() / time.Second),
	})
}
