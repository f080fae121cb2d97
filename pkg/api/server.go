package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/desired"
	"github.com/cuemby/nimbus/pkg/events"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/manager"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Cluster reports Raft leadership when the store is replicated
type Cluster interface {
	IsLeader() bool
	LeaderAddr() string
}

// Server exposes the desired store and the engine's views over HTTP
type Server struct {
	store   *desired.Store
	broker  *events.Broker
	cluster Cluster
	echo    *echo.Echo
	logger  zerolog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithBroker enables the /events stream
func WithBroker(b *events.Broker) Option {
	return func(s *Server) { s.broker = b }
}

// WithCluster rejects writes on Raft followers and reports leadership on
// /ready
func WithCluster(c Cluster) Option {
	return func(s *Server) { s.cluster = c }
}

// NewServer creates a new API server
func NewServer(store *desired.Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		echo:   echo.New(),
		logger: log.WithComponent("api"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Use(requestMetrics(), requestLogger(s.logger), leaderOnly(s.cluster))
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/resources", s.listResources)
	e.POST("/resources", s.createResource)
	e.GET("/resources/:id", s.getResource)
	e.PUT("/resources/:id", s.updateResource)
	e.DELETE("/resources/:id", s.deleteResource)
	e.POST("/resources/:id/:action", s.resourceAction)

	e.GET("/dashboard/stats", s.dashboardStats)
	e.GET("/events", s.streamEvents)

	e.GET("/health", s.health)
	e.GET("/ready", s.ready)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.echo.Server.ReadTimeout = 10 * time.Second
	s.echo.Server.IdleTimeout = 60 * time.Second
	s.logger.Info().Str("addr", addr).Msg("API listening")

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open event streams, stops accepting requests and waits for
// the ones in progress
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.echo.Shutdown(ctx)
}

// errorBody is the JSON body of every failed request
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusOf maps engine errors to HTTP status codes
func statusOf(err error) int {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, desired.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, desired.ErrDeleting), errors.Is(err, desired.ErrNotFailed):
		return http.StatusConflict
	case errors.Is(err, manager.ErrNotLeader):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusOf(err)
	body := errorBody{Error: err.Error()}

	var he *echo.HTTPError
	var verr *types.ValidationError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(code)
		}
	case errors.As(err, &verr):
		body.Field = verr.Field
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write error response")
	}
}
