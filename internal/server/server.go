// HTTP transport for the operation catalog and pipeline runs
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"image-pipeline/internal/imageio"
	"image-pipeline/internal/metrics"
	"image-pipeline/internal/operations"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/storage"
)

// SessionHeader selects an isolated parameter table when sessions are enabled
const SessionHeader = "X-Session-ID"

// History is the read side of the run store
type History interface {
	GetRuns(ctx context.Context, limit, offset int) ([]storage.RunRecord, error)
	GetRun(ctx context.Context, id string) (storage.RunRecord, error)
	GetStats(ctx context.Context) (storage.Stats, error)
}

type Options struct {
	Registry *operations.Registry
	// Sessions is optional; without it every request shares Registry.
	Sessions *operations.Sessions
	Pipeline pipeline.Options
	History  History
	// MaxUploadBytes bounds the multipart image size
	MaxUploadBytes int64
	Logger         logrus.FieldLogger
	Version        string
}

type Server struct {
	echo      *echo.Echo
	registry  *operations.Registry
	sessions  *operations.Sessions
	pipeline  pipeline.Options
	history   History
	codec     *imageio.Codec
	maxUpload int64
	logger    logrus.FieldLogger
	version   string
	startTime time.Time
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	pipelineOpts := opts.Pipeline
	if pipelineOpts.Logger == nil {
		pipelineOpts.Logger = logger
	}

	s := &Server{
		echo:      echo.New(),
		registry:  opts.Registry,
		sessions:  opts.Sessions,
		pipeline:  pipelineOpts,
		history:   opts.History,
		codec:     imageio.NewCodec(logger),
		maxUpload: opts.MaxUploadBytes,
		logger:    logger,
		version:   opts.Version,
		startTime: time.Now(),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Use(s.requestLogger)

	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.GET("/operations", s.listOperations)
	api.GET("/operations/:id/params", s.getParams)
	api.PUT("/operations/:id/params", s.putParams)
	api.POST("/process", s.process)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)

	s.echo.GET("/health", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// ServeHTTP lets the server be mounted or tested as a plain handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("Starting HTTP server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// registryFor picks the session registry named by the request header,
// creating the session on first use
func (s *Server) registryFor(c echo.Context) (*operations.Registry, error) {
	if s.sessions == nil {
		return s.registry, nil
	}
	id := c.Request().Header.Get(SessionHeader)
	reg, err := s.sessions.Get(id)
	metrics.ActiveSessions.Set(float64(s.sessions.Len()))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusTooManyRequests, err.Error()).SetInternal(err)
	}
	if id != "" {
		c.Response().Header().Set(SessionHeader, id)
	}
	return reg, nil
}

// readRegistry is registryFor for handlers that only read. Unknown sessions
// see the base registry and no session is created.
func (s *Server) readRegistry(c echo.Context) *operations.Registry {
	if s.sessions == nil {
		return s.registry
	}
	return s.sessions.Peek(c.Request().Header.Get(SessionHeader))
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Operation string `json:"operation,omitempty"`
	Position  *int   `json:"position,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorResponse{Error: "Internal Server Error"}

	var (
		he *echo.HTTPError
		pe *operations.ProcessingError
	)
	switch {
	case errors.As(err, &pe):
		body.Error = pe.Error()
		body.Operation = pe.Op
		if pe.Position >= 0 {
			pos := pe.Position
			body.Position = &pos
		}
	case errors.Is(err, operations.ErrUnknownOperation), errors.Is(err, storage.ErrRunNotFound):
		code = http.StatusNotFound
		body.Error = err.Error()
	case errors.As(err, &he):
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(he.Code)
		}
	}

	s.logger.WithError(err).WithField("status", code).Error("api is returning an error")
	if err := c.JSON(code, body); err != nil {
		s.logger.WithError(err).Warn("Failed to write error response")
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		res := c.Response()
		start := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, c.Path(), strconv.Itoa(res.Status)).Inc()
		s.logger.WithFields(logrus.Fields{
			"method":        req.Method,
			"uri":           req.RequestURI,
			"route":         c.Path(),
			"status":        res.Status,
			"remote_ip":     c.RealIP(),
			"response_time": time.Since(start),
			"response_size": res.Size,
		}).Debug("Request")
		return nil
	}
}
