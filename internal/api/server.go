package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"realtime-board/internal/audit"
	"realtime-board/internal/config"
	"realtime-board/internal/metrics"
	"realtime-board/internal/middleware"
	"realtime-board/internal/storage"
	"realtime-board/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Server is the board relay process: HTTP routes, the WebSocket transport,
// the hub and the optional audit trail.
type Server struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	runID    string
	hub      *websocket.Hub
	melody   *melody.Melody
	limiter  *middleware.IPRateLimiter
	registry *prometheus.Registry
	db       *gorm.DB
	recorder *audit.Recorder
	engine   *gin.Engine
}

func NewServer(cfg *config.Config, logger logrus.FieldLogger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		runID:    uuid.NewString(),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hubCfgs := []websocket.HubCfg{
		websocket.WithColors(cfg.Colors...),
		websocket.WithHistorySize(cfg.HistorySize),
		websocket.WithCanvasTimeout(cfg.CanvasTimeout),
		websocket.WithStrictCanvasSource(cfg.StrictCanvasSource),
		websocket.WithSkipWaitingCanvasSource(cfg.SkipWaitingCanvasSource),
		websocket.WithMetrics(metrics.New(s.registry)),
		websocket.WithLogger(logger.WithField("component", "hub")),
	}

	var auditHandlers *AuditHandlers
	if cfg.AuditDB != "" {
		db, err := storage.Connect(cfg.AuditDB)
		if err != nil {
			return nil, err
		}
		service := audit.NewAuditService(db, s.runID)
		s.db = db
		s.recorder = audit.NewRecorder(service, audit.DefaultQueueSize, logger)
		auditHandlers = NewAuditHandlers(service, logger)
		hubCfgs = append(hubCfgs, websocket.WithAuditSink(s.recorder))
	}

	hub, err := websocket.NewHub(hubCfgs...)
	if err != nil {
		s.closeDB()
		return nil, errors.Wrap(err, "create hub failed")
	}
	s.hub = hub

	s.melody = websocket.NewTransport(websocket.TransportConfig{
		MaxMessageSize:    cfg.MaxMessageSize,
		MessageBufferSize: cfg.MessageBufferSize,
	})
	websocket.Bind(s.melody, websocket.NewMessageHandler(hub), logger.WithField("component", "transport"))

	s.limiter = middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		CleanupInterval:   middleware.UpgradeRateLimit.CleanupInterval,
	})

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	router := NewRouter(
		NewWebSocketHandler(hub, s.melody, s.runID, logger),
		auditHandlers,
		s.limiter,
		s.registry,
		cfg.PagePath,
		logger,
	)
	router.RegisterRoutes(s.engine)

	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// RunID identifies this process in audit rows and /ws/info.
func (s *Server) RunID() string {
	return s.runID
}

// startWorkers runs the hub, the audit recorder and the limiter cleanup
// until ctx is done. The returned function waits for them to exit.
func (s *Server) startWorkers(ctx context.Context) func() {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(s.hub.Run)
	run(s.limiter.RunCleanup)
	if s.recorder != nil {
		run(s.recorder.Run)
	}
	return wg.Wait
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down: the
// listener first, then open WebSocket sessions, then the workers.
func (s *Server) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	waitWorkers := s.startWorkers(workerCtx)
	defer func() {
		stopWorkers()
		waitWorkers()
		s.closeDB()
	}()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr":   s.cfg.Addr,
			"run_id": s.runID,
		}).Info("board relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "listen failed")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("http shutdown incomplete")
	}
	if err := s.melody.Close(); err != nil {
		s.logger.WithError(err).Debug("close websocket sessions failed")
	}
	return nil
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := storage.Close(s.db); err != nil {
		s.logger.WithError(err).Warn("close audit database failed")
	}
	s.db = nil
}
