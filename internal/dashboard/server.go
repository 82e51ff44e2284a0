package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cryptodash/config"
	"cryptodash/internal/alert"
	"cryptodash/internal/metrics"
	"cryptodash/internal/poller"
	"cryptodash/internal/snapshot"
	"cryptodash/internal/watchlist"
	"cryptodash/logger"
	"cryptodash/reader/coingecko"
)

// SourceStats reports request statistics of the market source.
type SourceStats interface {
	Stats(ctx context.Context) coingecko.Stats
}

// Backend bundles the components the API reads from and acts on.
// Exporter and Source may be nil.
type Backend struct {
	Driver    *poller.Driver
	Store     *snapshot.Store
	Alerts    *alert.Evaluator
	Watchlist *watchlist.Registry
	Exporter  poller.Exporter
	Source    SourceStats
	Metrics   *metrics.Collectors
	View      config.ViewConfig
	// ExportDir is the volume reported by the resource sampler.
	ExportDir string
}

// Server hosts the gin JSON API of the dashboard.
type Server struct {
	cfg             config.DashboardConfig
	backend         Backend
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	now             func() time.Time
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, backend Backend, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if backend.Driver == nil || backend.Store == nil || backend.Alerts == nil || backend.Watchlist == nil {
		return nil, errors.New("dashboard requires driver, store, alerts and watchlist")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, backend.ExportDir, backend.Store.Stats, log)

	return &Server{
		cfg:             cfg,
		backend:         backend,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: sampler,
		now:             time.Now,
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Trust all proxies so the dashboard works behind load balancers.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	api := router.Group("/api")

	api.GET("/coins", s.listCoins)
	api.GET("/coins/:id/history", s.coinHistory)
	api.GET("/summary", s.summary)

	api.GET("/alerts", s.listAlerts)
	api.DELETE("/alerts", s.clearAlerts)
	api.DELETE("/alerts/:id", s.removeAlert)
	api.GET("/thresholds", s.getThresholds)
	api.PUT("/thresholds", s.putThresholds)

	api.GET("/watchlist", s.getWatchlist)
	api.PUT("/watchlist", s.putWatchlist)
	api.DELETE("/watchlist", s.clearWatchlist)
	api.POST("/watchlist/:id/toggle", s.toggleWatchlist)

	api.POST("/refresh", s.refresh)
	api.POST("/resume", s.resume)
	api.POST("/reset", s.reset)

	api.GET("/export/:format", s.exportRecords)
	api.GET("/stats", s.stats)

	api.GET("/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot(c.Query("component"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	api.GET("/logs", func(c *gin.Context) {
		level := logrus.TraceLevel
		if raw := c.Query("level"); raw != "" {
			parsed, err := logrus.ParseLevel(raw)
			if err != nil {
				errorJSON(c, http.StatusBadRequest, err)
				return
			}
			level = parsed
		}
		logsSnapshot := s.logStore.snapshot(level)
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	api.GET("/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
				"goroutines":     snap.Goroutines,
				"tracked_coins":  snap.TrackedCoins,
				"history_size":   snap.HistorySnapshots,
				"cycle":          snap.Cycle,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	router.GET("/metrics", gin.WrapH(s.backend.Metrics.Handler()))

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
