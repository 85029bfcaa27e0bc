package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcourtman/fritzmesh/internal/api"
	"github.com/rcourtman/fritzmesh/internal/cache"
	"github.com/rcourtman/fritzmesh/internal/config"
	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/rcourtman/fritzmesh/internal/fritzbox"
	"github.com/rcourtman/fritzmesh/internal/logging"
	"github.com/rcourtman/fritzmesh/internal/mock"
	"github.com/rcourtman/fritzmesh/internal/rewrite"
	"github.com/rcourtman/fritzmesh/internal/telemetry"
	"github.com/rcourtman/fritzmesh/pkg/netutil"
	"github.com/rs/zerolog/log"
)

var (
	// ShutdownTimeout bounds how long in-flight requests may take to drain.
	ShutdownTimeout = 30 * time.Second

	mockCredentials = [2]string{"mock", "mock"}
)

// Proxy owns every long-lived component of a running mirror.
type Proxy struct {
	cfg     *config.Config
	client  *fritzbox.Client
	session *fritzbox.Session
	cache   *cache.Cache
	store   *cache.Store
	cell    *telemetry.Cell
	poller  *telemetry.Poller
	watcher *config.ConfigWatcher
	handler http.Handler

	mockServer *http.Server
}

// Run starts the proxy and blocks until ctx is cancelled or the process is
// asked to terminate.
func Run(ctx context.Context, cfg *config.Config) error {
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "fritzmesh",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info().
		Str("config", cfg.ConfigFile).
		Bool("hassio", cfg.HassIO).
		Bool("nocache", cfg.NoCache).
		Bool("mock", cfg.MockMode).
		Msg("Starting FRITZ!Box mesh mirror")

	proxy, err := Prepare(ctx, cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		proxy.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress(), err)
	}

	if cfg.MetricsAddress != "" {
		startMetricsServer(ctx, cfg.MetricsAddress, proxy.HealthHandler())
	}

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	defer signal.Stop(reloadChan)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadChan:
				log.Info().Msg("Received SIGHUP, reloading credentials")
				proxy.ReloadConfig()
			case <-sigChan:
				log.Info().Msg("Shutting down server...")
				cancel()
				return
			}
		}
	}()

	return proxy.Serve(ctx, ln)
}

// Prepare performs the startup sequence up to, but not including, serving
// requests: cache recovery, the initial login and the first telemetry
// refresh. A failed initial login is fatal.
func Prepare(ctx context.Context, cfg *config.Config) (*Proxy, error) {
	p := &Proxy{cfg: cfg}

	if cfg.MockMode {
		if err := p.startMockRouter(); err != nil {
			return nil, err
		}
	}

	netutil.SetDNSCacheTTL(cfg.DNSCacheTTL.Std())
	client, err := fritzbox.NewClient(fritzbox.ClientConfig{
		Host:    cfg.Host,
		Timeout: cfg.UpstreamTimeout.Std(),
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create router client: %w", err)
	}
	p.client = client
	p.session = fritzbox.NewSession(client, cfg.Username, cfg.Password)
	p.cache = cache.New(client, rewrite.New(rewrite.MeshOverviewRules()))

	if !cfg.NoCache {
		p.store = cache.NewStore(cfg.CacheFile)
		entries, err := p.store.Load()
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.CacheFile).Msg("Failed to load cache file, starting empty")
		} else {
			p.cache.Restore(entries)
			log.Info().
				Int("entries", len(entries)).
				Str("bootstrap_sid", p.cache.BootstrapSID().String()).
				Msg("Loaded cache file")
		}
	}

	sid, err := p.session.Renew(ctx)
	if err != nil || !sid.Valid() {
		p.Close()
		if err == nil {
			err = fmerrors.ErrAuthFailed
		}
		return nil, fmt.Errorf("initial login to %s failed: %w", client.BaseURL(), err)
	}
	if p.cache.SetBootstrapSID(sid) {
		log.Info().Str("sid", sid.String()).Msg("Using first session as bootstrap SID")
	}

	p.cell = &telemetry.Cell{}
	p.poller = telemetry.NewPoller(client, p.session, p.cell, p.cache.BootstrapSID, telemetry.PollerConfig{
		Interval: cfg.PollInterval.Std(),
		Lang:     cfg.Lang,
	})
	if err := p.poller.Update(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial telemetry refresh failed, the poller will retry")
	}

	if !cfg.MockMode {
		watcher, err := config.NewConfigWatcher(cfg, p.session.SetCredentials)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create config watcher, credential changes will require restart")
		} else {
			p.watcher = watcher
		}
	}

	p.handler = api.NewRouter(p.cache, p.cell)
	return p, nil
}

func (p *Proxy) startMockRouter() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start mock router: %w", err)
	}

	router := mock.NewDemoRouter(mock.RouterConfig{
		Username: mockCredentials[0],
		Password: mockCredentials[1],
		Mesh:     mock.DefaultConfig,
	})
	p.mockServer = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := p.mockServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Mock router stopped unexpectedly")
		}
	}()

	p.cfg.Host = "http://" + ln.Addr().String()
	p.cfg.Username, p.cfg.Password = mockCredentials[0], mockCredentials[1]
	log.Warn().Str("host", p.cfg.Host).Msg("Mock mode enabled, mirroring an in-process demo router")
	return nil
}

// Handler returns the downstream HTTP handler.
func (p *Proxy) Handler() http.Handler {
	return p.handler
}

// ReloadConfig re-reads the router credentials from the config file.
func (p *Proxy) ReloadConfig() {
	if p.watcher != nil {
		p.watcher.ReloadConfig()
	}
}

// Serve starts background work and serves requests on ln until ctx is done,
// then drains the listener and persists the cache.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	defer p.Close()

	p.poller.Start(ctx)

	if p.watcher != nil {
		if err := p.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	srv := &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	p.poller.Stop()
	p.SaveCache()

	log.Info().Msg("Server stopped")
	return runErr
}

// SaveCache writes the cache to disk unless persistence is disabled.
// Failures are logged.
func (p *Proxy) SaveCache() {
	if p.store == nil {
		return
	}
	entries := p.cache.Snapshot()
	if err := p.store.Save(entries); err != nil {
		log.Error().Err(err).Str("path", p.store.Path()).Msg("Failed to save cache file")
		return
	}
	log.Info().Int("entries", len(entries)).Str("path", p.store.Path()).Msg("Saved cache file")
}

// Close releases resources owned by Prepare.
func (p *Proxy) Close() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	if p.mockServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.mockServer.Shutdown(ctx)
		p.mockServer = nil
	}
}

// HealthStatus is reported by /healthz on the metrics listener.
type HealthStatus struct {
	Status          string  `json:"status"`
	SessionValid    bool    `json:"session_valid"`
	TelemetryAgeSec float64 `json:"telemetry_age_seconds"`
	CacheEntries    int     `json:"cache_entries"`
	BootstrapSID    bool    `json:"bootstrap_sid"`
}

// Health summarises the proxy state. Telemetry older than three poll
// intervals counts as stale.
func (p *Proxy) Health() HealthStatus {
	status := HealthStatus{
		Status:       "ok",
		SessionValid: p.session.Valid(),
		CacheEntries: p.cache.Len(),
		BootstrapSID: p.cache.BootstrapSID().Valid(),
	}

	updated := p.cell.UpdatedAt()
	if updated.IsZero() {
		status.TelemetryAgeSec = -1
		status.Status = "degraded"
	} else {
		age := time.Since(updated)
		status.TelemetryAgeSec = age.Seconds()
		if age > 3*p.poller.Interval() {
			status.Status = "degraded"
		}
	}
	if !status.SessionValid {
		status.Status = "degraded"
	}
	return status
}
