package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/dispatch"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/drainqueue"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/logger"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/metrics"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/store"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/syncer"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/webhook"
	"github.com/rcfcu2000/openclaw-wecom-kf/internal/wecom"
)

// Daemon owns every component of the bridge and wires them together at
// startup. All shared state (account registry, cursor store, caches) lives
// here and is passed down by reference, so tests can run isolated
// instances side by side.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	registry      *config.Registry
	client        *wecom.Client
	cursors       *store.CursorStore
	dedup         *store.DedupCache
	queue         *drainqueue.Queue
	syncer        *syncer.Syncer
	webhookServer *webhook.Server
	configWatcher *config.Watcher
	metrics       *metrics.Metrics
	dispatcher    dispatch.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a daemon from a loaded configuration. A nil dispatcher
// selects the logging default.
func New(cfg *config.Config, configPath string, log *logger.Logger, dispatcher dispatch.Dispatcher) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		dispatcher: dispatcher,
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.GetZerolog()

	d.metrics = metrics.NewMetrics()
	d.registry = config.NewRegistry(config.BuildAccounts(d.config))

	if d.dispatcher == nil {
		d.dispatcher = dispatch.NewLoggingDispatcher(zl)
	}

	d.client = wecom.NewClient(wecom.ClientOptions{
		TokenMargin: time.Duration(d.config.Sync.TokenMarginMinutes) * time.Minute,
	}, zl)

	cursorPath := filepath.Join(d.config.DataDir, "cursors.json")
	d.cursors = store.NewCursorStore(cursorPath,
		time.Duration(d.config.Sync.CursorFlushSeconds)*time.Second, zl)

	d.dedup = store.NewDedupCache(time.Duration(d.config.Sync.DedupTTLMinutes) * time.Minute)
	d.queue = drainqueue.New(0, zl)

	d.syncer = syncer.New(d.client, d.cursors, d.dedup, d.dispatcher, d.metrics, zl,
		syncer.Options{PageLimit: d.config.Sync.PageLimit})

	server, err := webhook.NewServer(webhook.ServerOptions{
		Host:               d.config.Webhook.Host,
		Port:               d.config.Webhook.Port,
		Path:               d.config.Webhook.Path,
		RateLimitPerMinute: d.config.Webhook.RateLimitPerMinute,
		MaxBodyBytes:       d.config.Webhook.MaxBodyBytes,
	}, d.registry, d.queue, d.syncer, d.metrics, zl)
	if err != nil {
		return err
	}
	d.webhookServer = server

	return nil
}

// Registry exposes the account registry, mainly for tests.
func (d *Daemon) Registry() *config.Registry {
	return d.registry
}

// Start brings the daemon up without blocking.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.cursors.Load(); err != nil {
		// Persistence problems never stop the bridge; it runs from
		// memory until the disk recovers.
		d.logger.Error().Err(err).Msg("Cursor load failed, continuing with empty state")
	}

	if d.configPath != "" {
		watcher, err := config.NewWatcher(d.configPath, d.onConfigReload, d.logger.GetZerolog())
		if err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		} else if err := watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher failed to start, hot reload disabled")
		} else {
			d.configWatcher = watcher
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.webhookServer.Start(); err != nil {
			d.logger.Error().Err(err).Msg("Webhook server exited")
		}
	}()

	d.logger.Info().
		Int("accounts", d.registry.Len()).
		Str("path", d.config.Webhook.Path).
		Msg("Daemon started")
	return nil
}

// onConfigReload swaps the account registry wholesale; running drains keep
// the account snapshot they started with.
func (d *Daemon) onConfigReload(cfg *config.Config) {
	accounts := config.BuildAccounts(cfg)
	d.registry.Replace(accounts)
	d.logger.Info().Int("accounts", len(accounts)).Msg("Account registry replaced")
}

// Run starts the daemon and blocks until SIGINT/SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	return d.Stop()
}

// Stop shuts the daemon down: stop intake, finish queued drains (bounded),
// flush the cursor store.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher stop failed")
		}
	}

	if err := d.webhookServer.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Webhook server stop failed")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.queue.Close(closeCtx); err != nil {
		d.logger.Warn().Err(err).Msg("Drain queue close timed out")
	}

	if err := d.cursors.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Cursor flush on shutdown failed")
	}

	d.cancel()
	d.wg.Wait()

	d.logger.Info().
		Dur("uptime", time.Since(d.startTime)).
		Msg("Daemon stopped")
	return nil
}
