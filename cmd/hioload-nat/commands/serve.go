package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nat/control"
	"github.com/momentics/hioload-nat/internal/concurrency"
	"github.com/momentics/hioload-nat/internal/logger"
	"github.com/momentics/hioload-nat/nat"
	"github.com/momentics/hioload-nat/proxy"
	"github.com/momentics/hioload-nat/transport/tcp"
	"github.com/momentics/hioload-nat/transport/udp"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the UDP and TCP proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfgFile)
		},
	}
}

// runServe loads the configuration, initializes logging and serves until
// ctx is cancelled.
func runServe(ctx context.Context, path string) error {
	reloader, err := control.NewReloader(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := reloader.Config()
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	reloader.RegisterReloadHook(func(c *control.Config) {
		logger.SetLevel(c.Logging.Level)
		logger.SetFormat(c.Logging.Format)
		logger.Info("logging reconfigured", "level", c.Logging.Level, "format", c.Logging.Format)
	})
	reloader.Watch()

	return serve(ctx, cfg)
}

// stoppable is the lifecycle view shared by all proxies.
type stoppable interface {
	Name() string
	Done() <-chan struct{}
	Close() error
	ReleaseRoute(src uint16, remote netip.AddrPort) bool
}

// natRoutes finishes proxy flows whose NAT entry was replaced, expired or
// removed.
type natRoutes struct {
	mu      sync.RWMutex
	proxies []stoppable
}

func (r *natRoutes) add(p stoppable) {
	r.mu.Lock()
	r.proxies = append(r.proxies, p)
	r.mu.Unlock()
}

func (r *natRoutes) release(port uint16, e *nat.Entry, reason nat.Reason) {
	logger.Debug("nat entry released",
		logger.KeySourcePort, port,
		logger.KeyRemote, e.Remote().String(),
		logger.KeyReason, reason.String())

	r.mu.RLock()
	proxies := r.proxies
	r.mu.RUnlock()
	for _, p := range proxies {
		if p.ReleaseRoute(port, e.Remote()) {
			logger.Debug("flow released with nat entry",
				logger.KeyProxy, p.Name(),
				logger.KeySourcePort, port)
		}
	}
}

func serve(ctx context.Context, cfg *control.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := control.NewSessionMetrics(reg)

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	routes := &natRoutes{}
	table := nat.New(
		nat.WithCapacity(cfg.NAT.Capacity),
		nat.WithTTL(cfg.NAT.TTL),
		nat.WithObserver(metrics),
		nat.WithRelease(routes.release),
	)
	probes.RegisterProbe("nat.entries", func() any { return table.Snapshot() })

	sched := concurrency.NewScheduler()
	defer sched.Close()
	interval := cfg.NAT.SweepInterval
	if interval <= 0 {
		interval = cfg.NAT.TTL
	}
	if _, err := sched.Every(interval, func() { table.Sweep() }); err != nil {
		return err
	}

	proxies, err := startProxies(cfg, table, metrics, probes)
	if err != nil {
		return err
	}
	for _, p := range proxies {
		routes.add(p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range proxies {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-p.Done():
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s proxy stopped unexpectedly", p.Name())
			}
		})
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           control.NewHTTPHandler(probes, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		closeAll(proxies)
		return nil
	})

	return g.Wait()
}

func startProxies(cfg *control.Config, table *nat.Table, metrics *control.SessionMetrics, probes *control.DebugProbes) ([]stoppable, error) {
	var started []stoppable

	if cfg.UDP.Enabled {
		addr, err := cfg.UDP.ListenAddr()
		if err != nil {
			return nil, fmt.Errorf("udp listen address: %w", err)
		}
		p, err := proxy.New[*udp.Session](udp.New(addr, table),
			proxy.WithMaxSessions(cfg.UDP.MaxSessions),
			proxy.WithSessionTimeout(cfg.UDP.SessionTimeout),
			proxy.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("start udp proxy: %w", err)
		}
		probes.RegisterProbe("proxy.udp", func() any { return p.Stats() })
		started = append(started, p)
	}

	if cfg.TCP.Enabled {
		addr, err := cfg.TCP.ListenAddr()
		if err != nil {
			closeAll(started)
			return nil, fmt.Errorf("tcp listen address: %w", err)
		}
		p, err := proxy.New[*tcp.Session](tcp.New(addr, table, tcp.WithHandler(tcp.Relay)),
			proxy.WithMaxSessions(cfg.TCP.MaxSessions),
			proxy.WithSessionTimeout(cfg.TCP.SessionTimeout),
			proxy.WithMetrics(metrics))
		if err != nil {
			closeAll(started)
			return nil, fmt.Errorf("start tcp proxy: %w", err)
		}
		probes.RegisterProbe("proxy.tcp", func() any { return p.Stats() })
		started = append(started, p)
	}

	return started, nil
}

func closeAll(proxies []stoppable) {
	for _, p := range proxies {
		if err := p.Close(); err != nil {
			logger.Warn("proxy close failed", logger.KeyProxy, p.Name(), logger.KeyError, err)
		}
	}
}
