// File: cmd/uringws/main.go
// Package main
// WebSocket echo server: one completion loop per CPU, each with its own
// SO_REUSEPORT listener and connection table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/momentics/uringws/affinity"
	"github.com/momentics/uringws/control"
	"github.com/momentics/uringws/pool"
	"github.com/momentics/uringws/protocol"
	"github.com/momentics/uringws/reactor"
	"github.com/momentics/uringws/server"
)

func main() {
	cfgPath := flag.String("config", "", "TOML configuration file")
	addr := flag.String("addr", "", "listen address, overrides the configuration")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, level, err := control.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, level); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server shutdown complete")
}

func loadConfig(path, addr string) (*control.Config, error) {
	cfg := control.Default()
	if path != "" {
		var err error
		if cfg, err = control.Load(path); err != nil {
			return nil, err
		}
	}
	if addr != "" {
		cfg.Listen = addr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *control.Config, log *zap.Logger, level zap.AtomicLevel) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := control.NewMetrics(reg)
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/debug/state", probes)
		mux.Handle("/debug/level", level)
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsListen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	env := &shardEnv{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		probes:  probes,
		proto:   cfg.Protocol(),
		slabs:   pool.NewSlabPool(cfg.ReadBuffer),
	}
	for i := 0; i < cfg.Shards; i++ {
		id := uint8(i)
		g.Go(func() error {
			return env.runShard(ctx, id)
		})
	}
	log.Info("websocket listening",
		zap.String("addr", cfg.Listen),
		zap.Int("shards", cfg.Shards),
		zap.Strings("paths", cfg.Upgrade.Paths))
	return g.Wait()
}

// shardEnv is what every shard shares.
type shardEnv struct {
	cfg     *control.Config
	log     *zap.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes
	proto   *protocol.Config
	slabs   *pool.SlabPool
}

// runShard owns one OS thread for the lifetime of the shard so the ring,
// the slot table and the pinned CPU stay together.
func (e *shardEnv) runShard(ctx context.Context, id uint8) error {
	cfg := e.cfg
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	shardLog := e.log.With(zap.Uint8("shard", id))
	if cfg.PinCPUs {
		cpu := affinity.CPUFor(int(id))
		if err := affinity.SetAffinity(cpu); err != nil {
			shardLog.Warn("cpu pinning failed", zap.Int("cpu", cpu), zap.Error(err))
		} else {
			shardLog.Debug("pinned", zap.Int("cpu", cpu))
		}
	}

	lfd, err := reactor.Listen(cfg.Listen, true)
	if err != nil {
		return fmt.Errorf("shard %d: %w", id, err)
	}
	defer func() { _ = unix.Close(int(lfd)) }()

	ring, err := reactor.New(reactor.WithSlabPool(e.slabs))
	if err != nil {
		return fmt.Errorf("shard %d: %w", id, err)
	}
	defer func() { _ = ring.Shutdown() }()

	shard := server.NewShard(id, ring, lfd, newEchoHandler(shardLog),
		server.WithLogger(e.log),
		server.WithMetrics(e.metrics),
		server.WithMaxConns(cfg.MaxConns),
		server.WithProtocolConfig(e.proto),
	)
	probe := fmt.Sprintf("shard.%d.connections", id)
	e.probes.RegisterProbe(probe, func() any { return shard.OpenConnections() })
	defer e.probes.UnregisterProbe(probe)

	return shard.Run(ctx)
}
