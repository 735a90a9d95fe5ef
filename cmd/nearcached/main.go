// Command nearcached runs one or more cache nodes in a single process.
//
// Every node gets its own coordinator and HTTP listener. All nodes share one
// store: with the memory backend they form an in-process cluster, with the redis
// backend they join whatever other processes use the same Redis.
//
//	nearcached -config nearcache.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/nearcache"
	"github.com/unkn0wn-root/nearcache/internal/config"
)

func main() {
	path := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nearcached:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "nearcached:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	root, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = root.sync() }()

	instance := uuid.NewString()
	root.Logger = root.with(nearcache.Fields{"instance": instance})
	root.Info("starting", nearcache.Fields{"nodes": len(cfg.Nodes), "backend": cfg.Backend.Kind})

	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	store, err := openStore(ctx, cfg.Backend, root, registerer(reg))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := store.Close(sctx); err != nil {
			root.Warn("store close failed", nearcache.Fields{"err": err})
		}
	}()

	deps := nodeDeps{cfg: cfg, store: store, root: root, reg: reg, instance: instance}
	nodes := make([]*node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		n, err := newNode(nc, deps)
		if err != nil {
			shutdownAll(nodes, cfg)
			return fmt.Errorf("node %s: %w", nc.Name, err)
		}
		nodes = append(nodes, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(n.serve)
	}
	for _, n := range nodes {
		g.Go(func() error {
			if err := n.seed(gctx, cfg.Seed); err != nil && !errors.Is(err, context.Canceled) {
				n.log.Error("seed failed", nearcache.Fields{"err": err})
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		root.Info("shutting down", nil)
		return shutdownAll(nodes, cfg)
	})

	return g.Wait()
}

func shutdownAll(nodes []*node, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	var errs []error
	for _, n := range nodes {
		if err := n.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.name, err))
		}
	}
	return errors.Join(errs...)
}

// registerer avoids handing a typed nil *Registry to code that checks for nil.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}
