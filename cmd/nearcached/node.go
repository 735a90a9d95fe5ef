package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/nearcache"
	"github.com/unkn0wn-root/nearcache/backend"
	asynchook "github.com/unkn0wn-root/nearcache/hooks/async"
	"github.com/unkn0wn-root/nearcache/hooks/prom"
	"github.com/unkn0wn-root/nearcache/internal/config"
	"github.com/unkn0wn-root/nearcache/sloghooks"
	"github.com/unkn0wn-root/nearcache/transport/httpapi"
)

// node is one coordinator plus its HTTP listener.
type node struct {
	name  string
	cache nearcache.Cache
	srv   *http.Server
	async *asynchook.Hooks
	log   nearcache.Logger
}

type nodeDeps struct {
	cfg      *config.Config
	store    backend.Store
	root     *logger
	reg      *prometheus.Registry
	instance string
}

func newNode(nc config.Node, d nodeDeps) (*node, error) {
	log := d.root.with(nearcache.Fields{"node": nc.Name})
	n := &node{name: nc.Name, log: log}

	var hooks []nearcache.Hooks
	if d.reg != nil {
		ph, err := prom.New(d.reg, nc.Name)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, ph)
	}
	if d.root.debug {
		sl := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})).
			With("node", nc.Name)
		n.async = asynchook.New(sloghooks.New(sl, sloghooks.Options{ReadEvery: 100}), 1, 1024)
		hooks = append(hooks, n.async)
	}

	cache, err := nearcache.New(nearcache.Options{
		Store:      d.store,
		Namespaces: namespaces(d.cfg.Namespaces),
		Logger:     log,
		Hooks:      nearcache.Tee(hooks...),
		Retry: nearcache.RetryPolicy{
			MaxAttempts:     d.cfg.Retry.MaxAttempts,
			InitialInterval: d.cfg.Retry.InitialInterval,
			MaxInterval:     d.cfg.Retry.MaxInterval,
			Multiplier:      d.cfg.Retry.Multiplier,
		},
		Reconnect: nearcache.ReconnectPolicy{
			InitialInterval: d.cfg.Reconnect.InitialInterval,
			MaxInterval:     d.cfg.Reconnect.MaxInterval,
			Multiplier:      d.cfg.Reconnect.Multiplier,
		},
		FetchTimeout: d.cfg.FetchTimeout,
		WriteTimeout: d.cfg.WriteTimeout,
	})
	if err != nil {
		n.closeHooks()
		return nil, err
	}
	n.cache = cache

	var metrics http.Handler
	if d.reg != nil {
		if err := d.reg.Register(prom.NewStatsCollector(cache, nc.Name)); err != nil {
			n.close(context.Background())
			return nil, err
		}
		metrics = promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{Registry: d.reg})
	}

	h, err := httpapi.NewHandler(httpapi.Options{
		Cache:        cache,
		Node:         nc.Name,
		Instance:     d.instance,
		Logger:       log,
		MaxBodyBytes: d.cfg.HTTP.MaxBodyBytes,
		Metrics:      metrics,
		MetricsPath:  d.cfg.Metrics.Path,
		CORSOrigins:  d.cfg.HTTP.CORSOrigins,
	})
	if err != nil {
		n.close(context.Background())
		return nil, err
	}
	n.srv = httpapi.NewServer(nc.Listen, h, d.cfg.HTTP.ReadTimeout, d.cfg.HTTP.WriteTimeout, d.cfg.HTTP.IdleTimeout)
	return n, nil
}

func namespaces(in []config.Namespace) []nearcache.NamespaceOptions {
	out := make([]nearcache.NamespaceOptions, 0, len(in))
	for _, ns := range in {
		out = append(out, nearcache.NamespaceOptions{
			Name:                      ns.Name,
			MaxEntries:                ns.MaxEntries,
			MaxBytes:                  ns.MaxBytes,
			MaxAge:                    ns.MaxAge,
			DistrustWhileDisconnected: ns.DistrustWhileDisconnected,
		})
	}
	return out
}

// serve blocks until the listener fails or is shut down.
func (n *node) serve() error {
	n.log.Info("listening", nearcache.Fields{"addr": n.srv.Addr})
	if err := n.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// seed stores each entry unless it already exists, like the classic
// contains-then-put demo but atomic.
func (n *node) seed(ctx context.Context, entries []config.SeedEntry) error {
	for _, e := range entries {
		res, created, err := n.cache.WriteIfAbsent(ctx, e.Namespace, e.Key, []byte(e.Value))
		if err != nil {
			return err
		}
		f := nearcache.Fields{"ns": e.Namespace, "key": e.Key, "version": res.Version}
		if created {
			n.log.Info("seed stored", f)
		} else {
			f["value"] = string(res.Value)
			n.log.Info("seed fetched", f)
		}
	}
	return nil
}

func (n *node) shutdown(ctx context.Context) error {
	var errs []error
	if n.srv != nil {
		errs = append(errs, n.srv.Shutdown(ctx))
	}
	errs = append(errs, n.close(ctx))
	return errors.Join(errs...)
}

func (n *node) close(ctx context.Context) error {
	var err error
	if n.cache != nil {
		err = n.cache.Close(ctx)
	}
	n.closeHooks()
	return err
}

func (n *node) closeHooks() {
	if n.async != nil {
		n.async.Close()
	}
}
