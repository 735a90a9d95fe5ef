package main

import (
	"fmt"
	stdslog "log/slog"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/nearcache"
	"github.com/unkn0wn-root/nearcache/internal/config"
	nclogrus "github.com/unkn0wn-root/nearcache/log/logrus"
	ncslog "github.com/unkn0wn-root/nearcache/log/slog"
	nczap "github.com/unkn0wn-root/nearcache/log/zap"
)

// logger is the daemon's root logger. with returns a child carrying fields on
// every entry, used to tag each node.
type logger struct {
	nearcache.Logger
	with  func(nearcache.Fields) nearcache.Logger
	sync  func() error
	debug bool
}

func newLogger(cfg config.Logging) (*logger, error) {
	switch cfg.Driver {
	case "logrus":
		return newLogrus(cfg)
	case "slog":
		return newSlog(cfg)
	default:
		return newZap(cfg)
	}
}

func newZap(cfg config.Logging) (*logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zl, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return &logger{
		Logger: nczap.New(zl),
		with: func(f nearcache.Fields) nearcache.Logger {
			fs := make([]zap.Field, 0, len(f))
			for k, v := range f {
				fs = append(fs, zap.Any(k, v))
			}
			return nczap.New(zl.With(fs...))
		},
		sync:  zl.Sync,
		debug: lvl == zapcore.DebugLevel,
	}, nil
}

func newLogrus(cfg config.Logging) (*logger, error) {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl)
	if cfg.Format == "console" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	root := nclogrus.New(l)
	return &logger{
		Logger: root,
		with: func(f nearcache.Fields) nearcache.Logger {
			return nclogrus.Logger{E: root.E.WithFields(logrus.Fields(f))}
		},
		sync:  func() error { return nil },
		debug: lvl == logrus.DebugLevel,
	}, nil
}

func newSlog(cfg config.Logging) (*logger, error) {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	ho := &stdslog.HandlerOptions{Level: lvl}
	var h stdslog.Handler = stdslog.NewJSONHandler(os.Stderr, ho)
	if cfg.Format == "console" {
		h = stdslog.NewTextHandler(os.Stderr, ho)
	}
	base := stdslog.New(h).With("logger", "nearcache")
	return &logger{
		Logger: ncslog.Logger{L: base},
		with: func(f nearcache.Fields) nearcache.Logger {
			args := make([]any, 0, 2*len(f))
			for k, v := range f {
				args = append(args, k, v)
			}
			return ncslog.Logger{L: base.With(args...)}
		},
		sync:  func() error { return nil },
		debug: lvl == stdslog.LevelDebug,
	}, nil
}
