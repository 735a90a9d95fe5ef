package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/nearcache"
)

var _ nearcache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger { return Logger{L: l.Named("nearcache")} }

func (z Logger) Debug(msg string, f nearcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f nearcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f nearcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f nearcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f nearcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
