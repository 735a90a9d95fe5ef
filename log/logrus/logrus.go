package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/nearcache"
)

var _ nearcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "nearcache")}
}

func (l Logger) Debug(msg string, f nearcache.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f nearcache.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f nearcache.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f nearcache.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }
