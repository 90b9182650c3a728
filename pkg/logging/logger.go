// Package logging provides structured logging shared by every component,
// built on logrus the way the wider service's infrastructure layer does.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	entityKey  ctxKey = "entity_id"
)

// Logger wraps a *logrus.Logger scoped to one component ("registry",
// "firewall", "ucg", ...).
type Logger struct {
	base      *logrus.Logger
	component string
}

// New builds a Logger. format is "json" or "text"; level is a logrus level
// name ("debug", "info", "warn", "error").
func New(component, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &Logger{base: l, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT environment
// variables, defaulting to info/text.
func NewFromEnv(component string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	return New(component, level, format)
}

// SetOutput redirects the underlying logrus output, used by tests.
func (l *Logger) SetOutput(w io.Writer) { l.base.SetOutput(w) }

func (l *Logger) entry() *logrus.Entry {
	return l.base.WithField("component", l.component)
}

// WithContext attaches trace/entity identifiers carried on ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	e := l.entry()
	if tid, ok := ctx.Value(traceIDKey).(string); ok && tid != "" {
		e = e.WithField("trace_id", tid)
	}
	if eid, ok := ctx.Value(entityKey).(string); ok && eid != "" {
		e = e.WithField("entity_id", eid)
	}
	return e
}

func (l *Logger) WithField(k string, v any) *logrus.Entry { return l.entry().WithField(k, v) }
func (l *Logger) WithFields(f logrus.Fields) *logrus.Entry { return l.entry().WithFields(f) }
func (l *Logger) WithError(err error) *logrus.Entry        { return l.entry().WithError(err) }

func (l *Logger) Debug(args ...any) { l.entry().Debug(args...) }
func (l *Logger) Info(args ...any)  { l.entry().Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry().Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry().Error(args...) }

// WithTraceID returns a context carrying the given trace identifier.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// WithEntityID returns a context carrying the given entity identifier.
func WithEntityID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, entityKey, id)
}

// LogDegraded records entry into a degraded-mode fallback path (PC miss,
// SB queue overflow, rebuild mode) at warn level with a consistent shape.
func (l *Logger) LogDegraded(ctx context.Context, layer, reason string) {
	l.WithContext(ctx).WithFields(logrus.Fields{"layer": layer, "reason": reason}).Warn("degraded mode")
}

// LogRepairEnqueued records an IntegrityViolation repair job being queued.
func (l *Logger) LogRepairEnqueued(ctx context.Context, invariant, detail string) {
	l.WithContext(ctx).WithFields(logrus.Fields{"invariant": invariant, "detail": detail}).Warn("repair job enqueued")
}
