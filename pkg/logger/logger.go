package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

var ctxKey = loggerKey{}

type loggerKey struct{}

type handler int

const (
	JSONHandler handler = iota
	TextHandler
	DevHandler
)

const (
	DefaultLevel = slog.LevelInfo

	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger wraps slog with a trace level and chainable With.
type Logger interface {
	Debug(msg string, args ...any)
	DebugContext(ctx context.Context, msg string, args ...any)
	Info(msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	Warn(msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	Error(msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	Handler() slog.Handler
	Level() slog.Level
	With(args ...any) Logger

	Trace(msg string, args ...any)
	TraceContext(ctx context.Context, msg string, args ...any)
	SLog() *slog.Logger
}

type Opt func(o *opts)

type opts struct {
	writer  io.Writer
	level   slog.Level
	handler handler
}

func WithLevel(lvl slog.Level) Opt {
	return func(o *opts) {
		o.level = lvl
	}
}

func WithWriter(w io.Writer) Opt {
	return func(o *opts) {
		o.writer = w
	}
}

func WithHandler(h handler) Opt {
	return func(o *opts) {
		o.handler = h
	}
}

func newLogger(options ...Opt) Logger {
	handler := DevHandler
	switch strings.ToLower(os.Getenv("LOG_HANDLER")) {
	case "json":
		handler = JSONHandler
	case "dev":
		handler = DevHandler
	case "txt", "text":
		handler = TextHandler
	}

	o := &opts{
		level:   Level(os.Getenv("LOG_LEVEL")),
		writer:  os.Stderr,
		handler: handler,
	}

	for _, apply := range options {
		apply(o)
	}

	hopts := slog.HandlerOptions{
		Level: o.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.LevelKey && len(groups) == 0 {
				if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					return slog.String(attr.Key, "TRACE")
				}
			}
			return attr
		},
	}

	switch o.handler {
	case DevHandler:
		return &logger{
			Logger: slog.New(tint.NewHandler(o.writer, &tint.Options{
				Level:      o.level,
				TimeFormat: "[15:04:05.000]", // millisecond
				ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
					if a.Key == slog.LevelKey && len(groups) == 0 {
						lvl, ok := a.Value.Any().(slog.Level)
						if ok {
							// keep default color for warn and error
							switch lvl {
							case LevelTrace:
								return tint.Attr(13, slog.String(a.Key, "TRC"))
							case LevelDebug:
								return tint.Attr(3, slog.String(a.Key, "DBG"))
							case LevelInfo:
								return tint.Attr(14, slog.String(a.Key, "INF"))
							}
						}
					}
					return a
				},
			})),
			level: o.level,
		}

	case TextHandler:
		return &logger{
			Logger: slog.New(slog.NewTextHandler(o.writer, &hopts)),
			level:  o.level,
		}

	default:
		return &logger{
			Logger: slog.New(slog.NewJSONHandler(o.writer, &hopts)),
			level:  o.level,
		}
	}
}

// From returns the logger in context, or a new logger if none is stored.
func From(ctx context.Context, options ...Opt) Logger {
	l := ctx.Value(ctxKey)
	if l == nil {
		return newLogger(options...)
	}
	return l.(Logger)
}

func With(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey, l)
}

func VoidLogger() Logger {
	return newLogger(WithWriter(io.Discard))
}

func Level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return DefaultLevel
	}
}

func FromSlog(l *slog.Logger, level slog.Level) Logger {
	return &logger{
		Logger: l,
		level:  level,
	}
}

// logger is a wrapper over slog with an additional trace level.
type logger struct {
	*slog.Logger
	level slog.Level
}

func (l *logger) Level() slog.Level {
	return l.level
}

func (l *logger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}

	return &logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
	}
}

func (l *logger) Trace(msg string, args ...any) {
	l.Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func (l *logger) TraceContext(ctx context.Context, msg string, args ...any) {
	l.Logger.Log(ctx, LevelTrace, msg, args...)
}

func (l *logger) SLog() *slog.Logger {
	return l.Logger
}
