// Package logger is the structured logger of the points engine, a typed
// front for log/slog. Entries are written as one JSON object per line, or as
// key=value text for local runs. The same handler backs Slog, so components
// that take a *slog.Logger write to the same stream.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	levelOff = slog.Level(1 << 10)
)

// ParseLevel parses a level name. Unknown names mean info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat parses a format name. Anything but "text" means JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// Field is one key/value of an entry.
type Field = slog.Attr

func String(key, value string) Field      { return slog.String(key, value) }
func Int(key string, value int) Field     { return slog.Int(key, value) }
func Int64(key string, value int64) Field { return slog.Int64(key, value) }
func Bool(key string, value bool) Field   { return slog.Bool(key, value) }
func Any(key string, value any) Field     { return slog.Any(key, value) }

// Err renders err as its message under "error".
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Duration renders d as "1.5s".
func Duration(key string, d time.Duration) Field { return slog.String(key, d.String()) }

func UserID(id string) Field            { return String("user_id", id) }
func ActionKind(kind string) Field      { return String("action_kind", kind) }
func Points(n int64) Field              { return Int64("points", n) }
func AchievementName(name string) Field { return String("achievement_name", name) }
func ReferralCode(code string) Field    { return String("referral_code", code) }
func Component(name string) Field       { return String("component", name) }
func Operation(name string) Field       { return String("operation", name) }
func Latency(d time.Duration) Field     { return Duration("latency", d) }

// RequestIDKey is the field key of request tracing ids.
const RequestIDKey = "request_id"

// Options configures New.
type Options struct {
	Output io.Writer
	Level  Level
	Format Format

	// AddCaller adds "caller": "file.go:line". CallerSkip drops extra frames
	// for helpers that log on behalf of their caller.
	AddCaller  bool
	CallerSkip int

	// Now overrides the clock.
	Now func() time.Time
}

// DefaultOptions is JSON at info level on stdout.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, Format: FormatJSON, AddCaller: true}
}

// Logger writes entries at or above its level. Loggers derived with With
// share the handler and its writer.
type Logger struct {
	h    slog.Handler
	skip int
	src  bool
	now  func() time.Time
}

// New builds a logger from opts.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ho := &slog.HandlerOptions{AddSource: opts.AddCaller, Level: opts.Level}
	var h slog.Handler
	if opts.Format == FormatText {
		ho.ReplaceAttr = replacer(false)
		h = slog.NewTextHandler(opts.Output, ho)
	} else {
		ho.ReplaceAttr = replacer(true)
		h = slog.NewJSONHandler(opts.Output, ho)
	}
	return &Logger{h: h, skip: opts.CallerSkip, src: opts.AddCaller, now: opts.Now}
}

// replacer renders time in UTC and the source as a short caller. The JSON
// form uses "timestamp" and "message" keys.
func replacer(json bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			if json {
				a.Key = "timestamp"
			}
		case slog.MessageKey:
			if json {
				a.Key = "message"
			}
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok {
				return slog.String("caller", filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
			}
		}
		return a
	}
}

// Default is New(DefaultOptions()).
func Default() *Logger {
	return New(DefaultOptions())
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	child := *l
	child.h = l.h.WithAttrs(fields)
	return &child
}

// WithRequestID adds the request id field.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Slog exposes the logger, fields included, as a *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.h)
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l.h.Enabled(context.Background(), level)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}
	var pc uintptr
	if l.src {
		// runtime.Callers, log, Debug/Info/Warn/Error
		var pcs [1]uintptr
		runtime.Callers(3+l.skip, pcs[:])
		pc = pcs[0]
	}
	r := slog.NewRecord(l.now(), level, msg, pc)
	r.AddAttrs(fields...)
	_ = l.h.Handle(ctx, r)
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
