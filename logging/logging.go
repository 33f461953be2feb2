// Package logging builds slog loggers that write Cloud Logging structured
// records: one JSON object per line with "severity" and "message" keys, so
// log entries are indexed without text parsing.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Levels beyond the four slog defines, matching Cloud Logging severities.
const (
	LevelNotice    = slog.Level(2)
	LevelCritical  = slog.Level(12)
	LevelAlert     = slog.Level(16)
	LevelEmergency = slog.Level(20)
)

const (
	// TraceHeader is the request header carrying the Cloud trace context.
	TraceHeader = "X-Cloud-Trace-Context"
	// TraceKey is the record field Cloud Logging groups traces by.
	TraceKey = "logging.googleapis.com/trace"
)

type options struct {
	prefix    string
	level     slog.Leveler
	addSource bool
	noTime    bool
}

// Option configures New.
type Option func(*options)

// WithPrefix prepends prefix to every message.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLevel sets the minimum level (default slog.LevelInfo).
func WithLevel(l slog.Leveler) Option {
	return func(o *options) { o.level = l }
}

// WithSource adds the caller position to records.
func WithSource() Option {
	return func(o *options) { o.addSource = true }
}

// WithoutTime drops the time field. The runtime stamps records on arrival.
func WithoutTime() Option {
	return func(o *options) { o.noTime = true }
}

// New returns a logger writing Cloud Logging JSON lines to w.
func New(w io.Writer, opts ...Option) *slog.Logger {
	o := &options{level: slog.LevelInfo}
	for _, fn := range opts {
		fn(o)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     o.level,
		AddSource: o.addSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.LevelKey:
				if l, ok := a.Value.Any().(slog.Level); ok {
					return slog.String("severity", Severity(l))
				}
			case slog.MessageKey:
				return slog.String("message", o.prefix+a.Value.String())
			case slog.TimeKey:
				if o.noTime {
					return slog.Attr{}
				}
			case slog.SourceKey:
				return slog.Attr{Key: "logging.googleapis.com/sourceLocation", Value: a.Value}
			}
			return a
		},
	}))
}

// Severity maps a slog level to its Cloud Logging severity name.
func Severity(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < LevelNotice:
		return "INFO"
	case l < slog.LevelWarn:
		return "NOTICE"
	case l < slog.LevelError:
		return "WARNING"
	case l < LevelCritical:
		return "ERROR"
	case l < LevelAlert:
		return "CRITICAL"
	case l < LevelEmergency:
		return "ALERT"
	default:
		return "EMERGENCY"
	}
}

var severities = map[string]slog.Level{
	"DEBUG":     slog.LevelDebug,
	"INFO":      slog.LevelInfo,
	"NOTICE":    LevelNotice,
	"WARNING":   slog.LevelWarn,
	"WARN":      slog.LevelWarn,
	"ERROR":     slog.LevelError,
	"CRITICAL":  LevelCritical,
	"ALERT":     LevelAlert,
	"EMERGENCY": LevelEmergency,
}

// ParseLevel parses a severity name, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	if l, ok := severities[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("logging: unknown severity %q", s)
}

// TraceField turns an X-Cloud-Trace-Context header ("TRACE_ID/SPAN_ID;o=1")
// into the trace resource name for project. It returns "" when either is
// missing.
func TraceField(header, project string) string {
	trace, _, _ := strings.Cut(header, "/")
	trace, _, _ = strings.Cut(trace, ";")
	trace = strings.TrimSpace(trace)
	if trace == "" || project == "" {
		return ""
	}
	return "projects/" + project + "/traces/" + trace
}

// WithTrace returns l with the trace field attached, or l itself when the
// header yields no trace.
func WithTrace(l *slog.Logger, header, project string) *slog.Logger {
	field := TraceField(header, project)
	if field == "" {
		return l
	}
	return l.With(slog.String(TraceKey, field))
}
