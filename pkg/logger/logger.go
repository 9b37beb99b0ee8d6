// Package logger provides structured logging with trace-ID and job-ID
// propagation for the control plane and its background supervisors.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through request and
// supervisor-tick contexts.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	UserIDKey  ContextKey = "user_id"
	RoleKey    ContextKey = "role"
	JobIDKey   ContextKey = "job_id"
)

// Config controls level, format and destination of a Logger.
type Config struct {
	Service    string `mapstructure:"service"`
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePrefix string `mapstructure:"file_prefix"`
}

// Logger wraps logrus.Logger with vault-specific context propagation.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger from Config. Unparseable levels fall back to Info;
// unrecognized formats fall back to text with full timestamps.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "vault-backend"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			l.Errorf("failed to create log directory: %v", err)
		} else {
			path := filepath.Join(logDir, prefix+".log")
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				l.Errorf("failed to open log file: %v", err)
			} else {
				l.SetOutput(io.MultiWriter(os.Stdout, f))
			}
		}
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l, service: cfg.Service}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT/LOG_OUTPUT, defaulting
// to info/json/stdout.
func NewFromEnv(service string) *Logger {
	cfg := Config{
		Service: service,
		Level:   envOr("LOG_LEVEL", "info"),
		Format:  envOr("LOG_FORMAT", "json"),
		Output:  envOr("LOG_OUTPUT", "stdout"),
	}
	return New(cfg)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// WithContext returns an entry carrying trace/user/role/job fields present
// on ctx, plus the logger's service name.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(UserIDKey); v != nil {
		entry = entry.WithField("user_id", v)
	}
	if v := ctx.Value(RoleKey); v != nil {
		entry = entry.WithField("role", v)
	}
	if v := ctx.Value(JobIDKey); v != nil {
		entry = entry.WithField("job_id", v)
	}
	return entry
}

// WithField / WithFields mirror logrus' top-level entry builders, tagged
// with the logger's service name.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, key: value})
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithJobID tags a log entry with a job id, used by the job runner and
// quarantine pipeline driver so a single job's lifecycle can be grepped.
func (l *Logger) WithJobID(jobID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"job_id": jobID})
}

// Context helpers

func NewTraceID() string { return uuid.NewString() }

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(JobIDKey).(string)
	return v
}

// Structured helpers used by the HTTP middleware stack and background
// supervisors.

func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType, "severity": "security"}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

func (l *Logger) LogAudit(ctx context.Context, action, resource, resourceID, result string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action":      action,
		"resource":    resource,
		"resource_id": resourceID,
		"result":      result,
		"audit":       true,
	}).Info("audit")
}

func (l *Logger) LogJobTransition(ctx context.Context, jobID, from, to string) {
	l.WithJobID(jobID).WithFields(logrus.Fields{"from": from, "to": to}).Info("job transition")
}

var defaultLogger *Logger

func InitDefault(service string) {
	defaultLogger = NewFromEnv(service)
}

func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewFromEnv("vault-backend")
	}
	return defaultLogger
}

func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
