// Package logging implements patchforge's category-scoped logger: a Category type
// with named per-subsystem constants and Get(category)-style accessors, with
// encoding and writing delegated to zap rather than a hand-rolled backend.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category scopes log output by subsystem.
type Category string

const (
	CategoryPipeline    Category = "pipeline"
	CategoryContext     Category = "context"
	CategoryLane        Category = "lane"
	CategoryResearch    Category = "research"
	CategoryArchitect   Category = "architect"
	CategoryBuilder     Category = "builder"
	CategoryCritic      Category = "critic"
	CategoryConfig      Category = "config"
)

var (
	mu         sync.RWMutex
	base       *zap.Logger
	loggers    = map[Category]*Logger{}
	enabled    = map[Category]bool{}
	artifactRoot = ".patchforge/jobs"
)

// Initialize sets up the zap core backing all categories. Safe to call once at
// process start; subsequent calls replace the backend for already-issued Loggers.
func Initialize(level zapcore.Level, enabledCategories map[Category]bool, artifactsRoot string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), level)
	base = zap.New(core, zap.AddCaller())
	enabled = enabledCategories
	if artifactsRoot != "" {
		artifactRoot = artifactsRoot
	}
	return nil
}

func ensureBase() *zap.Logger {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b != nil {
		return b
	}
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		base, _ = zap.NewProduction()
	}
	return base
}

// Logger is the per-category handle returned by Get.
type Logger struct {
	category Category
}

// Get returns (and lazily creates) the Logger for category.
func Get(category Category) *Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l = &Logger{category: category}
	loggers[category] = l
	return l
}

func (l *Logger) isEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	if v, ok := enabled[l.category]; ok {
		return v
	}
	return true
}

func (l *Logger) Debug(format string, args ...any) { l.emit(zapcore.DebugLevel, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.emit(zapcore.InfoLevel, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(zapcore.WarnLevel, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.emit(zapcore.ErrorLevel, format, args...) }

func (l *Logger) emit(level zapcore.Level, format string, args ...any) {
	if !l.isEnabled() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	b := ensureBase().With(zap.String("category", string(l.category)))
	switch level {
	case zapcore.DebugLevel:
		b.Debug(msg)
	case zapcore.InfoLevel:
		b.Info(msg)
	case zapcore.WarnLevel:
		b.Warn(msg)
	default:
		b.Error(msg)
	}
}

// EventLogger implements types.Logger: structured event emission plus phase-artifact
// persistence, satisfying Logger.{log, writePhaseArtifact}.
type EventLogger struct {
	JobID string
}

// NewEventLogger builds an EventLogger scoped to a job, used as the per-run
// types.Logger implementation.
func NewEventLogger(jobID string) *EventLogger {
	return &EventLogger{JobID: jobID}
}

// Log emits a structured pipeline event through the pipeline category.
func (e *EventLogger) Log(eventType string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data)+2)
	fields = append(fields, zap.String("event", eventType), zap.String("job_id", e.JobID))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	if !Get(CategoryPipeline).isEnabled() {
		return
	}
	ensureBase().Info("pipeline_event", fields...)
}

// WritePhaseArtifact writes a JSON artifact under
// "<artifactRoot>/<jobId>/<phase>-<kind>-<unixNano>.json" and returns its path.
func (e *EventLogger) WritePhaseArtifact(phase, kind string, payload any) (string, error) {
	mu.RLock()
	root := artifactRoot
	mu.RUnlock()

	dir := filepath.Join(root, e.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("writePhaseArtifact: mkdir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%d.json", phase, kind, time.Now().UnixNano())
	path := filepath.Join(dir, name)
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("writePhaseArtifact: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("writePhaseArtifact: write: %w", err)
	}
	return path, nil
}
