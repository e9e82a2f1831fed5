// Package capture persists copies of upstream payloads for later inspection.
//
// DESIGN: Capture is strictly best-effort. Nothing in this package returns an
// error to the request path; every failure is logged as a warning and the
// capture for that call is abandoned.
//
// FILES:
//   - writer.go:   Writer, one pretty-printed JSON file per payload
//   - document.go: Request and response capture documents
//   - tee.go:      Stream wrappers that copy bytes as they are consumed
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

const (
	// DefaultSubdir is appended to the data directory when no output_dir is configured.
	DefaultSubdir = "debug_logs"

	// TimestampLayout renders UTC time as yyyyMMdd_HHmmss.fff.
	TimestampLayout = "20060102_150405.000"

	unknownID = "unknown"
	extension = ".json"
)

var errNoOutputDir = errors.New("output directory is not available")

// DataDirFunc resolves the process-wide data directory.
type DataDirFunc func() (string, error)

// DefaultDataDir returns ~/.config/capture-gateway.
func DefaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "capture-gateway"), nil
}

// Writer writes capture payloads to disk.
type Writer struct {
	dataDir DataDirFunc
	now     func() time.Time
	logger  zerolog.Logger
	metrics *monitoring.MetricsCollector
}

// Option configures a Writer.
type Option func(*Writer)

// WithDataDir sets the fallback directory resolver.
func WithDataDir(fn DataDirFunc) Option { return func(w *Writer) { w.dataDir = fn } }

// WithClock sets the clock used for filenames.
func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

// WithLogger sets the sink for capture warnings.
func WithLogger(l zerolog.Logger) Option { return func(w *Writer) { w.logger = l } }

// WithMetrics records written and abandoned captures.
func WithMetrics(mc *monitoring.MetricsCollector) Option { return func(w *Writer) { w.metrics = mc } }

// NewWriter creates a Writer. Without options it uses DefaultDataDir,
// time.Now and the global zerolog logger.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		dataDir: DefaultDataDir,
		now:     time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enabled reports whether capture is turned on.
func Enabled(cfg config.DebugLoggingConfig) bool {
	return cfg.Enabled
}

// Filename builds {timestamp}_{correlationID|unknown}_{category}.json.
// Characters outside [A-Za-z0-9._-] in the id and category become '_', so
// the result is always a single path segment.
func Filename(at time.Time, correlationID, category string) string {
	if correlationID == "" {
		correlationID = unknownID
	}
	return fmt.Sprintf("%s_%s_%s%s", at.UTC().Format(TimestampLayout), safeSegment(correlationID), safeSegment(category), extension)
}

func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

// outcomeKind classifies the result of one write attempt.
type outcomeKind int

const (
	outcomeWritten outcomeKind = iota
	outcomeDisabled
	outcomeNoDir
	outcomeMkdirFailed
	outcomeEncodeFailed
	outcomeWriteFailed
)

// outcome is the internal result of a write. It never leaves the package.
type outcome struct {
	kind  outcomeKind
	path  string
	bytes int
	err   error
}

func (o outcome) message() string {
	switch o.kind {
	case outcomeNoDir:
		return "debug capture enabled but output dir is not available"
	case outcomeMkdirFailed:
		return "debug capture: failed to create output dir"
	case outcomeEncodeFailed:
		return "debug capture: failed to serialize payload"
	case outcomeWriteFailed:
		return "debug capture: failed to write file"
	}
	return ""
}

// Write serializes payload and writes it under the resolved output directory.
// Failures are logged and swallowed.
func (w *Writer) Write(ctx context.Context, cfg config.DebugLoggingConfig, correlationID, category string, payload any) {
	o := w.write(cfg, correlationID, category, payload)
	w.report(ctx, o, category)
}

func (w *Writer) write(cfg config.DebugLoggingConfig, correlationID, category string, payload any) outcome {
	if !cfg.Enabled {
		return outcome{kind: outcomeDisabled}
	}

	dir, err := w.outputDir(cfg)
	if err != nil {
		return outcome{kind: outcomeNoDir, err: err}
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return outcome{kind: outcomeMkdirFailed, path: dir, err: err}
	}

	path := filepath.Join(dir, Filename(w.now(), correlationID, category))

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return outcome{kind: outcomeEncodeFailed, path: path, err: err}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return outcome{kind: outcomeWriteFailed, path: path, err: err}
	}
	return outcome{kind: outcomeWritten, path: path, bytes: len(data)}
}

// outputDir prefers the configured directory, then the data directory.
func (w *Writer) outputDir(cfg config.DebugLoggingConfig) (string, error) {
	if cfg.OutputDir != "" {
		return cfg.OutputDir, nil
	}
	if w.dataDir == nil {
		return "", errNoOutputDir
	}
	base, err := w.dataDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNoOutputDir, err)
	}
	if base == "" {
		return "", errNoOutputDir
	}
	return filepath.Join(base, DefaultSubdir), nil
}

func (w *Writer) report(ctx context.Context, o outcome, category string) {
	switch o.kind {
	case outcomeDisabled:
		return
	case outcomeWritten:
		if w.metrics != nil {
			w.metrics.RecordCapture(o.bytes)
		}
		w.logger.Debug().
			Str("request_id", monitoring.RequestIDFromContext(ctx)).
			Str("category", category).
			Str("path", o.path).
			Int("bytes", o.bytes).
			Msg("debug capture written")
		return
	}

	if w.metrics != nil {
		w.metrics.RecordCaptureFailure()
	}
	event := w.logger.Warn().
		Str("request_id", monitoring.RequestIDFromContext(ctx)).
		Str("category", category).
		Err(o.err)
	if o.path != "" {
		event = event.Str("path", o.path)
	}
	event.Msg(o.message())
}
