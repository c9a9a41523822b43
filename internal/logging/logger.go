// Package logging provides structured logging with file and console output
// and an in-memory history of recent entries.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry is one recorded log line
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Config holds logger configuration
type Config struct {
	Dir        string // log file directory; empty disables the file
	Level      string // debug, info, warn, error
	MaxHistory int    // entries kept in memory
	Console    bool   // also write to Out
	Out        io.Writer
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		MaxHistory: 1000,
		Console:    true,
		Out:        os.Stderr,
	}
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []LogEntry
	maxHist int
}

// New creates a logger. Every line written through it, including lines
// from Component loggers, is also kept in the history.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	l := &Logger{
		history: make([]LogEntry, 0, min(cfg.MaxHistory, 256)),
		maxHist: cfg.MaxHistory,
	}

	writers := []io.Writer{historyWriter{l}}

	if cfg.Dir != "" {
		dir, err := expandHome(cfg.Dir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("companion_%s.log", time.Now().Format("2006-01-02"))
		l.logPath = filepath.Join(dir, name)

		file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	if cfg.Console {
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	}

	if err := SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	l.zlog = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("app", "companion").
		Logger()

	return l, nil
}

// SetLevel changes the minimum level of every logger. An empty level means info.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// History returns up to limit of the most recent entries, oldest first.
// A limit <= 0 returns everything kept.
func (l *Logger) History(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	out := make([]LogEntry, limit)
	copy(out, l.history[len(l.history)-limit:])
	return out
}

// Path returns the log file path, or "" without a file
func (l *Logger) Path() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) record(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
}

// historyWriter decodes zerolog's JSON lines into history entries
type historyWriter struct{ l *Logger }

func (w historyWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		// Not ours to reject
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: str(fields[zerolog.TimestampFieldName]),
		Level:     str(fields[zerolog.LevelFieldName]),
		Component: str(fields["component"]),
		Message:   str(fields[zerolog.MessageFieldName]),
	}
	for _, k := range []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "component", "app"} {
		delete(fields, k)
	}
	entry.Data = formatData(fields)

	w.l.record(entry)
	return len(p), nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// formatData renders the remaining fields as sorted key=value pairs
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
