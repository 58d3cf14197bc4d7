package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "debug" or "WARN" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

const filePrefix = "frosk-"

// Logger writes leveled messages to a daily log file and optionally mirrors
// them to a console writer
type Logger struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	console       io.Writer
	loggers       [ERROR + 1]*log.Logger
	logDir        string
	currentDay    string
	retentionDays int
}

// Config holds logger configuration
type Config struct {
	// LogDir is where daily files are written. Empty disables file output.
	LogDir        string
	Level         Level
	RetentionDays int
	// Console, when set, receives a copy of every message
	Console io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}

	return Config{
		LogDir:        filepath.Join(base, "frosk", "logs"),
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	l := &Logger{
		level:         config.Level,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
		console:       config.Console,
	}

	if l.logDir == "" {
		l.setOutput(l.console)
		return l, nil
	}

	if err := l.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// NewWriter creates a logger that writes only to w, without a log file
func NewWriter(w io.Writer, level Level) *Logger {
	l := &Logger{level: level, console: w}
	l.setOutput(w)
	return l
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWriter(io.Discard, ERROR+1)
}

// setOutput points every level logger at w; caller holds mu or owns l
func (l *Logger) setOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	for lvl := DEBUG; lvl <= ERROR; lvl++ {
		l.loggers[lvl] = log.New(w, "["+lvl.String()+"] ", log.LstdFlags)
	}
}

// FileName returns the log file name used for the given day
func FileName(day time.Time) string {
	return filePrefix + day.Format("20060102") + ".log"
}

// rotateLog rotates the log file if necessary
func (l *Logger) rotateLog() error {
	l.mu.Lock()

	now := time.Now()
	today := now.Format("20060102")

	if l.currentDay == today && l.file != nil {
		l.mu.Unlock()
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(l.logDir, FileName(now))
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.currentDay = today

	var out io.Writer = file
	if l.console != nil {
		out = io.MultiWriter(file, l.console)
	}
	l.setOutput(out)
	l.mu.Unlock()

	if err := l.cleanOldLogs(); err != nil {
		l.Warn("Failed to clean old logs: %v", err)
	}

	return nil
}

// cleanOldLogs deletes our log files older than retentionDays
func (l *Logger) cleanOldLogs() error {
	if l.retentionDays <= 0 {
		return nil
	}
	cutoffDate := time.Now().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// best effort
			_ = os.Remove(filepath.Join(l.logDir, name))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it
func (l *Logger) checkRotation() {
	l.mu.RLock()
	currentDay := l.currentDay
	hasFile := l.logDir != ""
	l.mu.RUnlock()

	if !hasFile {
		return
	}

	if currentDay != time.Now().Format("20060102") {
		if err := l.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	l.mu.RLock()
	enabled := l.level <= level
	l.mu.RUnlock()

	if !enabled {
		return
	}

	l.checkRotation()
	l.mu.RLock()
	lg := l.loggers[level]
	l.mu.RUnlock()
	if lg != nil {
		lg.Printf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(DEBUG, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(ERROR, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.level
}
