package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

const timeFormat = "2006-01-02 15:04:05"

var (
	globalLogger *log.Logger
	logFile      *os.File
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
// An empty path logs to stderr.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var w io.Writer = os.Stderr
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		logFile = f
		w = f
	}

	globalLogger = newLogger(w)
	return nil
}

// InitWriter initializes the global logger on an arbitrary writer.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = newLogger(w)
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Prefix:          "airplane-runner",
		Level:           log.InfoLevel,
	})
}

// SetLevel sets the minimum level ("debug", "info", "warn", "error").
// Unknown levels leave the current level untouched.
func SetLevel(level string) error {
	mu.Lock()
	defer mu.Unlock()

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if globalLogger != nil {
		globalLogger.SetLevel(lvl)
	}
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	globalLogger = nil
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Infof(format, v...)
	}
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Debugf(format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Errorf(format, v...)
	}
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Warnf(format, v...)
	}
}

// GetWriter returns the underlying writer for use by subprocess output.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}

// StdLog returns a standard library logger that writes through the global
// logger at info level. Used by libraries that take a *log.Logger.
func StdLog() *stdlog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger == nil {
		return stdlog.New(io.Discard, "", 0)
	}
	return globalLogger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel})
}
