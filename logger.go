package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// Logger constants
const (
	// Environment variable name to enable/disable detailed logging
	LogDetailEnvVar = "LOG_DETAIL"
	// Environment variable to enable/disable colored output
	LogColorEnvVar = "LOG_COLOR"
	// Environment variable for log directory
	LogDirEnvVar = "LOG_DIR"
	// Default log directory
	DefaultLogDir = "logs"
)

// Logger is a leveled logger scoped to one bot run. Each bot gets its own
// instance so log lines carry the account they belong to and nothing in the
// process writes through a shared singleton.
type Logger struct {
	name     string
	out      *log.Logger
	file     *os.File
	detailed bool
	colored  bool
}

// NewLogger creates a logger named after the account it serves, writing to
// both the console and a date-stamped file under the configured log directory.
func NewLogger(name string) *Logger {
	detailed := strings.ToLower(os.Getenv(LogDetailEnvVar)) == "true"
	colored := os.Getenv(LogColorEnvVar) != "false"

	logDir := os.Getenv(LogDirEnvVar)
	if logDir == "" {
		logDir = DefaultLogDir
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("Failed to create log directory: %v", err)
	}

	currentTime := time.Now().Format("2006-01-02")
	logFilePath := filepath.Join(logDir, fmt.Sprintf("delivery-bot-%s.log", currentTime))

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	var writer io.Writer = os.Stdout
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
	} else {
		writer = io.MultiWriter(os.Stdout, logFile)
	}

	l := &Logger{
		name:     name,
		out:      log.New(writer, "", log.LstdFlags),
		file:     logFile,
		detailed: detailed,
		colored:  colored,
	}

	l.Info("Logging initialized. Logs will be saved to: %s", logFilePath)

	return l
}

// newLogger builds a logger over an arbitrary writer; used by tests
func newLogger(name string, w io.Writer) *Logger {
	return &Logger{
		name: name,
		out:  log.New(w, "", log.LstdFlags),
	}
}

// Close closes the log file
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logWithLevel("DEBUG", ColorCyan, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.logWithLevel("INFO", ColorGreen, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.logWithLevel("WARNING", ColorYellow, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.logWithLevel("ERROR", ColorRed, format, args...)
}

// logWithLevel logs a message with the specified level, the logger name, and
// file/function information when detailed logging is enabled
func (l *Logger) logWithLevel(level string, color string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	levelStr := level
	if l.colored {
		levelStr = color + level + ColorReset
	}

	if l.detailed {
		pc, file, line, ok := runtime.Caller(2)
		if !ok {
			file = "unknown"
			line = 0
		}

		filename := filepath.Base(file)

		funcName := runtime.FuncForPC(pc).Name()
		if lastDot := strings.LastIndex(funcName, "."); lastDot >= 0 {
			funcName = funcName[lastDot+1:]
		}

		fileInfo := fmt.Sprintf("%s:%s:%d", filename, funcName, line)
		l.out.Printf("[%s] %s %s - %s", levelStr, l.name, fileInfo, message)
		return
	}

	l.out.Printf("[%s] %s - %s", levelStr, l.name, message)
}
