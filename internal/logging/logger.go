// Package logging provides config-driven categorized file-based logging for
// planwright. Logs are written to .planwright/logs/ with one file per category.
// Logging is controlled by logging.debug_mode in .planwright/config.yaml - when
// false, no log files are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and initialization
	CategoryRefine       Category = "refine"       // Confidence scoring, refinement loop
	CategoryDiscovery    Category = "discovery"    // Inventory filter, certainty-gate analysis
	CategoryResolve      Category = "resolve"      // Uncertainty resolution
	CategoryGraph        Category = "graph"        // Dependency graph building
	CategorySkills       Category = "skills"       // Capability resolution
	CategoryTasks        Category = "tasks"        // Task materialization
	CategoryQGate        Category = "qgate"        // Q-Gate verification
	CategoryKernel       Category = "kernel"       // Mangle kernel operations
	CategoryStore        Category = "store"        // Run store operations
	CategoryAPI          Category = "api"          // LLM API calls
	CategoryOrchestrator Category = "orchestrator" // Phase transitions, suspensions
)

// loggingConfig mirrors the relevant fragment of config.LoggingConfig to avoid
// a circular import on internal/config.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config. Should be called
// once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	logsDir = filepath.Join(ws, ".planwright", "logs")
	loadConfig(filepath.Join(ws, ".planwright", "config.yaml"))

	if !Enabled() {
		return nil
	}
	return os.MkdirAll(logsDir, 0o755)
}

func loadConfig(path string) {
	configMu.Lock()
	defer configMu.Unlock()

	configLoaded = true
	config = loggingConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return // No config means logging stays off
	}
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// Enabled reports whether logging is active at all.
func Enabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return configLoaded && config.DebugMode
}

// SetDebugMode forces logging on or off. Used by tests.
func SetDebugMode(enabled bool, dir string) {
	configMu.Lock()
	defer configMu.Unlock()
	configLoaded = true
	config.DebugMode = enabled
	logLevel = LevelDebug
	if dir != "" {
		logsDir = dir
	}
}

func categoryEnabled(cat Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if !configLoaded || !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true // All categories on by default in debug mode
	}
	enabled, ok := config.Categories[string(cat)]
	return !ok || enabled
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	loggersMu.RLock()
	l, ok := loggers[cat]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l = &Logger{category: cat}
	if categoryEnabled(cat) && logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err == nil {
			path := filepath.Join(logsDir, string(cat)+".log")
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				l.file = f
				l.logger = log.New(f, "", 0)
			}
		}
	}
	loggers[cat] = l
	return l
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || level < logLevel || !categoryEnabled(l.category) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), tag, msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Close flushes and closes all open log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience helpers for hot categories.

func Refine(format string, args ...interface{})      { Get(CategoryRefine).Info(format, args...) }
func RefineDebug(format string, args ...interface{}) { Get(CategoryRefine).Debug(format, args...) }
func Discovery(format string, args ...interface{})   { Get(CategoryDiscovery).Info(format, args...) }
func DiscoveryDebug(format string, args ...interface{}) {
	Get(CategoryDiscovery).Debug(format, args...)
}
func Resolve(format string, args ...interface{})    { Get(CategoryResolve).Info(format, args...) }
func Graph(format string, args ...interface{})      { Get(CategoryGraph).Info(format, args...) }
func GraphDebug(format string, args ...interface{}) { Get(CategoryGraph).Debug(format, args...) }
func QGate(format string, args ...interface{})      { Get(CategoryQGate).Info(format, args...) }
func QGateDebug(format string, args ...interface{}) { Get(CategoryQGate).Debug(format, args...) }
func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	name     string
	start    time.Time
}

// StartTimer begins timing a named operation in a category.
func StartTimer(cat Category, name string) *Timer {
	return &Timer{category: cat, name: name, start: time.Now()}
}

// Stop logs the elapsed duration.
func (t *Timer) Stop() {
	Get(t.category).Debug("%s took %v", t.name, time.Since(t.start))
}
