// Package logger provides area-gated, levelled logging to a rotating file.
// All functions are no-ops until Initialize has been called.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codekids/pyquest/pkg/configuration"
)

// LogLevel is the severity of an entry.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// LogArea is a subsystem that can be switched on and off in the [Debug] section
// with a log_<area> key.
type LogArea string

const (
	AreaInterpreter LogArea = "interpreter"
	AreaClassifier  LogArea = "classifier"
	AreaLessons     LogArea = "lessons"
	AreaSession     LogArea = "session"
	AreaWebSocket   LogArea = "websocket"
	AreaDatabase    LogArea = "database"
	AreaSecurity    LogArea = "security"
	AreaConfig      LogArea = "config"
	AreaRewards     LogArea = "rewards"
	AreaGeneral     LogArea = "general"
)

var allAreas = []LogArea{
	AreaInterpreter, AreaClassifier, AreaLessons, AreaSession, AreaWebSocket,
	AreaDatabase, AreaSecurity, AreaConfig, AreaRewards, AreaGeneral,
}

// Logger writes entries for enabled areas to the log file.
type Logger struct {
	enabled       int32              // atomic bool
	level         int32              // atomic LogLevel
	areaEnabled   map[LogArea]*int32 // atomic bools, map itself is never written after creation
	file          *os.File
	mutex         sync.Mutex
	logPath       string
	maxSizeMB     int64
	rotationCount int
	currentSize   int64
}

var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize sets up the global logger from the configuration.
func Initialize() error {
	var err error
	initOnce.Do(func() {
		globalLogger, err = newLogger()
	})
	return err
}

func newLogger() (*Logger, error) {
	l := &Logger{areaEnabled: make(map[LogArea]*int32, len(allAreas))}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}
	l.loadConfig()
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) loadConfig() {
	enabled := configuration.GetBool("Debug", "enable_debug_logging", true)
	atomic.StoreInt32(&l.enabled, boolToInt32(enabled))

	level := parseLogLevel(configuration.GetString("Debug", "log_level", "INFO"))
	atomic.StoreInt32(&l.level, int32(level))

	l.logPath = configuration.GetString("Debug", "log_file", "pyquest.log")
	l.maxSizeMB = int64(configuration.GetInt("Debug", "max_log_size_mb", 10))
	l.rotationCount = configuration.GetInt("Debug", "log_rotation_count", 3)

	for area, flag := range l.areaEnabled {
		on := configuration.GetBool("Debug", "log_"+string(area), area == AreaGeneral)
		atomic.StoreInt32(flag, boolToInt32(on))
	}
}

func (l *Logger) openLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = file
	if stat, err := file.Stat(); err == nil {
		l.currentSize = stat.Size()
	}
	return nil
}

// rotateLocked shifts log.N to log.N+1 and starts a fresh file. Callers hold l.mutex.
func (l *Logger) rotateLocked() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	for i := l.rotationCount - 1; i >= 1; i-- {
		oldName := fmt.Sprintf("%s.%d", l.logPath, i)
		newName := fmt.Sprintf("%s.%d", l.logPath, i+1)
		if i == l.rotationCount-1 {
			os.Remove(newName)
		}
		os.Rename(oldName, newName)
	}
	os.Rename(l.logPath, l.logPath+".1")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *Logger) shouldLog(level LogLevel, area LogArea) bool {
	if atomic.LoadInt32(&l.enabled) == 0 {
		return false
	}
	if atomic.LoadInt32(&l.level) > int32(level) {
		return false
	}
	flag, ok := l.areaEnabled[area]
	return ok && atomic.LoadInt32(flag) != 0
}

func (l *Logger) writeLog(level LogLevel, area LogArea, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	_, file, line, _ := runtime.Caller(3)
	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		logLevelNames[level],
		filepath.Base(file),
		line,
		strings.ToUpper(string(area)),
		message)

	l.mutex.Lock()
	if l.file != nil {
		if n, err := l.file.WriteString(entry); err == nil {
			l.currentSize += int64(n)
			if l.maxSizeMB > 0 && l.currentSize > l.maxSizeMB*1024*1024 {
				l.rotateLocked()
			}
		}
	}
	l.mutex.Unlock()

	// warnings and worse also go to stderr
	if level >= WARN {
		log.Printf("[%s] [%s] %s", logLevelNames[level], strings.ToUpper(string(area)), message)
	}
}

// Debug logs at DEBUG level.
func Debug(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(DEBUG, area) {
		globalLogger.writeLog(DEBUG, area, format, args...)
	}
}

// Info logs at INFO level.
func Info(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(INFO, area) {
		globalLogger.writeLog(INFO, area, format, args...)
	}
}

// Warn logs at WARN level.
func Warn(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(WARN, area) {
		globalLogger.writeLog(WARN, area, format, args...)
	}
}

// Error logs at ERROR level.
func Error(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(ERROR, area) {
		globalLogger.writeLog(ERROR, area, format, args...)
	}
}

// Fatal logs and exits the process.
func Fatal(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.writeLog(FATAL, area, format, args...)
	}
	log.Fatalf("[FATAL] [%s] %s", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
}

// Shorthands for the busiest areas

func SessionDebug(format string, args ...interface{}) { Debug(AreaSession, format, args...) }
func SessionInfo(format string, args ...interface{})  { Info(AreaSession, format, args...) }
func SessionWarn(format string, args ...interface{})  { Warn(AreaSession, format, args...) }

func WebSocketDebug(format string, args ...interface{}) { Debug(AreaWebSocket, format, args...) }
func WebSocketInfo(format string, args ...interface{})  { Info(AreaWebSocket, format, args...) }
func WebSocketWarn(format string, args ...interface{})  { Warn(AreaWebSocket, format, args...) }
func WebSocketError(format string, args ...interface{}) { Error(AreaWebSocket, format, args...) }

func SecurityInfo(format string, args ...interface{})  { Info(AreaSecurity, format, args...) }
func SecurityWarn(format string, args ...interface{})  { Warn(AreaSecurity, format, args...) }
func SecurityError(format string, args ...interface{}) { Error(AreaSecurity, format, args...) }

func DatabaseDebug(format string, args ...interface{}) { Debug(AreaDatabase, format, args...) }
func DatabaseError(format string, args ...interface{}) { Error(AreaDatabase, format, args...) }

func ConfigInfo(format string, args ...interface{}) { Info(AreaConfig, format, args...) }
func ConfigWarn(format string, args ...interface{}) { Warn(AreaConfig, format, args...) }

// ReloadConfig re-reads level and area switches.
func ReloadConfig() error {
	if globalLogger == nil {
		return fmt.Errorf("logger not initialized")
	}
	globalLogger.loadConfig()
	return nil
}

// EnableArea turns on logging for one area at runtime.
func EnableArea(area LogArea) {
	if globalLogger != nil {
		if flag, ok := globalLogger.areaEnabled[area]; ok {
			atomic.StoreInt32(flag, 1)
		}
	}
}

// DisableArea turns off logging for one area at runtime.
func DisableArea(area LogArea) {
	if globalLogger != nil {
		if flag, ok := globalLogger.areaEnabled[area]; ok {
			atomic.StoreInt32(flag, 0)
		}
	}
}

// GetAreaStatus reports whether an area is currently logged.
func GetAreaStatus(area LogArea) bool {
	if globalLogger == nil {
		return false
	}
	flag, ok := globalLogger.areaEnabled[area]
	return ok && atomic.LoadInt32(flag) != 0
}

// ListAreas returns every known area.
func ListAreas() []LogArea {
	out := make([]LogArea, len(allAreas))
	copy(out, allAreas)
	return out
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close flushes and closes the log file.
func Close() {
	if globalLogger == nil {
		return
	}
	globalLogger.mutex.Lock()
	defer globalLogger.mutex.Unlock()
	if globalLogger.file != nil {
		globalLogger.file.Sync()
		globalLogger.file.Close()
		globalLogger.file = nil
	}
}
