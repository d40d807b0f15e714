// pkg/logging/logging.go - timestamped session logging for winfeature.
//
// Each run writes into its own timestamped directory (YYYY-MM-DD-HHMMss)
// under the configured logs path: a plain-text winfeature.log, a JSONL
// event stream, and a YAML mirror for external reporting tools.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/windows"
	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/winfeature/pkg/config"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// parseLevel maps a configured level name to a LogLevel.
func parseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry represents a structured log entry compatible with external monitoring tools
type LogEntry struct {
	Time       int64                  `json:"time" yaml:"time"`
	Timestamp  string                 `json:"timestamp" yaml:"timestamp"`
	Level      string                 `json:"level" yaml:"level"`
	Message    string                 `json:"message" yaml:"message"`
	PID        int64                  `json:"pid" yaml:"pid"`
	Hostname   string                 `json:"hostname" yaml:"hostname"`
	SessionID  string                 `json:"session_id" yaml:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Logger encapsulates leveled logging into a timestamped session directory.
type Logger struct {
	mu       sync.Mutex
	logger   *log.Logger
	logLevel LogLevel
	logFile  *os.File
	jsonFile *os.File
	yamlFile *os.File
	hostname string
	session  string
}

// singleton instance and sync.Once for thread-safe initialization
var (
	instance *Logger
	once     sync.Once
)

// Init initializes the singleton Logger based on the provided configuration.
// It must be called before any logging functions are used.
func Init(cfg *config.Configuration) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(cfg)
	})
	return initErr
}

// newLogger creates a new Logger instance based on the configuration.
func newLogger(cfg *config.Configuration) (*Logger, error) {
	sessionStart := time.Now()

	baseDir := cfg.LogsPath
	if baseDir == "" {
		baseDir = `C:\ProgramData\WinFeature\logs`
	}

	// Format: YYYY-MM-DD-HHMMss
	logDir := filepath.Join(baseDir, sessionStart.Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		logLevel: parseLevel(cfg.LogLevel),
		hostname: hostname,
		session:  fmt.Sprintf("winfeature-%d", sessionStart.Unix()),
	}
	if cfg.Debug {
		l.logLevel = LevelDebug
	}

	var err error
	l.logFile, err = os.OpenFile(filepath.Join(logDir, "winfeature.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log file: %w", err)
	}
	l.jsonFile, err = os.OpenFile(filepath.Join(logDir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON log file: %w", err)
	}
	l.yamlFile, err = os.OpenFile(filepath.Join(logDir, "winfeature.yaml"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open YAML log file: %w", err)
	}

	enableColors()
	l.logger = log.New(io.MultiWriter(os.Stdout, l.logFile), "", 0)

	return l, nil
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()

	for _, f := range []**os.File{&instance.logFile, &instance.jsonFile, &instance.yamlFile} {
		if *f != nil {
			if err := (*f).Close(); err != nil {
				fmt.Printf("Failed to close log file: %v\n", err)
			}
			*f = nil
		}
	}
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, keyValues)
		return
	}

	if level > l.logLevel {
		return
	}

	properties := make(map[string]interface{})
	for i := 0; i+1 < len(keyValues); i += 2 {
		properties[fmt.Sprintf("%v", keyValues[i])] = keyValues[i+1]
	}

	now := time.Now()
	entry := LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		SessionID:  l.session,
		Properties: properties,
	}

	l.writeMainLog(entry, keyValues)
	l.writeJSONLog(entry)
	l.writeYAMLLog(entry)
	l.syncFiles()
}

// writeMainLog writes to the main winfeature.log file in traditional format
func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	baseLine := fmt.Sprintf("[%s] %-5s %s", ts, entry.Level, entry.Message)

	for i := 0; i+1 < len(keyValues); i += 2 {
		baseLine += fmt.Sprintf(" %v=%v", keyValues[i], keyValues[i+1])
	}

	l.logger.Println(baseLine)
}

// writeJSONLog writes a structured JSON log entry
func (l *Logger) writeJSONLog(entry LogEntry) {
	if l.jsonFile == nil {
		return
	}
	if data, err := json.Marshal(entry); err == nil {
		l.jsonFile.WriteString(string(data) + "\n")
	}
}

// writeYAMLLog writes a structured YAML log entry
func (l *Logger) writeYAMLLog(entry LogEntry) {
	if l.yamlFile == nil {
		return
	}
	if data, err := yaml.Marshal(entry); err == nil {
		l.yamlFile.WriteString("---\n" + string(data))
	}
}

// syncFiles forces sync on all open log files
func (l *Logger) syncFiles() {
	for _, f := range []*os.File{l.logFile, l.jsonFile, l.yamlFile} {
		if f != nil {
			f.Sync()
		}
	}
}

// enableColors enables ANSI colors for the Windows console
func enableColors() {
	if runtime.GOOS == "windows" {
		handle := windows.Handle(windows.STD_OUTPUT_HANDLE)
		var mode uint32
		if err := windows.GetConsoleMode(handle, &mode); err == nil {
			mode |= windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
			_ = windows.SetConsoleMode(handle, mode)
		}
	}
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: INFO %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: DEBUG %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelDebug, message, keyValues...)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: WARN %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelWarn, message, keyValues...)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: ERROR %s %v\n", message, keyValues)
		return
	}
	instance.logMessage(LevelError, message, keyValues...)
}

// LogStructured logs a message with an explicit property map.
func LogStructured(level LogLevel, message string, properties map[string]interface{}) {
	if instance == nil {
		fmt.Printf("LOGGING NOT INITIALIZED: %s %s %v\n", level.String(), message, properties)
		return
	}
	keyValues := make([]interface{}, 0, len(properties)*2)
	for k, v := range properties {
		keyValues = append(keyValues, k, v)
	}
	instance.logMessage(level, message, keyValues...)
}
