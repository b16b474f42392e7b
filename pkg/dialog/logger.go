package dialog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Field типизированное поле лога
type Field struct {
	Key   string
	Value interface{}
}

// F создает поле лога
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// StructuredLogger интерфейс структурированного логирования.
// Используется всеми пакетами движка; конкретная реализация
// подставляется через конфигурацию.
type StructuredLogger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithComponent возвращает логгер с привязанным именем компонента
	WithComponent(name string) StructuredLogger
	// WithCallID возвращает логгер с привязанным Call-ID
	WithCallID(callID string) StructuredLogger
}

// logEntry структура записи лога
type logEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// defaultLogger JSON логгер по умолчанию
type defaultLogger struct {
	mu        sync.Mutex
	out       io.Writer
	minLevel  LogLevel
	component string
	callID    string
}

// NewDefaultLogger создает JSON логгер с записью в stderr
func NewDefaultLogger(minLevel LogLevel) StructuredLogger {
	return &defaultLogger{
		out:      os.Stderr,
		minLevel: minLevel,
	}
}

// NewLoggerWithWriter создает JSON логгер с произвольным writer (для тестов)
func NewLoggerWithWriter(out io.Writer, minLevel LogLevel) StructuredLogger {
	return &defaultLogger{
		out:      out,
		minLevel: minLevel,
	}
}

func (l *defaultLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
		CallID:    l.callID,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	_, _ = l.out.Write(data)
	l.mu.Unlock()
}

func (l *defaultLogger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields) }
func (l *defaultLogger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, fields) }
func (l *defaultLogger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, fields) }
func (l *defaultLogger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields) }

func (l *defaultLogger) WithComponent(name string) StructuredLogger {
	return &defaultLogger{
		out:       l.out,
		minLevel:  l.minLevel,
		component: name,
		callID:    l.callID,
	}
}

func (l *defaultLogger) WithCallID(callID string) StructuredLogger {
	return &defaultLogger{
		out:       l.out,
		minLevel:  l.minLevel,
		component: l.component,
		callID:    callID,
	}
}

// NoopLogger логгер, отбрасывающий все записи
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...Field)                  {}
func (NoopLogger) Info(string, ...Field)                   {}
func (NoopLogger) Warn(string, ...Field)                   {}
func (NoopLogger) Error(string, ...Field)                  {}
func (n NoopLogger) WithComponent(string) StructuredLogger { return n }
func (n NoopLogger) WithCallID(string) StructuredLogger    { return n }
