package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ObservabilityLogger provides structured JSON logging using logrus.
// Every entry carries a component and a category label plus the request id when known.
type ObservabilityLogger struct {
	logger *logrus.Logger
	file   *os.File
}

// Component constants for consistent labeling
const (
	ComponentRelay          = "relay"
	ComponentUpstream       = "upstream"
	ComponentMarkup         = "markup"
	ComponentPersistence    = "persistence"
	ComponentHTTP           = "http"
	ComponentConfig         = "configuration"
	ComponentCircuitBreaker = "circuit_breaker"
)

// Category constants for log classification
const (
	CategoryRequest = "request"
	CategoryStream  = "stream"
	CategorySuccess = "success"
	CategoryWarning = "warning"
	CategoryError   = "error"
	CategoryHealth  = "health"
	CategoryRepair  = "repair"
)

const serviceName = "chat-relay"

// New creates a logger writing JSON lines to w
func New(w io.Writer, level Level) *ObservabilityLogger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(level.logrusLevel())

	return &ObservabilityLogger{logger: logger}
}

// NewObservabilityLogger creates a logger appending to <logDir>/chat-relay.jsonl
func NewObservabilityLogger(logDir string, level Level) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(logDir, serviceName+".jsonl")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	o := New(file, level)
	o.file = file
	return o, nil
}

// Discard returns a logger that drops everything, for tests and optional wiring
func Discard() *ObservabilityLogger {
	return New(io.Discard, ERROR)
}

// Close closes the log file
func (o *ObservabilityLogger) Close() error {
	if o.file != nil {
		return o.file.Close()
	}
	return nil
}

// createEntry creates a logrus entry with standard fields
func (o *ObservabilityLogger) createEntry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   serviceName,
		"component": component,
		"category":  category,
	})

	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Error(message)
}

// Request logs request-related events
func (o *ObservabilityLogger) Request(requestID, message string, fields map[string]interface{}) {
	o.Info(ComponentRelay, CategoryRequest, requestID, message, fields)
}

// CircuitBreakerEvent logs circuit breaker state changes
func (o *ObservabilityLogger) CircuitBreakerEvent(endpoint, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["endpoint"] = endpoint
	o.Info(ComponentCircuitBreaker, CategoryHealth, "", message, fields)
}

// Repair logs a markup repair pass
func (o *ObservabilityLogger) Repair(requestID, message string, fields map[string]interface{}) {
	o.Debug(ComponentMarkup, CategoryRepair, requestID, message, fields)
}
