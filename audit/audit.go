// Package audit records security-relevant vault events locally.
// Destructive events (wipes) must always be logged; everything else is
// best effort.
package audit

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/bastionvault/bastion/internal/uuid"
)

// Actions logged by the session state machine.
const (
	ActionUnlock       = "unlock"
	ActionUnlockFailed = "unlock_failed"
	ActionLockout      = "lockout"
	ActionAutoLock     = "auto_lock"
	ActionLock         = "lock"
	ActionWipe         = "wipe"
)

// Logger is a pluggable audit sink.
type Logger interface {
	Log(action string, success bool, fields map[string]interface{})
}

// NoOp discards all events.
type NoOp struct{}

func (NoOp) Log(string, bool, map[string]interface{}) {}

// LogrusLogger writes structured JSON events via logrus.
type LogrusLogger struct {
	log *logrus.Logger
}

var _ Logger = (*LogrusLogger)(nil)

// NewFileLogger appends JSON events to the given file (created 0600).
func NewFileLogger(path string) (*LogrusLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &LogrusLogger{log: l}, nil
}

// NewStderrLogger writes JSON events to stderr.
func NewStderrLogger() *LogrusLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{})
	return &LogrusLogger{log: l}
}

// Log records one event. Failure events and wipes log at warning level.
func (l *LogrusLogger) Log(action string, success bool, fields map[string]interface{}) {
	entry := l.log.WithFields(logrus.Fields(fields)).WithFields(logrus.Fields{
		"event_id": uuid.New(),
		"action":   action,
		"success":  success,
	})
	if !success || action == ActionWipe {
		entry.Warn("vault event")
		return
	}
	entry.Info("vault event")
}
