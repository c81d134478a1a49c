// Package zlog provides the structured logging facade used throughout the
// MCP client runtime. It wraps log/slog behind a small subsystem-tagged API
// so call sites read the same way regardless of which package emits them.
package zlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init (re)configures the package-level logger. Call once at process start.
func Init(level slog.Level, output io.Writer) {
	defaultLogger = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))
}

func logInternal(level slog.Level, subsystem string, err error, messageFmt string, args ...interface{}) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}
	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs a debug-level message tagged with subsystem.
func Debug(subsystem, messageFmt string, args ...interface{}) {
	logInternal(slog.LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an info-level message tagged with subsystem.
func Info(subsystem, messageFmt string, args ...interface{}) {
	logInternal(slog.LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning tagged with subsystem.
func Warn(subsystem, messageFmt string, args ...interface{}) {
	logInternal(slog.LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error tagged with subsystem.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(slog.LevelError, subsystem, err, messageFmt, args...)
}

// AuditEvent is a structured record of a security-relevant transition
// (OAuth token exchange, refresh, CSRF mismatch). Kept distinct from plain
// log lines so it can be grepped or shipped to a compliance sink.
type AuditEvent struct {
	Action    string
	Outcome   string // "success" or "failure"
	ServerID  string
	Detail    string
	Error     string
}

// Audit logs a security-relevant event at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	parts := make([]string, 0, 5)
	parts = append(parts, "action="+event.Action, "outcome="+event.Outcome)
	if event.ServerID != "" {
		parts = append(parts, "server="+event.ServerID)
	}
	if event.Detail != "" {
		parts = append(parts, "detail="+event.Detail)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}
	logInternal(slog.LevelInfo, "AUDIT", nil, "%s", "[AUDIT] "+strings.Join(parts, " "))
}
