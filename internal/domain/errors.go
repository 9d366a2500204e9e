package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotConnected = errors.New("connector is not connected")

type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("unsupported database type: %s", e.Engine)
}

type UnsupportedBackendError struct {
	Backend string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported storage type: %s", e.Backend)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type ConnectionError struct {
	Engine Engine
	Output string
	Err    error
}

func (e *ConnectionError) Error() string {
	return withDetail(fmt.Sprintf("%s connection failed", e.Engine), e.Err, e.Output)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("database file not found: %s", e.Path)
}

type BackupError struct {
	Engine Engine
	Output string
	Err    error
}

func (e *BackupError) Error() string {
	return withDetail(fmt.Sprintf("%s backup failed", e.Engine), e.Err, e.Output)
}

func (e *BackupError) Unwrap() error { return e.Err }

type RestoreError struct {
	Engine Engine
	Output string
	Err    error
}

func (e *RestoreError) Error() string {
	return withDetail(fmt.Sprintf("%s restore failed", e.Engine), e.Err, e.Output)
}

func (e *RestoreError) Unwrap() error { return e.Err }

type CompressionError struct {
	Path string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression of %s failed: %v", e.Path, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }

// LockedError reports that another run already holds the advisory lock on a target.
type LockedError struct {
	Target string
	Holder string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("target %s is busy (held by run %s)", e.Target, e.Holder)
}

func withDetail(msg string, err error, output string) string {
	if err != nil {
		msg += ": " + err.Error()
	}
	if out := strings.TrimSpace(output); out != "" {
		msg += ", output: " + out
	}
	return msg
}
