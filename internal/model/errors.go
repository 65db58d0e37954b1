package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTrashed       = errors.New("trashed")
	ErrAmbiguousPath = errors.New("ambiguous path")
	ErrPathExists    = errors.New("path exists")
	ErrLocked        = errors.New("another job is running")
	ErrInvalidName   = errors.New("invalid item name")
)

// ConfigError reports a missing or invalid external dependency or setting.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CryptoError reports a failed cipher invocation. Stderr carries the cipher's diagnostics.
type CryptoError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *CryptoError) Error() string {
	msg := fmt.Sprintf("failed to %s", e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (" + s + ")"
	}
	return msg
}

func (e *CryptoError) Unwrap() error { return e.Err }

// RemoteAPIError reports a failed remote store call.
type RemoteAPIError struct {
	Op   string
	ID   string
	Err  error
	Hint string
}

func (e *RemoteAPIError) Error() string {
	msg := "remote " + e.Op
	if e.ID != "" {
		msg += " '" + e.ID + "'"
	}
	msg += ": " + e.Err.Error()
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// FilesystemError reports a failed local filesystem operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("failed to %s '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// FormatError reports a malformed snapshot file.
type FormatError struct {
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("snapshot line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("snapshot: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// DuplicateRef identifies one remote duplicate.
type DuplicateRef struct {
	RemoteID string
	Path     string
}

// DuplicateConflict blocks a backup while the remote tree holds duplicates.
type DuplicateConflict struct {
	Items []DuplicateRef
}

func (e *DuplicateConflict) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "found %d duplicate items:\n\n", len(e.Items))
	for _, ref := range e.Items {
		fmt.Fprintf(&b, "  %s - %s\n", ref.RemoteID, ref.Path)
	}
	b.WriteString("\ntry to run 'cloudsync clean' first")
	return b.String()
}

// OwnershipWarning reports a uid or gid that does not resolve on this system.
// It is logged, never returned as a fatal error.
type OwnershipWarning struct {
	Kind string // "user" or "group"
	ID   int64
	Path string
}

func (e *OwnershipWarning) Error() string {
	return fmt.Sprintf("%s with id %d does not exist (first seen on '%s')", e.Kind, e.ID, e.Path)
}
