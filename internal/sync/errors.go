package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rentloop/crmbridge/internal/adapters"
)

// ValidationError means the payload fails the canonical schema. Never
// retried; surfaced to the submitting adapter immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// The transport error taxonomy lives with the adapters; aliased here so
// engine code and callers classify failures with one import.
type (
	AuthenticationError  = adapters.AuthenticationError
	TransientRemoteError = adapters.TransientRemoteError
)

// ErrEntityPaused means the entity's mapping is sync_paused. The item is
// released back to the queue untouched, without consuming an attempt.
var ErrEntityPaused = errors.New("entity sync is paused")

// ConflictUnresolvedError marks a field suspended behind an open manual
// review. Not a failure; the remaining fields keep syncing.
type ConflictUnresolvedError struct {
	EntityType string
	LocalID    string
	Fields     []string
}

func (e *ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("manual review pending for %s:%s fields %v", e.EntityType, e.LocalID, e.Fields)
}

// DuplicateBindingError means a local or remote id is already bound to a
// different counterpart. Always escalated, never silently resolved.
type DuplicateBindingError struct {
	EntityType string
	LocalID    string
	RemoteID   string
	BoundTo    string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("%s mapping (%s <-> %s) rejected: already bound to %s",
		e.EntityType, e.LocalID, e.RemoteID, e.BoundTo)
}

// hashJSON is the canonical content hash used across the engine
func hashJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
