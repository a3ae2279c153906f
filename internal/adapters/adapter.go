// Package adapters defines the two sides of the synchronization bridge:
// the remote CRM and the local property-management store. The engine only
// ever talks to these interfaces, never to a concrete system.
package adapters

import (
	"context"
	"time"
)

// PushResult is what the remote reports after accepting a write
type PushResult struct {
	RemoteID string
	Created  bool
}

// RemoteChange is one entity delta reported by the remote since a cursor
type RemoteChange struct {
	RemoteID   string
	Fields     map[string]interface{}
	OccurredAt time.Time
}

// RemoteAdapter wraps the remote CRM transport. Field maps crossing this
// boundary are always in canonical (normalized) form; Normalize converts
// the remote's native representation.
type RemoteAdapter interface {
	// Push writes fields to an existing remote entity. The idempotency key
	// lets the remote drop duplicate deliveries of the same change.
	Push(ctx context.Context, entityType, remoteID string, fields map[string]interface{}, idempotencyKey string) (*PushResult, error)

	// CreateRemote makes a new remote entity and returns its identifier
	CreateRemote(ctx context.Context, entityType string, fields map[string]interface{}, idempotencyKey string) (*PushResult, error)

	// Fetch reads the remote's current canonical state of one entity
	Fetch(ctx context.Context, entityType, remoteID string) (map[string]interface{}, error)

	// FetchDeltas lists entities changed remotely since the given time
	FetchDeltas(ctx context.Context, entityType string, since time.Time) ([]RemoteChange, error)

	// Normalize converts a raw remote payload into canonical field names
	// and values. Unknown fields are dropped, not errored.
	Normalize(entityType string, raw map[string]interface{}) (map[string]interface{}, error)

	// RefreshCredentials re-authenticates after an auth failure
	RefreshCredentials(ctx context.Context) error
}

// LocalAdapter wraps the local store that holds the system-of-record
// copies of leads, contacts, tours and communications.
type LocalAdapter interface {
	// Current returns the entity's present field values, or nil if absent
	Current(entityType, localID string) (map[string]interface{}, error)

	// Apply writes field values onto an existing local entity
	Apply(entityType, localID string, fields map[string]interface{}) error

	// CreateLocal makes a new local entity and returns its identifier
	CreateLocal(entityType string, fields map[string]interface{}) (string, error)

	// FindSimilar returns candidate entities for duplicate scoring,
	// keyed by local ID.
	FindSimilar(entityType string, fields map[string]interface{}) (map[string]map[string]interface{}, error)

	// Reassign moves child records from one entity to another during a
	// duplicate merge.
	Reassign(entityType, fromLocalID, toLocalID string) error
}
