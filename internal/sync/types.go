package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction defines the direction of a sync operation
type Direction string

const (
	DirectionPush          Direction = "push"
	DirectionPull          Direction = "pull"
	DirectionBidirectional Direction = "bidirectional"
)

// Origin represents who produced a change
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
	OriginSystem Origin = "system"
)

// ConflictResolutionStrategy defines how to resolve conflicts
type ConflictResolutionStrategy string

const (
	StrategyAuthorityWins       ConflictResolutionStrategy = "authority_wins"
	StrategyFieldMerge          ConflictResolutionStrategy = "field_merge"
	StrategyHighestPriorityWins ConflictResolutionStrategy = "highest_priority_wins"
	StrategyManualReview        ConflictResolutionStrategy = "manual_review"
)

// CheckOutcome is the verdict of the conflict detector
type CheckOutcome string

const (
	OutcomeClean     CheckOutcome = "clean"
	OutcomeConflict  CheckOutcome = "conflict"
	OutcomeDuplicate CheckOutcome = "duplicate_candidate"
	OutcomeReview    CheckOutcome = "review"
	OutcomeNew       CheckOutcome = "new"
)

// ChangeIntent is the canonical change payload submitted by adapters, the
// webhook ingest or the poll scheduler. Immutable once enqueued.
type ChangeIntent struct {
	EntityType   string                 `json:"entity_type"`
	LocalID      string                 `json:"local_id,omitempty"`
	RemoteID     string                 `json:"remote_id,omitempty"`
	Direction    Direction              `json:"direction"`
	Fields       map[string]interface{} `json:"fields"`
	PreImageHash string                 `json:"pre_image_hash,omitempty"`
	Origin       Origin                 `json:"origin"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

// idempotencyNamespace scopes the SHA1-derived keys to this engine
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crmbridge/change-intent"))

// IdempotencyKey derives a stable key from the intent identity. A retried
// push carrying the same key is a safe no-op on the remote side.
func (ci *ChangeIntent) IdempotencyKey() string {
	// encoding/json sorts map keys, so the field serialization is stable
	fields, _ := json.Marshal(ci.Fields)
	seed := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		ci.EntityType, ci.LocalID, ci.RemoteID, ci.Direction,
		ci.SubmittedAt.UTC().UnixNano(), fields)
	return uuid.NewSHA1(idempotencyNamespace, []byte(seed)).String()
}

// Validate checks the intent against the canonical payload contract
func (ci *ChangeIntent) Validate() error {
	if ci.EntityType == "" {
		return &ValidationError{Field: "entity_type", Reason: "must not be empty"}
	}
	if ci.LocalID == "" && ci.RemoteID == "" {
		return &ValidationError{Field: "local_id", Reason: "either local_id or remote_id is required"}
	}
	switch ci.Direction {
	case DirectionPush, DirectionPull, DirectionBidirectional:
	default:
		return &ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", ci.Direction)}
	}
	switch ci.Origin {
	case OriginLocal, OriginRemote, OriginSystem:
	default:
		return &ValidationError{Field: "origin", Reason: fmt.Sprintf("unknown origin %q", ci.Origin)}
	}
	if len(ci.Fields) == 0 {
		return &ValidationError{Field: "fields", Reason: "must not be empty"}
	}
	return nil
}

// HashFields computes the canonical SHA-256 hex digest of a field map.
// Used for pre-image hashes and last-synced snapshot hashes.
func HashFields(fields map[string]interface{}) string {
	return hashJSON(fields)
}
