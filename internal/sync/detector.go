package sync

import (
	"reflect"
	"sort"

	"github.com/rentloop/crmbridge/internal/config"
	"github.com/rentloop/crmbridge/internal/models"
)

// DuplicateCandidate is a local entity suspected to match an incoming
// unmapped record
type DuplicateCandidate struct {
	LocalID string  `json:"local_id"`
	Score   float64 `json:"score"`
}

// CheckResult is the detector's verdict on an incoming change
type CheckResult struct {
	Outcome        CheckOutcome
	ConflictFields []string
	Candidate      *DuplicateCandidate
}

// Detector compares incoming changes against the last-synced snapshot held
// on the entity mapping. It only ever sees canonical payloads; remote field
// normalization happens at the adapter boundary.
type Detector struct {
	cfg *config.SyncConfig
}

// NewDetector creates a conflict detector
func NewDetector(cfg *config.SyncConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Check classifies an incoming change for an already-mapped entity.
// current holds the other side's current canonical field values.
func (d *Detector) Check(incoming *ChangeIntent, mapping *models.EntityMapping, current map[string]interface{}) CheckResult {
	// Pre-image matches the last synced state: nobody else touched the
	// entity since, the change applies cleanly.
	if incoming.PreImageHash != "" && incoming.PreImageHash == mapping.LastSyncedHash {
		return CheckResult{Outcome: OutcomeClean}
	}

	snapshot := map[string]interface{}(mapping.Snapshot)

	conflicts := make([]string, 0)
	for field, incomingVal := range incoming.Fields {
		baseVal, _ := snapshot[field]
		currentVal, _ := current[field]

		incomingChanged := !valuesEqual(incomingVal, baseVal)
		otherChanged := !valuesEqual(currentVal, baseVal)

		// A conflict needs divergence on both sides; converging edits to
		// the same value are not a conflict.
		if incomingChanged && otherChanged && !valuesEqual(incomingVal, currentVal) {
			conflicts = append(conflicts, field)
		}
	}

	if len(conflicts) == 0 {
		return CheckResult{Outcome: OutcomeClean}
	}

	sort.Strings(conflicts)
	return CheckResult{Outcome: OutcomeConflict, ConflictFields: conflicts}
}

// CheckUnmapped runs the duplicate-candidate scan for an incoming entity
// with no mapping yet. candidates are existing local records keyed by
// local id.
func (d *Detector) CheckUnmapped(incoming *ChangeIntent, candidates map[string]map[string]interface{}) CheckResult {
	best := DuplicateCandidate{Score: -1}
	for localID, fields := range candidates {
		score := Similarity(incoming.Fields, fields)
		if score > best.Score || (score == best.Score && localID < best.LocalID) {
			best = DuplicateCandidate{LocalID: localID, Score: score}
		}
	}

	switch {
	case best.Score > d.cfg.AutoMergeThreshold:
		return CheckResult{Outcome: OutcomeDuplicate, Candidate: &best}
	case best.Score >= d.cfg.ReviewThreshold:
		return CheckResult{Outcome: OutcomeReview, Candidate: &best}
	default:
		return CheckResult{Outcome: OutcomeNew}
	}
}

// valuesEqual compares canonical payload values. Payloads round-trip
// through JSON, so numbers arrive as float64 and deep equality is enough.
func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(normalizeNumber(a), normalizeNumber(b))
}

func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
