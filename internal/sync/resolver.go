package sync

import (
	"fmt"

	"github.com/rentloop/crmbridge/internal/config"
)

// Resolution is the outcome of resolving a single conflicting field
type Resolution struct {
	Strategy ConflictResolutionStrategy `json:"strategy"`
	Value    interface{}                `json:"value"`
	Winner   string                     `json:"winner"` // local, remote, merged
	Reason   string                     `json:"reason"`
	Escalate bool                       `json:"escalate"` // requires a human decision
}

// Resolver applies the configured per-field strategy to conflicting values.
// Resolution is deterministic: identical inputs always produce the same
// resolved value.
type Resolver struct {
	cfg   *config.SyncConfig
	ranks map[string]int
}

// NewResolver creates a resolver from the sync configuration
func NewResolver(cfg *config.SyncConfig) *Resolver {
	ranks := make(map[string]int, len(cfg.LifecycleRanks))
	for i, v := range cfg.LifecycleRanks {
		ranks[v] = i
	}
	return &Resolver{cfg: cfg, ranks: ranks}
}

// ResolveField resolves one conflicting field between the local and remote
// values according to its configured rule.
func (r *Resolver) ResolveField(field string, localVal, remoteVal interface{}) Resolution {
	rule, ok := r.cfg.FieldRules[field]
	if !ok {
		rule = config.FieldRule{Strategy: r.cfg.DefaultStrategy}
	}

	switch ConflictResolutionStrategy(rule.Strategy) {
	case StrategyAuthorityWins:
		return r.authorityWins(rule, localVal, remoteVal)
	case StrategyFieldMerge:
		return r.fieldMerge(rule, localVal, remoteVal)
	case StrategyHighestPriorityWins:
		return r.highestPriorityWins(localVal, remoteVal)
	case StrategyManualReview:
		return Resolution{
			Strategy: StrategyManualReview,
			Escalate: true,
			Reason:   fmt.Sprintf("field %q is configured for manual review", field),
		}
	default:
		return Resolution{
			Strategy: StrategyManualReview,
			Escalate: true,
			Reason:   fmt.Sprintf("unknown strategy %q for field %q", rule.Strategy, field),
		}
	}
}

// authorityWins keeps the configured authoritative side's value. The remote
// system is the default system of record.
func (r *Resolver) authorityWins(rule config.FieldRule, localVal, remoteVal interface{}) Resolution {
	authority := rule.Authority
	if authority == "" {
		authority = "remote"
	}

	if authority == "local" {
		return Resolution{
			Strategy: StrategyAuthorityWins,
			Value:    localVal,
			Winner:   "local",
			Reason:   "local side is authoritative for this field",
		}
	}
	return Resolution{
		Strategy: StrategyAuthorityWins,
		Value:    remoteVal,
		Winner:   "remote",
		Reason:   "remote side is authoritative for this field",
	}
}

// fieldMerge applies the configured per-field merge rule
func (r *Resolver) fieldMerge(rule config.FieldRule, localVal, remoteVal interface{}) Resolution {
	switch rule.MergeRule {
	case "non_null":
		value, winner := mergeNonNull(localVal, remoteVal)
		return Resolution{
			Strategy: StrategyFieldMerge,
			Value:    value,
			Winner:   winner,
			Reason:   "non-null value preferred",
		}
	case "list_union":
		return Resolution{
			Strategy: StrategyFieldMerge,
			Value:    mergeListUnion(localVal, remoteVal),
			Winner:   "merged",
			Reason:   "lists merged via set union",
		}
	case "range_union":
		if merged, ok := mergeRangeUnion(localVal, remoteVal); ok {
			return Resolution{
				Strategy: StrategyFieldMerge,
				Value:    merged,
				Winner:   "merged",
				Reason:   "numeric ranges widened to their union",
			}
		}
		// Not range-shaped; fall back to the non-null preference
		value, winner := mergeNonNull(localVal, remoteVal)
		return Resolution{
			Strategy: StrategyFieldMerge,
			Value:    value,
			Winner:   winner,
			Reason:   "values not range-shaped, non-null value preferred",
		}
	default:
		return Resolution{
			Strategy: StrategyManualReview,
			Escalate: true,
			Reason:   fmt.Sprintf("unknown merge rule %q", rule.MergeRule),
		}
	}
}

// highestPriorityWins ranks workflow status values by the ordered lifecycle
// table; the higher-ranked value wins regardless of recency. Values missing
// from the table escalate instead of guessing a rank.
func (r *Resolver) highestPriorityWins(localVal, remoteVal interface{}) Resolution {
	localStr, lok := localVal.(string)
	remoteStr, rok := remoteVal.(string)
	if !lok || !rok {
		return Resolution{
			Strategy: StrategyManualReview,
			Escalate: true,
			Reason:   "lifecycle values must be strings",
		}
	}

	localRank, lok := r.ranks[localStr]
	remoteRank, rok := r.ranks[remoteStr]
	if !lok || !rok {
		return Resolution{
			Strategy: StrategyManualReview,
			Escalate: true,
			Reason:   fmt.Sprintf("lifecycle value not in rank table (local=%q remote=%q)", localStr, remoteStr),
		}
	}

	if localRank > remoteRank {
		return Resolution{
			Strategy: StrategyHighestPriorityWins,
			Value:    localStr,
			Winner:   "local",
			Reason:   fmt.Sprintf("%q outranks %q in the lifecycle table", localStr, remoteStr),
		}
	}
	if remoteRank > localRank {
		return Resolution{
			Strategy: StrategyHighestPriorityWins,
			Value:    remoteStr,
			Winner:   "remote",
			Reason:   fmt.Sprintf("%q outranks %q in the lifecycle table", remoteStr, localStr),
		}
	}
	// Equal ranks means equal values
	return Resolution{
		Strategy: StrategyHighestPriorityWins,
		Value:    remoteStr,
		Winner:   "remote",
		Reason:   "identical lifecycle rank",
	}
}

func mergeNonNull(localVal, remoteVal interface{}) (interface{}, string) {
	if isNullish(localVal) && !isNullish(remoteVal) {
		return remoteVal, "remote"
	}
	if isNullish(remoteVal) && !isNullish(localVal) {
		return localVal, "local"
	}
	// Both set (or both empty): the remote system of record wins the tie
	return remoteVal, "remote"
}

func isNullish(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// mergeListUnion unions two lists, keeping local order first and
// de-duplicating by canonical JSON identity
func mergeListUnion(localVal, remoteVal interface{}) []interface{} {
	out := make([]interface{}, 0)
	seen := make(map[string]bool)

	appendAll := func(v interface{}) {
		list, ok := v.([]interface{})
		if !ok {
			if v != nil {
				list = []interface{}{v}
			}
		}
		for _, item := range list {
			key := hashJSON(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}

	appendAll(localVal)
	appendAll(remoteVal)
	return out
}

// mergeRangeUnion widens two {min, max} ranges to cover both. Returns false
// when either value is not range-shaped.
func mergeRangeUnion(localVal, remoteVal interface{}) (map[string]interface{}, bool) {
	lmin, lmax, lok := rangeBounds(localVal)
	rmin, rmax, rok := rangeBounds(remoteVal)
	if !lok && !rok {
		return nil, false
	}
	if !lok {
		return map[string]interface{}{"min": rmin, "max": rmax}, true
	}
	if !rok {
		return map[string]interface{}{"min": lmin, "max": lmax}, true
	}

	min, max := lmin, lmax
	if rmin < min {
		min = rmin
	}
	if rmax > max {
		max = rmax
	}
	return map[string]interface{}{"min": min, "max": max}, true
}

func rangeBounds(v interface{}) (float64, float64, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return 0, 0, false
	}
	min, okMin := toFloat(m["min"])
	max, okMax := toFloat(m["max"])
	if !okMin || !okMax {
		return 0, 0, false
	}
	return min, max, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
