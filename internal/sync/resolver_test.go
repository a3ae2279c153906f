package sync

import (
	"reflect"
	"testing"

	"github.com/rentloop/crmbridge/internal/config"
)

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		DefaultStrategy: "authority_wins",
		FieldRules: map[string]config.FieldRule{
			"status":      {Strategy: "highest_priority_wins"},
			"assigned_to": {Strategy: "authority_wins", Authority: "remote"},
			"score":       {Strategy: "authority_wins", Authority: "local"},
			"email":       {Strategy: "field_merge", MergeRule: "non_null"},
			"tags":        {Strategy: "field_merge", MergeRule: "list_union"},
			"budget":      {Strategy: "field_merge", MergeRule: "range_union"},
			"notes":       {Strategy: "manual_review"},
		},
		LifecycleRanks: []string{
			"new", "contacted", "qualified", "tour_scheduled",
			"tour_completed", "application", "approved", "leased",
		},
		AutoMergeThreshold: 0.8,
		ReviewThreshold:    0.5,
	}
}

func TestResolveLifecycleHigherRankWins(t *testing.T) {
	r := NewResolver(testSyncConfig())

	res := r.ResolveField("status", "qualified", "tour_scheduled")
	if res.Escalate {
		t.Fatal("should not escalate")
	}
	if res.Value != "tour_scheduled" || res.Winner != "remote" {
		t.Fatalf("expected tour_scheduled/remote, got %v/%s", res.Value, res.Winner)
	}

	// Order of sides must not matter for the chosen value
	res = r.ResolveField("status", "tour_scheduled", "qualified")
	if res.Value != "tour_scheduled" || res.Winner != "local" {
		t.Fatalf("expected tour_scheduled/local, got %v/%s", res.Value, res.Winner)
	}
}

func TestResolveLifecycleUnknownValueEscalates(t *testing.T) {
	r := NewResolver(testSyncConfig())

	res := r.ResolveField("status", "qualified", "archived")
	if !res.Escalate {
		t.Fatal("unknown lifecycle value must escalate to manual review")
	}
}

func TestResolveAuthorityWins(t *testing.T) {
	r := NewResolver(testSyncConfig())

	if res := r.ResolveField("assigned_to", "alice@x.com", "bob@x.com"); res.Value != "bob@x.com" {
		t.Fatalf("remote authority should win, got %v", res.Value)
	}
	if res := r.ResolveField("score", 85, 40); res.Value != 85 {
		t.Fatalf("local authority should win, got %v", res.Value)
	}
	// No rule falls back to the default strategy with remote authority
	if res := r.ResolveField("unlisted_field", "l", "r"); res.Value != "r" {
		t.Fatalf("default strategy should prefer remote, got %v", res.Value)
	}
}

func TestResolveNonNullMerge(t *testing.T) {
	r := NewResolver(testSyncConfig())

	if res := r.ResolveField("email", nil, "a@x.com"); res.Value != "a@x.com" {
		t.Fatalf("expected remote non-null value, got %v", res.Value)
	}
	if res := r.ResolveField("email", "b@x.com", ""); res.Value != "b@x.com" {
		t.Fatalf("expected local non-null value, got %v", res.Value)
	}
	// Both set: remote system of record wins the tie
	if res := r.ResolveField("email", "b@x.com", "a@x.com"); res.Value != "a@x.com" {
		t.Fatalf("expected remote tie-break, got %v", res.Value)
	}
}

func TestResolveListUnion(t *testing.T) {
	r := NewResolver(testSyncConfig())

	res := r.ResolveField("tags",
		[]interface{}{"pet-friendly", "parking"},
		[]interface{}{"parking", "furnished"})
	want := []interface{}{"pet-friendly", "parking", "furnished"}
	if !reflect.DeepEqual(res.Value, want) {
		t.Fatalf("expected %v, got %v", want, res.Value)
	}
	if res.Winner != "merged" {
		t.Fatalf("expected merged winner, got %s", res.Winner)
	}
}

func TestResolveRangeUnion(t *testing.T) {
	r := NewResolver(testSyncConfig())

	res := r.ResolveField("budget",
		map[string]interface{}{"min": 1800.0, "max": 2400.0},
		map[string]interface{}{"min": 2000.0, "max": 2600.0})
	want := map[string]interface{}{"min": 1800.0, "max": 2600.0}
	if !reflect.DeepEqual(res.Value, want) {
		t.Fatalf("expected %v, got %v", want, res.Value)
	}
}

func TestResolveRangeUnionFallsBackWhenNotRangeShaped(t *testing.T) {
	r := NewResolver(testSyncConfig())

	res := r.ResolveField("budget", "about 2k", nil)
	if res.Escalate {
		t.Fatal("should fall back to non-null, not escalate")
	}
	if res.Value != "about 2k" {
		t.Fatalf("expected non-null fallback, got %v", res.Value)
	}
}

func TestResolveManualReviewEscalates(t *testing.T) {
	r := NewResolver(testSyncConfig())

	if res := r.ResolveField("notes", "a", "b"); !res.Escalate {
		t.Fatal("manual_review fields must escalate")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(testSyncConfig())

	first := r.ResolveField("tags", []interface{}{"a", "b"}, []interface{}{"b", "c"})
	for i := 0; i < 10; i++ {
		again := r.ResolveField("tags", []interface{}{"a", "b"}, []interface{}{"b", "c"})
		if !reflect.DeepEqual(first.Value, again.Value) {
			t.Fatalf("resolution not deterministic: %v vs %v", first.Value, again.Value)
		}
	}
}
