package sync

import (
	"reflect"
	"testing"

	"github.com/rentloop/crmbridge/internal/models"
)

func TestDetectorCleanWhenPreImageMatches(t *testing.T) {
	d := NewDetector(testSyncConfig())

	snapshot := map[string]interface{}{"status": "new", "email": "a@x.com"}
	mapping := &models.EntityMapping{
		Snapshot:       models.JSONB(snapshot),
		LastSyncedHash: HashFields(snapshot),
	}
	incoming := &ChangeIntent{
		Fields:       map[string]interface{}{"status": "contacted"},
		PreImageHash: mapping.LastSyncedHash,
	}

	// Pre-image proves nobody else touched the entity; the other side's
	// state is irrelevant and need not be fetched.
	res := d.Check(incoming, mapping, map[string]interface{}{"status": "qualified"})
	if res.Outcome != OutcomeClean {
		t.Fatalf("expected clean, got %s", res.Outcome)
	}
}

func TestDetectorConvergingEditsAreNotConflicts(t *testing.T) {
	d := NewDetector(testSyncConfig())

	mapping := &models.EntityMapping{
		Snapshot:       models.JSONB{"status": "new"},
		LastSyncedHash: "stale",
	}
	incoming := &ChangeIntent{
		Fields:       map[string]interface{}{"status": "contacted"},
		PreImageHash: "different",
	}
	current := map[string]interface{}{"status": "contacted"}

	if res := d.Check(incoming, mapping, current); res.Outcome != OutcomeClean {
		t.Fatalf("both sides agree, expected clean, got %s", res.Outcome)
	}
}

func TestDetectorFlagsDivergentFieldsSorted(t *testing.T) {
	d := NewDetector(testSyncConfig())

	mapping := &models.EntityMapping{
		Snapshot: models.JSONB{"status": "new", "phone": "111", "email": "a@x.com"},
	}
	incoming := &ChangeIntent{
		Fields: map[string]interface{}{
			"status": "qualified",
			"phone":  "222",
			"email":  "a@x.com", // unchanged on our side
		},
	}
	current := map[string]interface{}{
		"status": "tour_scheduled",
		"phone":  "333",
		"email":  "b@x.com", // changed only on the other side
	}

	res := d.Check(incoming, mapping, current)
	if res.Outcome != OutcomeConflict {
		t.Fatalf("expected conflict, got %s", res.Outcome)
	}
	if want := []string{"phone", "status"}; !reflect.DeepEqual(res.ConflictFields, want) {
		t.Fatalf("expected %v, got %v", want, res.ConflictFields)
	}
}

func TestDetectorOneSidedChangeIsClean(t *testing.T) {
	d := NewDetector(testSyncConfig())

	mapping := &models.EntityMapping{Snapshot: models.JSONB{"status": "new"}}
	incoming := &ChangeIntent{Fields: map[string]interface{}{"status": "contacted"}}
	current := map[string]interface{}{"status": "new"}

	if res := d.Check(incoming, mapping, current); res.Outcome != OutcomeClean {
		t.Fatalf("only we changed, expected clean, got %s", res.Outcome)
	}
}

func TestDetectorNumericValuesCompareAcrossTypes(t *testing.T) {
	d := NewDetector(testSyncConfig())

	mapping := &models.EntityMapping{Snapshot: models.JSONB{"score": float64(80)}}
	incoming := &ChangeIntent{Fields: map[string]interface{}{"score": 85}}
	current := map[string]interface{}{"score": float64(85)}

	// int 85 and float64 85 are the same canonical value
	if res := d.Check(incoming, mapping, current); res.Outcome != OutcomeClean {
		t.Fatalf("expected clean, got %s with fields %v", res.Outcome, res.ConflictFields)
	}
}

func TestCheckUnmappedThresholds(t *testing.T) {
	d := NewDetector(testSyncConfig())

	incoming := &ChangeIntent{Fields: map[string]interface{}{
		"name": "Maria Castillo", "email": "maria@example.com", "phone": "4155550110",
	}}

	// Identical identity fields: above the auto-merge threshold
	res := d.CheckUnmapped(incoming, map[string]map[string]interface{}{
		"lead-1": {"name": "Maria Castillo", "email": "maria@example.com", "phone": "4155550110"},
	})
	if res.Outcome != OutcomeDuplicate || res.Candidate.LocalID != "lead-1" {
		t.Fatalf("expected duplicate lead-1, got %s %+v", res.Outcome, res.Candidate)
	}

	// Email only plus similar name: review band
	res = d.CheckUnmapped(incoming, map[string]map[string]interface{}{
		"lead-2": {"name": "M. Castillo", "email": "maria@example.com", "phone": "2125550000"},
	})
	if res.Outcome != OutcomeReview {
		t.Fatalf("expected review, got %s", res.Outcome)
	}

	// Nothing in common: new entity
	res = d.CheckUnmapped(incoming, map[string]map[string]interface{}{
		"lead-3": {"name": "Zofia Woźniak", "email": "z@example.com", "phone": "7185550000"},
	})
	if res.Outcome != OutcomeNew {
		t.Fatalf("expected new, got %s", res.Outcome)
	}

	if res = d.CheckUnmapped(incoming, nil); res.Outcome != OutcomeNew {
		t.Fatalf("no candidates must mean new, got %s", res.Outcome)
	}
}
