package sync

import (
	"testing"
	"time"
)

func testIntent() *ChangeIntent {
	return &ChangeIntent{
		EntityType:  "leads",
		LocalID:     "lead-1",
		Direction:   DirectionPush,
		Fields:      map[string]interface{}{"status": "qualified", "email": "a@x.com"},
		Origin:      OriginLocal,
		SubmittedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a, b := testIntent(), testIntent()
	// Map iteration order must not leak into the key
	b.Fields = map[string]interface{}{"email": "a@x.com", "status": "qualified"}

	if a.IdempotencyKey() != b.IdempotencyKey() {
		t.Fatal("identical intents must produce identical keys")
	}
}

func TestIdempotencyKeyChangesWithIntent(t *testing.T) {
	a := testIntent()

	b := testIntent()
	b.Fields["status"] = "leased"
	if a.IdempotencyKey() == b.IdempotencyKey() {
		t.Fatal("different fields must produce different keys")
	}

	c := testIntent()
	c.SubmittedAt = c.SubmittedAt.Add(time.Second)
	if a.IdempotencyKey() == c.IdempotencyKey() {
		t.Fatal("different submission times must produce different keys")
	}

	d := testIntent()
	d.LocalID = "lead-2"
	if a.IdempotencyKey() == d.IdempotencyKey() {
		t.Fatal("different entities must produce different keys")
	}
}

func TestValidateRejectsBadIntents(t *testing.T) {
	cases := map[string]func(*ChangeIntent){
		"empty entity type": func(ci *ChangeIntent) { ci.EntityType = "" },
		"no ids":            func(ci *ChangeIntent) { ci.LocalID = ""; ci.RemoteID = "" },
		"bad direction":     func(ci *ChangeIntent) { ci.Direction = "sideways" },
		"bad origin":        func(ci *ChangeIntent) { ci.Origin = "mystery" },
		"no fields":         func(ci *ChangeIntent) { ci.Fields = nil },
	}
	for name, mutate := range cases {
		intent := testIntent()
		mutate(intent)
		if err := intent.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}

	if err := testIntent().Validate(); err != nil {
		t.Fatalf("valid intent rejected: %v", err)
	}
}

func TestHashFieldsIsOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "two", "z": []interface{}{3}}
	b := map[string]interface{}{"z": []interface{}{3}, "y": "two", "x": 1}

	if HashFields(a) != HashFields(b) {
		t.Fatal("hash must not depend on map order")
	}
	if HashFields(a) == HashFields(map[string]interface{}{"x": 2}) {
		t.Fatal("different content must hash differently")
	}
}
