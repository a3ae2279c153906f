package crm

import (
	"context"
	"reflect"
	"testing"
)

func TestNormalizeDropsUnknownFields(t *testing.T) {
	a := NewAdapter(nil)

	canonical, err := a.Normalize("leads", map[string]interface{}{
		"contact_name":   "Maria Castillo",
		"email_from":     "maria@x.com",
		"internal_notes": "never leaves the CRM",
		"write_date":     "2026-03-14 09:26:53",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if canonical["name"] != "Maria Castillo" || canonical["email"] != "maria@x.com" {
		t.Fatalf("mapped fields missing: %v", canonical)
	}
	if _, ok := canonical["internal_notes"]; ok {
		t.Fatal("unknown remote fields must be dropped")
	}
	if _, ok := canonical["write_date"]; ok {
		t.Fatal("bookkeeping fields must not become canonical fields")
	}
}

func TestNormalizeFalseBecomesNil(t *testing.T) {
	a := NewAdapter(nil)

	canonical, err := a.Normalize("leads", map[string]interface{}{
		"email_from": false,
		"phone":      "4155550110",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, present := canonical["email"]
	if !present || val != nil {
		t.Fatalf("false must normalize to an explicit nil, got %v (present %v)", val, present)
	}
	if canonical["phone"] != "4155550110" {
		t.Fatalf("plain values must pass through, got %v", canonical["phone"])
	}
}

func TestNormalizeManyToOneBecomesName(t *testing.T) {
	a := NewAdapter(nil)

	canonical, err := a.Normalize("leads", map[string]interface{}{
		"source_name": []interface{}{int64(7), "Website"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if canonical["source"] != "Website" {
		t.Fatalf("expected display name, got %v", canonical["source"])
	}

	// A plain list that only looks like a pair stays a list
	canonical, err = a.Normalize("leads", map[string]interface{}{
		"tag_names": []interface{}{"vip", "referral"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(canonical["tags"], []interface{}{"vip", "referral"}) {
		t.Fatalf("string lists must pass through, got %v", canonical["tags"])
	}
}

func TestNormalizeUnknownEntityType(t *testing.T) {
	a := NewAdapter(nil)
	if _, err := a.Normalize("invoices", map[string]interface{}{"x": 1}); err == nil {
		t.Fatal("expected an error for an unknown entity type")
	}
}

func TestDenormalizeRoundTrip(t *testing.T) {
	values := denormalize("leads", map[string]interface{}{
		"name":       "Maria Castillo",
		"email":      nil,
		"status":     "qualified",
		"unit_notes": "local-only field",
	})

	if values["contact_name"] != "Maria Castillo" {
		t.Fatalf("expected contact_name mapping, got %v", values)
	}
	if values["email_from"] != false {
		t.Fatalf("nil must encode as false on the wire, got %v", values["email_from"])
	}
	if values["stage_name"] != "qualified" {
		t.Fatalf("expected stage_name mapping, got %v", values)
	}
	if _, ok := values["unit_notes"]; ok {
		t.Fatal("fields without a remote mapping must stay local")
	}
}

func TestParseAndFormatRemoteID(t *testing.T) {
	id, err := parseRemoteID("900")
	if err != nil || id != 900 {
		t.Fatalf("expected 900, got %d (%v)", id, err)
	}
	if _, err := parseRemoteID("lead-1"); err == nil {
		t.Fatal("non-numeric ids must be rejected")
	}

	cases := []struct {
		in   interface{}
		want string
	}{
		{int64(900), "900"},
		{int(77), "77"},
		{float64(901), "901"},
	}
	for _, tc := range cases {
		if got := formatRemoteID(tc.in); got != tc.want {
			t.Errorf("formatRemoteID(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// fakeClient is an in-memory rpcClient holding created records so
// x_sync_key lookups behave like the real CRM.
type fakeClient struct {
	records map[int64]map[string]interface{}
	nextID  int64
	creates int
	writes  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[int64]map[string]interface{})}
}

func (c *fakeClient) SearchRead(model string, domain []interface{}, fields []string, limit int) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for id, rec := range c.records {
		if !matchesDomain(rec, domain) {
			continue
		}
		row := map[string]interface{}{"id": id}
		for _, f := range fields {
			if f != "id" {
				row[f] = rec[f]
			}
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func matchesDomain(rec map[string]interface{}, domain []interface{}) bool {
	for _, clause := range domain {
		triple, ok := clause.([]interface{})
		if !ok || len(triple) != 3 {
			continue
		}
		field, _ := triple[0].(string)
		if rec[field] != triple[2] {
			return false
		}
	}
	return true
}

func (c *fakeClient) Read(model string, ids []int64, fields []string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, id := range ids {
		if rec, ok := c.records[id]; ok {
			row := map[string]interface{}{"id": id}
			for _, f := range fields {
				row[f] = rec[f]
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func (c *fakeClient) Create(model string, values map[string]interface{}) (int64, error) {
	c.creates++
	c.nextID++
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	c.records[c.nextID] = copied
	return c.nextID, nil
}

func (c *fakeClient) Write(model string, ids []int64, values map[string]interface{}) error {
	c.writes++
	for _, id := range ids {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		for k, v := range values {
			rec[k] = v
		}
	}
	return nil
}

func (c *fakeClient) Authenticate() error { return nil }

func TestCreateRemoteRetriedKeyYieldsOneRecord(t *testing.T) {
	client := newFakeClient()
	a := &Adapter{client: client}
	fields := map[string]interface{}{"name": "Maria Castillo", "email": "maria@x.com"}

	first, err := a.CreateRemote(context.Background(), "leads", fields, "key-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Created {
		t.Fatal("first create must report Created")
	}

	// The response was lost, the queue retries the same intent.
	second, err := a.CreateRemote(context.Background(), "leads", fields, "key-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created {
		t.Fatal("retried create must not report Created")
	}
	if second.RemoteID != first.RemoteID {
		t.Fatalf("retry returned %q, want the original record %q", second.RemoteID, first.RemoteID)
	}
	if client.creates != 1 {
		t.Fatalf("remote holds %d records for one intent", client.creates)
	}
}

func TestCreateRemoteDistinctKeysCreateDistinctRecords(t *testing.T) {
	client := newFakeClient()
	a := &Adapter{client: client}

	first, err := a.CreateRemote(context.Background(), "leads", map[string]interface{}{"name": "A"}, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.CreateRemote(context.Background(), "leads", map[string]interface{}{"name": "B"}, "key-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.RemoteID == second.RemoteID {
		t.Fatal("distinct intents collapsed into one remote record")
	}
	if client.creates != 2 {
		t.Fatalf("creates = %d, want 2", client.creates)
	}
}

func TestPushStoresSyncKeyOnRecord(t *testing.T) {
	client := newFakeClient()
	a := &Adapter{client: client}
	id, _ := client.Create("crm.lead", map[string]interface{}{"contact_name": "Maria"})

	res, err := a.Push(context.Background(), "leads", "1", map[string]interface{}{"status": "contacted"}, "key-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RemoteID != "1" {
		t.Fatalf("remote id = %q, want 1", res.RemoteID)
	}
	rec := client.records[id]
	if rec["stage_name"] != "contacted" {
		t.Fatalf("field not written: %v", rec)
	}
	if rec["x_sync_key"] != "key-7" {
		t.Fatalf("sync key not stored: %v", rec)
	}
}
