package localstore

import "testing"

func TestSimilarityKeysNormalize(t *testing.T) {
	email, phone := similarityKeys(map[string]interface{}{
		"email": "  Maria@X.com ",
		"phone": "+1 (415) 555-0110",
	})
	if email != "maria@x.com" {
		t.Fatalf("email not normalized: %q", email)
	}
	if phone != "4155550110" {
		t.Fatalf("phone not normalized: %q", phone)
	}
}

func TestSimilarityKeysMissingFields(t *testing.T) {
	email, phone := similarityKeys(map[string]interface{}{"name": "Devon Park"})
	if email != "" || phone != "" {
		t.Fatalf("expected empty keys, got %q / %q", email, phone)
	}
}
