package sync

import (
	"strings"
)

// Similarity weights across the high-signal identity fields
const (
	weightEmail = 0.4
	weightPhone = 0.3
	weightName  = 0.3
)

// Similarity scores how likely two canonical records describe the same
// real-world subject. Symmetric: Similarity(a, b) == Similarity(b, a).
func Similarity(a, b map[string]interface{}) float64 {
	score := 0.0

	if ea, eb := NormalizeEmail(stringField(a, "email")), NormalizeEmail(stringField(b, "email")); ea != "" && ea == eb {
		score += weightEmail
	}
	if pa, pb := NormalizePhone(stringField(a, "phone")), NormalizePhone(stringField(b, "phone")); pa != "" && pa == pb {
		score += weightPhone
	}

	na, nb := normalizeName(stringField(a, "name")), normalizeName(stringField(b, "name"))
	if na != "" && nb != "" {
		score += weightName * nameSimilarity(na, nb)
	}

	return score
}

// NormalizeEmail lowercases and trims an e-mail address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips everything but digits; a leading country "1" on an
// 11-digit number is dropped so +1 (555) 123-4567 matches 555-123-4567.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// nameSimilarity is (max_len - edit_distance) / max_len over normalized
// names. Lengths are counted in runes to match the distance metric.
func nameSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	return float64(maxLen-editDistance(a, b)) / float64(maxLen)
}

// editDistance is the Levenshtein distance with two rolling rows
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func stringField(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
