package risk

import "strings"

// DefaultKeywords are the scam terms matched against incoming messages.
var DefaultKeywords = []string{
	"otp", "password", "bank", "account",
	"blocked", "urgent", "verify", "send", "money",
}

// KeywordSet is an immutable set of lower-case scam terms.
type KeywordSet struct {
	terms []string
}

// NewKeywordSet builds a set from terms, lower-casing and dropping blanks
// and duplicates. Order of first occurrence is kept.
func NewKeywordSet(terms []string) *KeywordSet {
	seen := make(map[string]bool, len(terms))
	ks := &KeywordSet{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		ks.terms = append(ks.terms, t)
	}
	return ks
}

// Terms returns a copy of the set's terms.
func (ks *KeywordSet) Terms() []string {
	out := make([]string, len(ks.terms))
	copy(out, ks.terms)
	return out
}

// Match returns the terms that occur anywhere in message, case-insensitively.
// Substring matching is intentional: "sending" matches "send".
func (ks *KeywordSet) Match(message string) []string {
	msg := strings.ToLower(message)
	var hits []string
	for _, t := range ks.terms {
		if strings.Contains(msg, t) {
			hits = append(hits, t)
		}
	}
	return hits
}

// Score returns KeywordWeight for each distinct term present in message.
func (ks *KeywordSet) Score(message string) int {
	return KeywordWeight * len(ks.Match(message))
}
