// Package filter implements the keyword matching engine.
package filter

import "fmt"

// Ruleset is the ordered list of rules configured for one channel.
type Ruleset struct {
	Rules []Rule
}

// Compile classifies every keyword with the default classifier.
// Empty keywords are skipped.
func Compile(keywords []string) Ruleset {
	return defaultClassifier.Compile(keywords)
}

// Compile classifies every keyword. Empty keywords are skipped.
func (c Classifier) Compile(keywords []string) Ruleset {
	rs := Ruleset{Rules: make([]Rule, 0, len(keywords))}
	for _, kw := range keywords {
		if r, ok := c.Classify(kw); ok {
			rs.Rules = append(rs.Rules, r)
		}
	}
	return rs
}

// Invalid returns the rules whose regex failed to compile.
func (rs Ruleset) Invalid() []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Verdict is the detailed outcome of evaluating a ruleset.
type Verdict struct {
	Keyword  string
	Matched  bool
	Excluded bool
	// ExcludedBy is the raw exclusion keyword that vetoed the text.
	ExcludedBy string
}

// Evaluate runs exclusions first, then positive rules in declaration order.
// Any exclusion match vetoes the text; otherwise the first positive match wins.
func (rs Ruleset) Evaluate(text string) Verdict {
	if len(rs.Rules) == 0 {
		return Verdict{}
	}
	folded := fold(text)

	for _, r := range rs.Rules {
		if r.Exclude && r.matches(text, folded) {
			return Verdict{Excluded: true, ExcludedBy: r.Raw}
		}
	}
	for _, r := range rs.Rules {
		if !r.Exclude && r.matches(text, folded) {
			return Verdict{Keyword: r.Raw, Matched: true}
		}
	}
	return Verdict{}
}

// Match returns the raw keyword of the first positive rule matching text.
// It returns false when no rule matches or an exclusion vetoes the text.
func Match(text string, rs Ruleset) (string, bool) {
	v := rs.Evaluate(text)
	return v.Keyword, v.Matched
}

// ValidateKeyword checks that a /regex/ keyword compiles.
// Non-regex keywords are always valid.
func ValidateKeyword(raw string) error {
	r, ok := Classify(raw)
	if !ok {
		return fmt.Errorf("keyword is empty")
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
