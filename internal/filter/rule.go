package filter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Kind is the matching strategy of a keyword rule.
type Kind int

// Supported rule kinds.
const (
	KindRegex Kind = iota + 1
	KindCJK
	KindWord
)

func (k Kind) String() string {
	switch k {
	case KindRegex:
		return "regex"
	case KindCJK:
		return "cjk"
	case KindWord:
		return "word"
	default:
		return "unknown"
	}
}

// Range is an inclusive code point range.
type Range struct {
	Lo, Hi rune
}

// DefaultCJKRanges covers Han ideographs, Hiragana/Katakana and Hangul syllables.
var DefaultCJKRanges = []Range{
	{Lo: 0x4E00, Hi: 0x9FFF},
	{Lo: 0x3040, Hi: 0x30FF},
	{Lo: 0xAC00, Hi: 0xD7AF},
}

// Rule is a classified keyword expression. Rules are immutable once built.
type Rule struct {
	Raw     string
	Kind    Kind
	Exclude bool
	// Pattern is the regex body for KindRegex and the keyword text otherwise.
	Pattern string

	CaseInsensitive bool
	DotAll          bool
	Multiline       bool

	re     *regexp.Regexp
	folded string
	err    error
}

// Err returns the compile error of a malformed regex rule.
// A rule with a non-nil Err never matches.
func (r Rule) Err() error { return r.err }

// Classifier turns raw keyword strings into rules.
type Classifier struct {
	CJKRanges []Range
}

var defaultClassifier = Classifier{CJKRanges: DefaultCJKRanges}

// Classify classifies raw with the default CJK ranges.
// It returns false when raw, or an exclusion's body, is empty after trimming.
func Classify(raw string) (Rule, bool) {
	return defaultClassifier.Classify(raw)
}

// Classify parses a single keyword expression into a rule.
func (c Classifier) Classify(raw string) (Rule, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Rule{}, false
	}

	r := Rule{Raw: raw}
	s := raw
	if strings.HasPrefix(s, "-") {
		r.Exclude = true
		s = strings.TrimSpace(s[1:])
		if s == "" {
			return Rule{}, false
		}
	}

	switch {
	case isRegexLiteral(s):
		r.Kind = KindRegex
		last := strings.LastIndex(s, "/")
		r.Pattern = s[1:last]
		flags := s[last+1:]
		r.CaseInsensitive = strings.ContainsRune(flags, 'i')
		r.DotAll = strings.ContainsRune(flags, 's')
		r.Multiline = strings.ContainsRune(flags, 'm')
		r.re, r.err = regexp.Compile(regexFlags(r) + r.Pattern)
		if r.err != nil {
			r.re = nil
			r.err = fmt.Errorf("compile %q: %w", r.Pattern, r.err)
		}
	case c.hasCJK(s):
		r.Kind = KindCJK
		r.Pattern = s
		r.folded = fold(s)
	default:
		r.Kind = KindWord
		r.Pattern = s
		r.folded = fold(s)
		// A failed compile leaves re nil and the rule falls back to substring matching.
		r.re, _ = regexp.Compile(`(?i)(?:^|[^\p{L}\p{M}\p{N}_])` + regexp.QuoteMeta(s) + `(?:[^\p{L}\p{M}\p{N}_]|$)`)
	}
	return r, true
}

func isRegexLiteral(s string) bool {
	return strings.HasPrefix(s, "/") && strings.Contains(s[1:], "/")
}

func regexFlags(r Rule) string {
	var f string
	if r.CaseInsensitive {
		f += "i"
	}
	if r.DotAll {
		f += "s"
	}
	if r.Multiline {
		f += "m"
	}
	if f == "" {
		return ""
	}
	return "(?" + f + ")"
}

func (c Classifier) hasCJK(s string) bool {
	for _, ch := range s {
		for _, rg := range c.CJKRanges {
			if ch >= rg.Lo && ch <= rg.Hi {
				return true
			}
		}
	}
	return false
}

// fold returns the Unicode case-folded form of s.
// cases.Caser is stateful, so a fresh one is used per call.
func fold(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return cases.Fold().String(s)
}

// matches evaluates the rule against text. foldedText is the case-folded text.
func (r Rule) matches(text, foldedText string) bool {
	switch r.Kind {
	case KindRegex:
		if r.re == nil {
			return false
		}
		return r.re.MatchString(text)
	case KindCJK:
		return strings.Contains(foldedText, r.folded)
	case KindWord:
		if r.re == nil {
			return strings.Contains(foldedText, r.folded)
		}
		return r.re.MatchString(text)
	}
	return false
}
