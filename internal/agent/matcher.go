package agent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches spoken, possibly mis-transcribed words against a list of
// known names. It combines Double Metaphone phonetic encoding for candidate
// filtering with Jaro-Winkler similarity for ranking: a name with phonetic
// overlap need only clear the lower phonetic threshold, while a name with
// no overlap must clear the stricter fuzzy threshold.
//
// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with the supplied options applied.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the name most similar to phrase. phrase may be a single word
// or a short space-separated window. When matched is false, corrected
// equals phrase unchanged and confidence is 0.
func (m *Matcher) Match(phrase string, names []string) (corrected string, confidence float64, matched bool) {
	if len(names) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := metaphoneCodes(phraseTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, name := range names {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		phonetic := codesOverlap(phraseCodes, metaphoneCodes(nameTokens))
		score := bestSimilarity(phraseTokens, nameTokens, phraseLower, nameLower)

		if phonetic {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{name: name, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{name: name, score: score}
		}
	}

	if best.name == "" {
		return phrase, 0, false
	}
	return best.name, best.score, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the
// tokens, excluding empty codes.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity returns the highest Jaro-Winkler score across three
// comparisons: the full strings, the space-stripped strings, and the best
// token pair. The latter two handle word-boundary mismatches in spoken
// names ("physio therapy" vs "physiotherapy").
func bestSimilarity(phraseTokens, nameTokens []string, phraseFull, nameFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, nameFull, false)

	if len(phraseTokens) > 1 || len(nameTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(phraseTokens, ""), strings.Join(nameTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, pt := range phraseTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(pt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
