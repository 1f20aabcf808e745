// Package phonetic spots short spoken phrases (wake phrases, voice commands)
// inside noisy transcripts.
//
// Matching proceeds in three stages:
//
//  1. Exact: the normalised phrase tokens appear contiguously in the
//     normalised transcript.
//
//  2. Phonetic: a window of transcript tokens whose Double Metaphone codes
//     cover every phrase token is accepted when its Jaro-Winkler similarity to
//     the phrase reaches the phonetic threshold (default 0.80).
//
//  3. Fuzzy: any other window is accepted only at the higher fuzzy threshold
//     (default 0.92).
//
// Windows range from one token shorter to one token longer than the phrase so
// that "hey gem" still matches a transcript of "heygem" or "hey g em".
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically aligned window. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window without
// phonetic alignment. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher finds phrases in transcripts. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Find reports the phrase from phrases that best occurs inside text. An exact
// occurrence scores 1 and wins immediately; phrases are tried in order.
func (m *Matcher) Find(text string, phrases []string) (phrase string, score float64, ok bool) {
	toks := Tokens(text)
	if len(toks) == 0 {
		return "", 0, false
	}

	var bestScore float64
	var best string
	for _, p := range phrases {
		ptoks := Tokens(p)
		if len(ptoks) == 0 {
			continue
		}
		if containsRun(toks, ptoks) {
			return p, 1, true
		}
		if s := m.windowScore(toks, ptoks); s > bestScore {
			best, bestScore = p, s
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

// Contains reports whether any of phrases occurs in text.
func (m *Matcher) Contains(text string, phrases ...string) bool {
	_, _, ok := m.Find(text, phrases)
	return ok
}

// windowScore returns the best accepted score for ptoks over all token windows
// of toks, or 0 when no window passes its threshold.
func (m *Matcher) windowScore(toks, ptoks []string) float64 {
	pfull := strings.Join(ptoks, " ")
	pconcat := strings.Join(ptoks, "")
	pcodes := make([]map[string]struct{}, len(ptoks))
	for i, t := range ptoks {
		pcodes[i] = codesForTokens([]string{t})
	}

	var best float64
	for size := max(1, len(ptoks)-1); size <= len(ptoks)+1; size++ {
		for i := 0; i+size <= len(toks); i++ {
			win := toks[i : i+size]
			score := matchr.JaroWinkler(strings.Join(win, " "), pfull, false)
			if s := matchr.JaroWinkler(strings.Join(win, ""), pconcat, false); s > score {
				score = s
			}

			threshold := m.fuzzyThreshold
			if coversAll(codesForTokens(win), pcodes) {
				threshold = m.phoneticThreshold
			}
			if score >= threshold && score > best {
				best = score
			}
		}
	}
	return best
}

// Tokens lower-cases s and splits it into words, dropping punctuation.
// Apostrophes inside words are kept ("what's").
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Normalize returns the tokens of s joined by single spaces.
func Normalize(s string) string { return strings.Join(Tokens(s), " ") }

// containsRun reports whether needle occurs contiguously in hay.
func containsRun(hay, needle []string) bool {
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (words with no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// coversAll reports whether every per-token code set in want shares a code
// with have. A phrase token without codes is ignored.
func coversAll(have map[string]struct{}, want []map[string]struct{}) bool {
	if len(have) == 0 {
		return false
	}
	for _, codes := range want {
		if len(codes) == 0 {
			continue
		}
		hit := false
		for c := range codes {
			if _, ok := have[c]; ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
