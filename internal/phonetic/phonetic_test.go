package phonetic_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hearken/internal/phonetic"
)

func TestMatcher_ExactPhrase(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	phrase, score, ok := m.Find("Hey, Gem! What time is it?", []string{"hey gem", "help me"})
	if !ok {
		t.Fatal("Find: ok=false, want true")
	}
	if phrase != "hey gem" || score != 1 {
		t.Errorf("Find = (%q, %f), want (%q, 1)", phrase, score, "hey gem")
	}
}

func TestMatcher_PhoneticVariant(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	phrase, score, ok := m.Find("hey jem what time is it", []string{"hey gem"})
	if !ok {
		t.Fatal("Find(\"hey jem ...\"): ok=false, want true")
	}
	if phrase != "hey gem" {
		t.Errorf("phrase = %q, want %q", phrase, "hey gem")
	}
	if score < 0.8 || score >= 1 {
		t.Errorf("score = %f, want in [0.8, 1)", score)
	}
}

func TestMatcher_NoFalseMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, text := range []string{
		"hello how are you",
		"the weather is nice today",
		"",
		"   ...   ",
	} {
		if phrase, score, ok := m.Find(text, []string{"hey gem"}); ok {
			t.Errorf("Find(%q) = (%q, %f), want no match", text, phrase, score)
		}
	}
}

func TestMatcher_CommandInSentence(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	commands := []string{"reset conversation", "clear history", "forget everything", "start over"}
	if !m.Contains("Okay, please clear history now.", commands...) {
		t.Error("expected command match")
	}
	if m.Contains("tell me about history", commands...) {
		t.Error("unexpected command match")
	}
}

func TestMatcher_EmptyPhrases(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, ok := m.Find("hey gem", nil); ok {
		t.Error("Find with no phrases: ok=true, want false")
	}
	if _, _, ok := m.Find("hey gem", []string{"", "  "}); ok {
		t.Error("Find with blank phrases: ok=true, want false")
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, ok := strict.Find("hey jem", []string{"hey gem"}); ok {
		t.Error("strict matcher should reject a phonetic variant")
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := phonetic.Tokens("What's up, Doc?")
	want := []string{"what's", "up", "doc"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
	if n := phonetic.Normalize("  Start   OVER! "); n != "start over" {
		t.Errorf("Normalize = %q, want %q", n, "start over")
	}
}
