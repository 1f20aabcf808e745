package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitter accumulates response text deltas and cuts them into speech
// fragments. A fragment ends at '.', '!' or '?' followed by whitespace, or at
// a newline. A delta that ends in terminal punctuation also closes the
// fragment when the next delta starts with an upper-case letter, since
// generators often emit sentences as separate deltas without the space.
type splitter struct {
	buf strings.Builder
}

// push appends delta and returns every fragment completed by it.
func (s *splitter) push(delta string) []string {
	if delta == "" {
		return nil
	}
	if cur := s.buf.String(); cur != "" && isTerminal(cur[len(cur)-1]) && startsUpper(delta) {
		s.buf.WriteByte(' ')
	}
	s.buf.WriteString(delta)

	var out []string
	for {
		text := s.buf.String()
		end := fragmentEnd(text)
		if end < 0 {
			break
		}
		frag := strings.TrimSpace(text[:end])
		s.buf.Reset()
		s.buf.WriteString(strings.TrimLeft(text[end:], " \t\n\r"))
		if frag != "" {
			out = append(out, frag)
		}
	}
	return out
}

// flush returns the trailing partial fragment, or "" when there is none.
func (s *splitter) flush() string {
	frag := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return frag
}

// fragmentEnd returns the exclusive end index of the first complete fragment
// in s, or -1.
func fragmentEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\n':
			return i + 1
		case isTerminal(s[i]) && i+1 < len(s):
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i + 1
			}
		}
	}
	return -1
}

func isTerminal(b byte) bool { return b == '.' || b == '!' || b == '?' }

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// Split cuts a complete text into speech fragments.
func Split(text string) []string {
	var s splitter
	out := s.push(text)
	if rest := s.flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}
