// Package transcript renders question/answer pairs into the canonical
// interview transcript stored on the interview record.
package transcript

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// echoPrefixWords is how many leading question words an answer must repeat
// before the repetition is treated as an echo.
const echoPrefixWords = 5

// echoTrailer is the punctuation allowed between an echoed question and the
// answer proper.
const echoTrailer = ":,.-"

// Pair is one asked question and the answer captured for it.
type Pair struct {
	Question string
	Answer   string
}

// Render produces one "Q{i}:"/"A{i}:" line pair per entry, in order, with
// echoed question text removed from each answer.
func Render(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		n := strconv.Itoa(i + 1)
		b.WriteString("Q" + n + ": " + p.Question + "\n")
		b.WriteString("A" + n + ": " + CleanAnswer(p.Question, p.Answer))
	}
	return b.String()
}

// CleanAnswer strips a leading echo of question from answer and
// capitalizes what remains. The result may be empty.
func CleanAnswer(question, answer string) string {
	answer = strings.TrimLeftFunc(answer, unicode.IsSpace)

	if q := strings.TrimSpace(question); q != "" && echoesQuestion(answer, q) {
		answer = trimTrailer(answer[len(q):])
	} else if cut, ok := echoedWords(question, answer); ok {
		answer = trimTrailer(answer[cut:])
	}

	return capitalize(answer)
}

// echoedWords compares answer and question word by word, ignoring case and
// edge punctuation. It returns the byte offset just past the last matching
// answer word when the whole question, or at least echoPrefixWords of it,
// was repeated.
func echoedWords(question, answer string) (int, bool) {
	qwords := strings.Fields(question)
	if len(qwords) == 0 {
		return 0, false
	}

	matched, end, pos := 0, 0, 0
	for matched < len(qwords) {
		start, stop := nextField(answer, pos)
		if start < 0 {
			break
		}
		if !strings.EqualFold(normalizeWord(answer[start:stop]), normalizeWord(qwords[matched])) {
			break
		}
		matched++
		end, pos = stop, stop
	}

	if matched == len(qwords) || matched >= echoPrefixWords {
		return end, true
	}
	return 0, false
}

// nextField returns the bounds of the first whitespace-delimited word at or
// after pos, or -1 when none remain.
func nextField(s string, pos int) (int, int) {
	start := -1
	for i, r := range s[pos:] {
		if !unicode.IsSpace(r) {
			start = pos + i
			break
		}
	}
	if start < 0 {
		return -1, -1
	}
	stop := strings.IndexFunc(s[start:], unicode.IsSpace)
	if stop < 0 {
		return start, len(s)
	}
	return start, start + stop
}

func normalizeWord(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// echoesQuestion reports whether s starts with q, ignoring case, and the
// match ends on a word boundary.
func echoesQuestion(s, q string) bool {
	if len(s) < len(q) || !strings.EqualFold(s[:len(q)], q) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[len(q):])
	last, _ := utf8.DecodeLastRuneInString(q)
	return len(s) == len(q) || !isWordRune(last) || !isWordRune(next)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func trimTrailer(s string) string {
	return strings.TrimLeftFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(echoTrailer, r)
	})
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
