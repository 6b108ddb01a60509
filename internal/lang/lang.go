// Package lang holds the per-language rule tables used to classify user text,
// plus the text folding and fuzzy matching helpers they rely on.
//
// Every table is written against folded text (lowercase, accents removed,
// whitespace collapsed), so patterns only need the unaccented spelling.
package lang

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// Rule maps a pattern match to a normalized slot value.
type Rule struct {
	Value      string
	Pattern    *regexp.Regexp
	Confidence models.Confidence
}

// Language is the rule set for one supported language. Slot rule lists are
// ordered; across languages, a rule at an earlier position wins over a rule
// at a later position, so tables for the same slot keep the same value order.
type Language struct {
	Code string

	Yes   []string
	No    []string
	Maybe []string

	Interrogative *regexp.Regexp
	DontKnow      *regexp.Regexp
	Refusal       *regexp.Regexp

	Pause     *regexp.Regexp
	File      *regexp.Regexp
	Greeting  *regexp.Regexp
	Gratitude *regexp.Regexp
	Emotional *regexp.Regexp
	Meds      *regexp.Regexp

	// NamePatterns and CountryPatterns run on the raw text and capture a
	// named group ("name" or "country").
	NamePatterns    []*regexp.Regexp
	NameInline      *regexp.Regexp
	CountryPatterns []*regexp.Regexp

	SlotRules map[models.SlotName][]Rule

	// RedFlags maps each red flag to this language's patterns.
	RedFlags []RedFlagRule
}

// RedFlagRule pairs a red flag with the pattern that detects it.
type RedFlagRule struct {
	Flag    models.RedFlag
	Pattern *regexp.Regexp
}

var registry = map[string]*Language{
	English.Code: English,
	Spanish.Code: Spanish,
}

// DefaultCodes lists the languages enabled when none are configured.
var DefaultCodes = []string{"en", "es"}

// Lookup returns the languages for the given codes, skipping unknown ones.
// An empty or fully unknown list yields the defaults.
func Lookup(codes []string) []*Language {
	var out []*Language
	for _, c := range codes {
		if l, ok := registry[strings.ToLower(strings.TrimSpace(c))]; ok {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		for _, c := range DefaultCodes {
			out = append(out, registry[c])
		}
	}
	return out
}

// Default returns the default language set.
func Default() []*Language {
	return Lookup(nil)
}

var quoteReplacer = strings.NewReplacer("’", "'", "‘", "'", "´", "'", "`", "'")

// Fold lowercases s, strips diacritics, normalizes apostrophes and collapses
// whitespace. It is used for matching only; extracted values keep the
// user's spelling.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = quoteReplacer.Replace(strings.ToLower(out))
	return strings.Join(strings.Fields(out), " ")
}

// AnyMatch reports whether pick(l) matches text for any language.
func AnyMatch(langs []*Language, text string, pick func(*Language) *regexp.Regexp) bool {
	for _, l := range langs {
		if re := pick(l); re != nil && re.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchSlot returns the earliest-ranked rule for slot that matches folded
// text across langs.
func MatchSlot(langs []*Language, slot models.SlotName, folded string) (Rule, bool) {
	var best Rule
	bestRank := -1
	for _, l := range langs {
		for i, r := range l.SlotRules[slot] {
			if bestRank >= 0 && i >= bestRank {
				break
			}
			if r.Pattern.MatchString(folded) {
				best, bestRank = r, i
				break
			}
		}
	}
	return best, bestRank >= 0
}

// LooksLikeQuestion reports whether raw text is shaped like a question: it
// contains a question mark or starts with an interrogative.
func LooksLikeQuestion(langs []*Language, text string) bool {
	if strings.ContainsAny(text, "?¿") {
		return true
	}
	return AnyMatch(langs, Fold(text), func(l *Language) *regexp.Regexp { return l.Interrogative })
}

// IsDontKnow reports whether text is an "I don't know" reply.
func IsDontKnow(langs []*Language, text string) bool {
	return AnyMatch(langs, Fold(text), func(l *Language) *regexp.Regexp { return l.DontKnow })
}

// IsRefusal reports whether text declines to answer.
func IsRefusal(langs []*Language, text string) bool {
	return AnyMatch(langs, Fold(text), func(l *Language) *regexp.Regexp { return l.Refusal })
}

func words(ws ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + strings.Join(ws, "|") + `)\b`)
}

func rule(value string, conf models.Confidence, ws ...string) Rule {
	return Rule{Value: value, Pattern: words(ws...), Confidence: conf}
}
