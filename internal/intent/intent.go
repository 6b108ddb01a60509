// Package intent classifies the coarse purpose of a message independently of
// the question being asked.
package intent

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// Result is a global intent classification.
type Result struct {
	Type       models.IntentType `json:"type"`
	Value      string            `json:"value,omitempty"`
	Confidence models.Confidence `json:"confidence"`
	// Remainder is the text following a leading greeting, if any.
	Remainder string `json:"remainder,omitempty"`
}

// Is reports whether the result has one of the given types.
func (r Result) Is(types ...models.IntentType) bool {
	for _, t := range types {
		if r.Type == t {
			return true
		}
	}
	return false
}

// Classifier runs an ordered, first-match-wins rule cascade.
type Classifier struct {
	langs []*lang.Language
}

// NewClassifier creates a Classifier for the given languages. No languages
// means the defaults.
func NewClassifier(langs ...*lang.Language) *Classifier {
	if len(langs) == 0 {
		langs = lang.Default()
	}
	return &Classifier{langs: langs}
}

type rule struct {
	intent models.IntentType
	match  func(c *Classifier, raw, folded string) bool
}

func (c *Classifier) any(folded string, pick func(*lang.Language) *regexp.Regexp) bool {
	return lang.AnyMatch(c.langs, folded, pick)
}

func pause(l *lang.Language) *regexp.Regexp     { return l.Pause }
func file(l *lang.Language) *regexp.Regexp      { return l.File }
func greeting(l *lang.Language) *regexp.Regexp  { return l.Greeting }
func gratitude(l *lang.Language) *regexp.Regexp { return l.Gratitude }
func emotional(l *lang.Language) *regexp.Regexp { return l.Emotional }
func meds(l *lang.Language) *regexp.Regexp      { return l.Meds }

// head rules run on the whole message before greeting handling.
var head = []rule{
	{models.IntentFileHandoff, func(c *Classifier, _, f string) bool { return c.any(f, pause) && c.any(f, file) }},
	{models.IntentFileHandoff, func(c *Classifier, _, f string) bool { return c.any(f, file) }},
	{models.IntentMetaPause, func(c *Classifier, _, f string) bool { return c.any(f, pause) }},
}

// tail rules run on the message, or on what follows a leading greeting.
var tail = []rule{
	{models.IntentGratitude, func(c *Classifier, _, f string) bool { return c.any(f, gratitude) }},
	{models.IntentUserQuestion, func(c *Classifier, raw, _ string) bool { return lang.LooksLikeQuestion(c.langs, raw) }},
	{models.IntentEmotional, func(c *Classifier, _, f string) bool { return c.any(f, emotional) }},
	{models.IntentMedsIntent, func(c *Classifier, _, f string) bool { return c.any(f, meds) }},
}

// Classify returns the global intent of text.
func (c *Classifier) Classify(text string) Result {
	raw := strings.TrimSpace(text)
	folded := lang.Fold(raw)
	if folded == "" {
		return Result{Type: models.IntentAmbiguous, Confidence: models.ConfidenceLow}
	}

	for _, r := range head {
		if r.match(c, raw, folded) {
			return Result{Type: r.intent, Confidence: models.ConfidenceHigh}
		}
	}

	if rest, ok := c.stripGreeting(raw, folded); ok {
		if rest == "" {
			return Result{Type: models.IntentGreeting, Confidence: models.ConfidenceHigh}
		}
		if res, ok := c.runTail(rest); ok {
			return res
		}
		return Result{Type: models.IntentGreeting, Confidence: models.ConfidenceModerate, Remainder: rest}
	}

	if res, ok := c.runTail(raw); ok {
		return res
	}
	return Result{Type: models.IntentUnknown, Value: raw, Confidence: models.ConfidenceLow}
}

func (c *Classifier) runTail(raw string) (Result, bool) {
	folded := lang.Fold(raw)
	for _, r := range tail {
		if !r.match(c, raw, folded) {
			continue
		}
		res := Result{Type: r.intent, Confidence: models.ConfidenceHigh}
		if r.intent == models.IntentUserQuestion || r.intent == models.IntentEmotional {
			res.Value = raw
		}
		return res, true
	}
	return Result{}, false
}

const greetingPunct = " ,.;:!¡-"

// stripGreeting removes a leading greeting and returns the raw remainder.
func (c *Classifier) stripGreeting(raw, folded string) (string, bool) {
	var match string
	for _, l := range c.langs {
		if l.Greeting == nil {
			continue
		}
		if m := l.Greeting.FindString(folded); m != "" && len(m) > len(match) {
			match = m
		}
	}
	if match == "" {
		return "", false
	}
	greetWords := strings.Fields(match)
	rawWords := strings.Fields(raw)
	n := len(greetWords)
	if n > len(rawWords) {
		return "", true
	}
	// Folding keeps word and rune counts, so the tail of the last greeting
	// word can be cut from the raw text by rune offset.
	last := []rune(rawWords[n-1])
	cut := utf8.RuneCountInString(greetWords[n-1])
	var parts []string
	if cut < len(last) {
		parts = append(parts, string(last[cut:]))
	}
	parts = append(parts, rawWords[n:]...)
	rest := strings.Trim(strings.Join(parts, " "), greetingPunct)
	return rest, true
}

var defaultClassifier = NewClassifier()

// Classify runs the default classifier.
func Classify(text string) Result {
	return defaultClassifier.Classify(text)
}
