package interpret

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// Name and country bounds.
const (
	minNameRunes    = 2
	maxNameRunes    = 40
	maxNameWords    = 3
	maxBareNameWord = 2
	minCountryRunes = 2
	maxCountryRunes = 56
	maxCountryWords = 4
)

// Deterministic interprets replies with per-question keyword rules. It is
// always available and never returns an error.
type Deterministic struct {
	langs   []*lang.Language
	catalog Catalog
}

// Opts holds configuration for interpreters.
type Opts struct {
	Languages []*lang.Language
	Catalog   Catalog
}

// Option defines a configuration option for interpreters.
type Option func(*Opts)

// WithLanguages sets the languages whose rule tables are consulted.
func WithLanguages(langs ...*lang.Language) Option {
	return func(o *Opts) {
		o.Languages = langs
	}
}

// WithCatalog overrides the embedded question catalog.
func WithCatalog(c Catalog) Option {
	return func(o *Opts) {
		o.Catalog = c
	}
}

// NewDeterministic creates a Deterministic interpreter.
func NewDeterministic(opts ...Option) *Deterministic {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = lang.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	return &Deterministic{langs: cfg.Languages, catalog: cfg.Catalog}
}

// Interpret implements Interpreter.
func (d *Deterministic) Interpret(_ context.Context, req Request) (Result, error) {
	return d.interpret(req), nil
}

func (d *Deterministic) interpret(req Request) Result {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ambiguous(false)
	}
	spec, ok := d.catalog.Spec(req.QuestionID)
	if !ok {
		return ambiguous(false)
	}
	if lang.LooksLikeQuestion(d.langs, text) {
		return Result{Type: models.IntentUserQuestion, Value: text, Confidence: models.ConfidenceHigh, Source: SourceDeterministic}
	}
	if spec.IsEnum() {
		return d.interpretEnum(spec, text)
	}
	return d.interpretText(spec, text)
}

// interpretEnum checks slot rules, then short replies, then emotional cues.
func (d *Deterministic) interpretEnum(spec QuestionSpec, text string) Result {
	folded := lang.Fold(text)
	if r, ok := lang.MatchSlot(d.langs, spec.ID, folded); ok {
		return answer(r.Value, r.Confidence)
	}
	if short := lang.ShortAnswer(d.langs, text); short != lang.ShortNone {
		if v := spec.ShortValue(short); v != "" {
			return answer(v, models.ConfidenceHigh)
		}
		return ambiguous(true)
	}
	if d.isEmotional(folded) {
		return Result{Type: models.IntentEmotional, Value: text, Confidence: models.ConfidenceHigh, Source: SourceDeterministic}
	}
	return ambiguous(false)
}

// interpretText checks emotional cues, refusals, then extracts the value.
func (d *Deterministic) interpretText(spec QuestionSpec, text string) Result {
	folded := lang.Fold(text)
	if d.isEmotional(folded) {
		return Result{Type: models.IntentEmotional, Value: text, Confidence: models.ConfidenceHigh, Source: SourceDeterministic}
	}
	if lang.IsDontKnow(d.langs, text) || lang.IsRefusal(d.langs, text) {
		return ambiguous(false)
	}

	switch spec.ID {
	case models.SlotUserName:
		if lang.ShortAnswer(d.langs, text) != lang.ShortNone {
			return ambiguous(true)
		}
		name := d.extractName(text)
		if name == "" {
			return ambiguous(false)
		}
		res := answer(name, models.ConfidenceHigh)
		fills := map[models.SlotName]string{}
		if r, ok := lang.MatchSlot(d.langs, models.SlotGenderIdentity, folded); ok {
			fills[models.SlotGenderIdentity] = r.Value
		}
		if c, ok := lang.FindCountry(text); ok {
			fills[models.SlotCountry] = c
		}
		if len(fills) > 0 {
			res.SlotFills = fills
		}
		return res

	case models.SlotCountry:
		if lang.ShortAnswer(d.langs, text) != lang.ShortNone {
			return ambiguous(true)
		}
		country, conf := d.extractCountry(text)
		if country == "" {
			return ambiguous(false)
		}
		return answer(country, conf)

	default:
		return answer(text, models.ConfidenceHigh)
	}
}

func (d *Deterministic) isEmotional(folded string) bool {
	return lang.AnyMatch(d.langs, folded, func(l *lang.Language) *regexp.Regexp { return l.Emotional })
}

func (d *Deterministic) extractName(text string) string {
	for _, l := range d.langs {
		for _, p := range l.NamePatterns {
			if m := p.FindStringSubmatch(text); m != nil {
				return normalizeName(m[p.SubexpIndex("name")])
			}
		}
	}
	for _, l := range d.langs {
		if l.NameInline == nil {
			continue
		}
		if m := l.NameInline.FindStringSubmatch(text); m != nil {
			return normalizeName(m[l.NameInline.SubexpIndex("name")])
		}
	}
	if name := normalizeName(text); name != "" && len(strings.Fields(name)) <= maxBareNameWord {
		return name
	}
	return ""
}

// extractCountry returns the country and how sure the extraction is.
func (d *Deterministic) extractCountry(text string) (string, models.Confidence) {
	for _, l := range d.langs {
		for _, p := range l.CountryPatterns {
			m := p.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			c := cleanCountry(m[p.SubexpIndex("country")])
			if c == "" {
				continue
			}
			if canon, ok := lang.CanonicalCountry(c); ok {
				return canon, models.ConfidenceHigh
			}
			if canon, ok := lang.FindCountry(c); ok {
				return canon, models.ConfidenceHigh
			}
			return c, models.ConfidenceHigh
		}
	}
	if canon, ok := lang.CanonicalCountry(text); ok {
		return canon, models.ConfidenceHigh
	}
	if canon, ok := lang.FindCountry(text); ok {
		return canon, models.ConfidenceHigh
	}
	if n := utf8.RuneCountInString(text); n >= minCountryRunes && n <= maxCountryRunes && len(strings.Fields(text)) <= maxCountryWords {
		if c := cleanCountry(text); c != "" {
			return c, models.ConfidenceModerate
		}
	}
	return "", models.ConfidenceLow
}

var (
	nameStops    = map[string]bool{"from": true, "en": true, "de": true, "in": true, "and": true, "y": true}
	countryStops = map[string]bool{"from": true, "en": true, "de": true, "in": true}
	stripChars   = regexp.MustCompile(`[^\p{L}\p{N}\s\-'’]`)
)

// firstSegment keeps the text before the first separator or stop word, so
// "Carlos, male, from Colombia" yields "Carlos".
func firstSegment(raw string, stops map[string]bool) string {
	if i := strings.IndexAny(raw, ",;"); i >= 0 {
		raw = raw[:i]
	}
	var kept []string
	for _, w := range strings.Fields(raw) {
		if stops[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func normalizeName(raw string) string {
	s := firstSegment(raw, nameStops)
	s = strings.Join(strings.Fields(stripChars.ReplaceAllString(s, "")), " ")
	if n := utf8.RuneCountInString(s); n < minNameRunes || n > maxNameRunes {
		return ""
	}
	parts := strings.Fields(s)
	if len(parts) > maxNameWords {
		return ""
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func cleanCountry(raw string) string {
	s := firstSegment(raw, countryStops)
	s = strings.Join(strings.Fields(stripChars.ReplaceAllString(s, "")), " ")
	if n := utf8.RuneCountInString(s); n < minCountryRunes || n > maxCountryRunes {
		return ""
	}
	return s
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
