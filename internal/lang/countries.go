package lang

import (
	"regexp"
	"sort"
	"strings"
)

// countryAliases maps folded aliases to a canonical English country name.
var countryAliases = map[string]string{
	"colombia":             "Colombia",
	"mexico":               "Mexico",
	"usa":                  "United States",
	"us":                   "United States",
	"u.s.":                 "United States",
	"u.s.a.":               "United States",
	"united states":        "United States",
	"the united states":    "United States",
	"the us":               "United States",
	"estados unidos":       "United States",
	"eeuu":                 "United States",
	"ee.uu.":               "United States",
	"ee uu":                "United States",
	"spain":                "Spain",
	"espana":               "Spain",
	"argentina":            "Argentina",
	"chile":                "Chile",
	"peru":                 "Peru",
	"ecuador":              "Ecuador",
	"venezuela":            "Venezuela",
	"bolivia":              "Bolivia",
	"uruguay":              "Uruguay",
	"paraguay":             "Paraguay",
	"brazil":               "Brazil",
	"brasil":               "Brazil",
	"guatemala":            "Guatemala",
	"honduras":             "Honduras",
	"el salvador":          "El Salvador",
	"nicaragua":            "Nicaragua",
	"costa rica":           "Costa Rica",
	"panama":               "Panama",
	"cuba":                 "Cuba",
	"puerto rico":          "Puerto Rico",
	"dominican republic":   "Dominican Republic",
	"republica dominicana": "Dominican Republic",
	"canada":               "Canada",
	"uk":                   "United Kingdom",
	"united kingdom":       "United Kingdom",
	"england":              "United Kingdom",
	"reino unido":          "United Kingdom",
	"inglaterra":           "United Kingdom",
	"france":               "France",
	"francia":              "France",
	"germany":              "Germany",
	"alemania":             "Germany",
	"italy":                "Italy",
	"italia":               "Italy",
	"portugal":             "Portugal",
}

// countryMention matches any known alias as a whole phrase, longest first.
var countryMention = func() *regexp.Regexp {
	keys := make([]string, 0, len(countryAliases))
	for k := range countryAliases {
		// two-letter aliases collide with ordinary words in running text
		if len(k) <= 2 {
			continue
		}
		keys = append(keys, regexp.QuoteMeta(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return regexp.MustCompile(`(?:^|[^a-z])(` + strings.Join(keys, "|") + `)(?:$|[^a-z])`)
}()

// CanonicalCountry returns the canonical name for an exact alias.
func CanonicalCountry(s string) (string, bool) {
	f := strings.Trim(Fold(s), " !,;:")
	if c, ok := countryAliases[f]; ok {
		return c, true
	}
	c, ok := countryAliases[strings.TrimRight(f, ".")]
	return c, ok
}

// FindCountry returns the canonical name of the first known country
// mentioned anywhere in text.
func FindCountry(text string) (string, bool) {
	m := countryMention.FindStringSubmatch(Fold(text))
	if m == nil {
		return "", false
	}
	return countryAliases[m[1]], true
}
