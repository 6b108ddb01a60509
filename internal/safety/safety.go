// Package safety detects red-flag phrases that require human escalation.
package safety

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// Detector scans text for red flags in a fixed set of languages.
type Detector struct {
	langs []*lang.Language
}

// NewDetector creates a Detector for the given languages. No languages means
// the defaults.
func NewDetector(langs ...*lang.Language) *Detector {
	if len(langs) == 0 {
		langs = lang.Default()
	}
	return &Detector{langs: langs}
}

// Detect returns the red flags found in text, at most once each, in category
// order. Empty text yields no flags.
func (d *Detector) Detect(text string) []models.RedFlag {
	folded := lang.Fold(text)
	if strings.TrimSpace(folded) == "" {
		return nil
	}
	var flags []models.RedFlag
	seen := map[models.RedFlag]bool{}
	for _, flag := range categories {
		for _, l := range d.langs {
			if seen[flag] {
				break
			}
			for _, r := range l.RedFlags {
				if r.Flag == flag && r.Pattern.MatchString(folded) {
					seen[flag] = true
					flags = append(flags, flag)
					break
				}
			}
		}
	}
	if len(flags) > 0 {
		slog.Debug("Detector.Detect: red flags found", "flags", flags)
	}
	return flags
}

// categories fixes the output order of flags.
var categories = []models.RedFlag{
	models.RedFlagSelfHarm,
	models.RedFlagAcuteCardioResp,
	models.RedFlagNeuro,
	models.RedFlagPriapism,
	models.RedFlagSeverePainBleeding,
}

var defaultDetector = NewDetector()

// Detect runs the default detector.
func Detect(text string) []models.RedFlag {
	return defaultDetector.Detect(text)
}
