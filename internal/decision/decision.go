// Package decision maps collected slots to tri-state signals and applies the
// triage rule table to them.
package decision

import (
	"slices"
	"strings"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// RulesetVersion identifies the rule table below.
const RulesetVersion = "0.1.0"

// Decision flags.
const (
	FlagPhysiologySignal  = "physiology_signal"
	FlagNeedsEvalParallel = "needs_eval_parallel"
	FlagPersistentPattern = "persistent_pattern"
)

// Reasons and recommendations.
const (
	ReasonIntermittent      = "Symptoms appear intermittent."
	ReasonMedsRequested     = "You asked for medication support."
	ReasonMorningReduced    = "Reduced morning erections can be a physiological signal worth evaluating."
	ReasonPersistentWithMed = "Because the pattern seems persistent, it's best paired with clinician review."
	ReasonPersistent        = "Symptoms seem consistent rather than intermittent."

	RecommendMedsConsidered = "Medication support can be considered."
	RecommendShowOptions    = "Show medication options (authorization as needed)."
	RecommendEvalParallel   = "Recommend clinician evaluation in parallel."
	RecommendEvalFirst      = "Consider clinician evaluation before a medication-first approach."
)

// Decision is the outcome of the rule table.
type Decision struct {
	Path            models.Path
	Flags           []string
	Reasons         []string
	Recommendations []string
}

// HasFlag reports whether flag was raised.
func (d Decision) HasFlag(flag string) bool {
	return slices.Contains(d.Flags, flag)
}

func (d *Decision) flag(f string) {
	if !d.HasFlag(f) {
		d.Flags = append(d.Flags, f)
	}
}

func (d *Decision) reason(r string) {
	d.Reasons = append(d.Reasons, r)
}

func (d *Decision) recommend(r string) {
	d.Recommendations = append(d.Recommendations, r)
}

// Normalize maps slot values to signals. Missing, blank or unrecognized
// values are always unknown, never false.
func Normalize(slots models.Slots) models.Signals {
	return models.Signals{
		IntermittentPattern:    lookup(slots[models.SlotFrequency], frequencyValues),
		DesirePreserved:        lookup(slots[models.SlotDesire], desireValues),
		StressHigh:             lookup(slots[models.SlotStress], stressValues),
		MorningErectionReduced: lookup(slots[models.SlotMorningErection], morningValues),
		UserRequestsMeds:       lookup(strings.ToLower(slots[models.SlotWantsMeds]), wantsMedsValues),
	}
}

// Value tables. Values absent from a table, such as a "moderate" stress,
// stay unknown.
var (
	frequencyValues = map[string]bool{"sometimes": true, "always": false}
	desireValues    = map[string]bool{"present": true, "low": false, "reduced": false}
	stressValues    = map[string]bool{"high": true, "low": false}
	morningValues   = map[string]bool{"reduced": true, "rare": true, "normal": false, "often": false}
	wantsMedsValues = map[string]bool{"yes": true, "true": true, "1": true, "y": true, "no": false, "false": false, "0": false, "n": false}
)

func lookup(raw string, table map[string]bool) models.Tri {
	v := strings.TrimSpace(raw)
	if v == "" {
		return models.TriUnknown
	}
	b, ok := table[v]
	if !ok {
		return models.TriUnknown
	}
	return models.TriOf(b)
}

// Decide applies the rule table. It is total over all signal combinations.
func Decide(sig models.Signals) Decision {
	d := Decision{
		Path:            models.PathMoreQuestions,
		Flags:           []string{},
		Reasons:         []string{},
		Recommendations: []string{},
	}
	morningReduced := sig.MorningErectionReduced.IsTrue()
	requestsMeds := sig.UserRequestsMeds.IsTrue()

	switch {
	case sig.IntermittentPattern.IsTrue():
		d.Path = models.PathMedsOK
		d.reason(ReasonIntermittent)
		d.recommend(RecommendMedsConsidered)
		if requestsMeds {
			d.reason(ReasonMedsRequested)
			d.recommend(RecommendShowOptions)
		}
		if morningReduced {
			d.flag(FlagPhysiologySignal)
			d.flag(FlagNeedsEvalParallel)
			d.reason(ReasonMorningReduced)
			d.recommend(RecommendEvalParallel)
		}

	case sig.IntermittentPattern.IsFalse():
		if requestsMeds {
			d.Path = models.PathMedsOK
			d.flag(FlagNeedsEvalParallel)
			d.reason(ReasonMedsRequested)
			d.reason(ReasonPersistentWithMed)
			d.recommend(RecommendShowOptions)
			d.recommend(RecommendEvalParallel)
		} else {
			d.Path = models.PathEvalFirst
			d.flag(FlagPersistentPattern)
			d.reason(ReasonPersistent)
			d.recommend(RecommendEvalFirst)
		}
		if morningReduced && !d.HasFlag(FlagPhysiologySignal) {
			d.flag(FlagPhysiologySignal)
			d.reason(ReasonMorningReduced)
		}
	}
	return d
}

// NeedsEvalParallel reports whether the current slots call for a clinician
// review alongside medication.
func NeedsEvalParallel(slots models.Slots) bool {
	return Decide(Normalize(slots)).HasFlag(FlagNeedsEvalParallel)
}
