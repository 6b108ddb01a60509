// Package flow owns the guided conversation: which question is pending, when
// the phase advances, and the scripted text rendered for each step.
package flow

import (
	"log/slog"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// phaseQuestions lists, per phase, the slots asked in order.
var phaseQuestions = map[models.Phase][]models.QuestionID{
	models.PhaseIntro:    {models.SlotUserName, models.SlotGenderIdentity, models.SlotCountry},
	models.PhaseReason:   {models.SlotReason},
	models.PhaseSymptoms: {models.SlotMainIssue, models.SlotFrequency, models.SlotDesire},
	models.PhaseContext:  {models.SlotStress, models.SlotMorningErection},
}

// phaseNext is the phase entered once every question of a phase is filled.
var phaseNext = map[models.Phase]models.Phase{
	models.PhaseIntro:    models.PhaseReason,
	models.PhaseReason:   models.PhaseSymptoms,
	models.PhaseSymptoms: models.PhaseContext,
	models.PhaseContext:  models.PhaseInterpretation,
}

// QuestionsFor returns the ordered questions of phase p.
func QuestionsFor(p models.Phase) []models.QuestionID {
	return phaseQuestions[p]
}

// NextQuestionID returns the first empty slot of the current phase, or ""
// when the phase has no question left.
func NextQuestionID(s *models.State) models.QuestionID {
	for _, q := range phaseQuestions[s.Phase] {
		if !s.Slots.IsFilled(q) {
			return q
		}
	}
	return ""
}

// EnsurePhaseProgress moves the state one phase forward when every question
// of the current phase is filled. It reports whether the phase changed.
func EnsurePhaseProgress(s *models.State) bool {
	next, ok := phaseNext[s.Phase]
	if !ok || NextQuestionID(s) != "" {
		return false
	}
	from := s.Phase
	if !s.AdvanceTo(next) {
		return false
	}
	slog.Debug("flow.EnsurePhaseProgress: phase advanced", "from", from, "to", next, "turn", s.Turn)
	return true
}

// EnterAction leaves INTERPRETATION for ACTION with route choice pending.
func EnterAction(s *models.State) {
	s.AdvanceTo(models.PhaseAction)
	s.LastQuestionID = models.SlotRouteChoice
}

// CloseWithMedsIntro ends the conversation after an explicit medication
// request.
func CloseWithMedsIntro(s *models.State) {
	Finalize(s, models.EndMedsIntro)
}

// Finalize moves the state to END with reason.
func Finalize(s *models.State, reason models.EndReason) {
	slog.Debug("flow.Finalize: conversation ended", "from", s.Phase, "reason", reason, "turn", s.Turn)
	s.End(reason)
}

// RouteEndReason maps a route choice to its end reason.
func RouteEndReason(choice string) models.EndReason {
	if choice == "meds" {
		return models.EndMedsOptions
	}
	return models.EndSupportPlan
}

// RepairKind selects the repair prompt style.
type RepairKind int

const (
	// RepairClarify is the gentle first clarification for a parsed but
	// insufficient reply.
	RepairClarify RepairKind = iota
	// RepairSoft re-asks openly.
	RepairSoft
	// RepairStructured offers explicit choices.
	RepairStructured
)

// StructuredRepairAfter is the attempt count from which repairs become
// structured and the interpreter is asked to use its strong configuration.
const StructuredRepairAfter = 2

// RepairKindFor picks the prompt style for a repair attempt (1-based).
func RepairKindFor(attempt int, needsRepair bool) RepairKind {
	switch {
	case attempt >= StructuredRepairAfter:
		return RepairStructured
	case needsRepair:
		return RepairClarify
	default:
		return RepairSoft
	}
}

// NeedsStrongInterpreter reports whether the anti-loop policy applies to q.
func NeedsStrongInterpreter(s *models.State, q models.QuestionID) bool {
	return s.RepairCount(q) >= StructuredRepairAfter
}
