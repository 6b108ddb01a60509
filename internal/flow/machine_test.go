package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/TriageChat/internal/models"
)

func stateWith(phase models.Phase, filled ...models.SlotName) models.State {
	s := models.NewState(nil)
	s.Phase = phase
	for _, name := range filled {
		s.Slots[name] = "x"
	}
	return s
}

func TestNextQuestionID(t *testing.T) {
	tests := []struct {
		name   string
		phase  models.Phase
		filled []models.SlotName
		want   models.QuestionID
	}{
		{"fresh intro", models.PhaseIntro, nil, models.SlotUserName},
		{"intro after name", models.PhaseIntro, []models.SlotName{models.SlotUserName}, models.SlotGenderIdentity},
		{"intro skips filled", models.PhaseIntro, []models.SlotName{models.SlotUserName, models.SlotCountry}, models.SlotGenderIdentity},
		{"intro complete", models.PhaseIntro, []models.SlotName{models.SlotUserName, models.SlotGenderIdentity, models.SlotCountry}, ""},
		{"reason", models.PhaseReason, nil, models.SlotReason},
		{"symptoms order", models.PhaseSymptoms, []models.SlotName{models.SlotMainIssue}, models.SlotFrequency},
		{"context", models.PhaseContext, []models.SlotName{models.SlotStress}, models.SlotMorningErection},
		{"interpretation has none", models.PhaseInterpretation, nil, ""},
		{"end has none", models.PhaseEnd, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stateWith(tt.phase, tt.filled...)
			if got := NextQuestionID(&s); got != tt.want {
				t.Errorf("NextQuestionID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsurePhaseProgress(t *testing.T) {
	s := stateWith(models.PhaseIntro, models.SlotUserName, models.SlotGenderIdentity)
	if EnsurePhaseProgress(&s) {
		t.Fatal("intro should not advance with country missing")
	}

	s.Slots[models.SlotCountry] = "Colombia"
	if !EnsurePhaseProgress(&s) || s.Phase != models.PhaseReason {
		t.Fatalf("expected REASON, got %s", s.Phase)
	}

	// One step per call, even when later phases are already complete.
	for _, q := range []models.SlotName{models.SlotReason, models.SlotMainIssue, models.SlotFrequency, models.SlotDesire} {
		s.Slots[q] = "x"
	}
	EnsurePhaseProgress(&s)
	if s.Phase != models.PhaseSymptoms {
		t.Errorf("expected SYMPTOMS after one step, got %s", s.Phase)
	}

	s = stateWith(models.PhaseContext, models.SlotStress, models.SlotMorningErection)
	if !EnsurePhaseProgress(&s) || s.Phase != models.PhaseInterpretation {
		t.Errorf("expected INTERPRETATION, got %s", s.Phase)
	}
	if EnsurePhaseProgress(&s) {
		t.Error("INTERPRETATION must only be left through EnterAction")
	}
}

func TestEnterActionAndFinalize(t *testing.T) {
	s := stateWith(models.PhaseInterpretation)
	EnterAction(&s)
	if s.Phase != models.PhaseAction || s.LastQuestionID != models.SlotRouteChoice {
		t.Errorf("EnterAction: phase=%s last=%q", s.Phase, s.LastQuestionID)
	}

	Finalize(&s, RouteEndReason("meds"))
	if s.Phase != models.PhaseEnd || s.EndReason != models.EndMedsOptions || s.LastQuestionID != "" {
		t.Errorf("Finalize: %+v", s)
	}
	if RouteEndReason("support") != models.EndSupportPlan {
		t.Error("support should end with the support plan")
	}

	s = stateWith(models.PhaseSymptoms)
	s.LastQuestionID = models.SlotFrequency
	CloseWithMedsIntro(&s)
	if s.Phase != models.PhaseEnd || s.EndReason != models.EndMedsIntro || s.LastQuestionID != "" {
		t.Errorf("CloseWithMedsIntro: %+v", s)
	}
}

func TestRepairKindFor(t *testing.T) {
	tests := []struct {
		attempt     int
		needsRepair bool
		want        RepairKind
	}{
		{1, false, RepairSoft},
		{1, true, RepairClarify},
		{2, false, RepairStructured},
		{2, true, RepairStructured},
		{5, false, RepairStructured},
	}
	for _, tt := range tests {
		if got := RepairKindFor(tt.attempt, tt.needsRepair); got != tt.want {
			t.Errorf("RepairKindFor(%d, %v) = %v, want %v", tt.attempt, tt.needsRepair, got, tt.want)
		}
	}

	s := models.NewState(nil)
	s.IncrementRepair(models.SlotFrequency)
	if NeedsStrongInterpreter(&s, models.SlotFrequency) {
		t.Error("one repair should not force the strong interpreter")
	}
	s.IncrementRepair(models.SlotFrequency)
	if !NeedsStrongInterpreter(&s, models.SlotFrequency) {
		t.Error("two repairs should force the strong interpreter")
	}
}

func TestRendererQuestions(t *testing.T) {
	r := DefaultRenderer()
	s := models.NewState(nil)

	first := r.Question(&s, models.SlotUserName)
	if !strings.Contains(first, "Pen") || !s.Meta.Welcomed {
		t.Errorf("first name prompt should greet: %q", first)
	}
	second := r.Question(&s, models.SlotUserName)
	if strings.Contains(second, "Pen") {
		t.Errorf("greeting must only be shown once: %q", second)
	}

	s.Slots[models.SlotUserName] = "Carlos"
	reason := r.Question(&s, models.SlotReason)
	if !strings.Contains(reason, "safe space") || !strings.Contains(reason, "Carlos") || !s.Meta.SafeSpaceShown {
		t.Errorf("first reason prompt should include safe space and name: %q", reason)
	}
	if again := r.Question(&s, models.SlotReason); strings.Contains(again, "safe space") {
		t.Errorf("safe space must only be shown once: %q", again)
	}

	for _, q := range models.AllSlots {
		if q == models.SlotWantsMeds {
			continue
		}
		if got := r.Question(&s, q); got == "" {
			t.Errorf("empty prompt for %q", q)
		}
	}
	if got := r.Question(&s, models.SlotWantsMeds); got != r.Render(MsgClarifySoft, DataFor(&s)) {
		t.Errorf("question without a prompt should fall back to clarify_soft, got %q", got)
	}
}

func TestRendererRepairs(t *testing.T) {
	r := DefaultRenderer()
	s := models.NewState(nil)

	structured := r.Repair(&s, models.SlotFrequency, RepairStructured)
	if !strings.Contains(structured, "1)") {
		t.Errorf("structured repair should list choices: %q", structured)
	}
	soft := r.Repair(&s, models.SlotFrequency, RepairSoft)
	if soft == "" || soft == structured {
		t.Errorf("soft repair should differ from structured: %q", soft)
	}
	if got := r.Repair(&s, models.SlotWantsMeds, RepairSoft); got == "" {
		t.Error("missing per-question repair should fall back to default")
	}
}

func TestRendererTemplates(t *testing.T) {
	r := DefaultRenderer()

	with := r.Render(MsgEndMedsOptions, Data{Name: "Ana", NeedsEvalParallel: true})
	without := r.Render(MsgEndMedsOptions, Data{Name: "Ana"})
	if !strings.Contains(with, "clinician review") || strings.Contains(without, "clinician review") {
		t.Errorf("parallel evaluation note not conditional:\nwith=%q\nwithout=%q", with, without)
	}
	if !strings.Contains(without, "Ana") {
		t.Errorf("name missing: %q", without)
	}

	if got := r.Render(MsgSafetyEscalation, Data{Country: "Colombia"}); !strings.Contains(got, "Colombia") {
		t.Errorf("escalation should mention the country: %q", got)
	}
	if got := r.Render("no_such_key", Data{}); got != "" {
		t.Errorf("unknown key should render empty, got %q", got)
	}
}

func TestParseMessagesValidation(t *testing.T) {
	if _, err := ParseMessages([]byte("messages:\n  greet: hi\n")); err == nil {
		t.Error("expected error for incomplete catalog")
	}
	if _, err := ParseMessages([]byte("messages: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestJoin(t *testing.T) {
	if got := Join("a", "", "  ", "b"); got != "a\n\nb" {
		t.Errorf("Join() = %q", got)
	}
}
