package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/TriageChat/internal/decision"
	"github.com/BTreeMap/TriageChat/internal/interpret"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// turnResult runs one turn and fails the test on an error output.
func turnResult(t *testing.T, e *Engine, st *models.State, text string) models.Output {
	t.Helper()
	out := e.Generate(context.Background(), models.Input{
		Context: models.Context{ChatText: text, ChatState: st},
	})
	if !out.OK {
		t.Fatalf("turn %q failed: %+v", text, out.Errors)
	}
	if out.Report.Chat == nil {
		t.Fatalf("turn %q: missing chat payload", text)
	}
	return out
}

func stateAt(phase models.Phase, last models.QuestionID, slots map[models.SlotName]string) *models.State {
	s := models.NewState(nil)
	s.Phase = phase
	s.LastQuestionID = last
	for k, v := range slots {
		s.Slots[k] = v
	}
	return &s
}

func introDone() map[models.SlotName]string {
	return map[models.SlotName]string{
		models.SlotUserName:       "Carlos",
		models.SlotGenderIdentity: "male",
		models.SlotCountry:        "Colombia",
		models.SlotReason:         "performance",
		models.SlotMainIssue:      "erection_lost",
	}
}

func TestScriptedConversation(t *testing.T) {
	e := New()
	steps := []struct {
		text      string
		wantPhase models.Phase
		wantLast  models.QuestionID
		wantText  string
	}{
		{"", models.PhaseIntro, models.SlotUserName, "Pen"},
		{"Carlos", models.PhaseIntro, models.SlotGenderIdentity, "Carlos"},
		{"male", models.PhaseIntro, models.SlotCountry, "country"},
		{"Colombia", models.PhaseReason, models.SlotReason, "safe space"},
		{"I lose the erection with my partner", models.PhaseSymptoms, models.SlotMainIssue, "partner"},
		{"I lose the erection", models.PhaseSymptoms, models.SlotFrequency, "every time"},
		{"sometimes", models.PhaseSymptoms, models.SlotDesire, "desire"},
		{"still there", models.PhaseContext, models.SlotStress, "stress"},
		{"normal", models.PhaseContext, models.SlotMorningErection, "morning"},
		{"no change", models.PhaseAction, models.SlotRouteChoice, "medication support"},
		{"habits first", models.PhaseEnd, "", "habits and support plan"},
	}

	var st *models.State
	for i, step := range steps {
		out := turnResult(t, e, st, step.text)
		chat := out.Report.Chat
		if chat.Phase != step.wantPhase {
			t.Fatalf("step %d (%q): phase = %s, want %s", i, step.text, chat.Phase, step.wantPhase)
		}
		var last models.QuestionID
		if chat.LastQuestionID != nil {
			last = *chat.LastQuestionID
		}
		if last != step.wantLast {
			t.Fatalf("step %d (%q): last question = %q, want %q", i, step.text, last, step.wantLast)
		}
		if !strings.Contains(chat.Message(), step.wantText) {
			t.Fatalf("step %d (%q): message %q does not contain %q", i, step.text, chat.Message(), step.wantText)
		}
		if chat.State.Turn != i+1 {
			t.Fatalf("step %d: turn = %d", i, chat.State.Turn)
		}
		next := chat.State
		st = &next
	}

	if st.EndReason != models.EndSupportPlan || st.Slot(models.SlotRouteChoice) != "support" {
		t.Errorf("unexpected end: reason=%s route=%q", st.EndReason, st.Slot(models.SlotRouteChoice))
	}
	want := models.Slots{
		models.SlotUserName:        "Carlos",
		models.SlotGenderIdentity:  "male",
		models.SlotCountry:         "Colombia",
		models.SlotReason:          "I lose the erection with my partner",
		models.SlotMainIssue:       "erection_lost",
		models.SlotFrequency:       "sometimes",
		models.SlotDesire:          "present",
		models.SlotStress:          "low",
		models.SlotMorningErection: "normal",
		models.SlotWantsMeds:       "",
		models.SlotRouteChoice:     "support",
	}
	if diff := cmp.Diff(want, st.Slots); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestSafetyLockAndEscalation(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseIntro, models.SlotUserName, nil)

	out := turnResult(t, e, st, "honestly I want to kill myself")
	chat := out.Report.Chat
	if chat.State.Mode != models.ModeSafetyLock {
		t.Fatalf("mode = %s, want SAFETY_LOCK", chat.State.Mode)
	}
	if chat.Done || chat.LastQuestionID == nil || *chat.LastQuestionID != models.SlotCountry {
		t.Fatalf("expected country request, got done=%v last=%v", chat.Done, chat.LastQuestionID)
	}
	if out.Report.PathOrEmpty() != models.PathEscalateHuman {
		t.Errorf("path = %s", out.Report.PathOrEmpty())
	}
	if diff := cmp.Diff([]string{string(models.RedFlagSelfHarm)}, out.Report.Flags); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if !contains(out.Report.Reasons, ReasonRedFlags) || !contains(out.Report.Recommendations, RecommendEscalation) {
		t.Errorf("escalation reason or recommendation missing: %+v", out.Report)
	}

	next := chat.State
	out = turnResult(t, e, &next, "Colombia")
	chat = out.Report.Chat
	if !chat.Done || chat.Phase != models.PhaseEnd || chat.State.EndReason != models.EndSafety {
		t.Fatalf("expected escalation end, got %+v", chat)
	}
	if !strings.Contains(chat.Message(), "Colombia") {
		t.Errorf("escalation should mention the country: %q", chat.Message())
	}

	// The lock is sticky and normal questions never return.
	next = chat.State
	out = turnResult(t, e, &next, "ok thanks, I feel better now")
	chat = out.Report.Chat
	if chat.State.Mode != models.ModeSafetyLock || out.Report.PathOrEmpty() != models.PathEscalateHuman {
		t.Errorf("lock released: mode=%s path=%s", chat.State.Mode, out.Report.PathOrEmpty())
	}
	if !contains(out.Report.Flags, string(models.RedFlagSelfHarm)) {
		t.Errorf("accumulated flags lost: %v", out.Report.Flags)
	}
}

func TestSafetyPauseAsksForCountry(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, map[models.SlotName]string{models.SlotUserName: "Ana"})
	st.Lock()
	st.AddSafetyFlags(models.RedFlagAcuteCardioResp)

	out := turnResult(t, e, st, "wait one sec")
	chat := out.Report.Chat
	if chat.Done || chat.LastQuestionID == nil || *chat.LastQuestionID != models.SlotCountry {
		t.Fatalf("expected country request, got %+v", chat)
	}
	if !chat.State.Meta.AwaitingFiles {
		t.Error("pause should set awaiting_files")
	}
	if !strings.Contains(chat.Message(), "Of course") {
		t.Errorf("expected acknowledgement, got %q", chat.Message())
	}
}

func TestRedFlagsDeduplicated(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseIntro, models.SlotUserName, nil)
	st.Lock()
	st.AddSafetyFlags(models.RedFlagSelfHarm)

	out := turnResult(t, e, st, "suicide, I have chest pain and I want to kill myself")
	want := []models.RedFlag{models.RedFlagSelfHarm, models.RedFlagAcuteCardioResp}
	if diff := cmp.Diff(want, out.Report.Chat.State.SafetyFlags); diff != "" {
		t.Errorf("safety flags mismatch (-want +got):\n%s", diff)
	}
	seen := map[string]int{}
	for _, f := range out.Report.Flags {
		seen[f]++
		if seen[f] > 1 {
			t.Errorf("duplicate report flag %q", f)
		}
	}
}

func TestEvalFirstOverride(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())

	out := turnResult(t, e, st, "every time")
	chat := out.Report.Chat
	if !chat.Done || chat.State.EndReason != models.EndEvalFirst {
		t.Fatalf("expected eval-first end, got phase=%s reason=%s", chat.Phase, chat.State.EndReason)
	}
	if out.Report.PathOrEmpty() != models.PathEvalFirst {
		t.Errorf("path = %s", out.Report.PathOrEmpty())
	}
	if !strings.Contains(chat.Message(), "clinician evaluation") {
		t.Errorf("message = %q", chat.Message())
	}
	if !contains(out.Report.Flags, decision.FlagPersistentPattern) {
		t.Errorf("flags = %v", out.Report.Flags)
	}
}

func TestMedsIntentInterrupt(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())

	out := turnResult(t, e, st, "just give me pills")
	chat := out.Report.Chat
	if chat.State.EndReason != models.EndMedsIntro || !chat.Done {
		t.Fatalf("expected meds intro end, got %+v", chat.State)
	}
	if chat.State.Slot(models.SlotWantsMeds) != "true" {
		t.Errorf("wants_meds = %q", chat.State.Slot(models.SlotWantsMeds))
	}
	if chat.State.RepairCount(models.SlotFrequency) != 0 {
		t.Error("medication request must not count as a repair")
	}
	if chat.Intent != models.IntentMedsIntent {
		t.Errorf("intent = %s", chat.Intent)
	}
}

func TestRouteChoiceMeds(t *testing.T) {
	e := New()
	slots := introDone()
	slots[models.SlotFrequency] = "sometimes"
	slots[models.SlotDesire] = "present"
	slots[models.SlotStress] = "high"
	slots[models.SlotMorningErection] = "reduced"
	st := stateAt(models.PhaseAction, models.SlotRouteChoice, slots)

	out := turnResult(t, e, st, "medication please")
	chat := out.Report.Chat
	if chat.State.EndReason != models.EndMedsOptions {
		t.Fatalf("end reason = %s", chat.State.EndReason)
	}
	if !strings.Contains(chat.Message(), "clinician review") {
		t.Errorf("reduced morning erections should add the parallel review note: %q", chat.Message())
	}
}

func TestGreetingInterrupt(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())

	out := turnResult(t, e, st, "hi")
	chat := out.Report.Chat
	if !strings.HasPrefix(chat.Message(), "Hi Carlos") || !strings.Contains(chat.Message(), "every time") {
		t.Errorf("expected greeting and re-ask, got %q", chat.Message())
	}
	if *chat.LastQuestionID != models.SlotFrequency || chat.State.RepairCount(models.SlotFrequency) != 0 {
		t.Errorf("greeting must not consume or repair: %+v", chat.State)
	}

	out = turnResult(t, e, st, "hey, sometimes")
	chat = out.Report.Chat
	if chat.State.Slot(models.SlotFrequency) != "sometimes" {
		t.Fatalf("greeting remainder should answer the question, slots=%v", chat.State.Slots)
	}
	if !strings.HasPrefix(chat.Message(), "Hi Carlos") || !strings.Contains(chat.Message(), "desire") {
		t.Errorf("expected greeting then next question, got %q", chat.Message())
	}
}

func TestMetaPauseReasksWithoutConsuming(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())

	out := turnResult(t, e, st, "wait one sec")
	chat := out.Report.Chat
	if !chat.State.Meta.AwaitingFiles {
		t.Error("awaiting_files should be set")
	}
	if *chat.LastQuestionID != models.SlotFrequency || chat.State.Slot(models.SlotFrequency) != "" {
		t.Errorf("pause consumed the question: %+v", chat.State)
	}
	if !strings.Contains(chat.Message(), "take your time") || !strings.Contains(chat.Message(), "every time") {
		t.Errorf("message = %q", chat.Message())
	}

	next := chat.State
	out = turnResult(t, e, &next, "sometimes")
	if out.Report.Chat.State.Meta.AwaitingFiles {
		t.Error("awaiting_files should clear on a regular reply")
	}
}

func TestUserQuestionAndEmotionalReask(t *testing.T) {
	e := New()
	tests := []struct {
		name string
		text string
		want string
	}{
		{"question", "is this normal?", "good question"},
		{"emotional", "honestly I feel ashamed", "feel heavy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateAt(models.PhaseSymptoms, models.SlotDesire, introDone())
			out := turnResult(t, e, st, tt.text)
			chat := out.Report.Chat
			if !strings.Contains(chat.Message(), tt.want) || !strings.Contains(chat.Message(), "desire") {
				t.Errorf("message = %q", chat.Message())
			}
			if chat.State.RepairCount(models.SlotDesire) != 0 || *chat.LastQuestionID != models.SlotDesire {
				t.Errorf("question must stay pending without repair: %+v", chat.State)
			}
		})
	}
}

// recordingInterpreter records requests and delegates to the deterministic
// interpreter.
type recordingInterpreter struct {
	mu       sync.Mutex
	inner    *interpret.Deterministic
	requests []interpret.Request
}

func (r *recordingInterpreter) Interpret(ctx context.Context, req interpret.Request) (interpret.Result, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.inner.Interpret(ctx, req)
}

func TestRepairLadderEscalatesStrength(t *testing.T) {
	rec := &recordingInterpreter{inner: interpret.NewDeterministic()}
	e := New(WithInterpreter(rec))
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())

	out := turnResult(t, e, st, "yes")
	if !strings.Contains(out.Report.Chat.Message(), "yes or no") {
		t.Errorf("first repair should clarify, got %q", out.Report.Chat.Message())
	}
	if out.Report.Trace.RepairAttempt != 1 {
		t.Errorf("repair attempt = %d", out.Report.Trace.RepairAttempt)
	}

	next := out.Report.Chat.State
	out = turnResult(t, e, &next, "banana")
	if !strings.Contains(out.Report.Chat.Message(), "1)") {
		t.Errorf("second repair should be structured, got %q", out.Report.Chat.Message())
	}

	next = out.Report.Chat.State
	out = turnResult(t, e, &next, "sometimes")
	if out.Report.Chat.State.RepairCount(models.SlotFrequency) != 0 {
		t.Error("answer should reset the repair counter")
	}

	want := []models.ModelStrength{models.StrengthFast, models.StrengthFast, models.StrengthStrong}
	var got []models.ModelStrength
	for _, r := range rec.requests {
		got = append(got, r.Strength)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("strengths mismatch (-want +got):\n%s", diff)
	}
}

func TestSlotFillsNeverOverwrite(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseIntro, models.SlotUserName, map[models.SlotName]string{models.SlotCountry: "Spain"})

	out := turnResult(t, e, st, "Carlos, male, from Colombia")
	got := out.Report.Chat.State
	if got.Slot(models.SlotUserName) != "Carlos" || got.Slot(models.SlotGenderIdentity) != "male" {
		t.Errorf("fills not applied: %v", got.Slots)
	}
	if got.Slot(models.SlotCountry) != "Spain" {
		t.Errorf("fill overwrote country: %q", got.Slot(models.SlotCountry))
	}
	if got.Phase != models.PhaseReason {
		t.Errorf("intro should be complete, phase=%s", got.Phase)
	}
}

// stubNLU answers every remote call with a fixed response.
type stubNLU struct {
	resp models.NLUResponse
}

func (s stubNLU) Interpret(context.Context, models.NLURequest) (models.NLUResponse, error) {
	return s.resp, nil
}

func TestRemoteUnknownSlotFillsRecorded(t *testing.T) {
	nlu := stubNLU{resp: models.NLUResponse{
		Intent: models.IntentAnswer,
		Answer: models.NLUAnswer{Value: "Carlos", Confidence: 0.9},
		SlotFills: models.NLUSlotFills{
			"favourite_colour": "blue",
			models.SlotCountry: "Colombia",
		},
	}}
	e := New(WithInterpreter(interpret.NewHybrid(interpret.NewDeterministic(), nlu)))
	st := stateAt(models.PhaseIntro, models.SlotUserName, nil)

	out := turnResult(t, e, st, "my name is Carlos, I live in Colombia and I like blue")
	got := out.Report.Chat.State
	if got.Slot(models.SlotCountry) != "Colombia" {
		t.Errorf("country = %q", got.Slot(models.SlotCountry))
	}
	if _, ok := got.Slots["favourite_colour"]; ok {
		t.Error("unknown slot must not be created")
	}
	want := []models.SlotWrite{{Key: "favourite_colour", Value: "blue"}}
	if diff := cmp.Diff(want, got.Meta.UnknownSlotWrites); diff != "" {
		t.Errorf("unknown slot writes mismatch (-want +got):\n%s", diff)
	}
}

func TestCallerStateNotMutated(t *testing.T) {
	e := New()
	st := stateAt(models.PhaseSymptoms, models.SlotFrequency, introDone())
	before := st.Clone()

	turnResult(t, e, st, "sometimes")
	if diff := cmp.Diff(before, *st); diff != "" {
		t.Errorf("caller state mutated (-before +after):\n%s", diff)
	}
}

func TestDebugExposesUser(t *testing.T) {
	e := New()
	user := map[string]any{"name": "Ana"}

	out := e.Generate(context.Background(), models.Input{User: user, Context: models.Context{Debug: true}})
	if out.Report.Chat.State.User == nil {
		t.Error("debug state should include the user profile")
	}
	out = e.Generate(context.Background(), models.Input{User: user})
	if out.Report.Chat.State.User != nil {
		t.Error("public state must not include the user profile")
	}
}

func TestJSONRoundTripNeverRegresses(t *testing.T) {
	e := New()
	script := []string{"", "hi", "Ana", "woman", "I'm in Spain", "wait", "I can't stay hard", "I lose the erection",
		"not sure", "sometimes", "no", "pretty loaded", "less", "hmm", "support"}

	var state json.RawMessage
	prevRank := -1
	for i, text := range script {
		raw, err := json.Marshal(map[string]any{"context": map[string]any{"chat_text": text, "chat_state": state}})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		out := e.GenerateJSON(context.Background(), raw)
		if !out.OK {
			t.Fatalf("step %d (%q): %+v", i, text, out.Errors)
		}
		chat := out.Report.Chat
		if rank := chat.Phase.Rank(); rank < prevRank {
			t.Fatalf("step %d: phase regressed to %s", i, chat.Phase)
		} else {
			prevRank = rank
		}
		if chat.State.Mode != models.ModeNormal {
			t.Fatalf("step %d: unexpected lock", i)
		}
		if chat.Phase != models.PhaseEnd && chat.LastQuestionID == nil {
			t.Fatalf("step %d: no pending question before END", i)
		}
		if state, err = json.Marshal(chat.State); err != nil {
			t.Fatalf("marshal state: %v", err)
		}
	}
}

func TestGenerateJSONValidation(t *testing.T) {
	e := New()
	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantCode string
		wantPath string
	}{
		{"array", `[1, 2]`, false, models.ErrCodeInvalidType, "$"},
		{"string", `"hello"`, false, models.ErrCodeInvalidType, "$"},
		{"not json", `hello`, false, models.ErrCodeInvalidType, "$"},
		{"null", `null`, false, models.ErrCodeInvalidType, "$"},
		{"bad phase", `{"context": {"chat_state": {"phase": "NOPE"}}}`, false, models.ErrCodeInvalidChatState, "$.context.chat_state"},
		{"state not object", `{"context": {"chat_state": [1]}}`, false, models.ErrCodeInvalidChatState, "$.context.chat_state"},
		{"empty object", `{}`, true, "", ""},
		{"wrong field types ignored", `{"user": "bob", "measurements": {}, "context": 3}`, true, "", ""},
		{"null state", `{"context": {"chat_text": "hi", "chat_state": null}}`, true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.GenerateJSON(context.Background(), []byte(tt.raw))
			if out.OK != tt.wantOK {
				t.Fatalf("ok = %v, errors = %+v", out.OK, out.Errors)
			}
			if tt.wantOK {
				return
			}
			if len(out.Errors) != 1 || out.Errors[0].Code != tt.wantCode || out.Errors[0].Path != tt.wantPath {
				t.Errorf("errors = %+v", out.Errors)
			}
			if out.Report.Path != nil || out.Report.Chat != nil {
				t.Errorf("error output should carry the empty report: %+v", out.Report)
			}
		})
	}
}

func TestOutputShape(t *testing.T) {
	e := New()
	out := e.GenerateJSON(context.Background(), []byte(`{"any": "thing"}`))
	b, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"ok", "errors", "normalized_input", "report"} {
		if _, ok := generic[k]; !ok {
			t.Errorf("missing top-level key %q", k)
		}
	}
	ni := generic["normalized_input"].(map[string]any)
	for _, k := range []string{"user", "measurements", "context"} {
		if _, ok := ni[k]; !ok {
			t.Errorf("normalized_input missing %q", k)
		}
	}
	report := generic["report"].(map[string]any)
	if report["engine_version"] != Version || report["ruleset_version"] != decision.RulesetVersion {
		t.Errorf("versions = %v / %v", report["engine_version"], report["ruleset_version"])
	}
	chat := report["chat"].(map[string]any)
	if _, ok := chat["state"].(map[string]any)["user"]; ok {
		t.Error("public state leaked user")
	}
}

type panicInterpreter struct{}

func (panicInterpreter) Interpret(context.Context, interpret.Request) (interpret.Result, error) {
	panic("boom")
}

type mockObserver struct {
	mu   sync.Mutex
	outs []models.Output
}

func (m *mockObserver) ObserveTurn(out models.Output, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outs = append(m.outs, out)
}

func TestPanicRecovered(t *testing.T) {
	obs := &mockObserver{}
	e := New(WithInterpreter(panicInterpreter{}), WithObserver(obs))
	st := stateAt(models.PhaseIntro, models.SlotUserName, nil)

	out := e.Generate(context.Background(), models.Input{Context: models.Context{ChatText: "Carlos", ChatState: st}})
	if out.OK {
		t.Fatal("expected failure")
	}
	want := []models.CoreError{{
		Code:    models.ErrCodeUnexpected,
		Message: "Unexpected error while generating report",
		Path:    "$",
		Meta:    map[string]any{"type": "string"},
	}}
	if diff := cmp.Diff(want, out.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
	if len(obs.outs) != 1 || obs.outs[0].OK {
		t.Errorf("observer should see the failed turn, got %d outputs", len(obs.outs))
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
