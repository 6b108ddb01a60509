package interpret

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// mockNLU returns canned responses per model strength and records requests.
type mockNLU struct {
	responses map[models.ModelStrength]models.NLUResponse
	err       error
	requests  []models.NLURequest
}

func (m *mockNLU) Interpret(_ context.Context, req models.NLURequest) (models.NLUResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return models.NLUResponse{}, m.err
	}
	return m.responses[req.ModelStrength], nil
}

func (m *mockNLU) strengths() []models.ModelStrength {
	var out []models.ModelStrength
	for _, r := range m.requests {
		out = append(out, r.ModelStrength)
	}
	return out
}

func answerResp(value string, conf float64) models.NLUResponse {
	return models.NLUResponse{
		Intent: models.IntentAnswer,
		Answer: models.NLUAnswer{Value: value, Confidence: conf},
	}
}

func TestHybridWithoutNLUMatchesDeterministic(t *testing.T) {
	h := NewHybrid(nil, nil)
	req := Request{Text: "hmm whatever", QuestionID: models.SlotFrequency}
	got, err := h.Interpret(context.Background(), req)
	if err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	want := NewDeterministic().interpret(req)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestHybridSkipsRemoteForConfidentShortAnswers(t *testing.T) {
	nlu := &mockNLU{}
	h := NewHybrid(NewDeterministic(), nlu)
	res, _ := h.Interpret(context.Background(), Request{Text: "every time", QuestionID: models.SlotFrequency})
	if len(nlu.requests) != 0 {
		t.Errorf("expected no remote calls, got %d", len(nlu.requests))
	}
	if res.Value != "always" || res.Source != SourceDeterministic {
		t.Errorf("got %+v", res)
	}
}

func TestHybridGating(t *testing.T) {
	tests := []struct {
		name         string
		fast, strong models.NLUResponse
		err          error
		forceStrong  bool
		wantCalls    []models.ModelStrength
		wantOutcomes []string
		wantType     models.IntentType
		wantValue    string
		wantConf     models.Confidence
		wantSource   Source
		wantFallback string
	}{
		{
			name:         "fast accepted",
			fast:         answerResp("sometimes", 0.9),
			wantCalls:    []models.ModelStrength{models.StrengthFast},
			wantOutcomes: []string{OutcomeAccepted},
			wantType:     models.IntentAnswer,
			wantValue:    "sometimes",
			wantConf:     models.ConfidenceHigh,
			wantSource:   SourceNLUFast,
		},
		{
			name:         "fast low then strong accepted",
			fast:         answerResp("sometimes", 0.7),
			strong:       answerResp("sometimes", 0.7),
			wantCalls:    []models.ModelStrength{models.StrengthFast, models.StrengthStrong},
			wantOutcomes: []string{OutcomeLowConfidence, OutcomeAccepted},
			wantType:     models.IntentAnswer,
			wantValue:    "sometimes",
			wantConf:     models.ConfidenceModerate,
			wantSource:   SourceNLUStrong,
		},
		{
			name:         "both low falls back",
			fast:         answerResp("sometimes", 0.5),
			strong:       answerResp("sometimes", 0.6),
			wantCalls:    []models.ModelStrength{models.StrengthFast, models.StrengthStrong},
			wantOutcomes: []string{OutcomeLowConfidence, OutcomeLowConfidence},
			wantType:     models.IntentAmbiguous,
			wantConf:     models.ConfidenceLow,
			wantSource:   SourceDeterministic,
			wantFallback: OutcomeLowConfidence,
		},
		{
			name:         "error falls back",
			err:          errors.New("timeout"),
			wantCalls:    []models.ModelStrength{models.StrengthFast},
			wantOutcomes: []string{OutcomeError},
			wantType:     models.IntentAmbiguous,
			wantConf:     models.ConfidenceLow,
			wantSource:   SourceDeterministic,
			wantFallback: "nlu_error",
		},
		{
			name:         "forced strong skips fast",
			fast:         answerResp("always", 0.99),
			strong:       answerResp("sometimes", 0.85),
			forceStrong:  true,
			wantCalls:    []models.ModelStrength{models.StrengthStrong},
			wantOutcomes: []string{OutcomeAccepted},
			wantType:     models.IntentAnswer,
			wantValue:    "sometimes",
			wantConf:     models.ConfidenceHigh,
			wantSource:   SourceNLUStrong,
		},
		{
			name:         "value outside allowed set",
			fast:         answerResp("often", 0.95),
			wantCalls:    []models.ModelStrength{models.StrengthFast},
			wantOutcomes: []string{OutcomeAccepted},
			wantType:     models.IntentAmbiguous,
			wantConf:     models.ConfidenceLow,
			wantSource:   SourceNLUFast,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nlu := &mockNLU{
				responses: map[models.ModelStrength]models.NLUResponse{
					models.StrengthFast:   tt.fast,
					models.StrengthStrong: tt.strong,
				},
				err: tt.err,
			}
			var outcomes []string
			h := NewHybrid(NewDeterministic(), nlu, WithObserver(func(_ models.ModelStrength, outcome string, _ time.Duration) {
				outcomes = append(outcomes, outcome)
			}))
			req := Request{Text: "hmm whatever", QuestionID: models.SlotFrequency}
			if tt.forceStrong {
				req.Strength = models.StrengthStrong
			}

			res, err := h.Interpret(context.Background(), req)
			if err != nil {
				t.Fatalf("Interpret returned error: %v", err)
			}
			if diff := cmp.Diff(tt.wantCalls, nlu.strengths()); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantOutcomes, outcomes); diff != "" {
				t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
			}
			if res.Type != tt.wantType || res.Value != tt.wantValue || res.Confidence != tt.wantConf {
				t.Errorf("got type=%q value=%q conf=%q, want %q %q %q", res.Type, res.Value, res.Confidence, tt.wantType, tt.wantValue, tt.wantConf)
			}
			if res.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", res.Source, tt.wantSource)
			}
			if res.Fallback != tt.wantFallback {
				t.Errorf("fallback = %q, want %q", res.Fallback, tt.wantFallback)
			}
		})
	}
}

func TestHybridRequestCarriesQuestionContext(t *testing.T) {
	nlu := &mockNLU{responses: map[models.ModelStrength]models.NLUResponse{
		models.StrengthFast: answerResp("moderate", 0.9),
	}}
	h := NewHybrid(NewDeterministic(), nlu)
	slots := models.NewSlots()
	slots[models.SlotUserName] = "Carlos"

	if _, err := h.Interpret(context.Background(), Request{Text: "ugh", QuestionID: models.SlotStress, Slots: slots, Mode: models.ModeNormal}); err != nil {
		t.Fatalf("Interpret returned error: %v", err)
	}
	if len(nlu.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(nlu.requests))
	}
	got := nlu.requests[0]
	if got.LastQuestionID != models.SlotStress || got.UserText != "ugh" || got.Mode != models.ModeNormal {
		t.Errorf("unexpected request: %+v", got)
	}
	if diff := cmp.Diff([]string{"low", "moderate", "high"}, got.AllowedValues); diff != "" {
		t.Errorf("allowed values mismatch (-want +got):\n%s", diff)
	}
	if got.SlotSnapshot[models.SlotUserName] != "Carlos" {
		t.Errorf("slot snapshot missing name: %v", got.SlotSnapshot)
	}
}

func TestHybridPostProcessing(t *testing.T) {
	t.Run("question intent without question shape", func(t *testing.T) {
		nlu := &mockNLU{responses: map[models.ModelStrength]models.NLUResponse{
			models.StrengthFast: {Intent: models.IntentUserQuestion},
		}}
		res, _ := NewHybrid(NewDeterministic(), nlu).Interpret(context.Background(), Request{Text: "hmm whatever", QuestionID: models.SlotFrequency})
		if res.Type != models.IntentAmbiguous {
			t.Errorf("type = %q, want ambiguous", res.Type)
		}
	})

	t.Run("dont know is never an answer", func(t *testing.T) {
		nlu := &mockNLU{responses: map[models.ModelStrength]models.NLUResponse{
			models.StrengthFast: answerResp("low", 0.95),
		}}
		res, _ := NewHybrid(NewDeterministic(), nlu).Interpret(context.Background(), Request{Text: "no idea honestly", QuestionID: models.SlotStress})
		if res.Type != models.IntentAmbiguous || res.Value != "" {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("local answer kept with remote fills", func(t *testing.T) {
		nlu := &mockNLU{responses: map[models.ModelStrength]models.NLUResponse{
			models.StrengthFast: {
				Intent: models.IntentAmbiguous,
				Answer: models.NLUAnswer{Confidence: 0.9},
				SlotFills: models.NLUSlotFills{
					models.SlotMainIssue: "erection_lost",
					models.SlotStress:    "extreme",
					"age":                "35",
				},
			},
		}}
		text := "I lose my erection halfway through, and it has been months now"
		res, _ := NewHybrid(NewDeterministic(), nlu).Interpret(context.Background(), Request{Text: text, QuestionID: models.SlotReason})
		if res.Type != models.IntentAnswer || res.Value != text || res.Source != SourceDeterministic {
			t.Errorf("got %+v", res)
		}
		if res.Fallback != "nlu_no_answer" {
			t.Errorf("fallback = %q", res.Fallback)
		}
		want := map[models.SlotName]string{models.SlotMainIssue: "erection_lost", "age": "35"}
		if diff := cmp.Diff(want, res.SlotFills); diff != "" {
			t.Errorf("slot fills mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("country canonicalized", func(t *testing.T) {
		nlu := &mockNLU{responses: map[models.ModelStrength]models.NLUResponse{
			models.StrengthFast: {
				Intent:    models.IntentAnswer,
				Answer:    models.NLUAnswer{Value: "carlos", Confidence: 0.9},
				SlotFills: models.NLUSlotFills{models.SlotCountry: "españa", models.SlotFrequency: "Always"},
			},
		}}
		res, _ := NewHybrid(NewDeterministic(), nlu).Interpret(context.Background(), Request{Text: "hmm ok so", QuestionID: models.SlotUserName})
		want := map[models.SlotName]string{models.SlotCountry: "Spain", models.SlotFrequency: "always"}
		if diff := cmp.Diff(want, res.SlotFills); diff != "" {
			t.Errorf("slot fills mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestShouldEscalate(t *testing.T) {
	confident := answer("sometimes", "high")
	tests := []struct {
		name string
		text string
		det  Result
		want bool
	}{
		{"empty", "", ambiguous(false), false},
		{"ambiguous", "hmm", ambiguous(false), true},
		{"low confidence answer", "x", Result{Type: models.IntentAnswer, Value: "x", Confidence: models.ConfidenceLow}, true},
		{"short confident", "sometimes", confident, false},
		{"long single part", "it really depends on the day for me honestly speaking", confident, false},
		{"long multi part", "it depends, sometimes fine and sometimes not at all really", confident, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldEscalate(tt.text, tt.det); got != tt.want {
				t.Errorf("shouldEscalate(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
