// Package interpret turns a reply to the pending question into a normalized
// slot value.
//
// Deterministic rules always run first. Hybrid adds an optional remote
// interpreter with confidence gating and falls back to the deterministic
// result whenever the remote call fails or is not confident enough.
package interpret

import (
	"context"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// Source identifies which interpreter produced a result.
type Source string

const (
	SourceDeterministic Source = "deterministic"
	SourceNLUFast       Source = "nlu_fast"
	SourceNLUStrong     Source = "nlu_strong"
)

// Request is a reply to interpret against the pending question.
type Request struct {
	Text       string
	QuestionID models.QuestionID
	Slots      models.Slots
	Mode       models.Mode
	// Strength asks for the strong remote configuration when set to
	// StrengthStrong. The deterministic interpreter ignores it.
	Strength models.ModelStrength
}

// Result is the interpretation of a reply.
type Result struct {
	Type        models.IntentType
	Value       string
	Confidence  models.Confidence
	SlotFills   map[models.SlotName]string
	NeedsRepair bool
	Source      Source
	Strength    models.ModelStrength
	// Fallback explains why a remote result was discarded.
	Fallback string
}

// IsAnswer reports whether the result carries a usable answer.
func (r Result) IsAnswer() bool {
	return r.Type == models.IntentAnswer && r.Value != ""
}

// Trace converts the result into its report trace form.
func (r Result) Trace(q models.QuestionID) *models.InterpreterTrace {
	return &models.InterpreterTrace{
		QuestionID: q,
		Type:       r.Type,
		Value:      r.Value,
		Confidence: r.Confidence,
		Source:     string(r.Source),
		Strength:   string(r.Strength),
		Fallback:   r.Fallback,
	}
}

// Interpreter interprets a reply to the pending question. Implementations
// must not return an error for ordinary ambiguity; that is a Result.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (Result, error)
}

func ambiguous(needsRepair bool) Result {
	return Result{
		Type:        models.IntentAmbiguous,
		Confidence:  models.ConfidenceLow,
		NeedsRepair: needsRepair,
		Source:      SourceDeterministic,
	}
}

func answer(value string, conf models.Confidence) Result {
	return Result{
		Type:       models.IntentAnswer,
		Value:      value,
		Confidence: conf,
		Source:     SourceDeterministic,
	}
}
