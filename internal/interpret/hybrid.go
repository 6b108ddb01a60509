package interpret

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// Default gating thresholds.
const (
	DefaultFastMinConfidence   = 0.75
	DefaultStrongMinConfidence = 0.65
	// DefaultAnswerMinConfidence is the least confidence at which a remote
	// value is taken as an answer at all.
	DefaultAnswerMinConfidence = 0.65
	// DefaultHighConfidence separates high from moderate remote answers.
	DefaultHighConfidence = 0.80
	// multiPartMinRunes is the length above which a confident local answer
	// is still sent remotely if it looks like it carries more than one slot.
	multiPartMinRunes = 40
)

// Call outcomes reported to observers.
const (
	OutcomeAccepted      = "accepted"
	OutcomeLowConfidence = "low_confidence"
	OutcomeError         = "error"
)

// NLU is a remote interpreter.
type NLU interface {
	Interpret(ctx context.Context, req models.NLURequest) (models.NLUResponse, error)
}

// CallObserver is notified after every remote call.
type CallObserver func(strength models.ModelStrength, outcome string, elapsed time.Duration)

// Hybrid runs the deterministic rules and escalates to a remote interpreter
// when they are not confident or the reply looks multi-part.
type Hybrid struct {
	local     *Deterministic
	nlu       NLU
	catalog   Catalog
	langs     []*lang.Language
	fastMin   float64
	strongMin float64
	observer  CallObserver
}

// HybridOpts holds gating configuration for Hybrid.
type HybridOpts struct {
	FastMinConfidence   float64
	StrongMinConfidence float64
	Observer            CallObserver
}

// HybridOption configures a Hybrid interpreter.
type HybridOption func(*HybridOpts)

// WithThresholds sets the fast and strong acceptance thresholds.
func WithThresholds(fastMin, strongMin float64) HybridOption {
	return func(o *HybridOpts) {
		o.FastMinConfidence = fastMin
		o.StrongMinConfidence = strongMin
	}
}

// WithObserver registers a remote-call observer.
func WithObserver(fn CallObserver) HybridOption {
	return func(o *HybridOpts) {
		o.Observer = fn
	}
}

// NewHybrid composes local with an optional remote interpreter. A nil nlu
// makes Hybrid behave exactly like local.
func NewHybrid(local *Deterministic, nlu NLU, opts ...HybridOption) *Hybrid {
	cfg := HybridOpts{
		FastMinConfidence:   DefaultFastMinConfidence,
		StrongMinConfidence: DefaultStrongMinConfidence,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if local == nil {
		local = NewDeterministic()
	}
	return &Hybrid{
		local:     local,
		nlu:       nlu,
		catalog:   local.catalog,
		langs:     local.langs,
		fastMin:   cfg.FastMinConfidence,
		strongMin: cfg.StrongMinConfidence,
		observer:  cfg.Observer,
	}
}

// Interpret implements Interpreter. Remote failures never surface as errors.
func (h *Hybrid) Interpret(ctx context.Context, req Request) (Result, error) {
	det := h.local.interpret(req)
	if h.nlu == nil || !shouldEscalate(req.Text, det) {
		return det, nil
	}
	spec, ok := h.catalog.Spec(req.QuestionID)
	if !ok {
		return det, nil
	}

	attempts := []models.ModelStrength{models.StrengthFast, models.StrengthStrong}
	if req.Strength == models.StrengthStrong {
		attempts = attempts[1:]
	}

	for _, strength := range attempts {
		start := time.Now()
		resp, err := h.nlu.Interpret(ctx, h.buildRequest(req, spec, strength))
		elapsed := time.Since(start)
		if err != nil {
			slog.Warn("Hybrid.Interpret: remote interpreter failed, using deterministic result", "question", req.QuestionID, "strength", strength, "error", err)
			h.observe(strength, OutcomeError, elapsed)
			det.Fallback = "nlu_error"
			return det, nil
		}
		if h.accepts(resp, strength) {
			h.observe(strength, OutcomeAccepted, elapsed)
			return h.postProcess(req, spec, det, resp, strength), nil
		}
		h.observe(strength, OutcomeLowConfidence, elapsed)
		slog.Debug("Hybrid.Interpret: remote confidence below threshold", "question", req.QuestionID, "strength", strength, "confidence", resp.Answer.Confidence)
	}

	det.Fallback = OutcomeLowConfidence
	return det, nil
}

func (h *Hybrid) observe(strength models.ModelStrength, outcome string, elapsed time.Duration) {
	if h.observer != nil {
		h.observer(strength, outcome, elapsed)
	}
}

func (h *Hybrid) buildRequest(req Request, spec QuestionSpec, strength models.ModelStrength) models.NLURequest {
	return models.NLURequest{
		UserText:       req.Text,
		LastQuestionID: req.QuestionID,
		QuestionText:   spec.Text,
		AllowedValues:  spec.AllowedValues,
		SlotSnapshot:   req.Slots.Clone(),
		Mode:           req.Mode,
		ModelStrength:  strength,
	}
}

// accepts applies the per-strength threshold. Non-answer intents are not
// gated on answer confidence.
func (h *Hybrid) accepts(resp models.NLUResponse, strength models.ModelStrength) bool {
	if isPassThrough(resp.Intent) {
		return true
	}
	threshold := h.fastMin
	if strength == models.StrengthStrong {
		threshold = h.strongMin
	}
	return resp.Answer.Confidence >= threshold
}

func isPassThrough(t models.IntentType) bool {
	switch t {
	case models.IntentUserQuestion, models.IntentEmotional, models.IntentGreeting, models.IntentMetaPause, models.IntentFileHandoff:
		return true
	}
	return false
}

// shouldEscalate reports whether a remote call can add anything over det.
func shouldEscalate(text string, det Result) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	confident := det.Confidence == models.ConfidenceHigh || det.Confidence == models.ConfidenceModerate
	if !det.IsAnswer() || !confident {
		return true
	}
	if utf8.RuneCountInString(t) <= multiPartMinRunes {
		return false
	}
	f := lang.Fold(t)
	return strings.Contains(f, ",") || strings.Contains(f, " and ") || strings.Contains(f, " y ")
}

func sourceFor(strength models.ModelStrength) Source {
	if strength == models.StrengthStrong {
		return SourceNLUStrong
	}
	return SourceNLUFast
}

// postProcess maps a remote response into a Result and applies the safety
// net that keeps an overeager remote interpreter in check.
func (h *Hybrid) postProcess(req Request, spec QuestionSpec, det Result, resp models.NLUResponse, strength models.ModelStrength) Result {
	text := strings.TrimSpace(req.Text)
	res := Result{
		Type:        models.IntentAmbiguous,
		Confidence:  models.ConfidenceLow,
		NeedsRepair: resp.NeedsRepair,
		Source:      sourceFor(strength),
		Strength:    strength,
		SlotFills:   h.validFills(resp.SlotFills),
	}

	if isPassThrough(resp.Intent) {
		res.Type = resp.Intent
		res.Confidence = models.ConfidenceHigh
		res.Value = text
		res.NeedsRepair = false
	} else if v := strings.TrimSpace(resp.Answer.Value); v != "" && resp.Answer.Confidence >= DefaultAnswerMinConfidence {
		res.Type = models.IntentAnswer
		res.Value = v
		res.Confidence = models.ConfidenceModerate
		if resp.Answer.Confidence >= DefaultHighConfidence {
			res.Confidence = models.ConfidenceHigh
		}
	}

	// A question is only a question if it reads like one.
	if res.Type == models.IntentUserQuestion && !lang.LooksLikeQuestion(h.langs, text) {
		res.Type = models.IntentAmbiguous
		res.Confidence = models.ConfidenceLow
	}

	if res.Type == models.IntentAnswer && spec.IsEnum() {
		res.Value = strings.ToLower(res.Value)
		switch {
		case lang.IsDontKnow(h.langs, text):
			res = h.demote(res, false)
		case !spec.Allows(res.Value):
			slog.Debug("Hybrid.postProcess: remote value outside allowed set", "question", spec.ID, "value", res.Value)
			res = h.demote(res, true)
		}
	}

	if res.Type == models.IntentAnswer && spec.ID == models.SlotCountry {
		if canon, ok := lang.CanonicalCountry(res.Value); ok {
			res.Value = canon
		}
	}

	if res.Type != models.IntentAnswer && res.Type != models.IntentUserQuestion && res.Type != models.IntentEmotional {
		if det.IsAnswer() {
			// keep the local answer, but take the extra slots the remote found
			fills := res.SlotFills
			res = det
			res.SlotFills = mergeFills(det.SlotFills, fills)
			res.Fallback = "nlu_no_answer"
		}
	}
	return res
}

func (h *Hybrid) demote(res Result, needsRepair bool) Result {
	res.Type = models.IntentAmbiguous
	res.Value = ""
	res.Confidence = models.ConfidenceLow
	res.NeedsRepair = needsRepair
	return res
}

// validFills drops enum values outside the allowed set. Keys outside the
// slot set pass through so the state records the write.
func (h *Hybrid) validFills(in models.NLUSlotFills) map[models.SlotName]string {
	out := map[models.SlotName]string{}
	for k, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !k.IsKnown() {
			out[k] = v
			continue
		}
		if spec, ok := h.catalog.Spec(k); ok && spec.IsEnum() {
			v = strings.ToLower(v)
			if !spec.Allows(v) {
				continue
			}
		}
		if k == models.SlotCountry {
			if canon, ok := lang.CanonicalCountry(v); ok {
				v = canon
			}
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeFills(base, extra map[models.SlotName]string) map[models.SlotName]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[models.SlotName]string, len(base)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}
