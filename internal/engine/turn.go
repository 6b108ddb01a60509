package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/TriageChat/internal/decision"
	"github.com/BTreeMap/TriageChat/internal/flow"
	"github.com/BTreeMap/TriageChat/internal/intent"
	"github.com/BTreeMap/TriageChat/internal/interpret"
	"github.com/BTreeMap/TriageChat/internal/models"
)

// turn is the mutable scratch space of a single Generate call.
type turn struct {
	e      *Engine
	ctx    context.Context
	st     *models.State
	text   string
	global intent.Result
	trace  *models.Trace

	// prefix is prepended to the final message (greeting echo).
	prefix  string
	message string
	replied bool

	debug      bool
	safety     bool
	safetyDone bool
}

func (t *turn) reply(msg string) {
	t.message = msg
	t.replied = true
}

func (t *turn) data() flow.Data {
	return flow.DataFor(t.st)
}

func (t *turn) render(key string) string {
	return t.e.renderer.Render(key, t.data())
}

func (t *turn) question(q models.QuestionID) string {
	return t.e.renderer.Question(t.st, q)
}

func (t *turn) pauseLike() bool {
	return t.global.Is(models.IntentMetaPause, models.IntentFileHandoff)
}

// interpret runs the slot interpreter on text for q and records the trace.
func (t *turn) interpret(q models.QuestionID, text string) interpret.Result {
	strength := models.StrengthFast
	if flow.NeedsStrongInterpreter(t.st, q) {
		strength = models.StrengthStrong
	}
	res, err := t.e.interpreter.Interpret(t.ctx, interpret.Request{
		Text:       text,
		QuestionID: q,
		Slots:      t.st.Slots.Clone(),
		Mode:       t.st.Mode,
		Strength:   strength,
	})
	if err != nil {
		slog.Warn("Engine.interpret: interpreter failed, treating reply as ambiguous", "question", q, "error", err)
		res = interpret.Result{
			Type:       models.IntentAmbiguous,
			Confidence: models.ConfidenceLow,
			Fallback:   "interpreter_error",
		}
	}
	t.trace.PendingQuestion = q
	t.trace.Interpreter = res.Trace(q)
	return res
}

// applyFills writes extra slot values into empty slots only.
func (t *turn) applyFills(fills map[models.SlotName]string) {
	for name, value := range fills {
		written, err := t.st.FillSlot(name, value)
		if err != nil {
			if errors.Is(err, models.ErrUnknownSlot) {
				slog.Warn("Engine.applyFills: dropped unknown slot fill", "slot", name)
				continue
			}
			slog.Error("Engine.applyFills: slot fill failed", "slot", name, "error", err)
			continue
		}
		if written {
			slog.Debug("Engine.applyFills: slot filled", "slot", name, "turn", t.st.Turn)
		}
	}
}

// safetyFlow runs while the lock is engaged: collect the country, then
// escalate. Triage questions are never asked again.
func (t *turn) safetyFlow() {
	t.safety = true
	st := t.st

	if st.LastQuestionID == models.SlotCountry {
		res := t.interpret(models.SlotCountry, t.text)
		t.applyFills(res.SlotFills)
		if res.IsAnswer() {
			if err := st.SetSlot(models.SlotCountry, res.Value); err != nil {
				slog.Error("Engine.safetyFlow: failed to store country", "error", err)
			}
			st.LastQuestionID = ""
		}
	}

	if t.pauseLike() {
		st.Meta.AwaitingFiles = true
	}

	switch {
	case st.Slot(models.SlotCountry) == "" && t.pauseLike():
		st.LastQuestionID = models.SlotCountry
		t.reply(t.render(flow.MsgSafetyAckCountry))
	case st.Slot(models.SlotCountry) == "":
		st.LastQuestionID = models.SlotCountry
		t.reply(t.render(flow.MsgSafetyNeedCountry))
	default:
		ack := ""
		if t.pauseLike() {
			ack = t.render(flow.MsgAckFiles)
		}
		flow.Finalize(st, models.EndSafety)
		t.safetyDone = true
		t.reply(flow.Join(ack, t.render(flow.MsgSafetyEscalation)))
	}
	slog.Debug("Engine.safetyFlow: handled", "turn", st.Turn, "country_known", st.Slot(models.SlotCountry) != "", "done", t.safetyDone)
}

// normalFlow is the guided interview.
func (t *turn) normalFlow() {
	st := t.st

	if st.Meta.AwaitingFiles && !t.pauseLike() {
		st.Meta.AwaitingFiles = false
	}

	t.handleInterrupts()

	answeredByGreeting := false
	if !t.replied && t.global.Type == models.IntentGreeting {
		answeredByGreeting = t.handleGreeting()
	}

	if !t.replied && !answeredByGreeting {
		t.advance()
		if !t.replied {
			if q := st.LastQuestionID; q != "" {
				t.handlePending(q, t.text)
			}
		}
	}

	if !t.replied && st.Phase != models.PhaseEnd && t.global.Type == models.IntentMedsIntent {
		slog.Debug("Engine.normalFlow: medication request interrupt", "turn", st.Turn, "phase", st.Phase)
		if err := st.SetSlot(models.SlotWantsMeds, "true"); err != nil {
			slog.Error("Engine.normalFlow: failed to store wants_meds", "error", err)
		}
		flow.CloseWithMedsIntro(st)
		t.reply(t.render(flow.MsgMedsIntro))
	}

	if !t.replied && st.Phase != models.PhaseEnd {
		t.advance()
		if !t.replied {
			if q := flow.NextQuestionID(st); q != "" {
				st.LastQuestionID = q
				t.reply(t.question(q))
			} else {
				t.reply(t.render(flow.MsgClarifySoft))
			}
		}
	}
}

// handleInterrupts answers a pause or file announcement and re-renders the
// pending question without consuming anything.
func (t *turn) handleInterrupts() {
	if !t.pauseLike() {
		return
	}
	st := t.st
	st.Meta.AwaitingFiles = true
	ack := t.render(flow.MsgAckFiles)
	q := st.LastQuestionID
	if q == "" {
		flow.EnsurePhaseProgress(st)
		q = flow.NextQuestionID(st)
		if q != "" {
			st.LastQuestionID = q
		}
	}
	if q == "" {
		t.reply(ack)
		return
	}
	t.reply(flow.Join(ack, t.question(q)))
}

// handleGreeting greets back. When the text after the greeting answers the
// pending question it is consumed and the caller continues with the next
// question; it reports whether that happened.
func (t *turn) handleGreeting() bool {
	st := t.st
	q := st.LastQuestionID
	if q == "" {
		return false
	}
	if t.global.Remainder != "" {
		res := t.interpret(q, t.global.Remainder)
		if res.IsAnswer() {
			t.applyFills(res.SlotFills)
			t.prefix = t.render(flow.MsgGreetBack)
			t.consume(q, res.Value)
			return true
		}
	}
	t.reply(flow.Join(t.render(flow.MsgGreetBack), t.question(q)))
	return false
}

// advance moves the phase forward and, on reaching INTERPRETATION, opens the
// route choice with the bridge message.
func (t *turn) advance() {
	flow.EnsurePhaseProgress(t.st)
	if t.st.Phase == models.PhaseInterpretation {
		flow.EnterAction(t.st)
		t.reply(t.render(flow.MsgBridgeToRoute))
	}
}

// handlePending interprets text as the reply to q.
func (t *turn) handlePending(q models.QuestionID, text string) {
	st := t.st
	res := t.interpret(q, text)
	t.applyFills(res.SlotFills)

	if !res.IsAnswer() {
		if v := res.SlotFills[q]; v != "" {
			res.Type = models.IntentAnswer
			res.Value = v
			res.Confidence = models.ConfidenceModerate
		}
	}

	switch {
	case res.Type == models.IntentUserQuestion:
		t.reply(flow.Join(t.render(flow.MsgAnswerQuestionBrief), t.question(q)))
	case res.Type == models.IntentEmotional:
		t.reply(flow.Join(t.render(flow.MsgEmotionalValidation), t.question(q)))
	case !res.IsAnswer():
		if t.global.Type == models.IntentMedsIntent {
			// The medication interrupt answers instead of a repair prompt.
			return
		}
		attempt := st.IncrementRepair(q)
		t.trace.RepairAttempt = attempt
		kind := flow.RepairKindFor(attempt, res.NeedsRepair)
		slog.Debug("Engine.handlePending: repair", "question", q, "attempt", attempt, "kind", kind)
		t.reply(t.e.renderer.Repair(st, q, kind))
	default:
		t.consume(q, res.Value)
	}
}

// consume stores an accepted answer to q. The route choice ends the
// conversation.
func (t *turn) consume(q models.QuestionID, value string) {
	st := t.st
	st.ResetRepair(q)

	if q == models.SlotRouteChoice {
		needsEval := decision.NeedsEvalParallel(st.Slots)
		if err := st.SetSlot(q, value); err != nil {
			slog.Error("Engine.consume: failed to store route choice", "error", err)
		}
		flow.Finalize(st, flow.RouteEndReason(value))
		d := t.data()
		d.NeedsEvalParallel = needsEval
		key := flow.MsgEndSupportPlan
		if value == "meds" {
			key = flow.MsgEndMedsOptions
		}
		t.reply(t.e.renderer.Render(key, d))
		return
	}

	if err := st.SetSlot(q, value); err != nil {
		slog.Error("Engine.consume: failed to store answer", "question", q, "error", err)
		return
	}
	st.LastQuestionID = ""
	slog.Debug("Engine.consume: answer stored", "question", q, "turn", st.Turn)
}

// report normalizes, decides and assembles the report for the turn.
func (t *turn) report() models.Report {
	st := t.st
	sig := decision.Normalize(st.Slots)
	d := decision.Decide(sig)

	path := d.Path
	flags := d.Flags
	reasons := d.Reasons
	recs := d.Recommendations

	if t.safety {
		path = models.PathEscalateHuman
		for _, f := range st.SafetyFlags {
			flags = appendUnique(flags, string(f))
		}
		reasons = append(reasons, ReasonRedFlags)
		recs = append(recs, RecommendEscalation)
	} else if st.Phase != models.PhaseEnd && path == models.PathEvalFirst {
		slog.Debug("Engine.report: eval-first override", "turn", st.Turn)
		flow.Finalize(st, models.EndEvalFirst)
		t.prefix = ""
		t.reply(t.render(flow.MsgEndEvalFirst))
	}

	t.trace.Signals = sig

	chat := &models.ChatPayload{
		Phase:  st.Phase,
		Done:   st.Phase == models.PhaseEnd,
		Intent: t.global.Type,
		State:  st.Public(),
	}
	if t.debug {
		chat.State = st.Clone()
	}
	if t.safety {
		chat.Done = t.safetyDone
	}
	if msg := flow.Join(t.prefix, t.message); t.replied || msg != "" {
		chat.AssistantMessage = &msg
	}
	if q := st.LastQuestionID; q != "" {
		chat.LastQuestionID = &q
	}

	slog.Debug("Engine.report: turn finished", "turn", st.Turn, "phase", st.Phase, "path", path, "done", chat.Done)
	return models.Report{
		EngineVersion:   Version,
		RulesetVersion:  decision.RulesetVersion,
		Path:            &path,
		Scores:          map[string]float64{},
		Flags:           flags,
		Reasons:         reasons,
		Recommendations: recs,
		Trace:           t.trace,
		Chat:            chat,
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
