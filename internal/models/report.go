package models

import (
	"encoding/json"
	"fmt"
)

// Core error codes.
const (
	ErrCodeInvalidType      = "INVALID_TYPE"
	ErrCodeInvalidChatState = "INVALID_CHAT_STATE"
	ErrCodeUnexpected       = "UNEXPECTED_ERROR"
)

// CoreError is a structured, in-band error returned by the core boundary.
type CoreError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Path    string         `json:"path"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func (e CoreError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Message)
}

// Tri is a tri-state boolean. The zero value is unknown and encodes as null.
type Tri int8

const (
	TriUnknown Tri = iota
	TriFalse
	TriTrue
)

// TriOf lifts a bool into a known Tri.
func TriOf(b bool) Tri {
	if b {
		return TriTrue
	}
	return TriFalse
}

func (t Tri) IsTrue() bool    { return t == TriTrue }
func (t Tri) IsFalse() bool   { return t == TriFalse }
func (t Tri) IsUnknown() bool { return t != TriTrue && t != TriFalse }

func (t Tri) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "null"
	}
}

// MarshalJSON encodes true, false or null.
func (t Tri) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalJSON accepts true, false or null.
func (t *Tri) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("tri: %w", err)
	}
	if b == nil {
		*t = TriUnknown
		return nil
	}
	*t = TriOf(*b)
	return nil
}

// Signals are the normalized tri-state inputs of the decision table.
type Signals struct {
	IntermittentPattern    Tri `json:"intermittent_pattern"`
	DesirePreserved        Tri `json:"desire_preserved"`
	StressHigh             Tri `json:"stress_high"`
	MorningErectionReduced Tri `json:"morning_erection_reduced"`
	UserRequestsMeds       Tri `json:"user_requests_meds"`
}

// Input is the payload accepted by the core per user message.
type Input struct {
	User         map[string]any `json:"user,omitempty"`
	Measurements []any          `json:"measurements,omitempty"`
	Context      Context        `json:"context"`
}

// Context carries the conversational part of an Input.
type Context struct {
	ChatText  string `json:"chat_text"`
	ChatState *State `json:"chat_state"`
	Debug     bool   `json:"debug"`
}

// NormalizedInput echoes the accepted parts of the input. The zero value
// encodes as {}, which is what error outputs carry.
type NormalizedInput struct {
	User         map[string]any
	Measurements []any
	Context      *Context
}

// MarshalJSON always emits user, measurements and context once any of them
// is set, so a successful output has a stable shape.
func (n NormalizedInput) MarshalJSON() ([]byte, error) {
	if n.User == nil && n.Measurements == nil && n.Context == nil {
		return []byte("{}"), nil
	}
	w := struct {
		User         map[string]any `json:"user"`
		Measurements []any          `json:"measurements"`
		Context      Context        `json:"context"`
	}{User: n.User, Measurements: n.Measurements}
	if w.User == nil {
		w.User = map[string]any{}
	}
	if w.Measurements == nil {
		w.Measurements = []any{}
	}
	if n.Context != nil {
		w.Context = *n.Context
	}
	return json.Marshal(w)
}

// InterpreterTrace records how the pending question was interpreted.
type InterpreterTrace struct {
	QuestionID QuestionID `json:"question_id"`
	Type       IntentType `json:"type"`
	Value      string     `json:"value,omitempty"`
	Confidence Confidence `json:"confidence"`
	Source     string     `json:"source"`
	Strength   string     `json:"strength,omitempty"`
	Fallback   string     `json:"fallback,omitempty"`
}

// Trace is the observability record of a turn.
type Trace struct {
	Signals
	RedFlagsThisTurn []RedFlag         `json:"red_flags_this_turn,omitempty"`
	Interpreter      *InterpreterTrace `json:"interpreter,omitempty"`
	RepairAttempt    int               `json:"repair_attempt,omitempty"`
	PendingQuestion  QuestionID        `json:"pending_question,omitempty"`
}

// ChatPayload is the conversational part of a report.
type ChatPayload struct {
	Phase            Phase       `json:"phase"`
	AssistantMessage *string     `json:"assistant_message"`
	LastQuestionID   *QuestionID `json:"last_question_id"`
	Done             bool        `json:"done"`
	Intent           IntentType  `json:"intent"`
	State            State       `json:"state"`
}

// Message returns the assistant message or "" when none was produced.
func (c *ChatPayload) Message() string {
	if c == nil || c.AssistantMessage == nil {
		return ""
	}
	return *c.AssistantMessage
}

// Report is the decision and chat result of a turn.
type Report struct {
	EngineVersion   string             `json:"engine_version"`
	RulesetVersion  string             `json:"ruleset_version"`
	Path            *Path              `json:"path"`
	Scores          map[string]float64 `json:"scores"`
	Flags           []string           `json:"flags"`
	Reasons         []string           `json:"reasons"`
	Recommendations []string           `json:"recommendations"`
	Trace           *Trace             `json:"trace,omitempty"`
	Chat            *ChatPayload       `json:"chat,omitempty"`
}

// PathOrEmpty returns the report path, or "" for an empty report.
func (r *Report) PathOrEmpty() Path {
	if r == nil || r.Path == nil {
		return ""
	}
	return *r.Path
}

// Output is the result of one core invocation. It is always well formed.
type Output struct {
	OK              bool            `json:"ok"`
	Errors          []CoreError     `json:"errors"`
	NormalizedInput NormalizedInput `json:"normalized_input"`
	Report          Report          `json:"report"`
}
