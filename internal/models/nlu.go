package models

import (
	"encoding/json"
	"fmt"
)

// ModelStrength selects the remote interpreter configuration.
type ModelStrength string

const (
	// StrengthFast is the cheap first attempt.
	StrengthFast ModelStrength = "fast"
	// StrengthStrong is the slower retry, also forced by the anti-loop policy.
	StrengthStrong ModelStrength = "strong"
)

// NLURequest is what the core sends to a remote interpreter.
type NLURequest struct {
	UserText       string        `json:"user_text"`
	LastQuestionID QuestionID    `json:"last_question_id"`
	QuestionText   string        `json:"question_text"`
	AllowedValues  []string      `json:"allowed_values"`
	SlotSnapshot   Slots         `json:"slot_snapshot"`
	Mode           Mode          `json:"mode"`
	ModelStrength  ModelStrength `json:"model_strength"`
}

// NLUAnswer is the remote interpreter's reading of the pending question.
// Value is "" when the interpreter returned null.
type NLUAnswer struct {
	QuestionID string  `json:"question_id"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Normalized bool    `json:"normalized"`
}

// UnmarshalJSON accepts string, boolean or null values.
func (a *NLUAnswer) UnmarshalJSON(data []byte) error {
	var w struct {
		QuestionID *string         `json:"question_id"`
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
		Normalized bool            `json:"normalized"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("nlu answer: %w", err)
	}
	*a = NLUAnswer{Confidence: w.Confidence, Normalized: w.Normalized}
	if w.QuestionID != nil {
		a.QuestionID = *w.QuestionID
	}
	if len(w.Value) > 0 {
		a.Value = scalarString(w.Value)
	}
	return nil
}

// NLUSlotFills are slot values the remote interpreter found in the message.
type NLUSlotFills map[SlotName]string

// UnmarshalJSON drops nulls and flattens booleans to "true"/"false".
func (f *NLUSlotFills) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("nlu slot fills: %w", err)
	}
	out := NLUSlotFills{}
	for k, v := range raw {
		if s := scalarString(v); s != "" {
			out[SlotName(k)] = s
		}
	}
	*f = out
	return nil
}

// NLUResponse is the structured classification returned by a remote interpreter.
type NLUResponse struct {
	Intent      IntentType   `json:"intent"`
	Language    string       `json:"language"`
	Answer      NLUAnswer    `json:"answer_for_last_question"`
	SlotFills   NLUSlotFills `json:"slot_fills"`
	NeedsRepair bool         `json:"needs_repair"`
	RepairStyle string       `json:"repair_style,omitempty"`
}
