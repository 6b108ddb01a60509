package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// GenerateJSON decodes a raw input document and runs one turn. Malformed
// input yields an output with ok=false; it is never an error.
func (e *Engine) GenerateJSON(ctx context.Context, raw []byte) models.Output {
	in, cerr := DecodeInput(raw)
	if cerr != nil {
		slog.Warn("Engine.GenerateJSON: invalid input", "code", cerr.Code, "path", cerr.Path, "message", cerr.Message)
		out := failure(*cerr)
		if e.observer != nil {
			e.observer.ObserveTurn(out, 0)
		}
		return out
	}
	return e.Generate(ctx, in)
}

// DecodeInput validates and decodes a raw input document. Fields with the
// wrong JSON type (user not an object, measurements not an array, context not
// an object) are ignored rather than rejected.
func DecodeInput(raw []byte) (models.Input, *models.CoreError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return models.Input{}, &models.CoreError{
			Code:    models.ErrCodeInvalidType,
			Message: "Input data must be a JSON object",
			Path:    "$",
		}
	}

	var in models.Input
	if v, ok := top["user"]; ok && isKind(v, '{') {
		if err := json.Unmarshal(v, &in.User); err != nil {
			in.User = nil
		}
	}
	if v, ok := top["measurements"]; ok && isKind(v, '[') {
		if err := json.Unmarshal(v, &in.Measurements); err != nil {
			in.Measurements = nil
		}
	}
	if in.User == nil {
		in.User = map[string]any{}
	}
	if in.Measurements == nil {
		in.Measurements = []any{}
	}

	rawCtx, ok := top["context"]
	if !ok || !isKind(rawCtx, '{') {
		return in, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rawCtx, &fields); err != nil {
		return in, nil
	}
	if v, ok := fields["chat_text"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			in.Context.ChatText = s
		}
	}
	if v, ok := fields["debug"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			in.Context.Debug = b
		}
	}
	if v, ok := fields["chat_state"]; ok && !isKind(v, 'n') {
		if !isKind(v, '{') {
			return models.Input{}, &models.CoreError{
				Code:    models.ErrCodeInvalidChatState,
				Message: "chat_state must be an object",
				Path:    "$.context.chat_state",
			}
		}
		var st models.State
		if err := json.Unmarshal(v, &st); err != nil {
			return models.Input{}, &models.CoreError{
				Code:    models.ErrCodeInvalidChatState,
				Message: fmt.Sprintf("chat_state could not be decoded: %v", err),
				Path:    "$.context.chat_state",
			}
		}
		in.Context.ChatState = &st
	}
	return in, nil
}

// isKind reports whether the JSON value starts with the given byte ('{', '['
// or 'n' for null).
func isKind(v json.RawMessage, first byte) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == first
}
