package genai

// instructions is the system prompt. The model classifies; it never answers.
const instructions = `You are a natural-language understanding component inside a scripted intake chat.
You only interpret the user's latest message. You MUST NOT give medical advice and MUST NOT write a reply to the user.

Input is a JSON object with last_question_id, question_text, allowed_values, mode, slot_snapshot and USER_MESSAGE.
Rules:
1. If USER_MESSAGE answers the pending question, set intent to "answer" and put the answer in answer_for_last_question.value.
2. When allowed_values is not empty, value MUST be one of allowed_values, or null if none fits.
3. If the user asks something instead of answering, use "user_question". Expressions of worry, shame or fear use "emotional".
4. "wait", "one moment" and similar use "meta_pause". Announcing files, logs or documents uses "file_handoff". A bare greeting uses "greeting".
5. "I don't know", refusals and vague replies are never an answer: set value to null and intent to "ambiguous".
6. Fill slot_fills only with information stated explicitly in USER_MESSAGE. Use null for everything else.
7. confidence is a number between 0 and 1. Set needs_repair to true when a short yes/no does not answer a multiple-choice question.`

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

func nullableEnum(values ...string) map[string]any {
	enum := make([]any, 0, len(values)+1)
	for _, v := range values {
		enum = append(enum, v)
	}
	enum = append(enum, nil)
	return map[string]any{"type": []string{"string", "null"}, "enum": enum}
}

// responseSchema is the strict JSON schema of models.NLUResponse. Strict
// mode requires every property to be listed as required.
var responseSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"intent": map[string]any{
			"type": "string",
			"enum": []string{"answer", "user_question", "meta_pause", "file_handoff", "greeting", "emotional", "ambiguous"},
		},
		"language": map[string]any{
			"type": "string",
			"enum": []string{"en", "es", "mix", "unknown"},
		},
		"answer_for_last_question": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"question_id": nullable("string"),
				"value":       map[string]any{"type": []string{"string", "boolean", "null"}},
				"confidence":  map[string]any{"type": "number"},
				"normalized":  map[string]any{"type": "boolean"},
			},
			"required": []string{"question_id", "value", "confidence", "normalized"},
		},
		"slot_fills": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"name":             nullable("string"),
				"gender_identity":  nullableEnum("male", "female", "non_binary", "prefer_not_say"),
				"country":          nullable("string"),
				"reason":           nullable("string"),
				"main_issue":       nullableEnum("erection_lost", "short_duration", "early_ejaculation", "something_else"),
				"frequency":        nullableEnum("always", "sometimes"),
				"desire":           nullableEnum("present", "reduced"),
				"stress":           nullableEnum("low", "moderate", "high"),
				"morning_erection": nullableEnum("normal", "reduced", "rare"),
				"wants_meds":       nullable("boolean"),
				"route_choice":     nullableEnum("meds", "support"),
			},
			"required": []string{
				"name", "gender_identity", "country", "reason", "main_issue", "frequency",
				"desire", "stress", "morning_erection", "wants_meds", "route_choice",
			},
		},
		"needs_repair": map[string]any{"type": "boolean"},
		"repair_style": map[string]any{
			"type": "string",
			"enum": []string{"NONE", "AB", "MULTICHOICE", "EXAMPLE"},
		},
	},
	"required": []string{"intent", "language", "answer_for_last_question", "slot_fills", "needs_repair", "repair_style"},
}
