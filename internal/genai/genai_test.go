package genai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openai/openai-go"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testClient(chat chatService) *Client {
	return &Client{
		chat:                chat,
		fastModel:           "fast-model",
		strongModel:         "strong-model",
		maxCompletionTokens: 100,
		timeout:             time.Second,
	}
}

const sampleReply = `{
  "intent": "answer",
  "language": "en",
  "answer_for_last_question": {"question_id": "frequency", "value": "sometimes", "confidence": 0.91, "normalized": true},
  "slot_fills": {"name": null, "gender_identity": null, "country": "Colombia", "reason": null, "main_issue": null,
                 "frequency": "sometimes", "desire": null, "stress": null, "morning_erection": null,
                 "wants_meds": true, "route_choice": null},
  "needs_repair": false,
  "repair_style": "NONE"
}`

func TestInterpret_Success(t *testing.T) {
	mock := &mockChatService{resp: completion(sampleReply)}
	client := testClient(mock)

	out, err := client.Interpret(context.Background(), models.NLURequest{
		UserText:       "good days and bad days",
		LastQuestionID: models.SlotFrequency,
		ModelStrength:  models.StrengthFast,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Intent != models.IntentAnswer || out.Answer.Value != "sometimes" || out.Answer.Confidence != 0.91 {
		t.Errorf("unexpected response: %+v", out)
	}
	want := models.NLUSlotFills{
		models.SlotCountry:   "Colombia",
		models.SlotFrequency: "sometimes",
		models.SlotWantsMeds: "true",
	}
	if diff := cmp.Diff(want, out.SlotFills); diff != "" {
		t.Errorf("slot fills mismatch (-want +got):\n%s", diff)
	}

	if len(mock.params) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.params))
	}
	p := mock.params[0]
	if string(p.Model) != "fast-model" {
		t.Errorf("model = %q, want fast-model", p.Model)
	}
	if len(p.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(p.Messages))
	}
	if p.ResponseFormat.OfJSONSchema == nil || p.ResponseFormat.OfJSONSchema.JSONSchema.Name != "nlu_result" {
		t.Error("expected strict json schema response format")
	}
}

func TestInterpret_StrongModel(t *testing.T) {
	mock := &mockChatService{resp: completion(sampleReply)}
	client := testClient(mock)
	if _, err := client.Interpret(context.Background(), models.NLURequest{UserText: "x", ModelStrength: models.StrengthStrong}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(mock.params[0].Model) != "strong-model" {
		t.Errorf("model = %q, want strong-model", mock.params[0].Model)
	}
}

func TestInterpret_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mock    *mockChatService
		wantErr error
		wantMsg string
	}{
		{name: "service error", mock: &mockChatService{err: errors.New("service failure")}, wantMsg: "service failure"},
		{name: "no choices", mock: &mockChatService{resp: openai.ChatCompletion{}}, wantErr: ErrNoChoicesReturned},
		{name: "empty content", mock: &mockChatService{resp: completion("  ")}, wantErr: ErrEmptyContent},
		{name: "not json", mock: &mockChatService{resp: completion("Sure! The answer is sometimes.")}, wantMsg: "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient(tt.mock).Interpret(context.Background(), models.NLURequest{UserText: "hi"})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestBuildPayload(t *testing.T) {
	slots := models.NewSlots()
	slots[models.SlotUserName] = "Carlos"
	payload, err := buildPayload(models.NLURequest{
		UserText:       "every time",
		LastQuestionID: models.SlotFrequency,
		QuestionText:   "Does this happen every time?",
		AllowedValues:  []string{"always", "sometimes"},
		SlotSnapshot:   slots,
		Mode:           models.ModeNormal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(payload), &got); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if got["USER_MESSAGE"] != "every time" || got["last_question_id"] != "frequency" || got["mode"] != "NORMAL" {
		t.Errorf("unexpected payload: %s", payload)
	}
	snapshot, ok := got["slot_snapshot"].(map[string]any)
	if !ok || snapshot["name"] != "Carlos" || snapshot["country"] != nil {
		t.Errorf("unexpected slot snapshot: %v", got["slot_snapshot"])
	}

	empty, err := buildPayload(models.NLURequest{UserText: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(empty, `"allowed_values":[]`) {
		t.Errorf("expected empty allowed values array, got %s", empty)
	}
}

func TestResponseSchemaIsStrict(t *testing.T) {
	props := responseSchema["properties"].(map[string]any)
	required := responseSchema["required"].([]string)
	if len(props) != len(required) {
		t.Errorf("top-level: %d properties but %d required", len(props), len(required))
	}
	fills := props["slot_fills"].(map[string]any)
	fillProps := fills["properties"].(map[string]any)
	for _, slot := range models.AllSlots {
		if _, ok := fillProps[string(slot)]; !ok {
			t.Errorf("slot_fills schema missing %q", slot)
		}
	}
	if len(fills["required"].([]string)) != len(fillProps) {
		t.Error("slot_fills: every property must be required in strict mode")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModels("", "custom-strong"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.ModelFor(models.StrengthFast) != DefaultFastModel {
		t.Errorf("fast model = %q, want default", cli.ModelFor(models.StrengthFast))
	}
	if cli.ModelFor(models.StrengthStrong) != "custom-strong" {
		t.Errorf("strong model = %q, want custom-strong", cli.ModelFor(models.StrengthStrong))
	}
}
