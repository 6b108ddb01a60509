// Package genai provides the remote natural-language interpreter on top of
// the OpenAI Chat Completions API.
//
// The model is only ever asked to classify a reply into a strict JSON
// structure. It never writes user-facing text.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// Defaults for the remote interpreter.
const (
	DefaultFastModel           = "gpt-4.1-nano"
	DefaultStrongModel         = "gpt-4.1-mini"
	DefaultMaxCompletionTokens = 300
	DefaultTimeout             = 8 * time.Second
	DefaultTemperature         = 0.0
)

var (
	// ErrMissingAPIKey is returned by NewClient without an API key.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned is returned when the completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyContent is returned when the first choice has no content.
	ErrEmptyContent = errors.New("empty completion content")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsService adapts the SDK service to chatService.
type completionsService struct {
	svc *openai.ChatCompletionService
}

func (s completionsService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client interprets user replies with a fast and a strong model.
type Client struct {
	chat                chatService
	fastModel           string
	strongModel         string
	maxCompletionTokens int64
	temperature         float64
	timeout             time.Duration
	debugMode           bool
	stateDir            string
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey              string
	FastModel           string
	StrongModel         string
	MaxCompletionTokens int64
	Temperature         float64
	Timeout             time.Duration
	DebugMode           bool
	StateDir            string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModels sets the fast and strong model names. Empty values keep the
// defaults.
func WithModels(fast, strong string) Option {
	return func(o *Opts) {
		if fast != "" {
			o.FastModel = fast
		}
		if strong != "" {
			o.StrongModel = strong
		}
	}
}

// WithMaxCompletionTokens caps the size of the structured response.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxCompletionTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithDebugMode writes every request and response as JSON under
// stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		FastModel:           DefaultFastModel,
		StrongModel:         DefaultStrongModel,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		Temperature:         DefaultTemperature,
		Timeout:             DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "fastModel", cfg.FastModel, "strongModel", cfg.StrongModel, "timeout", cfg.Timeout)
	return &Client{
		chat:                completionsService{svc: &cli.Chat.Completions},
		fastModel:           cfg.FastModel,
		strongModel:         cfg.StrongModel,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		temperature:         cfg.Temperature,
		timeout:             cfg.Timeout,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
	}, nil
}

// ModelFor returns the model name used for strength.
func (c *Client) ModelFor(strength models.ModelStrength) string {
	if strength == models.StrengthStrong {
		return c.strongModel
	}
	return c.fastModel
}

// Interpret classifies req.UserText against the pending question.
func (c *Client) Interpret(ctx context.Context, req models.NLURequest) (models.NLUResponse, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return models.NLUResponse{}, err
	}
	model := c.ModelFor(req.ModelStrength)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(payload),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "nlu_result",
					Schema: responseSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	slog.Debug("Client.Interpret: calling model", "model", model, "question", req.LastQuestionID)
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return models.NLUResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}
	c.writeDebugLog("Interpret", model, params, resp)

	if len(resp.Choices) == 0 {
		return models.NLUResponse{}, ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return models.NLUResponse{}, ErrEmptyContent
	}

	var out models.NLUResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return models.NLUResponse{}, fmt.Errorf("failed to decode NLU response: %w", err)
	}
	slog.Debug("Client.Interpret: model replied", "model", model, "intent", out.Intent, "confidence", out.Answer.Confidence)
	return out, nil
}

// buildPayload renders the user message sent to the model.
func buildPayload(req models.NLURequest) (string, error) {
	allowed := req.AllowedValues
	if allowed == nil {
		allowed = []string{}
	}
	slots := req.SlotSnapshot
	if slots == nil {
		slots = models.NewSlots()
	}
	body := struct {
		LastQuestionID models.QuestionID `json:"last_question_id"`
		QuestionText   string            `json:"question_text"`
		AllowedValues  []string          `json:"allowed_values"`
		Mode           models.Mode       `json:"mode"`
		SlotSnapshot   models.Slots      `json:"slot_snapshot"`
		UserMessage    string            `json:"USER_MESSAGE"`
	}{
		LastQuestionID: req.LastQuestionID,
		QuestionText:   req.QuestionText,
		AllowedValues:  allowed,
		Mode:           req.Mode,
		SlotSnapshot:   slots,
		UserMessage:    req.UserText,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode NLU payload: %w", err)
	}
	return string(b), nil
}

// writeDebugLog persists one exchange when debug mode is on. Failures are
// logged and otherwise ignored.
func (c *Client) writeDebugLog(method, model string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug dir", "dir", dir, "error", err)
		return
	}
	now := time.Now().UTC()
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     model,
		"params":    params,
		"response":  resp,
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: failed to encode entry", "error", err)
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), strings.ToLower(method)))
	if err := os.WriteFile(name, b, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: failed to write entry", "file", name, "error", err)
	}
}
