// Package engine runs one conversational turn: it takes the caller's input and
// previous state and returns a report with the next assistant message and
// the updated state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TriageChat/internal/decision"
	"github.com/BTreeMap/TriageChat/internal/flow"
	"github.com/BTreeMap/TriageChat/internal/intent"
	"github.com/BTreeMap/TriageChat/internal/interpret"
	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/BTreeMap/TriageChat/internal/safety"
)

// Version is the engine version reported with every output.
const Version = "0.1.0"

// Safety escalation additions to the report.
const (
	ReasonRedFlags      = "Red flag signals detected; escalation required."
	RecommendEscalation = "Escalate to human support / urgent care guidance."
)

const unexpectedErrorMessage = "Unexpected error while generating report"

// Observer is notified after every turn. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveTurn(out models.Output, elapsed time.Duration)
}

// Engine is the orchestrator. It holds no per-conversation state and is safe
// for concurrent use.
type Engine struct {
	interpreter interpret.Interpreter
	classifier  *intent.Classifier
	detector    *safety.Detector
	renderer    *flow.Renderer
	observer    Observer
}

// Opts holds configuration for an Engine.
type Opts struct {
	Interpreter interpret.Interpreter
	Languages   []*lang.Language
	Renderer    *flow.Renderer
	Observer    Observer
}

// Option defines a configuration option for an Engine.
type Option func(*Opts)

// WithInterpreter sets the slot interpreter. The default is deterministic.
func WithInterpreter(i interpret.Interpreter) Option {
	return func(o *Opts) {
		o.Interpreter = i
	}
}

// WithLanguages sets the languages used by the safety detector, the intent
// classifier and the default interpreter.
func WithLanguages(langs ...*lang.Language) Option {
	return func(o *Opts) {
		o.Languages = langs
	}
}

// WithRenderer overrides the message catalog.
func WithRenderer(r *flow.Renderer) Option {
	return func(o *Opts) {
		o.Renderer = r
	}
}

// WithObserver registers a turn observer.
func WithObserver(obs Observer) Option {
	return func(o *Opts) {
		o.Observer = obs
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = lang.Default()
	}
	if cfg.Interpreter == nil {
		cfg.Interpreter = interpret.NewDeterministic(interpret.WithLanguages(cfg.Languages...))
	}
	if cfg.Renderer == nil {
		cfg.Renderer = flow.DefaultRenderer()
	}
	return &Engine{
		interpreter: cfg.Interpreter,
		classifier:  intent.NewClassifier(cfg.Languages...),
		detector:    safety.NewDetector(cfg.Languages...),
		renderer:    cfg.Renderer,
		observer:    cfg.Observer,
	}
}

// Generate runs one turn. It never panics and never returns an error: faults
// are reported in-band through Output.Errors. The caller's state is not
// modified.
func (e *Engine) Generate(ctx context.Context, in models.Input) (out models.Output) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.Generate: recovered from panic", "panic", r)
			out = failure(models.CoreError{
				Code:    models.ErrCodeUnexpected,
				Message: unexpectedErrorMessage,
				Path:    "$",
				Meta:    map[string]any{"type": fmt.Sprintf("%T", r)},
			})
		}
		if e.observer != nil {
			e.observer.ObserveTurn(out, time.Since(start))
		}
	}()
	return e.generate(ctx, in)
}

func (e *Engine) generate(ctx context.Context, in models.Input) models.Output {
	var st models.State
	if in.Context.ChatState != nil {
		st = in.Context.ChatState.Clone()
	} else {
		st = models.NewState(in.User)
	}
	st.Normalize()
	st.Turn++

	t := &turn{
		e:      e,
		ctx:    ctx,
		st:     &st,
		text:   strings.TrimSpace(in.Context.ChatText),
		trace:  &models.Trace{},
		debug:  in.Context.Debug,
		global: e.classifier.Classify(in.Context.ChatText),
	}
	slog.Debug("Engine.Generate: turn started", "turn", st.Turn, "phase", st.Phase, "mode", st.Mode, "intent", t.global.Type)

	if flags := e.detector.Detect(in.Context.ChatText); len(flags) > 0 {
		slog.Warn("Engine.Generate: red flags detected", "turn", st.Turn, "flags", flags)
		st.Lock()
		st.AddSafetyFlags(flags...)
		t.trace.RedFlagsThisTurn = flags
	}

	if st.IsLocked() {
		t.safetyFlow()
	} else {
		t.normalFlow()
	}

	report := t.report()
	ctxEcho := in.Context
	return models.Output{
		OK:     true,
		Errors: []models.CoreError{},
		NormalizedInput: models.NormalizedInput{
			User:         in.User,
			Measurements: in.Measurements,
			Context:      &ctxEcho,
		},
		Report: report,
	}
}

// EmptyReport is the report carried by failed outputs.
func EmptyReport() models.Report {
	return models.Report{
		EngineVersion:   Version,
		RulesetVersion:  decision.RulesetVersion,
		Scores:          map[string]float64{},
		Flags:           []string{},
		Reasons:         []string{},
		Recommendations: []string{},
	}
}

func failure(errs ...models.CoreError) models.Output {
	return models.Output{
		OK:     false,
		Errors: errs,
		Report: EmptyReport(),
	}
}
