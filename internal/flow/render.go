package flow

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/TriageChat/internal/models"
)

//go:embed messages.yaml
var messagesYAML []byte

// Message keys.
const (
	MsgGreet               = "greet"
	MsgAskName             = "ask_name"
	MsgAskGenderIdentity   = "ask_gender_identity"
	MsgAskCountry          = "ask_country"
	MsgSafeSpace           = "safe_space"
	MsgAskReason           = "ask_reason"
	MsgAskMainIssue        = "ask_main_issue"
	MsgAskFrequency        = "ask_frequency"
	MsgAskDesire           = "ask_desire"
	MsgAskStress           = "ask_stress"
	MsgAskMorningErection  = "ask_morning_erection"
	MsgBridgeToRoute       = "bridge_to_route"
	MsgAskRouteChoice      = "ask_route_choice"
	MsgMedsIntro           = "meds_intro"
	MsgClarifySoft         = "clarify_soft"
	MsgAnswerQuestionBrief = "answer_user_question_brief"
	MsgEmotionalValidation = "emotional_validation"
	MsgGreetBack           = "greet_back"
	MsgAckFiles            = "ack_files"
	MsgSafetyNeedCountry   = "safety_need_country"
	MsgSafetyAckCountry    = "safety_ack_then_country"
	MsgSafetyEscalation    = "safety_escalation"
	MsgEndMedsOptions      = "end_meds_options"
	MsgEndSupportPlan      = "end_support_plan"
	MsgEndEvalFirst        = "end_eval_first"
)

var requiredMessages = []string{
	MsgGreet, MsgAskName, MsgAskGenderIdentity, MsgAskCountry, MsgSafeSpace, MsgAskReason,
	MsgAskMainIssue, MsgAskFrequency, MsgAskDesire, MsgAskStress, MsgAskMorningErection,
	MsgBridgeToRoute, MsgAskRouteChoice, MsgMedsIntro, MsgClarifySoft, MsgAnswerQuestionBrief,
	MsgEmotionalValidation, MsgGreetBack, MsgAckFiles, MsgSafetyNeedCountry, MsgSafetyAckCountry,
	MsgSafetyEscalation, MsgEndMedsOptions, MsgEndSupportPlan, MsgEndEvalFirst,
}

// questionMessages maps a pending question to its prompt.
var questionMessages = map[models.QuestionID]string{
	models.SlotUserName:        MsgAskName,
	models.SlotGenderIdentity:  MsgAskGenderIdentity,
	models.SlotCountry:         MsgAskCountry,
	models.SlotReason:          MsgAskReason,
	models.SlotMainIssue:       MsgAskMainIssue,
	models.SlotFrequency:       MsgAskFrequency,
	models.SlotDesire:          MsgAskDesire,
	models.SlotStress:          MsgAskStress,
	models.SlotMorningErection: MsgAskMorningErection,
	models.SlotRouteChoice:     MsgAskRouteChoice,
}

var repairKindNames = map[RepairKind]string{
	RepairClarify:    "clarify",
	RepairSoft:       "soft",
	RepairStructured: "structured",
}

const defaultRepairs = "default"

// Data is what message templates can reference.
type Data struct {
	Name              string
	Country           string
	NeedsEvalParallel bool
}

// DataFor builds template data from the state.
func DataFor(s *models.State) Data {
	return Data{Name: s.DisplayName(), Country: s.Slot(models.SlotCountry)}
}

type messageFile struct {
	Messages map[string]string            `yaml:"messages"`
	Repairs  map[string]map[string]string `yaml:"repairs"`
}

// Renderer maps conversation steps to scripted text.
type Renderer struct {
	tmpl *template.Template
}

// ParseMessages builds a Renderer from a YAML message catalog. Every key the
// conversation can reach must be present.
func ParseMessages(data []byte) (*Renderer, error) {
	var f messageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}
	for _, k := range requiredMessages {
		if strings.TrimSpace(f.Messages[k]) == "" {
			return nil, fmt.Errorf("message catalog: missing %q", k)
		}
	}
	for _, kind := range repairKindNames {
		if strings.TrimSpace(f.Repairs[defaultRepairs][kind]) == "" {
			return nil, fmt.Errorf("message catalog: missing default %s repair", kind)
		}
	}

	root := template.New("messages").Option("missingkey=error")
	for k, src := range f.Messages {
		if _, err := root.New(k).Parse(src); err != nil {
			return nil, fmt.Errorf("message %q: %w", k, err)
		}
	}
	for q, kinds := range f.Repairs {
		for kind, src := range kinds {
			name := repairTemplateName(q, kind)
			if _, err := root.New(name).Parse(src); err != nil {
				return nil, fmt.Errorf("repair %q: %w", name, err)
			}
		}
	}
	return &Renderer{tmpl: root}, nil
}

var defaultRenderer = func() *Renderer {
	r, err := ParseMessages(messagesYAML)
	if err != nil {
		panic(err)
	}
	return r
}()

// DefaultRenderer returns the renderer for the embedded English catalog.
func DefaultRenderer() *Renderer {
	return defaultRenderer
}

func repairTemplateName(q, kind string) string {
	return "repair/" + q + "/" + kind
}

// Has reports whether key is defined.
func (r *Renderer) Has(key string) bool {
	return r.tmpl.Lookup(key) != nil
}

// Render executes the message key with data. Unknown keys render as "".
func (r *Renderer) Render(key string, data Data) string {
	t := r.tmpl.Lookup(key)
	if t == nil {
		slog.Error("Renderer.Render: unknown message key", "key", key)
		return ""
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		slog.Error("Renderer.Render: template failed", "key", key, "error", err)
		return ""
	}
	return strings.TrimSpace(b.String())
}

// Question renders the prompt for q. The first name prompt carries the
// greeting and the first reason prompt carries the safe-space message; both
// are recorded in s.Meta so they are shown once.
func (r *Renderer) Question(s *models.State, q models.QuestionID) string {
	d := DataFor(s)
	switch q {
	case models.SlotUserName:
		if !s.Meta.Welcomed {
			s.Meta.Welcomed = true
			return Join(r.Render(MsgGreet, d), r.Render(MsgAskName, d))
		}
	case models.SlotReason:
		if !s.Meta.SafeSpaceShown {
			s.Meta.SafeSpaceShown = true
			return Join(r.Render(MsgSafeSpace, d), r.Render(MsgAskReason, d))
		}
	}
	key, ok := questionMessages[q]
	if !ok {
		return r.Render(MsgClarifySoft, d)
	}
	return r.Render(key, d)
}

// Repair renders the repair prompt for q in the given style, falling back to
// the generic wording when q has none.
func (r *Renderer) Repair(s *models.State, q models.QuestionID, kind RepairKind) string {
	kindName := repairKindNames[kind]
	name := repairTemplateName(string(q), kindName)
	if !r.Has(name) {
		name = repairTemplateName(defaultRepairs, kindName)
	}
	return r.Render(name, DataFor(s))
}

// Join concatenates non-empty message parts as separate paragraphs.
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
