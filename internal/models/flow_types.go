// Package models defines flow type definitions to avoid circular imports.
package models

// Mode is the conversation mode. NORMAL can move to SAFETY_LOCK, never back.
type Mode string

// Phase is a coarse stage of the guided conversation.
type Phase string

// SlotName identifies a slot in the closed slot set. Pending questions are
// identified by the slot they fill, so QuestionID is the same type.
type SlotName string

// QuestionID identifies the question currently pending an answer.
type QuestionID = SlotName

// EndReason distinguishes how a conversation reached END.
type EndReason string

// RedFlag identifies a detected acute-risk category.
type RedFlag string

// Path is the triage outcome chosen by the decision engine.
type Path string

// IntentType is the coarse purpose of an utterance.
type IntentType string

// Confidence is the coarse confidence attached to a classification.
type Confidence string

// Mode constants.
const (
	ModeNormal     Mode = "NORMAL"
	ModeSafetyLock Mode = "SAFETY_LOCK"
)

// Phase constants, in their only legal order.
const (
	PhaseIntro          Phase = "INTRO"
	PhaseReason         Phase = "REASON"
	PhaseSymptoms       Phase = "SYMPTOMS"
	PhaseContext        Phase = "CONTEXT"
	PhaseInterpretation Phase = "INTERPRETATION"
	PhaseAction         Phase = "ACTION"
	PhaseEnd            Phase = "END"
)

var phaseOrder = map[Phase]int{
	PhaseIntro:          0,
	PhaseReason:         1,
	PhaseSymptoms:       2,
	PhaseContext:        3,
	PhaseInterpretation: 4,
	PhaseAction:         5,
	PhaseEnd:            6,
}

// Rank returns the position of the phase in the forward order, or -1 for an
// unrecognized phase.
func (p Phase) Rank() int {
	if r, ok := phaseOrder[p]; ok {
		return r
	}
	return -1
}

// IsValid reports whether p is one of the known phases.
func (p Phase) IsValid() bool {
	return p.Rank() >= 0
}

// Slot names.
const (
	SlotUserName        SlotName = "name"
	SlotGenderIdentity  SlotName = "gender_identity"
	SlotCountry         SlotName = "country"
	SlotReason          SlotName = "reason"
	SlotMainIssue       SlotName = "main_issue"
	SlotFrequency       SlotName = "frequency"
	SlotDesire          SlotName = "desire"
	SlotStress          SlotName = "stress"
	SlotMorningErection SlotName = "morning_erection"
	SlotWantsMeds       SlotName = "wants_meds"
	SlotRouteChoice     SlotName = "route_choice"
)

// AllSlots lists the closed slot set in canonical order.
var AllSlots = []SlotName{
	SlotUserName,
	SlotGenderIdentity,
	SlotCountry,
	SlotReason,
	SlotMainIssue,
	SlotFrequency,
	SlotDesire,
	SlotStress,
	SlotMorningErection,
	SlotWantsMeds,
	SlotRouteChoice,
}

// IsKnown reports whether s belongs to the closed slot set.
func (s SlotName) IsKnown() bool {
	for _, known := range AllSlots {
		if s == known {
			return true
		}
	}
	return false
}

// End reasons.
const (
	EndMedsOptions EndReason = "END_MEDS_OPTIONS"
	EndSupportPlan EndReason = "END_SUPPORT_PLAN"
	EndEvalFirst   EndReason = "END_EVAL_FIRST"
	EndMedsIntro   EndReason = "END_MEDS_INTRO"
	EndSafety      EndReason = "END_SAFETY_ESCALATION"
)

// Red flags.
const (
	RedFlagSelfHarm           RedFlag = "RED_FLAG_SELF_HARM"
	RedFlagAcuteCardioResp    RedFlag = "RED_FLAG_ACUTE_CARDIORESP"
	RedFlagNeuro              RedFlag = "RED_FLAG_NEURO"
	RedFlagPriapism           RedFlag = "RED_FLAG_PRIAPISM"
	RedFlagSeverePainBleeding RedFlag = "RED_FLAG_SEVERE_PAIN_BLEEDING"
)

// Paths.
const (
	PathMoreQuestions Path = "PATH_MORE_QUESTIONS"
	PathEvalFirst     Path = "PATH_EVAL_FIRST"
	PathMedsOK        Path = "PATH_MEDS_OK"
	PathEscalateHuman Path = "PATH_ESCALATE_HUMAN"
)

// Intent and interpretation result types.
const (
	IntentAnswer       IntentType = "answer"
	IntentAmbiguous    IntentType = "ambiguous"
	IntentUnknown      IntentType = "unknown"
	IntentGreeting     IntentType = "greeting"
	IntentMetaPause    IntentType = "meta_pause"
	IntentFileHandoff  IntentType = "file_handoff"
	IntentUserQuestion IntentType = "user_question"
	IntentEmotional    IntentType = "emotional"
	IntentMedsIntent   IntentType = "meds_intent"
	IntentGratitude    IntentType = "gratitude"
)

// Confidence levels.
const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceLow      Confidence = "low"
)
