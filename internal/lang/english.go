package lang

import (
	"regexp"

	"github.com/BTreeMap/TriageChat/internal/models"
)

const (
	high     = models.ConfidenceHigh
	moderate = models.ConfidenceModerate
)

// English is the English rule set.
var English = &Language{
	Code: "en",

	Yes:   []string{"yes", "yep", "yeah", "y", "sure", "ok", "okay", "correct", "right", "exactly", "thats it", "that's it"},
	No:    []string{"no", "nope", "nah", "not", "not really", "never"},
	Maybe: []string{"maybe", "perhaps", "kinda", "sort of", "a bit", "somewhat", "depends"},

	Interrogative: regexp.MustCompile(`^\s*(what|why|how|when|which|is it|is this|can you|could you|should i|do you|does it)\b`),
	DontKnow:      words(`i don'?t know`, `dont know`, `do not know`, `not sure`, `no idea`, `unsure`, `idk`, `no clue`),
	Refusal:       words(`prefer not to say`, `rather not say`, `i'?d rather not`, `skip this`, `skip it`, `none of your business`),

	Pause:     words(`wait`, `hold on`, `give me a moment`, `one sec`, `sec`, `pause`),
	File:      words(`send`, `sending`, `share`, `upload`, `files`, `file`, `logs`, `repo`, `github`),
	Greeting:  regexp.MustCompile(`^\s*(hi|hello|hey|good morning|good afternoon|good evening)\b`),
	Gratitude: regexp.MustCompile(`^\s*(thanks|thank you|thank u|thx|ty|cheers)( so much| a lot| very much)?[\s!.]*$`),
	Emotional: words(`anxious`, `stressed`, `ashamed`, `embarrassed`, `worried`, `sad`, `scared`, `afraid`),
	Meds:      words(`meds`, `medication`, `pill`, `pills`, `treatment`, `prescription`, `sildenafil`, `tadalafil`, `viagra`, `cialis`),

	NamePatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*i\s*['’]?\s*m\s+(?P<name>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*i\s+am\s+(?P<name>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*my\s+name\s+is\s+(?P<name>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*call\s+me\s+(?P<name>.+?)\s*$`),
	},
	NameInline: regexp.MustCompile(`(?i)\b(?:i\s*['’]?\s*m|i\s+am|my\s+name\s+is)\s+(?P<name>[^,.;\n]+)`),
	CountryPatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*i\s*['’]?\s*m\s+(?:in|from)\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*i\s+am\s+(?:in|from)\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*i\s+live\s+in\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*(?:in|from)\s+(?P<country>.+?)\s*$`),
	},

	SlotRules: map[models.SlotName][]Rule{
		models.SlotFrequency: {
			rule("sometimes", high, `sometimes`, `not always`, `good days`, `bad days`, `on and off`, `depends`, `occasionally`, `now and then`, `from time to time`),
			rule("always", high, `every time`, `all the time`, `consistently`, `always`, `never works`, `each time`),
		},
		models.SlotDesire: {
			rule("reduced", high, `not the same`, `not as much`, `not really`, `lost interest`),
			rule("present", high, `still`, `same`, `normal`, `present`, `turned on`),
			rule("reduced", high, `lower`, `reduced`, `less`, `low`),
		},
		models.SlotStress: {
			rule("high", high, `very high`, `high`, `overwhelmed`, `stressed`, `exhausted`, `pretty loaded`, `loaded`, `a lot`),
			rule("moderate", high, `moderate`, `medium`, `so so`, `some`),
			rule("low", high, `low`, `normal`, `fine`, `relaxed`, `calm`),
		},
		models.SlotMorningErection: {
			rule("rare", high, `rarely`, `almost never`, `hardly ever`, `never`),
			rule("reduced", high, `less`, `fewer`, `reduced`, `decreased`, `not as often`),
			rule("normal", high, `no change`, `normal`, `same as before`, `unchanged`, `same`),
		},
		models.SlotMainIssue: {
			{Value: "erection_lost", Pattern: regexp.MustCompile(`\b(lose|losing|lost|loses)\b.*\berection|\b(go|goes|going) soft\b|\bcan'?t (get|stay|keep) hard\b`), Confidence: high},
			rule("short_duration", high, `not last`, `doesn'?t last`, `don'?t last`, `not long enough`, `short`),
			rule("early_ejaculation", moderate, `too fast`, `finish fast`, `finish too (fast|quickly|soon)`, `premature`, `come too (fast|quickly|soon)`),
			rule("something_else", moderate, `something else`, `none of (those|these)`),
		},
		models.SlotGenderIdentity: {
			rule("prefer_not_say", high, `prefer not`, `rather not say`),
			rule("non_binary", high, `non-binary`, `non binary`, `nonbinary`, `enby`),
			rule("male", high, `male`, `man`, `guy`),
			rule("female", high, `female`, `woman`),
		},
		models.SlotRouteChoice: {
			rule("support", high, `no meds`, `no medication`, `without (meds|medication|pills)`, `no pills`),
			rule("meds", high, `med`, `meds`, `medication`, `pill`, `pills`, `treatment`, `prescription`),
			rule("support", high, `habit`, `habits`, `support`, `lifestyle`, `therapy`, `anxiety`, `coach`, `coaching`),
		},
	},

	RedFlags: []RedFlagRule{
		{models.RedFlagSelfHarm, words(`suicide`, `suicidal`, `kill myself`, `end my life`, `self harm`, `self-harm`, `hurt myself`)},
		{models.RedFlagAcuteCardioResp, words(`chest pain`, `pressure in (my )?chest`, `can'?t breathe`, `cannot breathe`, `shortness of breath`, `fainting`, `fainted`, `passed out`)},
		{models.RedFlagNeuro, words(`face droop`, `slurred speech`, `one side weak`, `sudden weakness`, `stroke`)},
		{models.RedFlagPriapism, regexp.MustCompile(`\b(erection.*(4|four) hours|priapism)\b`)},
		{models.RedFlagSeverePainBleeding, words(`severe pain`, `unbearable pain`, `bleeding a lot`, `heavy bleeding`)},
	},
}
