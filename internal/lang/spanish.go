package lang

import (
	"regexp"

	"github.com/BTreeMap/TriageChat/internal/models"
)

// Spanish is the Spanish rule set. Patterns are unaccented since they run on
// folded text.
var Spanish = &Language{
	Code: "es",

	Yes:   []string{"si", "claro", "vale", "okey", "exacto", "tal cual", "asi", "correcto", "asi es"},
	No:    []string{"no", "para nada", "nunca", "no realmente"},
	Maybe: []string{"quizas", "tal vez", "puede ser", "mas o menos", "depende", "un poco"},

	Interrogative: regexp.MustCompile(`^\s*(que|por que|porque|como|cuando|cual|puedes|debo|es normal)\b`),
	DontKnow:      regexp.MustCompile(`\b(no lo se|ni idea|no estoy segur[oa]|no sabria (decir|decirte)|no se (que|como) (decir|decirte|explicar|explicarlo|responder))\b|\bno se([\s.!]*$|,)`),
	Refusal:       words(`prefiero no (decir|decirlo|responder|contestar)`, `no quiero (decir|responder|contestar)`),

	Pause:     words(`espera`, `espere`, `un momento`, `dame un momento`, `aguanta`),
	File:      words(`te mando`, `te enviare`, `voy a mandar`, `voy a enviar`, `subiendo`, `adjunto`, `archivos`),
	Greeting:  regexp.MustCompile(`^\s*(buenos dias|buenas tardes|buenas noches|buenas|hola)\b`),
	Gratitude: regexp.MustCompile(`^\s*(gracias|muchas gracias|mil gracias)[\s!.]*$`),
	Emotional: words(`ansioso`, `ansiosa`, `estresado`, `estresada`, `avergonzado`, `avergonzada`, `preocupado`, `preocupada`, `triste`, `asustado`, `asustada`),
	Meds:      words(`pastilla`, `pastillas`, `medicamento`, `medicamentos`, `tratamiento`, `receta`, `medicacion`),

	NamePatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*soy\s+(?P<name>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*me\s+llamo\s+(?P<name>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*mi\s+nombre\s+es\s+(?P<name>.+?)\s*$`),
	},
	NameInline: regexp.MustCompile(`(?i)\b(?:soy|me\s+llamo|mi\s+nombre\s+es)\s+(?P<name>[^,.;\n]+)`),
	CountryPatterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*estoy\s+en\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*vivo\s+en\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*soy\s+de\s+(?P<country>.+?)\s*$`),
		regexp.MustCompile(`(?i)^\s*(?:en|desde)\s+(?P<country>.+?)\s*$`),
	},

	SlotRules: map[models.SlotName][]Rule{
		models.SlotFrequency: {
			rule("sometimes", high, `a veces`, `no siempre`, `depende`, `ocasionalmente`, `unas veces`, `otras veces`, `buenos dias`, `malos dias`, `buenos y malos`, `de vez en cuando`),
			rule("always", high, `siempre`, `cada vez`, `todo el tiempo`, `nunca funciona`, `todas las veces`),
		},
		models.SlotDesire: {
			rule("reduced", high, `no es igual`, `ya no`, `no tanto`),
			rule("present", high, `igual`, `normal`, `presente`, `sigue`, `sigo`),
			rule("reduced", high, `bajo`, `baja`, `reducido`, `menos`, `poco`),
		},
		models.SlotStress: {
			rule("high", high, `muy alto`, `alto`, `alta`, `estresado`, `estresada`, `abrumado`, `abrumada`, `agotado`, `agotada`, `cargado`, `mucho`),
			rule("moderate", high, `moderado`, `moderada`, `medio`, `media`, `regular`),
			rule("low", high, `bajo`, `baja`, `normal`, `bien`, `tranquilo`, `tranquila`),
		},
		models.SlotMorningErection: {
			rule("rare", high, `rara vez`, `casi nunca`, `nunca`),
			rule("reduced", high, `menos`, `reducidas`, `reducido`, `disminuido`, `disminuidas`, `pocas`),
			rule("normal", high, `sin cambios`, `igual que antes`, `igual`, `normal`),
		},
		models.SlotMainIssue: {
			{Value: "erection_lost", Pattern: regexp.MustCompile(`\b(pierdo|pierde|perder)\b.*\berecci|\bse me baja\b|\bno se me para\b`), Confidence: high},
			rule("short_duration", high, `no dura`, `dura poco`, `muy poco`),
			rule("early_ejaculation", moderate, `muy rapido`, `termino rapido`, `acabo rapido`, `eyaculacion precoz`, `precoz`),
			rule("something_else", moderate, `otra cosa`, `ninguna de esas`),
		},
		models.SlotGenderIdentity: {
			rule("prefer_not_say", high, `prefiero no`),
			rule("non_binary", high, `no binario`, `no binaria`),
			rule("male", high, `hombre`, `masculino`, `varon`),
			rule("female", high, `mujer`, `femenino`),
		},
		models.SlotRouteChoice: {
			rule("support", high, `sin medicacion`, `sin meds`, `sin pastillas`, `sin medicamentos`),
			rule("meds", high, `medicamento`, `medicamentos`, `pastilla`, `pastillas`, `medicacion`, `tratamiento`),
			rule("support", high, `habitos`, `apoyo`, `terapia`, `acompanamiento`),
		},
	},

	RedFlags: []RedFlagRule{
		{models.RedFlagSelfHarm, words(`suicidio`, `suicidarme`, `matarme`, `quitarme la vida`, `hacerme dano`, `lastimarme`)},
		{models.RedFlagAcuteCardioResp, words(`dolor de pecho`, `dolor en el pecho`, `presion en el pecho`, `no puedo respirar`, `falta de aire`, `me desmaye`, `desmayo`)},
		{models.RedFlagNeuro, words(`cara caida`, `habla arrastrada`, `debilidad repentina`, `un lado debil`, `derrame`, `ictus`)},
		{models.RedFlagPriapism, regexp.MustCompile(`\b(ereccion.*(4|cuatro) horas|priapismo)\b`)},
		{models.RedFlagSeverePainBleeding, words(`dolor severo`, `dolor insoportable`, `sangrado abundante`, `sangro mucho`, `sangrando mucho`)},
	},
}
