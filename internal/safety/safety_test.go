package safety

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []models.RedFlag
	}{
		{"empty", "", nil},
		{"whitespace", "   \n", nil},
		{"benign", "I lose my erection sometimes", nil},
		{"self harm", "I want to kill myself", []models.RedFlag{models.RedFlagSelfHarm}},
		{"chest pain", "I have chest pain and can't breathe", []models.RedFlag{models.RedFlagAcuteCardioResp}},
		{"neuro", "slurred speech since this morning", []models.RedFlag{models.RedFlagNeuro}},
		{"priapism", "my erection has lasted four hours", []models.RedFlag{models.RedFlagPriapism}},
		{"bleeding", "there is heavy bleeding", []models.RedFlag{models.RedFlagSeverePainBleeding}},
		{"multiple", "Suicide thoughts and chest pain", []models.RedFlag{models.RedFlagSelfHarm, models.RedFlagAcuteCardioResp}},
		{"spanish", "Quiero quitarme la vida", []models.RedFlag{models.RedFlagSelfHarm}},
		{"spanish accents", "Tengo una erección de más de 4 horas", []models.RedFlag{models.RedFlagPriapism}},
		{"both languages same flag", "dolor de pecho, chest pain", []models.RedFlag{models.RedFlagAcuteCardioResp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Detect(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	text := "I want to end my life"
	first := Detect(text)
	second := Detect(text)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated detection differs: %s", diff)
	}
}

func TestDetectorRespectsLanguages(t *testing.T) {
	d := NewDetector(lang.English)
	if flags := d.Detect("quiero matarme"); len(flags) != 0 {
		t.Errorf("english-only detector matched spanish text: %v", flags)
	}
}
