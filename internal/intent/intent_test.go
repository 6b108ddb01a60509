package intent

import (
	"testing"

	"github.com/BTreeMap/TriageChat/internal/models"
)

func TestClassifyCascade(t *testing.T) {
	tests := []struct {
		text     string
		wantType models.IntentType
		wantConf models.Confidence
	}{
		{"", models.IntentAmbiguous, models.ConfidenceLow},
		{"   ", models.IntentAmbiguous, models.ConfidenceLow},
		{"wait, I'll send you the files", models.IntentFileHandoff, models.ConfidenceHigh},
		{"let me upload it", models.IntentFileHandoff, models.ConfidenceHigh},
		{"hold on", models.IntentMetaPause, models.ConfidenceHigh},
		{"dame un momento", models.IntentMetaPause, models.ConfidenceHigh},
		{"te mando los archivos", models.IntentFileHandoff, models.ConfidenceHigh},
		{"Hello!", models.IntentGreeting, models.ConfidenceHigh},
		{"buenos días", models.IntentGreeting, models.ConfidenceHigh},
		{"hey, I'm Carlos", models.IntentGreeting, models.ConfidenceModerate},
		{"hi, is this normal?", models.IntentUserQuestion, models.ConfidenceHigh},
		{"thank you so much!", models.IntentGratitude, models.ConfidenceHigh},
		{"gracias", models.IntentGratitude, models.ConfidenceHigh},
		{"what does that mean", models.IntentUserQuestion, models.ConfidenceHigh},
		{"¿por qué pasa esto", models.IntentUserQuestion, models.ConfidenceHigh},
		{"I feel ashamed", models.IntentEmotional, models.ConfidenceHigh},
		{"estoy preocupado", models.IntentEmotional, models.ConfidenceHigh},
		{"I want viagra", models.IntentMedsIntent, models.ConfidenceHigh},
		{"quiero pastillas", models.IntentMedsIntent, models.ConfidenceHigh},
		{"every time", models.IntentUnknown, models.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Classify(tt.text)
			if got.Type != tt.wantType || got.Confidence != tt.wantConf {
				t.Errorf("Classify(%q) = %s/%s, want %s/%s", tt.text, got.Type, got.Confidence, tt.wantType, tt.wantConf)
			}
		})
	}
}

func TestGreetingRemainder(t *testing.T) {
	tests := map[string]string{
		"Hi, I'm Carlos":          "I'm Carlos",
		"hola,soy José":           "soy José",
		"Buenos días, me llamo Ana": "me llamo Ana",
		"hey":                     "",
	}
	for in, want := range tests {
		got := Classify(in)
		if got.Type != models.IntentGreeting {
			t.Fatalf("Classify(%q) type = %s, want greeting", in, got.Type)
		}
		if got.Remainder != want {
			t.Errorf("Classify(%q) remainder = %q, want %q", in, got.Remainder, want)
		}
	}
}

func TestPauseAndFileBeatsEverything(t *testing.T) {
	got := Classify("hi, wait, I'm sending logs?")
	if got.Type != models.IntentFileHandoff {
		t.Errorf("expected file_handoff, got %s", got.Type)
	}
}

func TestUnknownCarriesText(t *testing.T) {
	got := Classify("  Colombia ")
	if got.Type != models.IntentUnknown || got.Value != "Colombia" {
		t.Errorf("unexpected result: %+v", got)
	}
}
