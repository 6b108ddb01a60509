package interpret

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/TriageChat/internal/lang"
	"github.com/BTreeMap/TriageChat/internal/models"
)

//go:embed questions.yaml
var questionsYAML []byte

// ValueType describes what kind of answer a question expects.
type ValueType string

const (
	ValueEnum     ValueType = "enum"
	ValueString   ValueType = "string"
	ValueFreeText ValueType = "free_text"
	ValueBool     ValueType = "bool"
)

// QuestionSpec describes one pending question.
type QuestionSpec struct {
	ID            models.QuestionID `yaml:"id"`
	Text          string            `yaml:"text"`
	ValueType     ValueType         `yaml:"value_type"`
	AllowedValues []string          `yaml:"allowed_values"`
	// ShortAnswers maps bare yes/no/maybe replies to a value. A short reply
	// without a mapping is ambiguous and needs repair.
	ShortAnswers map[string]string `yaml:"short_answers"`
}

// IsEnum reports whether answers must come from AllowedValues.
func (q QuestionSpec) IsEnum() bool {
	return q.ValueType == ValueEnum || q.ValueType == ValueBool
}

// Allows reports whether v is acceptable for this question.
func (q QuestionSpec) Allows(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if !q.IsEnum() {
		return true
	}
	return slices.Contains(q.AllowedValues, v)
}

// ShortValue returns the value mapped to a short reply, if any.
func (q QuestionSpec) ShortValue(s lang.Short) string {
	return q.ShortAnswers[string(s)]
}

// Catalog indexes question specs by id.
type Catalog map[models.QuestionID]QuestionSpec

// ParseCatalog decodes a YAML question list.
func ParseCatalog(data []byte) (Catalog, error) {
	var specs []QuestionSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse question catalog: %w", err)
	}
	c := make(Catalog, len(specs))
	for _, s := range specs {
		if !s.ID.IsKnown() {
			return nil, fmt.Errorf("question catalog: unknown question id %q", s.ID)
		}
		if s.IsEnum() && len(s.AllowedValues) == 0 {
			return nil, fmt.Errorf("question catalog: %q has no allowed values", s.ID)
		}
		c[s.ID] = s
	}
	return c, nil
}

var defaultCatalog = func() Catalog {
	c, err := ParseCatalog(questionsYAML)
	if err != nil {
		panic(err)
	}
	return c
}()

// DefaultCatalog returns the embedded question catalog.
func DefaultCatalog() Catalog {
	return defaultCatalog
}

// Spec returns the spec for id.
func (c Catalog) Spec(id models.QuestionID) (QuestionSpec, bool) {
	s, ok := c[id]
	return s, ok
}
