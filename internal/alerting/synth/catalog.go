package synth

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/auditpulse/pulse-monitor/internal/analytics/anomaly"
	"github.com/auditpulse/pulse-monitor/internal/models"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

const (
	minSteps = 3
	maxSteps = 5
)

// catalogFile is the on-disk shape of catalog.yaml.
type catalogFile struct {
	Conditions map[string]conditionText `yaml:"conditions"`
}

type conditionText struct {
	Title     string   `yaml:"title"`
	Message   string   `yaml:"message"`
	Timeframe string   `yaml:"timeframe"`
	Steps     []string `yaml:"steps"`
}

// entry is a compiled catalog entry.
type entry struct {
	title     *template.Template
	message   *template.Template
	timeframe string
	steps     []*template.Template
}

// Catalog holds the compiled alert text for every condition.
type Catalog struct {
	entries map[models.Condition]entry
}

var allConditions = []models.Condition{
	models.ConditionScoreDrop,
	models.ConditionSubscoreDrop,
	models.ConditionDecliningTrend,
	models.ConditionMilestone,
	models.ConditionInactivity,
	models.ConditionWeakDimension,
	models.ConditionCompetitorGain,
	models.ConditionIndustryGap,
}

var funcs = template.FuncMap{
	"num": func(v any) string {
		f, ok := toFloat(v)
		if !ok {
			return "n/a"
		}
		return fmt.Sprintf("%.0f", f)
	},
	"abs": func(v any) float64 {
		f, _ := toFloat(v)
		return math.Abs(f)
	},
	"pct": func(v any) string {
		f, ok := toFloat(v)
		if !ok {
			return "n/a"
		}
		return fmt.Sprintf("%.0f%%", f*100)
	},
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// DefaultCatalog parses the embedded catalog. It panics if the embedded file
// is invalid, which a unit test guards against.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("synth: embedded catalog: %v", err))
	}
	return c
}

// ParseCatalog parses and validates a YAML catalog. Every known condition must
// have a title, a message and 3-5 steps, and every template must compile.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var errs []string
	c := &Catalog{entries: make(map[models.Condition]entry, len(allConditions))}
	for _, cond := range allConditions {
		text, ok := file.Conditions[string(cond)]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: missing", cond))
			continue
		}
		e, err := compile(cond, text)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		c.entries[cond] = e
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return c, nil
}

func compile(cond models.Condition, text conditionText) (entry, error) {
	if strings.TrimSpace(text.Title) == "" || strings.TrimSpace(text.Message) == "" {
		return entry{}, fmt.Errorf("%s: title and message are required", cond)
	}
	if n := len(text.Steps); n < minSteps || n > maxSteps {
		return entry{}, fmt.Errorf("%s: expected %d-%d steps, got %d", cond, minSteps, maxSteps, n)
	}

	parse := func(name, s string) (*template.Template, error) {
		t, err := template.New(name).Funcs(funcs).Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", cond, name, err)
		}
		return t, nil
	}

	e := entry{timeframe: text.Timeframe}
	var err error
	if e.title, err = parse("title", text.Title); err != nil {
		return entry{}, err
	}
	if e.message, err = parse("message", text.Message); err != nil {
		return entry{}, err
	}
	for i, s := range text.Steps {
		t, err := parse(fmt.Sprintf("step %d", i+1), s)
		if err != nil {
			return entry{}, err
		}
		e.steps = append(e.steps, t)
	}
	return e, nil
}

// render executes the entry's templates against a finding.
func (e entry) render(f anomaly.Finding) (title, message string, steps []string) {
	title = execute(e.title, f)
	message = execute(e.message, f)
	steps = make([]string, len(e.steps))
	for i, t := range e.steps {
		steps[i] = execute(t, f)
	}
	return title, message, steps
}

func execute(t *template.Template, f anomaly.Finding) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, f); err != nil {
		panic(fmt.Sprintf("synth: render %s for %s: %v", t.Name(), f.Condition, err))
	}
	return strings.TrimSpace(buf.String())
}
