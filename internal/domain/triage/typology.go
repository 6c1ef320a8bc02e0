package triage

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog_default.yaml
var defaultCatalogYAML []byte

type Aggregation string

const (
	AggregationSum         Aggregation = "sum"
	AggregationWeightedSum Aggregation = "weighted_sum"
)

type Question struct {
	ID   string  `yaml:"id" json:"id"`
	Text string  `yaml:"text" json:"text"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	// Weight applies to weighted_sum typologies. Omitted means 1; an
	// explicit 0 excludes the question from the score.
	Weight *float64 `yaml:"weight" json:"weight"`
	// Optional questions may be left unanswered. Questions are required by
	// default.
	Optional bool `yaml:"optional" json:"optional"`
}

// Threshold places scores at or above MinScore in Priority.
type Threshold struct {
	Priority Priority `yaml:"priority" json:"priority"`
	MinScore float64  `yaml:"min_score" json:"min_score"`
}

// Typology is a named questionnaire template with its scoring rules.
type Typology struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Aggregation Aggregation `yaml:"aggregation" json:"aggregation"`
	Questions   []Question  `yaml:"questions" json:"questions"`
	Thresholds  []Threshold `yaml:"thresholds" json:"thresholds"`
}

func (q *Question) weight() float64 {
	if q.Weight == nil {
		return 1
	}
	return *q.Weight
}

func (t *Typology) question(id string) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

type CriterionKind string

const (
	CriterionMoodEntries              CriterionKind = "mood_entries"
	CriterionMoodStreakDays           CriterionKind = "mood_streak_days"
	CriterionDiaryEntries             CriterionKind = "diary_entries"
	CriterionForumPosts               CriterionKind = "forum_posts"
	CriterionQuestionnairesCompleted  CriterionKind = "questionnaires_completed"
	CriterionQuestionnaireStreakWeeks CriterionKind = "questionnaire_streak_weeks"
)

var criterionKinds = map[CriterionKind]bool{
	CriterionMoodEntries:              true,
	CriterionMoodStreakDays:           true,
	CriterionDiaryEntries:             true,
	CriterionForumPosts:               true,
	CriterionQuestionnairesCompleted:  true,
	CriterionQuestionnaireStreakWeeks: true,
}

type Criterion struct {
	Kind      CriterionKind `yaml:"kind" json:"kind"`
	Threshold int           `yaml:"threshold" json:"threshold"`
}

type Badge struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Criterion   Criterion `yaml:"criterion" json:"criterion"`
}

// Catalog is the set of typologies and badges the engine serves. It is
// immutable once loaded.
type Catalog struct {
	Typologies []Typology `yaml:"typologies" json:"typologies"`
	Badges     []Badge    `yaml:"badges" json:"badges"`

	byName map[string]*Typology
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a YAML catalog from path. An empty path selects the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a YAML catalog. Unknown fields are
// rejected so typos in criterion kinds or thresholds surface at startup.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.index()
	return &c, nil
}

func (c *Catalog) normalize() {
	for i := range c.Typologies {
		t := &c.Typologies[i]
		if t.Aggregation == "" {
			t.Aggregation = AggregationSum
		}
		for j := range t.Questions {
			if t.Questions[j].Weight == nil {
				w := 1.0
				t.Questions[j].Weight = &w
			}
		}
		sort.SliceStable(t.Thresholds, func(a, b int) bool {
			return t.Thresholds[a].Priority.Rank() < t.Thresholds[b].Priority.Rank()
		})
	}
}

func (c *Catalog) index() {
	c.byName = make(map[string]*Typology, len(c.Typologies))
	for i := range c.Typologies {
		c.byName[c.Typologies[i].Name] = &c.Typologies[i]
	}
}

// Validate reports every structural problem in the catalog at once.
func (c *Catalog) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Typologies) == 0 {
		add("catalog defines no typologies")
	}
	seen := make(map[string]bool)
	for _, t := range c.Typologies {
		if t.Name == "" {
			add("typology with empty name")
			continue
		}
		if seen[t.Name] {
			add("typology %q defined twice", t.Name)
		}
		seen[t.Name] = true

		if t.Aggregation != AggregationSum && t.Aggregation != AggregationWeightedSum {
			add("typology %q: unknown aggregation %q", t.Name, t.Aggregation)
		}
		if len(t.Questions) == 0 {
			add("typology %q: no questions", t.Name)
		}
		qids := make(map[string]bool)
		for _, q := range t.Questions {
			if q.ID == "" {
				add("typology %q: question with empty id", t.Name)
				continue
			}
			if qids[q.ID] {
				add("typology %q: question %q defined twice", t.Name, q.ID)
			}
			qids[q.ID] = true
			if q.Min > q.Max {
				add("typology %q: question %q has min %g above max %g", t.Name, q.ID, q.Min, q.Max)
			}
			if q.weight() < 0 {
				add("typology %q: question %q has negative weight", t.Name, q.ID)
			}
		}

		bands := make(map[Priority]bool)
		prev := 0.0
		for i, th := range t.Thresholds {
			if !th.Priority.Valid() {
				add("typology %q: unknown priority %q", t.Name, th.Priority)
				continue
			}
			if th.Priority == PrioritySchedulable {
				add("typology %q: schedulable is the default band and takes no threshold", t.Name)
			}
			if bands[th.Priority] {
				add("typology %q: priority %q has two thresholds", t.Name, th.Priority)
			}
			bands[th.Priority] = true
			// Thresholds are sorted most urgent first; a less urgent band
			// with a higher bar would never be reached.
			if i > 0 && th.MinScore >= prev {
				add("typology %q: threshold for %q must be below the one for more urgent bands", t.Name, th.Priority)
			}
			prev = th.MinScore
		}
	}

	badges := make(map[string]bool)
	for _, b := range c.Badges {
		if b.Name == "" {
			add("badge with empty name")
			continue
		}
		if badges[b.Name] {
			add("badge %q defined twice", b.Name)
		}
		badges[b.Name] = true
		if !criterionKinds[b.Criterion.Kind] {
			add("badge %q: unknown criterion kind %q", b.Name, b.Criterion.Kind)
		}
		if b.Criterion.Threshold < 1 {
			add("badge %q: threshold must be at least 1", b.Name)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid catalog: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Typology looks up a typology by name.
func (c *Catalog) Typology(name string) (*Typology, bool) {
	t, ok := c.byName[name]
	return t, ok
}
