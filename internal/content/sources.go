package content

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// TranslationInfo is the TOML descriptor at
// translations/{id}/translation.toml. It names the translation a directory
// of chapter files belongs to.
type TranslationInfo struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Language string `toml:"language"`
	License  string `toml:"license,omitempty"`
}

// Validate checks required descriptor fields.
func (t *TranslationInfo) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// ReadTranslationInfo reads and validates a translation descriptor file.
func ReadTranslationInfo(path string) (*TranslationInfo, error) {
	var info TranslationInfo
	if _, err := toml.DecodeFile(path, &info); err != nil {
		return nil, fmt.Errorf("failed to parse translation descriptor %s: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid translation descriptor %s: %w", path, err)
	}
	return &info, nil
}

// Person is one biographical entry, keyed by its ID.
type Person struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AlsoKnownAs []string `json:"also_known_as,omitempty"`
	Description string   `json:"description,omitempty"`
	References  []string `json:"references,omitempty"`
}

// Validate checks required person fields.
func (p *Person) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// ParsePerson parses and validates a person source file.
func ParsePerson(data []byte) (*Person, error) {
	var p Person
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse person: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid person: %w", err)
	}
	return &p, nil
}

// PlanDay is one day of a reading plan.
type PlanDay struct {
	Day      int      `json:"day" yaml:"day"`
	Readings []string `json:"readings" yaml:"readings"`
}

// ReadingPlan is a multi-day reading schedule, keyed by its ID.
// Plan source files are YAML; the hydrated record is JSON like everything
// else in the store.
type ReadingPlan struct {
	ID    string    `json:"id" yaml:"id"`
	Title string    `json:"title" yaml:"title"`
	Days  []PlanDay `json:"days" yaml:"days"`
}

// Validate checks required plan fields.
func (r *ReadingPlan) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Days) == 0 {
		return fmt.Errorf("plan %s has no days", r.ID)
	}
	return nil
}

// ParseReadingPlan parses and validates a YAML reading plan source file.
func ParseReadingPlan(data []byte) (*ReadingPlan, error) {
	var plan ReadingPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse reading plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reading plan: %w", err)
	}
	return &plan, nil
}

// TimelineEvent is one entry of the timeline aggregate.
type TimelineEvent struct {
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Era        string   `json:"era,omitempty"` // BC or AD
	References []string `json:"references,omitempty"`
}

// Timeline is the singleton timeline aggregate.
type Timeline struct {
	Events []TimelineEvent `json:"events"`
}

// ParseTimeline parses the timeline aggregate source file.
func ParseTimeline(data []byte) (*Timeline, error) {
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("failed to parse timeline: %w", err)
	}
	return &tl, nil
}

// Prophecy pairs a prophecy passage with its fulfillment passage.
type Prophecy struct {
	Title       string `json:"title"`
	Prophecy    string `json:"prophecy"`
	Fulfillment string `json:"fulfillment,omitempty"`
}

// Prophecies is the singleton prophecies aggregate.
type Prophecies struct {
	Prophecies []Prophecy `json:"prophecies"`
}

// ParseProphecies parses the prophecies aggregate source file.
func ParseProphecies(data []byte) (*Prophecies, error) {
	var pr Prophecies
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse prophecies: %w", err)
	}
	return &pr, nil
}
