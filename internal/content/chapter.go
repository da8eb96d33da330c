package content

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WordGloss carries original-language data for a single word of a verse.
type WordGloss struct {
	Word    string `json:"word"`
	Lemma   string `json:"lemma,omitempty"`
	Gloss   string `json:"gloss,omitempty"`
	Strongs string `json:"strongs,omitempty"`
}

// Verse is one numbered verse of a chapter, with optional word glosses.
type Verse struct {
	Number  int         `json:"number"`
	Text    string      `json:"text"`
	Glosses []WordGloss `json:"glosses,omitempty"`
}

// CrossReference links a verse of this chapter to another passage.
type CrossReference struct {
	Verse  int    `json:"verse"`
	Target string `json:"target"`
}

// ChapterPayload is the fully hydrated form of one chapter of one
// translation. This is both the batch API response unit and the record
// mirrored into client replicas.
type ChapterPayload struct {
	Translation string           `json:"translation"`
	Book        string           `json:"book"`
	Chapter     int              `json:"chapter"`
	Verses      []Verse          `json:"verses"`
	CrossRefs   []CrossReference `json:"cross_refs,omitempty"`

	// CachedAt is set by whichever store last wrote the record.
	CachedAt time.Time `json:"cached_at,omitempty"`
}

// Key returns the canonical content key: {translation}/{book}/{chapter}.
func (c *ChapterPayload) Key() string {
	return ChapterKey(c.Translation, c.Book, c.Chapter)
}

// Validate checks required chapter fields.
func (c *ChapterPayload) Validate() error {
	if c.Translation == "" {
		return fmt.Errorf("translation is required")
	}
	if strings.Contains(c.Translation, "/") {
		return fmt.Errorf("translation must not contain '/' (got %q)", c.Translation)
	}
	if c.Book == "" {
		return fmt.Errorf("book is required")
	}
	if strings.Contains(c.Book, "/") {
		return fmt.Errorf("book must not contain '/' (got %q)", c.Book)
	}
	if c.Chapter < 1 {
		return fmt.Errorf("chapter must be positive (got %d)", c.Chapter)
	}
	if len(c.Verses) == 0 {
		return fmt.Errorf("chapter %s has no verses", c.Key())
	}
	for i, v := range c.Verses {
		if v.Number < 1 {
			return fmt.Errorf("verse %d of %s has invalid number %d", i+1, c.Key(), v.Number)
		}
	}
	return nil
}

// ParseChapter parses and validates a chapter source file.
func ParseChapter(data []byte) (*ChapterPayload, error) {
	var ch ChapterPayload
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("failed to parse chapter: %w", err)
	}
	if err := ch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chapter: %w", err)
	}
	return &ch, nil
}
