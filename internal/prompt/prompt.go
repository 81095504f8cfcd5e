package prompt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/astrelia/readings/internal/chart"
	"github.com/astrelia/readings/internal/provider"
)

var ErrUnknownTemplate = errors.New("unknown reading template")

// missingValue marks a template field absent from the calculation data, so
// absence stays distinguishable from an empty value.
const missingValue = "(data not provided)"

type ReadingType string

const (
	Lifetime ReadingType = "lifetime"
	Annual   ReadingType = "annual"
	Monthly  ReadingType = "monthly"
	Question ReadingType = "question"
)

var sectionKeys = map[ReadingType][]string{
	Lifetime: {"personality", "career", "wealth", "relationships", "health"},
	Annual:   {"overview", "career", "wealth", "relationships", "health"},
	Monthly:  {"overview", "opportunities", "cautions"},
	Question: {"answer", "reasoning", "guidance"},
}

func Known(rt ReadingType) bool {
	_, ok := sectionKeys[rt]
	return ok
}

// SectionKeys returns the fixed section-key set for a reading type, in the
// order sections are presented.
func SectionKeys(rt ReadingType) []string {
	keys := sectionKeys[rt]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// Variant carries reading-type-specific extra inputs.
type Variant struct {
	Year     int    `json:"year,omitempty"`
	Month    int    `json:"month,omitempty"`
	Day      int    `json:"day,omitempty"`
	Question string `json:"question,omitempty"`
}

type Template struct {
	ID      string
	Type    ReadingType
	Version int
	System  string
	User    string
}

// TemplateStore looks up a subject-editable override template. A nil result
// with nil error means no override exists.
type TemplateStore interface {
	ActiveTemplate(ctx context.Context, rt ReadingType) (*Template, error)
}

type Assembler struct {
	store TemplateStore
}

func NewAssembler(store TemplateStore) *Assembler {
	return &Assembler{store: store}
}

// Assemble builds the system+user prompt pair for a reading. The override
// template lookup is the only I/O; a lookup error falls back to the built-in
// default rather than failing the reading.
func (a *Assembler) Assemble(ctx context.Context, rt ReadingType, variant Variant, c *chart.Chart) (*provider.PromptPair, error) {
	if !Known(rt) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, rt)
	}

	tpl := defaultTemplates[rt]
	if a.store != nil {
		override, err := a.store.ActiveTemplate(ctx, rt)
		if err != nil {
			log.Printf("prompt: template lookup failed for %s, using default: %v", rt, err)
		} else if override != nil {
			tpl = *override
		}
	}

	vocab := vocabulary(rt, variant, c)
	return &provider.PromptPair{
		System: interpolate(tpl.System, vocab),
		User:   interpolate(tpl.User, vocab),
	}, nil
}

func vocabulary(rt ReadingType, variant Variant, c *chart.Chart) map[string]string {
	vocab := map[string]string{
		"sections":     strings.Join(sectionKeys[rt], ", "),
		"reading_type": string(rt),
		"pillars":      expandPillars(c),
		"palaces":      expandPalaces(c),
	}

	if c != nil {
		if !c.Birth.Date.IsZero() {
			vocab["birth_date"] = c.Birth.Date.Format("2006-01-02")
			vocab["birth_time"] = fmt.Sprintf("%02d:%02d", c.Birth.Hour, c.Birth.Minute)
		}
		if c.Birth.City != "" {
			vocab["birth_city"] = c.Birth.City
		}
		if c.Birth.Gender != "" {
			vocab["gender"] = c.Birth.Gender
		}
		if c.SunSign != "" {
			vocab["sun_sign"] = c.SunSign
			vocab["sun_element"] = c.SunElement
		}
		if c.Zodiac != "" {
			vocab["zodiac"] = c.Zodiac
		}
	}

	if variant.Year != 0 {
		vocab["target_year"] = fmt.Sprintf("%d", variant.Year)
	}
	if variant.Month != 0 {
		vocab["target_month"] = fmt.Sprintf("%d", variant.Month)
	}
	if variant.Day != 0 {
		vocab["target_day"] = fmt.Sprintf("%d", variant.Day)
	}
	if q := strings.TrimSpace(variant.Question); q != "" {
		vocab["question"] = q
	}

	return vocab
}

// interpolate is pure string substitution against the closed placeholder
// vocabulary. A placeholder with no value renders the missing-value sentinel;
// nothing unresolved remains in the output.
func interpolate(s string, vocab map[string]string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "{{")
		if i < 0 {
			b.WriteString(s)
			break
		}
		j := strings.Index(s[i:], "}}")
		if j < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		key := strings.TrimSpace(s[i+2 : i+j])
		if v, ok := vocab[key]; ok && v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(missingValue)
		}
		s = s[i+j+2:]
	}
	return b.String()
}
