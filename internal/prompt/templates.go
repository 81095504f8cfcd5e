package prompt

import (
	"fmt"
	"strings"

	"github.com/astrelia/readings/internal/chart"
)

// Sub-templates for nested chart structures. These are the only expanders;
// templates cannot embed arbitrary logic.
const (
	pillarLine = "- %s pillar: stem %s, branch %s, element %s"
	palaceLine = "- %s palace in branch %s, stars: %s"
)

func expandPillars(c *chart.Chart) string {
	if c == nil || len(c.Pillars) == 0 {
		return ""
	}
	lines := make([]string, len(c.Pillars))
	for i, p := range c.Pillars {
		lines[i] = fmt.Sprintf(pillarLine, p.Name, p.Stem, p.Branch, p.Element)
	}
	return strings.Join(lines, "\n")
}

func expandPalaces(c *chart.Chart) string {
	if c == nil || len(c.Palaces) == 0 {
		return ""
	}
	lines := make([]string, len(c.Palaces))
	for i, p := range c.Palaces {
		lines[i] = fmt.Sprintf(palaceLine, p.Name, p.Branch, strings.Join(p.Stars, ", "))
	}
	return strings.Join(lines, "\n")
}

const baseSystem = `You are a seasoned astrologer writing a personalised {{reading_type}} reading.
Write warm, specific prose grounded in the chart details you are given.
Respond with a single JSON object of the form
{"sections":{"<key>":{"preview":"...","full":"..."}},"summary":{"preview":"...","full":"..."}}
using exactly these section keys: {{sections}}.
"preview" is 2-3 sentences, "full" is several paragraphs. Output JSON only, no markdown fences.`

const chartBlock = `Birth date: {{birth_date}}
Birth time: {{birth_time}}
Birth city: {{birth_city}}
Gender: {{gender}}
Sun sign: {{sun_sign}} ({{sun_element}})
Chinese zodiac: {{zodiac}}
Four pillars:
{{pillars}}
Twelve palaces:
{{palaces}}`

var defaultTemplates = map[ReadingType]Template{
	Lifetime: {
		Type:   Lifetime,
		System: baseSystem,
		User: chartBlock + `

Write a lifetime reading covering the whole arc of this person's life.`,
	},
	Annual: {
		Type:   Annual,
		System: baseSystem,
		User: chartBlock + `

Write an annual reading for the year {{target_year}}.`,
	},
	Monthly: {
		Type:   Monthly,
		System: baseSystem,
		User: chartBlock + `

Write a monthly reading for {{target_year}}-{{target_month}}.`,
	},
	Question: {
		Type:   Question,
		System: baseSystem,
		User: chartBlock + `

The person asks: "{{question}}"
Answer the question through the lens of the chart.`,
	},
}
