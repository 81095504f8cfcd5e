package interpret

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/astrelia/readings/internal/prompt"
)

func validDoc(rt prompt.ReadingType) string {
	sections := map[string]map[string]string{}
	for i, k := range prompt.SectionKeys(rt) {
		sections[k] = map[string]string{
			"preview": fmt.Sprintf("preview %d for %s", i, k),
			"full":    fmt.Sprintf("full text %d for %s, with a \"quote\" and some length to it.", i, k),
		}
	}
	doc := map[string]any{
		"sections": sections,
		"summary":  map[string]string{"preview": "short summary", "full": "longer summary text"},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func assertComplete(t *testing.T, res *Result, rt prompt.ReadingType) {
	t.Helper()
	keys := prompt.SectionKeys(rt)
	if res == nil {
		t.Fatal("Parse returned nil")
	}
	if len(res.Sections) != len(keys) {
		t.Fatalf("Expected %d sections, got %d: %v", len(keys), len(res.Sections), res.Sections)
	}
	for _, k := range keys {
		if _, ok := res.Sections[k]; !ok {
			t.Errorf("Missing section %s", k)
		}
	}
	if len(res.Order) != len(keys) {
		t.Errorf("Expected order of %d keys, got %v", len(keys), res.Order)
	}
}

func TestParse_ValidJSON(t *testing.T) {
	for _, rt := range []prompt.ReadingType{prompt.Lifetime, prompt.Annual, prompt.Monthly, prompt.Question} {
		res := Parse(validDoc(rt), rt)
		assertComplete(t, res, rt)
		if res.Degraded {
			t.Errorf("%s: valid JSON should not be degraded", rt)
		}
		if res.Summary.Preview != "short summary" {
			t.Errorf("%s: expected summary preview, got %q", rt, res.Summary.Preview)
		}
		first := prompt.SectionKeys(rt)[0]
		if !strings.HasPrefix(res.Sections[first].Preview, "preview 0") {
			t.Errorf("%s: unexpected section content %+v", rt, res.Sections[first])
		}
	}
}

func TestParse_CodeFences(t *testing.T) {
	raw := "```json\n" + validDoc(prompt.Monthly) + "\n```"
	res := Parse(raw, prompt.Monthly)
	assertComplete(t, res, prompt.Monthly)
	if res.Degraded {
		t.Error("Fenced valid JSON should not be degraded")
	}
}

func TestParse_SurroundingProse(t *testing.T) {
	raw := "Here is your reading:\n" + validDoc(prompt.Question) + "\nHope this helps!"
	res := Parse(raw, prompt.Question)
	assertComplete(t, res, prompt.Question)
	if res.Degraded {
		t.Error("JSON inside prose should parse cleanly")
	}
}

func TestParse_FlatSections(t *testing.T) {
	raw := `{
		"answer": {"preview": "yes", "full": "yes, and here is why at length"},
		"reasoning": {"preview": "the chart says so"},
		"guidance": {"full": "move slowly"}
	}`
	res := Parse(raw, prompt.Question)
	assertComplete(t, res, prompt.Question)

	if res.Sections["answer"].Full != "yes, and here is why at length" {
		t.Errorf("Unexpected answer section: %+v", res.Sections["answer"])
	}
	// full defaults to preview, never the reverse
	if res.Sections["reasoning"].Full != "the chart says so" {
		t.Errorf("Expected full to default to preview, got %+v", res.Sections["reasoning"])
	}
	if res.Sections["guidance"].Preview == "" {
		t.Errorf("Expected preview derived from full, got %+v", res.Sections["guidance"])
	}
}

func TestParse_PlainProseFallback(t *testing.T) {
	raw := "First paragraph about life.\n\nSecond paragraph about work.\n\nThird paragraph about rest.\n\nFourth."
	res := Parse(raw, prompt.Monthly)
	assertComplete(t, res, prompt.Monthly)

	if !res.Degraded {
		t.Error("Prose fallback must be flagged degraded")
	}
	if res.Summary.Preview != "First paragraph about life." {
		t.Errorf("Expected summary from first paragraph, got %q", res.Summary.Preview)
	}
	var total int
	for _, k := range prompt.SectionKeys(prompt.Monthly) {
		sec := res.Sections[k]
		if sec.Full == "" {
			t.Errorf("Section %s empty", k)
		}
		total += strings.Count(sec.Full, "paragraph") + strings.Count(sec.Full, "Fourth")
	}
	if total < 4 {
		t.Errorf("Expected all paragraphs distributed, got %d", total)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	res := Parse("", prompt.Lifetime)
	assertComplete(t, res, prompt.Lifetime)
	if !res.Degraded {
		t.Error("Empty input must be degraded")
	}
}

func TestParse_PreviewBudget(t *testing.T) {
	long := strings.Repeat("long paragraph text ", 100)
	res := Parse(long, prompt.Monthly)
	assertComplete(t, res, prompt.Monthly)
	for k, sec := range res.Sections {
		if len(sec.Preview) > previewBudget+len("…") {
			t.Errorf("Section %s preview exceeds budget: %d bytes", k, len(sec.Preview))
		}
	}
}

// Every truncation offset of a valid document must either repair to a
// parseable object or fall through to the paragraph fallback. Parse must
// always return the full key set.
func TestParse_TruncationAtEveryOffset(t *testing.T) {
	doc := validDoc(prompt.Lifetime)
	for off := 0; off <= len(doc); off++ {
		res := Parse(doc[:off], prompt.Lifetime)
		assertComplete(t, res, prompt.Lifetime)
	}
}

func TestParse_TruncatedKeepsParsedSections(t *testing.T) {
	doc := validDoc(prompt.Monthly)
	// Cut inside the last string value, leaving earlier sections intact.
	cut := doc[:len(doc)-10]
	res := Parse(cut, prompt.Monthly)
	assertComplete(t, res, prompt.Monthly)
}

func TestRepairTruncated(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": "b`, `{"a": "b"}`},
		{`{"a": ["x", "y`, `{"a": ["x", "y"]}`},
		{`{"a": {"b": 1},`, `{"a": {"b": 1}}`},
		{`{"a": "b\`, `{"a": "b"}`},
		{`{"a": "b"}`, `{"a": "b"}`},
	}
	for _, tc := range cases {
		got := repairTruncated(tc.in)
		if got != tc.want {
			t.Errorf("repairTruncated(%q) = %q, want %q", tc.in, got, tc.want)
		}
		var v any
		if err := json.Unmarshal([]byte(got), &v); err != nil {
			t.Errorf("repaired %q does not parse: %v", got, err)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
