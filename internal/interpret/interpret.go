package interpret

import (
	"encoding/json"
	"strings"

	"github.com/astrelia/readings/internal/prompt"
)

// previewBudget caps section previews synthesized by the fallback path.
const previewBudget = 280

type Section struct {
	Preview string `json:"preview"`
	Full    string `json:"full"`
}

// Result is a complete interpretation. Sections always contains exactly the
// reading type's fixed section-key set; Order preserves presentation order.
type Result struct {
	Order    []string           `json:"order"`
	Sections map[string]Section `json:"sections"`
	Summary  Section            `json:"summary"`
	// Degraded marks a result synthesized by the fallback path. It is a
	// quality signal for logs and metrics, not an error.
	Degraded bool `json:"degraded,omitempty"`
}

// Parse turns raw model output into a Result. It never fails: structural
// parsing degrades through truncation repair down to a paragraph-split
// fallback, so every expected section key is always populated.
func Parse(raw string, rt prompt.ReadingType) *Result {
	keys := prompt.SectionKeys(rt)

	candidate := braceWindow(stripFences(raw))
	if candidate != "" {
		if obj, ok := parseObject(candidate); ok {
			if res := normalize(obj, keys, raw); res != nil {
				return res
			}
		}
		if obj, ok := parseObject(repairTruncated(candidate)); ok {
			if res := normalize(obj, keys, raw); res != nil {
				return res
			}
		}
	}

	return fallback(raw, keys)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// braceWindow cuts the first '{' through the last '}'. When the text ends
// inside a truncated object there is no closing brace, so fall back to
// everything from the first '{'.
func braceWindow(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, '}')
	if end > start {
		return s[start : end+1]
	}
	return s[start:]
}

func parseObject(s string) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// repairTruncated closes a JSON document cut off at an arbitrary byte offset:
// close an open string, drop one dangling comma, then append the missing
// closers in reverse of their opening order. Characters inside strings never
// affect the bracket stack.
func repairTruncated(s string) string {
	var stack []byte
	inStr, esc := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			if esc {
				esc = false
				continue
			}
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if esc {
		// Cut mid-escape; the dangling backslash would swallow the quote.
		s = s[:len(s)-1]
	}
	if inStr {
		s += `"`
	}

	trimmed := strings.TrimRight(s, " \t\r\n")
	trimmed = strings.TrimSuffix(trimmed, ",")

	for i := len(stack) - 1; i >= 0; i-- {
		trimmed += string(stack[i])
	}
	return trimmed
}

// normalize maps a parsed object onto the fixed section-key set. It accepts
// either a top-level "sections" map or section-shaped objects at the top
// level. Returns nil when the object holds nothing section-like.
func normalize(obj map[string]json.RawMessage, keys []string, raw string) *Result {
	sections := map[string]Section{}

	if rawSections, ok := obj["sections"]; ok {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(rawSections, &m); err == nil {
			for k, v := range m {
				if sec, ok := asSection(v); ok {
					sections[k] = sec
				}
			}
		}
	}

	if len(sections) == 0 {
		for k, v := range obj {
			if k == "summary" {
				continue
			}
			if sec, ok := asSection(v); ok {
				sections[k] = sec
			}
		}
	}

	if len(sections) == 0 {
		return nil
	}

	res := &Result{
		Order:    keys,
		Sections: make(map[string]Section, len(keys)),
	}

	if rawSummary, ok := obj["summary"]; ok {
		if sec, ok := asSection(rawSummary); ok {
			res.Summary = sec
		}
	}

	var missing []string
	for _, k := range keys {
		if sec, ok := sections[k]; ok {
			res.Sections[k] = sec
		} else {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		// The model skipped some keys; synthesize them from the raw text so
		// the key set stays complete.
		res.Degraded = true
		fill := fallback(raw, missing)
		for _, k := range missing {
			res.Sections[k] = fill.Sections[k]
		}
	}

	if res.Summary.Preview == "" && res.Summary.Full == "" {
		res.Degraded = true
		first := res.Sections[keys[0]]
		res.Summary = Section{Preview: truncate(first.Preview, previewBudget), Full: first.Preview}
	}

	return res
}

// asSection accepts {"preview":...,"full":...} objects and bare strings.
// Full defaults to preview when absent, never the reverse.
func asSection(raw json.RawMessage) (Section, bool) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.TrimSpace(str) == "" {
			return Section{}, false
		}
		return Section{Preview: truncate(str, previewBudget), Full: str}, true
	}

	var obj struct {
		Preview string `json:"preview"`
		Full    string `json:"full"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Section{}, false
	}
	if obj.Preview == "" && obj.Full == "" {
		return Section{}, false
	}
	if obj.Preview == "" {
		obj.Preview = truncate(obj.Full, previewBudget)
	}
	if obj.Full == "" {
		obj.Full = obj.Preview
	}
	return Section{Preview: obj.Preview, Full: obj.Full}, true
}

// fallback distributes paragraph blocks evenly across the expected keys and
// synthesizes a summary from the first paragraph.
func fallback(raw string, keys []string) *Result {
	paragraphs := splitParagraphs(raw)
	if len(paragraphs) == 0 {
		paragraphs = []string{strings.TrimSpace(raw)}
	}

	res := &Result{
		Order:    keys,
		Sections: make(map[string]Section, len(keys)),
		Degraded: true,
	}

	per := len(paragraphs) / len(keys)
	extra := len(paragraphs) % len(keys)
	idx := 0
	for i, k := range keys {
		n := per
		if i < extra {
			n++
		}
		var block string
		if n > 0 {
			block = strings.Join(paragraphs[idx:idx+n], "\n\n")
			idx += n
		} else {
			block = paragraphs[min(i, len(paragraphs)-1)]
		}
		res.Sections[k] = Section{Preview: truncate(block, previewBudget), Full: block}
	}

	first := paragraphs[0]
	res.Summary = Section{Preview: truncate(first, previewBudget), Full: first}
	return res
}

func splitParagraphs(raw string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := s[:budget]
	// Do not split a multi-byte rune.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}
