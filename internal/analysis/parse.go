package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\n(.*?)\n```")
	keyValueRe  = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z ]{0,48}):\s*(.+)$`)
	amountRe    = regexp.MustCompile(`(?:R\$|\$|€|£|USD|EUR|BRL)\s*[\d.,]+(?:\s*[KkMmBb])?`)
	dateRes     = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
		regexp.MustCompile(`\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`),
	}
)

// cleanJSONBlock removes markdown code fences around a JSON payload.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ParseStructured mines a free-text provider response for structure:
// an embedded JSON block, "Key: value" lines, monetary amounts and
// dates. Best effort; an empty map means the response was pure prose.
func ParseStructured(text string) (structured, entities, dates, amounts map[string]any) {
	structured = map[string]any{}
	entities = map[string]any{}
	dates = map[string]any{}
	amounts = map[string]any{}

	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
			structured = data
		}
	} else {
		// Responses requested as JSON often arrive bare.
		var data map[string]any
		if err := json.Unmarshal([]byte(cleanJSONBlock(text)), &data); err == nil {
			structured = data
		}
	}

	for _, m := range keyValueRe.FindAllStringSubmatch(text, -1) {
		entities[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
	}

	if found := amountRe.FindAllString(text, -1); len(found) > 0 {
		amounts["amounts_found"] = dedupe(found)
	}

	var allDates []string
	for _, re := range dateRes {
		allDates = append(allDates, re.FindAllString(text, -1)...)
	}
	if len(allDates) > 0 {
		dates["dates_found"] = dedupe(allDates)
	}
	return structured, entities, dates, amounts
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Summarize returns the opening of text as a short summary, cut at a
// sentence boundary where possible.
func Summarize(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	cut := text[:maxLen]
	if i := strings.LastIndexAny(cut, ".!?"); i > maxLen/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
