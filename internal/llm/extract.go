package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches a markdown code block with an optional language tag.
var fencePattern = regexp.MustCompile("(?s)```(\\w*)\\s*\\n?(.*?)```")

// ExtractObject parses a generation response as a JSON object, tolerating a
// single markdown fence (```json ... ``` or plain ```). A nil map with ok ==
// false means the text is unparsable; the caller keeps the raw text either
// way.
func ExtractObject(response string) (map[string]interface{}, bool) {
	candidate := StripFence(response)

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return out, true
	}

	// Last resort: take the outermost {...} span. Models occasionally
	// prefix the object with prose despite being asked for pure JSON.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), &out); err == nil {
			return out, true
		}
	}

	return nil, false
}

// StripFence removes one wrapping markdown code fence, if present. Fences
// tagged with a non-JSON language are left alone.
func StripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	m := fencePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	lang := strings.ToLower(m[1])
	if lang != "" && lang != "json" {
		return trimmed
	}
	return strings.TrimSpace(m[2])
}
