package llm

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// ParseJSONResponse parses a JSON object from an LLM response, handling
// markdown code blocks and prose around the object. Returns nil when no
// object can be recovered.
func ParseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var result map[string]any
	err := json.Unmarshal([]byte(text), &result)
	if err == nil {
		return result
	}

	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(text[start:end+1]), &result) == nil {
			return result
		}
	}

	logrus.Debugf("Failed to parse LLM response as JSON: %v", err)
	return nil
}
