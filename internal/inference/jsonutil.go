package inference

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON unmarshals the first JSON object found in the gateway's raw
// output into out. The output may be bare JSON, JSON wrapped in a fenced
// code block, or JSON embedded in surrounding prose.
func decodeJSON(content string, out any) error {
	content = stripFences(content)

	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}

	start := findJSONStart(content)
	if start < 0 {
		return fmt.Errorf("no JSON object in response")
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return fmt.Errorf("unterminated JSON object in response")
	}

	if err := json.Unmarshal([]byte(content[start:end]), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// stripFences removes a leading ```json (or bare ```) fence and its
// closing fence if present
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	if idx := strings.LastIndex(content, "```"); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}

// findJSONStart finds the first '{' in the content
func findJSONStart(content string) int {
	return strings.IndexByte(content, '{')
}

// findJSONEnd finds the index just past the brace matching the '{' at
// start, respecting string literals and escapes
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}

	return -1
}
