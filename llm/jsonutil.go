package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedObject = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	bareObject   = regexp.MustCompile(`(?s)\{.*\}`)
	fencedArray  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*\\])\\s*```")
	bareArray    = regexp.MustCompile(`(?s)\[.*\]`)
	// trailing commas before a closing bracket
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON returns the JSON object embedded in a completion, tolerating
// markdown fences, line comments and trailing commas. Empty if none is found.
func ExtractJSON(content string) string {
	if m := fencedObject.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareObject.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// ExtractJSONArray is ExtractJSON for a top-level array
func ExtractJSONArray(content string) string {
	if m := fencedArray.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := bareArray.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// DecodeObject extracts a JSON object from content and unmarshals it into v
func DecodeObject(content string, v any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}

// DecodeArray extracts a JSON array from content and unmarshals it into v
func DecodeArray(content string, v any) error {
	raw := ExtractJSONArray(content)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode completion JSON: %w", err)
	}
	return nil
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingComma.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment drops a trailing // comment that sits outside any string literal.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
