package content

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when no JSON value can be recovered from model output
var ErrNoJSON = errors.New("no JSON value found in model output")

var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// ParseLenientJSON recovers a JSON document from loosely formatted model
// output. It strips markdown fences and surrounding prose, escapes raw
// control characters inside strings and drops trailing commas.
func ParseLenientJSON(raw string) (gjson.Result, error) {
	s := cleanMarkdownFences(strings.TrimPrefix(raw, "\ufeff"))

	if gjson.Valid(s) {
		return gjson.Parse(s), nil
	}

	s = sliceOutermost(s)
	if s == "" {
		return gjson.Result{}, ErrNoJSON
	}

	s = repairJSON(s)
	if !gjson.Valid(s) {
		return gjson.Result{}, ErrNoJSON
	}

	return gjson.Parse(s), nil
}

// cleanMarkdownFences removes a ```json ... ``` wrapper
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// sliceOutermost cuts s down to the span between the first opening bracket
// and the last matching closing bracket.
func sliceOutermost(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}

	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// repairJSON escapes control characters inside strings and removes commas
// that directly precede a closing bracket.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	pendingComma := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteByte(c)
			continue
		}

		switch c {
		case ' ', '\n', '\r', '\t':
			if !pendingComma {
				b.WriteByte(c)
			}
			continue
		case ',':
			if pendingComma {
				continue
			}
			pendingComma = true
			continue
		case '}', ']':
			pendingComma = false
		default:
			if pendingComma {
				b.WriteByte(',')
				pendingComma = false
			}
			if c == '"' {
				inString = true
			}
		}
		b.WriteByte(c)
	}

	return b.String()
}
