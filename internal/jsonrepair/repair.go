// Package jsonrepair coerces near-JSON model output into a parseable
// object. Local models routinely truncate the final brace or leave a
// trailing comma when they hit a stop sequence mid-object.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotStructured is reported when the text never looked like JSON.
// A conversational free-text reply is the common, expected case.
var ErrNotStructured = errors.New("text is not structured")

// MalformedError is reported when the text looked like JSON but remained
// unparseable after repairs. It carries the original text for diagnostics.
type MalformedError struct {
	Raw   string
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed structured text: %v", e.Cause)
}

func (e *MalformedError) Unwrap() error {
	return e.Cause
}

// Parse attempts a strict JSON parse of text, then a single re-parse after
// applying the full repair sequence to the whole text. Text that does not
// start with '{' after trimming leading whitespace is rejected immediately
// without repairs.
func Parse(text string) (map[string]any, error) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return nil, ErrNotStructured
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc, nil
	}

	repaired := repair(text)
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, &MalformedError{Raw: text, Cause: err}
	}
	return doc, nil
}

// repair applies both repairs before the caller's second parse attempt:
// close an unterminated object, then strip trailing commas.
func repair(text string) string {
	out := text
	if strings.Contains(out, "{") && !strings.HasSuffix(strings.TrimRight(out, " \t\r\n"), "}") {
		out = out + "}"
	}
	return stripTrailingCommas(out)
}

// stripTrailingCommas drops commas whose next non-whitespace byte closes
// an object or array. String literals are scanned through so commas and
// braces inside values are left alone.
func stripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
		case c == ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\r' || s[j] == '\n') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
