package orchestrator

import "encoding/json"

// embeddedCall is the textual tool-invocation shape engines without native
// function calling are instructed to emit inside their completions.
type embeddedCall struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ExtractToolCall scans completion text for the first embedded
// {"tool": name, "args": {...}} JSON object and returns its name and
// arguments. The scan is brace-balanced and string-aware, so braces inside
// quoted values do not confuse it, and surrounding prose is ignored. A
// candidate object must parse as JSON and carry a non-empty "tool" field;
// a missing or null "args" field yields an empty argument map.
func ExtractToolCall(text string) (string, map[string]any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}

		candidate, ok := balancedObject(text[i:])
		if !ok {
			continue
		}

		var call embeddedCall
		if err := json.Unmarshal([]byte(candidate), &call); err != nil || call.Tool == "" {
			continue
		}

		args := map[string]any{}
		if len(call.Args) > 0 {
			if err := json.Unmarshal(call.Args, &args); err != nil {
				continue
			}
			// Unmarshal sets the map to nil for a JSON null.
			if args == nil {
				args = map[string]any{}
			}
		}

		return call.Tool, args, true
	}

	return "", nil, false
}

// balancedObject returns the prefix of s spanning one brace-balanced JSON
// object. s must start with '{'. String literals are skipped so braces and
// escaped quotes inside them do not affect the depth count.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
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
					return s[:i+1], true
				}
			}
		}
	}

	return "", false
}
