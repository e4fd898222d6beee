// File: internal/render/json.go
// Brief: One-shot JSON detection and field extraction for log lines.

package render

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// parsedLine is the outcome of JSON intelligence on one log message.
type parsedLine struct {
	Level      string // normalized tag, or raw uppercase when unrecognized
	LevelKnown bool   // true when Level maps onto INFO/WARN/ERROR/DEBUG
	HasLevel   bool
	Message    string
	HasMessage bool
	Fields     []jsonField // remaining fields in source order
}

type jsonField struct {
	Key   string
	Value string
}

var levelKeys = []string{"level", "severity", "lvl"}
var messageKeys = []string{"msg", "message"}

// parseJSONLine attempts to interpret a log message as a structured JSON
// object. It preserves source field order, which a map round-trip would lose.
// Returns false when the line is not a lone JSON object or carries neither a
// level nor a message field.
func parseJSONLine(raw string) (parsedLine, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return parsedLine{}, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return parsedLine{}, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return parsedLine{}, false
	}
	type kv struct {
		key string
		val json.RawMessage
	}
	var pairs []kv
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return parsedLine{}, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return parsedLine{}, false
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return parsedLine{}, false
		}
		pairs = append(pairs, kv{key: key, val: val})
	}
	if _, err := dec.Token(); err != nil {
		return parsedLine{}, false
	}
	// Anything after the closing brace disqualifies the line.
	if _, err := dec.Token(); err != io.EOF {
		return parsedLine{}, false
	}

	var out parsedLine
	levelKey, messageKey := "", ""
	for _, want := range levelKeys {
		for _, p := range pairs {
			if p.key == want {
				out.HasLevel = true
				out.Level, out.LevelKnown = normalizeLevel(scalarString(p.val))
				levelKey = want
				break
			}
		}
		if out.HasLevel {
			break
		}
	}
	for _, want := range messageKeys {
		for _, p := range pairs {
			if p.key == want {
				out.HasMessage = true
				out.Message = scalarString(p.val)
				messageKey = want
				break
			}
		}
		if out.HasMessage {
			break
		}
	}
	if !out.HasLevel && !out.HasMessage {
		return parsedLine{}, false
	}
	for _, p := range pairs {
		if p.key == levelKey || p.key == messageKey {
			continue
		}
		out.Fields = append(out.Fields, jsonField{Key: p.key, Value: scalarString(p.val)})
	}
	return out, true
}

// scalarString renders a raw JSON value for display: strings unquoted,
// everything else in its compact source form.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

// normalizeLevel canonicalizes the zoo of level spellings. Unrecognized
// values are uppercased and shown without level color.
func normalizeLevel(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INFO", "INF":
		return "INFO", true
	case "WARN", "WARNING":
		return "WARN", true
	case "ERROR", "ERR", "FATAL", "CRIT":
		return "ERROR", true
	case "DEBUG", "DBG":
		return "DEBUG", true
	default:
		return strings.ToUpper(strings.TrimSpace(raw)), false
	}
}
