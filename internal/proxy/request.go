package proxy

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ReplyRequest is the normalized body of a reply call.
type ReplyRequest struct {
	Prompt        string
	Style         string
	AssistantName string
}

// Defaults fill in request fields that are absent or empty.
type Defaults struct {
	Style         string
	AssistantName string
}

// ParseReplyRequest normalizes any inbound body into a ReplyRequest. It never
// fails: a JSON object is used as is, a JSON string is decoded once more, and
// anything else counts as an empty object.
//
// Fields that are missing, null, false, zero or the empty string take their
// default. Other scalars are rendered as text and nested values as compact
// JSON. "assistant" is read when "assistantName" is not usable.
func ParseReplyRequest(body []byte, d Defaults) ReplyRequest {
	fields := decodeObject(body)

	name, ok := textField(fields["assistantName"])
	if !ok {
		name, ok = textField(fields["assistant"])
	}
	if !ok {
		name = d.AssistantName
	}

	return ReplyRequest{
		Prompt:        fieldOr(fields, "prompt", ""),
		Style:         fieldOr(fields, "style", d.Style),
		AssistantName: name,
	}
}

func decodeObject(body []byte) map[string]any {
	v, ok := decodeJSON(body)
	if !ok {
		return map[string]any{}
	}
	if s, isString := v.(string); isString {
		v, ok = decodeJSON([]byte(s))
		if !ok {
			return map[string]any{}
		}
	}
	if m, isObject := v.(map[string]any); isObject {
		return m
	}
	return map[string]any{}
}

// decodeJSON decodes exactly one JSON value, keeping numbers as written.
func decodeJSON(data []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if len(bytes.TrimSpace(data[dec.InputOffset():])) > 0 {
		return nil, false
	}
	return v, true
}

func fieldOr(fields map[string]any, key, def string) string {
	if s, ok := textField(fields[key]); ok {
		return s
	}
	return def
}

// textField coerces a decoded JSON value to text. It reports false for
// values that should fall back to a default.
func textField(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err == nil && f == 0 {
			return "", false
		}
		return t.String(), true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}
