package taskstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	agenterrors "agentstudio/internal/errors"
)

// Output is the decoded task result. Exactly one of Fields or Text is set
// for a non-empty output.
type Output struct {
	Fields map[string]any
	Text   string
}

// Structured reports whether the output decoded to a JSON object.
func (o Output) Structured() bool {
	return o.Fields != nil
}

// Keys returns the top-level field names in sorted order.
func (o Output) Keys() []string {
	keys := make([]string, 0, len(o.Fields))
	for k := range o.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseOutput decodes the remote output on demand. The remote sends either an
// object, or a string that itself may hold JSON. Malformed JSON is repaired
// when possible; otherwise a ParseFailureError is returned and callers should
// treat the task as having no structured data.
func ParseOutput(raw json.RawMessage) (Output, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Output{}, nil
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Output{}, &agenterrors.ParseFailureError{Err: err}
		}
		text = strings.TrimSpace(text)
		if !looksLikeJSON(text) {
			return Output{Text: text}, nil
		}
	}

	fields, err := decodeObject(text)
	if err == nil {
		return Output{Fields: fields}, nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(text)
	if repairErr != nil {
		return Output{}, &agenterrors.ParseFailureError{Err: err}
	}
	fields, err = decodeObject(repaired)
	if err != nil {
		return Output{}, &agenterrors.ParseFailureError{Err: err}
	}
	return Output{Fields: fields}, nil
}

// ParsedOutput is a convenience over ParseOutput that degrades a parse
// failure to an empty output.
func (s State) ParsedOutput() Output {
	out, err := ParseOutput(s.Output)
	if err != nil {
		return Output{}
	}
	return out
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch typed := v.(type) {
	case map[string]any:
		return typed, nil
	case []any:
		return map[string]any{"items": typed}, nil
	default:
		return nil, fmt.Errorf("output is %T, not an object", v)
	}
}
