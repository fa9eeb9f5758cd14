// Package richtext reads message bodies written by the rich-text editor. A
// body is the editor's delta document ({"ops":[{"insert":...}]}) serialized as
// JSON; bodies that are not deltas are treated as HTML or plain text.
package richtext

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Delta is the editor document: a flat list of insert operations.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Op inserts either a string or an embed (an object such as {"image": ...}).
type Op struct {
	Insert     json.RawMessage        `json:"insert"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// text returns the string insert, or "" for embeds.
func (o Op) text() (string, bool) {
	var s string
	if err := json.Unmarshal(o.Insert, &s); err != nil {
		return "", false
	}
	return s, true
}

// Parse decodes a delta body. It fails for bodies that are not delta JSON.
func Parse(body string) (Delta, error) {
	var delta Delta
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return Delta{}, fmt.Errorf("not a delta document")
	}
	if err := json.Unmarshal([]byte(trimmed), &delta); err != nil {
		return Delta{}, fmt.Errorf("decode delta: %w", err)
	}
	if delta.Ops == nil {
		return Delta{}, fmt.Errorf("delta has no ops")
	}
	return delta, nil
}

var tagPattern = regexp.MustCompile(`</?[^>]+(>|$)`)

// PlainText extracts the visible text of a body with tags removed.
func PlainText(body string) string {
	if delta, err := Parse(body); err == nil {
		var out strings.Builder
		for _, op := range delta.Ops {
			if s, ok := op.text(); ok {
				out.WriteString(s)
			}
		}
		return stripTags(out.String())
	}
	return stripTags(body)
}

func stripTags(value string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(value, ""))
}

// IsEmpty reports whether a body has no visible text once tags are stripped
// and surrounding whitespace is trimmed.
func IsEmpty(body string) bool {
	return strings.TrimSpace(PlainText(body)) == ""
}

// FromText wraps plain text in a single-op delta, the shape the editor emits.
func FromText(text string) string {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	encoded, _ := json.Marshal(Delta{Ops: []Op{{Insert: mustJSON(text)}}})
	return string(encoded)
}

func mustJSON(value string) json.RawMessage {
	raw, _ := json.Marshal(value)
	return raw
}
