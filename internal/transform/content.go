package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type partKind int

const (
	partString partKind = iota
	partText
	partImage
	partUnknown
)

func classifyPart(part any) partKind {
	if _, ok := part.(string); ok {
		return partString
	}
	if m, ok := part.(map[string]any); ok {
		// A present but null text key is still a text part.
		if _, has := m["text"]; has {
			return partText
		}
	} else if _, ok := Field(part, "text"); ok {
		return partText
	}
	if typ, _ := StringField(part, "type"); typ == "image_url" {
		return partImage
	}
	return partUnknown
}

// Flatten turns message content into a single string. Strings are returned
// unchanged; list elements are converted one by one and concatenated without
// a separator. If converting a part panics, the raw list is stringified
// instead.
func Flatten(content any) (out string) {
	if s, ok := content.(string); ok {
		return s
	}

	parts, ok := SliceOf(content)
	if !ok {
		return stringify(content)
	}

	defer func() {
		if r := recover(); r != nil {
			out = stringify(content)
		}
	}()

	var b strings.Builder
	for _, part := range parts {
		b.WriteString(partToText(part))
	}
	return b.String()
}

func partToText(part any) string {
	switch classifyPart(part) {
	case partString:
		return part.(string)
	case partText:
		text, _ := Field(part, "text")
		if s, ok := text.(string); ok {
			return s
		}
		return stringify(text)
	case partImage:
		return fmt.Sprintf("[Image: %s]", imageURL(part))
	default:
		return stringify(part)
	}
}

func imageURL(part any) string {
	ref, ok := Field(part, "image_url")
	if !ok {
		return "unknown"
	}
	if s, ok := ref.(string); ok && s != "" {
		return s
	}
	if u, ok := StringField(ref, "url"); ok && u != "" {
		return u
	}
	return "unknown"
}

// stringify is the conversion for values of unknown shape. Mappings and
// sequences become compact JSON with non-ASCII and HTML characters kept as is.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}

	if _, ok := SliceOf(v); ok {
		if s, err := encodeJSON(v); err == nil {
			return s
		}
	} else if _, ok := MapOf(v); ok {
		if s, err := encodeJSON(v); err == nil {
			return s
		}
	}

	return fmt.Sprint(v)
}

// encodeJSON marshals v without escaping non-ASCII or HTML characters.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
