// Package document is the typed boundary between the indexing pipeline's
// free-form documents and the subject exploder.
//
// A Document keeps every attribute of the source JSON object verbatim and
// exposes the two attributes the exploder cares about through typed
// accessors. The input attribute is optional: a nil subjects pointer means
// the attribute was absent or null, which makes ExplodeSubjects a no-op.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/semcatalog/subject"
)

// Attribute names read and written by the exploder.
const (
	FieldSubjectLiteral         = "subjectLiteral"
	FieldSubjectLiteralExploded = "subjectLiteral_exploded"
)

// Document is a decoded pipeline document.
type Document struct {
	attrs map[string]json.RawMessage

	// subjects is nil when subjectLiteral is absent or null.
	subjects *[]string
}

// Decode parses and validates a JSON document. subjectLiteral, when
// present and not null, must be an array of strings; anything else is
// rejected with an error wrapping ErrInvalidSubjects or ErrInvalidElement.
func Decode(data []byte) (*Document, error) {
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(data, &attrs); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("decode document: %w: got %s", ErrNotObject, typeErr.Value)
		}
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if attrs == nil {
		return nil, fmt.Errorf("decode document: %w: got null", ErrNotObject)
	}

	d := &Document{attrs: attrs}
	if raw, ok := attrs[FieldSubjectLiteral]; ok && !isNull(raw) {
		subjects, err := decodeSubjects(raw)
		if err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		d.subjects = &subjects
	}
	return d, nil
}

// Prepare decodes a document and runs ExplodeSubjects on it.
func Prepare(data []byte) (*Document, error) {
	d, err := Decode(data)
	if err != nil {
		return nil, err
	}
	d.ExplodeSubjects()
	return d, nil
}

func decodeSubjects(raw json.RawMessage) ([]string, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidSubjects, kindOf(raw))
	}

	subjects := make([]string, len(elems))
	for i, elem := range elems {
		if kind := kindOf(elem); kind != "string" {
			return nil, &ElementError{Index: i, Kind: kind}
		}
		if err := json.Unmarshal(elem, &subjects[i]); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", FieldSubjectLiteral, i, err)
		}
	}
	return subjects, nil
}

// ExplodeSubjects derives subjectLiteral_exploded from subjectLiteral and
// stores it on the document, replacing any previous value. It reports
// whether the attribute was written; when subjectLiteral is absent the
// document is left untouched.
func (d *Document) ExplodeSubjects() bool {
	if d.subjects == nil {
		return false
	}
	// Encoding a []string cannot fail.
	raw, _ := encodeJSON(subject.Explode(*d.subjects))
	d.attrs[FieldSubjectLiteralExploded] = raw
	return true
}

// Subjects returns a copy of subjectLiteral and whether it was present.
func (d *Document) Subjects() ([]string, bool) {
	if d.subjects == nil {
		return nil, false
	}
	return append([]string{}, *d.subjects...), true
}

// Exploded returns subjectLiteral_exploded and whether it is set to an
// array of strings.
func (d *Document) Exploded() ([]string, bool) {
	raw, ok := d.attrs[FieldSubjectLiteralExploded]
	if !ok || isNull(raw) {
		return nil, false
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false
	}
	return values, true
}

// Attribute returns the raw JSON of any attribute.
func (d *Document) Attribute(name string) (json.RawMessage, bool) {
	raw, ok := d.attrs[name]
	return raw, ok
}

// ID returns the document's "uri" or, failing that, "id" attribute when it
// is a string. It is used to label logs and messages.
func (d *Document) ID() string {
	for _, key := range []string{"uri", "id"} {
		raw, ok := d.attrs[key]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id
		}
	}
	return ""
}

// MarshalJSON implements json.Marshaler. HTML characters are not escaped
// so headings such as "Arts & Crafts" survive verbatim.
func (d *Document) MarshalJSON() ([]byte, error) {
	return encodeJSON(d.attrs)
}

// encodeJSON is json.Marshal without HTML escaping.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// kindOf names the JSON kind of a raw value by its first byte.
func kindOf(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
