package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

// ReadDocuments decodes a stream of JSON documents and calls fn with each
// one in order. The stream may be NDJSON, concatenated objects, or a single
// top-level array of documents. Reading stops at the first error from fn,
// which is returned unchanged.
func ReadDocuments(r io.Reader, fn func(index int, raw json.RawMessage) error) error {
	dec := gojson.NewDecoder(r)
	index := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode document %d: %w", index, err)
		}

		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
			var elems []json.RawMessage
			if err := gojson.Unmarshal(trimmed, &elems); err != nil {
				return fmt.Errorf("decode document array: %w", err)
			}
			for _, elem := range elems {
				if err := fn(index, elem); err != nil {
					return err
				}
				index++
			}
			continue
		}

		if err := fn(index, raw); err != nil {
			return err
		}
		index++
	}
}

// Writer writes documents as NDJSON.
type Writer struct {
	buf   *bufio.Writer
	enc   *gojson.Encoder
	count int
}

// NewWriter returns a Writer that buffers output to w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	enc := gojson.NewEncoder(buf)
	// Subject headings routinely contain "&"; keep them readable.
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// Write encodes v as one line.
func (w *Writer) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	w.count++
	return nil
}

// Flush writes buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Count returns the number of documents written.
func (w *Writer) Count() int {
	return w.count
}
