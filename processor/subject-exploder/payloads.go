package subjectexploder

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "catalog",
		Category:    "document",
		Version:     "v1",
		Description: "Catalog document submitted for index preparation",
		Factory:     func() any { return &DocumentPayload{} },
	})
	if err != nil {
		panic("failed to register DocumentPayload: " + err.Error())
	}

	err = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "catalog",
		Category:    "prepared",
		Version:     "v1",
		Description: "Catalog document with derived fields, ready for indexing",
		Factory:     func() any { return &PreparedDocumentPayload{} },
	})
	if err != nil {
		panic("failed to register PreparedDocumentPayload: " + err.Error())
	}
}

// DocumentType is the message type for incoming catalog documents.
var DocumentType = message.Type{Domain: "catalog", Category: "document", Version: "v1"}

// PreparedDocumentType is the message type for prepared catalog documents.
var PreparedDocumentType = message.Type{Domain: "catalog", Category: "prepared", Version: "v1"}

// DocumentPayload carries one document from the host pipeline.
type DocumentPayload struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id,omitempty"`
	Document  json.RawMessage `json:"document"`
}

// Schema returns the message type for Payload interface.
func (p *DocumentPayload) Schema() message.Type { return DocumentType }

// Validate validates the payload for Payload interface.
func (p *DocumentPayload) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if len(p.Document) == 0 {
		return errors.New("document is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *DocumentPayload) MarshalJSON() ([]byte, error) {
	type Alias DocumentPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *DocumentPayload) UnmarshalJSON(data []byte) error {
	type Alias DocumentPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// PreparedDocumentPayload is handed back to the host pipeline for indexing.
type PreparedDocumentPayload struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Document  json.RawMessage `json:"document"`

	// Exploded is true when subjectLiteral_exploded was written.
	Exploded      bool `json:"exploded"`
	ExplodedCount int  `json:"exploded_count"`

	// Invalid holds the validation error of a document forwarded unchanged
	// under the passthrough policy.
	Invalid string `json:"invalid,omitempty"`

	PreparedAt time.Time `json:"prepared_at"`
}

// Schema returns the message type for Payload interface.
func (p *PreparedDocumentPayload) Schema() message.Type { return PreparedDocumentType }

// Validate validates the payload for Payload interface.
func (p *PreparedDocumentPayload) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.RequestID == "" {
		return errors.New("request_id is required")
	}
	if len(p.Document) == 0 {
		return errors.New("document is required")
	}
	if p.Exploded && p.Invalid != "" {
		return errors.New("an invalid document cannot be exploded")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *PreparedDocumentPayload) MarshalJSON() ([]byte, error) {
	type Alias PreparedDocumentPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PreparedDocumentPayload) UnmarshalJSON(data []byte) error {
	type Alias PreparedDocumentPayload
	return json.Unmarshal(data, (*Alias)(p))
}
