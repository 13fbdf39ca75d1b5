package subjectexploder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/c360studio/semcatalog/document"
	"github.com/c360studio/semstreams/message"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMsg is a jetstream.Msg that records how it was settled.
type recordingMsg struct {
	jetstream.Msg
	data []byte

	acks, naks, terms int
}

func (m *recordingMsg) Data() []byte    { return m.data }
func (m *recordingMsg) Subject() string { return defaultInputSubject }
func (m *recordingMsg) Ack() error      { m.acks++; return nil }
func (m *recordingMsg) Nak() error      { m.naks++; return nil }
func (m *recordingMsg) Term() error     { m.terms++; return nil }

type recordingPublisher struct {
	err      error
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestHandleMessage_Settlement(t *testing.T) {
	valid := &DocumentPayload{
		ID:       "b1",
		Document: json.RawMessage(`{"uri":"b1","subjectLiteral":["A -- B."]}`),
	}
	invalid := &DocumentPayload{
		ID:       "b2",
		Document: json.RawMessage(`{"uri":"b2","subjectLiteral":"A -- B"}`),
	}

	tests := []struct {
		name        string
		policy      document.InvalidPolicy
		payload     *DocumentPayload
		raw         []byte
		publishErr  error
		wantAcks    int
		wantNaks    int
		wantTerms   int
		wantPublish int
		wantOutcome string
	}{
		{
			name:        "prepared document is acked",
			policy:      document.PolicyReject,
			payload:     valid,
			wantAcks:    1,
			wantPublish: 1,
			wantOutcome: outcomeExploded,
		},
		{
			name:        "invalid document is terminated under reject",
			policy:      document.PolicyReject,
			payload:     invalid,
			wantTerms:   1,
			wantOutcome: outcomeRejected,
		},
		{
			name:        "invalid document is forwarded under passthrough",
			policy:      document.PolicyPassthrough,
			payload:     invalid,
			wantAcks:    1,
			wantPublish: 1,
			wantOutcome: outcomePassthrough,
		},
		{
			name:        "undecodable envelope is terminated",
			policy:      document.PolicyPassthrough,
			raw:         []byte(`{"type":`),
			wantTerms:   1,
			wantOutcome: outcomeRejected,
		},
		{
			name:        "publish failure is redelivered",
			policy:      document.PolicyReject,
			payload:     valid,
			publishErr:  errors.New("stream unavailable"),
			wantNaks:    1,
			wantOutcome: outcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestComponent(t, tt.policy)
			pub := &recordingPublisher{err: tt.publishErr}
			c.publisher = pub

			data := tt.raw
			if data == nil {
				data = documentMessage(t, tt.payload)
			}
			msg := &recordingMsg{data: data}

			c.handleMessage(context.Background(), msg)

			assert.Equal(t, tt.wantAcks, msg.acks, "acks")
			assert.Equal(t, tt.wantNaks, msg.naks, "naks")
			assert.Equal(t, tt.wantTerms, msg.terms, "terms")
			assert.Len(t, pub.payloads, tt.wantPublish)
			assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.documents.WithLabelValues(tt.wantOutcome)))
		})
	}
}

func TestHandleMessage_PublishesToOutputSubject(t *testing.T) {
	c := newTestComponent(t, document.PolicyReject)
	pub := &recordingPublisher{}
	c.publisher = pub

	c.handleMessage(context.Background(), &recordingMsg{data: documentMessage(t, &DocumentPayload{
		ID:        "b1",
		RequestID: "req-7",
		Document:  json.RawMessage(`{"uri":"b1","subjectLiteral":["A -- B."]}`),
	})})

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, defaultOutputSubject, pub.subjects[0])

	var baseMsg message.BaseMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &baseMsg))
	prepared, ok := baseMsg.Payload().(*PreparedDocumentPayload)
	require.True(t, ok, "unexpected payload type %T", baseMsg.Payload())

	assert.Equal(t, "req-7", prepared.RequestID)
	assert.Equal(t, 2, prepared.ExplodedCount)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(prepared.Document, &doc))
	assert.JSONEq(t, `["A","A -- B"]`, string(doc[document.FieldSubjectLiteralExploded]))
}

func TestPrepare_KeepsHTMLCharacters(t *testing.T) {
	c := newTestComponent(t, document.PolicyReject)

	prepared, err := c.prepare(documentMessage(t, &DocumentPayload{
		ID:       "b3",
		Document: json.RawMessage(`{"uri":"b3","subjectLiteral":["Arts & Crafts -- <Exhibitions>."]}`),
	}))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(prepared.Document, &doc))
	assert.Equal(t, `["Arts & Crafts","Arts & Crafts -- <Exhibitions>"]`, string(doc[document.FieldSubjectLiteralExploded]))
}
