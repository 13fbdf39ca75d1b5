// Package subjectexploder provides a processor component that derives
// subjectLiteral_exploded on catalog documents as they flow through the
// indexing pipeline.
package subjectexploder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semcatalog/document"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

// subjectExploderSchema defines the configuration schema.
var subjectExploderSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// streamPublisher is the part of the NATS client used to forward
// prepared documents.
type streamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Component implements the subject-exploder processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	publisher  streamPublisher
	logger     *slog.Logger
	metrics    *Metrics
	policy     document.InvalidPolicy

	inputSubject  string
	inputStream   string
	outputSubject string

	// Lifecycle management
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Counters
	documentsPrepared atomic.Int64
	documentsSkipped  atomic.Int64
	documentsRejected atomic.Int64
	publishErrors     atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new subject-exploder processor component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Use default config if ports not set
	if config.Ports == nil {
		config = DefaultConfig()
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("unmarshal config with defaults: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics, err := NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return newComponent(config, deps.NATSClient, deps.GetLogger(), metrics), nil
}

func newComponent(config Config, natsClient *natsclient.Client, logger *slog.Logger, metrics *Metrics) *Component {
	if logger == nil {
		logger = slog.Default()
	}

	inputSubject := defaultInputSubject
	inputStream := defaultStream
	outputSubject := defaultOutputSubject

	if config.Ports != nil {
		if len(config.Ports.Inputs) > 0 {
			inputSubject = config.Ports.Inputs[0].Subject
			if config.Ports.Inputs[0].StreamName != "" {
				inputStream = config.Ports.Inputs[0].StreamName
			}
		}
		if len(config.Ports.Outputs) > 0 {
			outputSubject = config.Ports.Outputs[0].Subject
		}
	}

	c := &Component{
		name:          "subject-exploder",
		config:        config,
		natsClient:    natsClient,
		logger:        logger,
		metrics:       metrics,
		policy:        config.GetInvalidPolicy(),
		inputSubject:  inputSubject,
		inputStream:   inputStream,
		outputSubject: outputSubject,
	}
	if natsClient != nil {
		c.publisher = natsClient
	}
	return c
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start begins consuming catalog documents.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	consumerCfg := natsclient.StreamConsumerConfig{
		StreamName:    c.inputStream,
		ConsumerName:  c.config.ConsumerName,
		FilterSubject: c.inputSubject,
		DeliverPolicy: c.config.GetDeliverPolicy(),
		AckPolicy:     "explicit",
		MaxDeliver:    c.config.GetMaxDeliver(),
		AckWait:       c.config.GetAckWait(),
	}

	err := c.natsClient.ConsumeStreamWithConfig(consumeCtx, consumerCfg, c.handleMessage)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("start consumer: %w", err)
	}

	c.logger.Info("subject-exploder started",
		"stream", c.inputStream,
		"input", c.inputSubject,
		"output", c.outputSubject,
		"invalid_policy", c.policy)

	return nil
}

// handleMessage prepares one document and forwards it. Malformed data is
// never retryable and is terminated; publish failures are redelivered.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	started := time.Now()

	prepared, err := c.prepare(msg.Data())
	if err != nil {
		c.documentsRejected.Add(1)
		c.metrics.RecordDocument(outcomeRejected, 0, time.Since(started))
		c.logger.Warn("Rejected catalog document",
			"subject", msg.Subject(),
			"error", err)
		_ = msg.Term()
		return
	}

	if err := c.publish(ctx, prepared); err != nil {
		c.publishErrors.Add(1)
		c.metrics.RecordDocument(outcomeFailed, 0, time.Since(started))
		c.logger.Warn("Failed to publish prepared document",
			"id", prepared.ID,
			"request_id", prepared.RequestID,
			"subject", c.outputSubject,
			"error", err)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
	c.record(prepared, time.Since(started))
	c.updateLastActivity()

	c.logger.Debug("Prepared catalog document",
		"id", prepared.ID,
		"request_id", prepared.RequestID,
		"exploded", prepared.Exploded,
		"exploded_count", prepared.ExplodedCount)
}

// prepare decodes a document message and runs the exploder on it.
func (c *Component) prepare(data []byte) (*PreparedDocumentPayload, error) {
	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		return nil, fmt.Errorf("unmarshal base message: %w", err)
	}

	payload, ok := baseMsg.Payload().(*DocumentPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %s", baseMsg.Type())
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	requestID := payload.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	prepared := &PreparedDocumentPayload{
		ID:         payload.ID,
		RequestID:  requestID,
		PreparedAt: time.Now(),
	}

	doc, err := document.Prepare(payload.Document)
	if err != nil {
		if c.policy == document.PolicyPassthrough && document.IsInvalid(err) {
			prepared.Document = payload.Document
			prepared.Invalid = err.Error()
			return prepared, nil
		}
		return nil, fmt.Errorf("document %s: %w", payload.ID, err)
	}

	out, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal document %s: %w", payload.ID, err)
	}
	prepared.Document = out

	if exploded, ok := doc.Exploded(); ok {
		prepared.Exploded = true
		prepared.ExplodedCount = len(exploded)
	}
	return prepared, nil
}

// publish wraps a PreparedDocumentPayload and publishes it to the output subject.
func (c *Component) publish(ctx context.Context, prepared *PreparedDocumentPayload) error {
	if c.publisher == nil {
		return fmt.Errorf("NATS client required")
	}
	msg := message.NewBaseMessage(PreparedDocumentType, prepared, c.name)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal prepared message: %w", err)
	}
	return c.publisher.PublishToStream(ctx, c.outputSubject, data)
}

func (c *Component) record(prepared *PreparedDocumentPayload, elapsed time.Duration) {
	switch {
	case prepared.Invalid != "":
		c.documentsRejected.Add(1)
		c.metrics.RecordDocument(outcomePassthrough, 0, elapsed)
	case prepared.Exploded:
		c.documentsPrepared.Add(1)
		c.metrics.RecordDocument(outcomeExploded, prepared.ExplodedCount, elapsed)
	default:
		c.documentsSkipped.Add(1)
		c.metrics.RecordDocument(outcomeSkipped, 0, elapsed)
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("subject-exploder stopped",
		"documents_prepared", c.documentsPrepared.Load(),
		"documents_skipped", c.documentsSkipped.Load(),
		"documents_rejected", c.documentsRejected.Load(),
		"publish_errors", c.publishErrors.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "subject-exploder",
		Type:        "processor",
		Description: "Derives subjectLiteral_exploded on catalog documents before indexing",
		Version:     "1.0.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = buildPort(portDef, component.DirectionInput)
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = buildPort(portDef, component.DirectionOutput)
	}
	return ports
}

func buildPort(portDef component.PortDefinition, direction component.Direction) component.Port {
	port := component.Port{
		Name:        portDef.Name,
		Direction:   direction,
		Required:    portDef.Required,
		Description: portDef.Description,
	}
	if portDef.Type == "jetstream" {
		port.Config = component.JetStreamPort{
			StreamName: portDef.StreamName,
			Subjects:   []string{portDef.Subject},
		}
	} else {
		port.Config = component.NATSPort{
			Subject: portDef.Subject,
		}
	}
	return port
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return subjectExploderSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.documentsRejected.Load() + c.publishErrors.Load()),
		Uptime:     uptime,
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
