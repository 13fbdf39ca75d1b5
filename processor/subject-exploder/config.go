package subjectexploder

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semcatalog/document"
	"github.com/c360studio/semstreams/component"
)

// Default subjects and stream for the catalog document pipeline.
const (
	defaultStream        = "CATALOG"
	defaultInputSubject  = "catalog.document.index"
	defaultOutputSubject = "catalog.document.prepared"
	defaultConsumerName  = "subject-exploder"
	defaultAckWait       = 10 * time.Second
	defaultMaxDeliver    = 3
	defaultDeliverPolicy = "all"
)

// Config holds configuration for the subject-exploder processor component.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:subject-exploder"`

	// InvalidPolicy decides what happens to documents that fail validation.
	InvalidPolicy string `json:"invalid_policy" schema:"type:string,description:Handling of invalid documents (reject/passthrough),category:basic,default:reject"`

	// DeliverPolicy selects where a new durable consumer starts reading.
	DeliverPolicy string `json:"deliver_policy" schema:"type:string,description:Consumer deliver policy (all/new/last),category:advanced,default:all"`

	// AckWait is how long JetStream waits for an ack before redelivering.
	AckWait string `json:"ack_wait" schema:"type:string,description:Ack wait before redelivery,category:advanced,default:10s"`

	// MaxDeliver bounds redeliveries of a message that keeps failing to publish.
	MaxDeliver int `json:"max_deliver" schema:"type:int,description:Maximum delivery attempts,category:advanced,default:3"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	policy, err := document.ParseInvalidPolicy(c.InvalidPolicy)
	if err != nil {
		return err
	}
	if policy == document.PolicyFail {
		return fmt.Errorf("invalid_policy %q is not supported by a stream processor (valid: reject, passthrough)", c.InvalidPolicy)
	}
	switch strings.ToLower(c.DeliverPolicy) {
	case "", "all", "new", "last":
	default:
		return fmt.Errorf("unsupported deliver_policy: %s (valid: all, new, last)", c.DeliverPolicy)
	}
	if c.AckWait != "" {
		d, err := time.ParseDuration(c.AckWait)
		if err != nil {
			return fmt.Errorf("invalid ack_wait format: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("ack_wait must be positive, got %s", c.AckWait)
		}
	}
	if c.MaxDeliver < 0 {
		return fmt.Errorf("max_deliver must not be negative, got %d", c.MaxDeliver)
	}
	if c.Ports != nil {
		if len(c.Ports.Inputs) == 0 || c.Ports.Inputs[0].Subject == "" {
			return fmt.Errorf("ports: an input port with a subject is required")
		}
		if len(c.Ports.Outputs) == 0 || c.Ports.Outputs[0].Subject == "" {
			return fmt.Errorf("ports: an output port with a subject is required")
		}
	}
	return nil
}

// GetInvalidPolicy returns the parsed invalid-document policy.
func (c *Config) GetInvalidPolicy() document.InvalidPolicy {
	policy, err := document.ParseInvalidPolicy(c.InvalidPolicy)
	if err != nil {
		return document.PolicyReject
	}
	return policy
}

// GetDeliverPolicy returns the consumer deliver policy.
func (c *Config) GetDeliverPolicy() string {
	if c.DeliverPolicy == "" {
		return defaultDeliverPolicy
	}
	return strings.ToLower(c.DeliverPolicy)
}

// GetAckWait returns the ack wait as a duration.
func (c *Config) GetAckWait() time.Duration {
	if c.AckWait == "" {
		return defaultAckWait
	}
	d, err := time.ParseDuration(c.AckWait)
	if err != nil || d <= 0 {
		return defaultAckWait
	}
	return d
}

// GetMaxDeliver returns the maximum delivery attempts.
func (c *Config) GetMaxDeliver() int {
	if c.MaxDeliver <= 0 {
		return defaultMaxDeliver
	}
	return c.MaxDeliver
}

// DefaultConfig returns default configuration for the subject-exploder processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "documents.in",
			Type:        "jetstream",
			Subject:     defaultInputSubject,
			StreamName:  defaultStream,
			Required:    true,
			Description: "Catalog documents awaiting index preparation",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "documents.out",
			Type:        "jetstream",
			Subject:     defaultOutputSubject,
			StreamName:  defaultStream,
			Required:    true,
			Description: "Documents carrying subjectLiteral_exploded, ready for indexing",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		ConsumerName:  defaultConsumerName,
		InvalidPolicy: string(document.PolicyReject),
		DeliverPolicy: defaultDeliverPolicy,
		AckWait:       defaultAckWait.String(),
		MaxDeliver:    defaultMaxDeliver,
	}
}
