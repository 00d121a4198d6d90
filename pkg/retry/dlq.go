package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DLQMessage is the envelope written to a dead-letter topic when a
// record exhausts its retry budget.
type DLQMessage struct {
	ID            string            `json:"id"`
	OriginalTopic string            `json:"original_topic"`
	OriginalKey   string            `json:"original_key"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	Error         string            `json:"error"`
	Attempts      int               `json:"attempts"`
	FirstAttemptAt time.Time        `json:"first_attempt_at"`
	LastAttemptAt  time.Time        `json:"last_attempt_at"`
	MovedToDLQAt   time.Time        `json:"moved_to_dlq_at"`
	Source         string           `json:"source"`
}

// ProduceFunc sends one record to a topic. It decouples the DLQ from
// any concrete broker client.
type ProduceFunc func(ctx context.Context, topic string, key, value []byte, headers map[string]string) error

// DLQPublisher routes exhausted records to a per-topic dead-letter
// topic named "<topic>.dlq".
type DLQPublisher struct {
	produce ProduceFunc
	source  string
}

// NewDLQPublisher creates a DLQ publisher. source names the producing
// service in the DLQ envelope.
func NewDLQPublisher(produce ProduceFunc, source string) *DLQPublisher {
	return &DLQPublisher{produce: produce, source: source}
}

// DLQTopic returns the dead-letter topic for an original topic
func (p *DLQPublisher) DLQTopic(topic string) string {
	return topic + ".dlq"
}

// Publish writes the message to its dead-letter topic
func (p *DLQPublisher) Publish(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("dlq message is required")
	}
	if msg.OriginalTopic == "" {
		return fmt.Errorf("dlq message original topic is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message %s: %w", msg.ID, err)
	}

	headers := map[string]string{
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"source":         p.source,
	}
	return p.produce(ctx, p.DLQTopic(msg.OriginalTopic), []byte(msg.OriginalKey), payload, headers)
}
