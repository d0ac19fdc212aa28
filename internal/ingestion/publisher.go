package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes operation outcomes to NATS for
// downstream consumers. Applied operations are published after the
// core has emitted them; rejections are published as terminal
// outcomes so callers learn why their op did not settle.
// Subjects follow the pattern: starpool.events.{op_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableOp
}

// PublishableOp is a processed operation ready for outbound publishing.
type PublishableOp struct {
	Sequence       int64       `json:"sequence"`
	OpType         string      `json:"op_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Caller         string      `json:"caller"`
	Outcome        string      `json:"outcome"` // "applied" or "rejected"
	RejectReason   string      `json:"reject_reason,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
	StateHash      []byte      `json:"state_hash,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableOp) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Sequence, err)
				// Non-fatal: downstream consumers can query the op log directly
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, out PublishableOp) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	subject := fmt.Sprintf("starpool.events.%s", out.OpType)

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "STARPOOL_EVENTS",
		Subjects:  []string{"starpool.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream STARPOOL_EVENTS")
	return nil
}
