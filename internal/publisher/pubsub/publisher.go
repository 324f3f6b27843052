// Package pubsub announces job completion over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// JobCompleted marshals the summary to JSON and publishes it with the job ID
// as a message attribute.
func (p *Publisher) JobCompleted(ctx context.Context, jobID string, summary any) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"jobId": jobID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}
