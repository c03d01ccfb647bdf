// Package notify announces finished harvest runs on Google Cloud Pub/Sub so
// downstream jobs can pick up a fresh snapshot.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// EventRunFinished is the "event" attribute of every published message.
const EventRunFinished = "harvest.run_finished"

// RunFinished is the message payload.
type RunFinished struct {
	RunID        string    `json:"run_id"`
	Mode         string    `json:"mode"`
	StartPage    int       `json:"start_page"`
	EndPage      int       `json:"end_page"`
	Total        int       `json:"total"`
	PagesDone    int       `json:"pages_done"`
	PagesSkipped int       `json:"pages_skipped"`
	ItemsFailed  int       `json:"items_failed"`
	StatePath    string    `json:"state_path"`
	Interrupted  bool      `json:"interrupted"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Publisher publishes run events to one topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New returns a Publisher for topicID on client.
func New(client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Publisher{topic: client.Topic(topicID)}, nil
}

// Publish sends ev and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, ev RunFinished) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":  EventRunFinished,
			"run_id": ev.RunID,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *Publisher) Stop() {
	p.topic.Stop()
}
