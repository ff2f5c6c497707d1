package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// PubSubMessage is the envelope published for every outbox record.
type PubSubMessage struct {
	ID                  int       `json:"id"`
	BusinessId          string    `json:"business_id"`
	TransactionDateTime time.Time `json:"transaction_date_time"`
	ReferenceId         int       `json:"reference_id"`
	ReferenceType       string    `json:"reference_type"`
	EventType           string    `json:"event_type"`
	Action              string    `json:"action"`
	OldObj              []byte    `json:"old_obj"`
	NewObj              []byte    `json:"new_obj"`
	CorrelationId       string    `json:"correlation_id"`
}

func (m PubSubMessage) attributes() map[string]string {
	return map[string]string{
		"business_id":    m.BusinessId,
		"reference_type": m.ReferenceType,
		"event_type":     m.EventType,
		"correlation_id": m.CorrelationId,
	}
}

type eventTopic struct {
	mu     sync.Mutex
	client *pubsub.Client
	topic  *pubsub.Topic
}

var events eventTopic

func pubSubProjectId() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// PubSubConfigured reports whether PUBSUB_TOPIC and a project id are set.
func PubSubConfigured() bool {
	return pubSubProjectId() != "" && strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) != ""
}

// get lazily connects. Failed attempts are retried with capped exponential
// backoff until ctx is done.
func (e *eventTopic) get(ctx context.Context) (*pubsub.Topic, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.topic != nil {
		return e.topic, nil
	}

	projectId := pubSubProjectId()
	topicName := strings.TrimSpace(os.Getenv("PUBSUB_TOPIC"))
	if projectId == "" || topicName == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID and PUBSUB_TOPIC are required")
	}
	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	sleep := time.Second
	for attempt := 1; ; attempt++ {
		client, err := pubsub.NewClient(ctx, projectId, opts...)
		if err == nil {
			e.client = client
			e.topic = client.Topic(topicName)
			// orders for one business are delivered in commit order
			e.topic.EnableMessageOrdering = true
			GetLogger().WithFields(logrus.Fields{"project_id": projectId, "topic": topicName, "attempt": attempt}).Info("pubsub topic ready")
			return e.topic, nil
		}
		GetLogger().WithFields(logrus.Fields{"project_id": projectId, "attempt": attempt, "retry_in": sleep.String()}).Warn("pubsub client init failed: " + err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		if sleep < 30*time.Second {
			sleep *= 2
		}
	}
}

// PublishOutboxMessage publishes msg and waits for the server-assigned message id.
func PublishOutboxMessage(ctx context.Context, msg PubSubMessage) (string, error) {
	topic, err := events.get(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  msg.attributes(),
		OrderingKey: msg.BusinessId,
	})
	id, err := result.Get(ctx)
	if err != nil {
		// an ordering key stays paused after a failure until resumed
		topic.ResumePublish(msg.BusinessId)
		return "", err
	}
	return id, nil
}

// ClosePubSub flushes pending publishes and closes the client.
func ClosePubSub() {
	events.mu.Lock()
	defer events.mu.Unlock()
	if events.topic != nil {
		events.topic.Stop()
		events.topic = nil
	}
	if events.client != nil {
		_ = events.client.Close()
		events.client = nil
	}
}
