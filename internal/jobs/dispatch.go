package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

// Dispatcher publishes JobSubmitted events keyed by job id.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewDispatcher(producer sarama.SyncProducer, topic string) *Dispatcher {
	return &Dispatcher{producer: producer, topic: topic}
}

func (d *Dispatcher) Publish(evt models.JobSubmitted) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.JobID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := d.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", evt.JobID, err)
	}
	return nil
}

// DecodeSubmitted parses a message value produced by Publish.
func DecodeSubmitted(value []byte) (models.JobSubmitted, error) {
	var evt models.JobSubmitted
	if err := json.Unmarshal(value, &evt); err != nil {
		return evt, fmt.Errorf("failed to decode job event: %w", err)
	}
	if evt.JobID == "" || evt.UserID == "" {
		return evt, fmt.Errorf("job event is missing job_id or user_id")
	}
	return evt, nil
}
