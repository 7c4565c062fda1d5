package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes jobs to a print-job topic. The job id is generated locally
// and used as the message key.
type Kafka struct {
	writer MessageWriter
	source string
	now    func() time.Time
}

// KafkaOptions configures NewKafka.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	RequiredAcks int // -1 all, 1 leader; 0 means all
	Source       string
}

// NewKafka creates a publisher writing synchronously to the topic.
func NewKafka(opts KafkaOptions) *Kafka {
	acks := opts.RequiredAcks
	if acks == 0 {
		acks = int(kafka.RequireAll)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequiredAcks(acks),
		Async:        false,
	}
	return NewKafkaWithWriter(w, opts.Source)
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w MessageWriter, source string) *Kafka {
	if source == "" {
		source = "labelflow"
	}
	return &Kafka{writer: w, source: source, now: time.Now}
}

// Submit implements the print collaborator.
func (k *Kafka) Submit(ctx context.Context, job models.PrintJob) (string, error) {
	msg := toMessage(job)
	msg.JobID = uuid.New().String()

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	now := k.now()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.JobID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "ce-type", Value: []byte("labelflow.print.requested")},
			{Key: "ce-source", Value: []byte(k.source)},
			{Key: "ce-id", Value: []byte(msg.JobID)},
			{Key: "ce-time", Value: []byte(now.Format(time.RFC3339))},
			{Key: "priority", Value: []byte(msg.Priority)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: now,
	})
	if err != nil {
		return "", fmt.Errorf("publish print job: %w", err)
	}
	return msg.JobID, nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
