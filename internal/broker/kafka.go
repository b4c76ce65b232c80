package appkafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer defines an interface for writing messages to the broker.
type Writer interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// Reader defines an interface for reading messages from the broker. A
// fetched message stays owned by the broker until it is committed, so a
// consumer that stops before committing gets it again.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaConfig holds configuration parameters for Kafka.
type KafkaConfig struct {
	Brokers      []string      // list of Kafka brokers
	Topic        string        // topic name
	Partition    int           // partition number (used for low-level writes)
	WriteTimeout time.Duration // write timeout duration
	ReadTimeout  time.Duration // max wait for a fetch (used for consumer group)
	GroupID      string        // consumer group ID
}

// KafkaWriter implements Writer using kafka.Conn (low-level writes).
type KafkaWriter struct {
	mu     sync.Mutex
	conn   *kafka.Conn
	config KafkaConfig
}

// NewKafkaWriter creates a new Kafka writer connection.
func NewKafkaWriter(cfg KafkaConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	conn, err := kafka.DialLeader(context.Background(), "tcp", cfg.Brokers[0], cfg.Topic, cfg.Partition)
	if err != nil {
		return nil, err
	}

	return &KafkaWriter{
		conn:   conn,
		config: cfg,
	}, nil
}

func (w *KafkaWriter) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	if w.conn == nil {
		return errors.New("kafka connection is nil")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	deadline := time.Now().Add(w.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	w.conn.SetWriteDeadline(deadline)
	_, err := w.conn.WriteMessages(messages...)
	return err
}

func (w *KafkaWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// KafkaReader implements Reader using kafka.Reader (consumer group).
type KafkaReader struct {
	reader *kafka.Reader
}

// NewKafkaReader creates a new Kafka consumer group reader.
func NewKafkaReader(cfg KafkaConfig) *KafkaReader {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}

	rc := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	}
	if cfg.ReadTimeout > 0 {
		rc.MaxWait = cfg.ReadTimeout
	}
	return &KafkaReader{reader: kafka.NewReader(rc)}
}

func (r *KafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.FetchMessage(ctx)
}

// CommitMessages moves the group offset past messages. Pending commits are
// flushed by Close.
func (r *KafkaReader) CommitMessages(ctx context.Context, messages ...kafka.Message) error {
	return r.reader.CommitMessages(ctx, messages...)
}

func (r *KafkaReader) Close() error {
	return r.reader.Close()
}
