package appkafka

import (
	"context"
	"errors"
	"sync"

	"example.com/tweetapp/internal/store"
	"github.com/segmentio/kafka-go"
)

// MockKafka stands in for the broker and the worker at once: written tweets
// are saved to Store immediately when it is set.
type MockKafka struct {
	mu              sync.Mutex
	Store           *store.MockStore
	WrittenMessages []kafka.Message // stores messages written via WriteMessages
	ReadMessages    []kafka.Message // queue of messages to be read via FetchMessage
	Committed       []kafka.Message // messages acknowledged via CommitMessages
	ShouldFail      bool            // flag to simulate failures during write or read operations
	Closed          bool
}

// WriteMessages records the messages and applies them to Store.
func (m *MockKafka) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock kafka write failed")
	}

	for _, msg := range messages {
		m.WrittenMessages = append(m.WrittenMessages, msg)
		if m.Store == nil {
			continue
		}
		tweet, err := DecodeTweet(msg)
		if err != nil {
			return err
		}
		if err := m.Store.SaveTweet(ctx, tweet); err != nil {
			return err
		}
	}

	return nil
}

// Written returns a copy of the messages written so far.
func (m *MockKafka) Written() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.WrittenMessages...)
}

// FetchMessage pops the next queued message.
func (m *MockKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return kafka.Message{}, errors.New("mock kafka read failed")
	}
	if len(m.ReadMessages) == 0 {
		return kafka.Message{}, errors.New("no messages")
	}
	// Take the first message from the queue and remove it
	msg := m.ReadMessages[0]
	m.ReadMessages = m.ReadMessages[1:]
	return msg, nil
}

func (m *MockKafka) CommitMessages(ctx context.Context, messages ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock kafka commit failed")
	}
	m.Committed = append(m.Committed, messages...)
	return nil
}

// CommittedMessages returns a copy of the messages committed so far.
func (m *MockKafka) CommittedMessages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.Committed...)
}

func (m *MockKafka) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockKafkaFail always fails.
type MockKafkaFail struct{}

func (m *MockKafkaFail) WriteMessages(ctx context.Context, messages ...kafka.Message) error {
	return errors.New("mock kafka write failed")
}

func (m *MockKafkaFail) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return kafka.Message{}, errors.New("mock kafka read failed")
}

func (m *MockKafkaFail) CommitMessages(ctx context.Context, messages ...kafka.Message) error {
	return errors.New("mock kafka commit failed")
}

func (m *MockKafkaFail) Close() error { return nil }
