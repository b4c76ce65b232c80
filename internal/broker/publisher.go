package appkafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"

	EventTweetCreated = "tweet_created"
)

var logg = logger.New()

// Publisher is the fire-and-forget hand-off for newly created tweets. A nil
// error means the broker accepted the message, not that the tweet is stored.
type Publisher interface {
	PublishTweet(ctx context.Context, tweet models.Tweet) error
}

type BreakerConfig struct {
	MaxConsecutiveFailures uint32
	OpenTimeout            time.Duration
}

// TweetPublisher encodes tweets as JSON and writes them through a circuit
// breaker, so a dead broker fails requests fast instead of stalling them.
type TweetPublisher struct {
	writer  Writer
	breaker *gobreaker.CircuitBreaker
}

func NewTweetPublisher(writer Writer, cfg BreakerConfig) *TweetPublisher {
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	return &TweetPublisher{
		writer: writer,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "TweetPublisher",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logg.Warn("broker", fmt.Sprintf("Circuit breaker %s changed from %s to %s", name, from, to))
			},
		}),
	}
}

// EncodeTweet builds the broker message for a tweet. The key is the tweet id
// so consumers can persist idempotently.
func EncodeTweet(tweet models.Tweet) (kafka.Message, error) {
	data, err := json.Marshal(tweet)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal tweet: %w", err)
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(tweet.TweetID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(uuid.NewString())},
			{Key: HeaderEventType, Value: []byte(EventTweetCreated)},
		},
		Time: time.Now(),
	}, nil
}

// DecodeTweet is the inverse of EncodeTweet.
func DecodeTweet(msg kafka.Message) (models.Tweet, error) {
	var tweet models.Tweet
	if err := json.Unmarshal(msg.Value, &tweet); err != nil {
		return models.Tweet{}, fmt.Errorf("unmarshal tweet: %w", err)
	}
	if tweet.TweetID == 0 {
		return models.Tweet{}, fmt.Errorf("tweet message without id")
	}
	return tweet, nil
}

func (p *TweetPublisher) PublishTweet(ctx context.Context, tweet models.Tweet) error {
	msg, err := EncodeTweet(tweet)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish tweet: %w", err)
	}
	return nil
}

// State exposes the breaker state for health reporting.
func (p *TweetPublisher) State() gobreaker.State {
	return p.breaker.State()
}
