package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/models"
	"example.com/tweetapp/internal/store"
	"github.com/segmentio/kafka-go"
)

// runWorkerOnce processes a single broker message for testing, committing
// it only when it was handled.
func runWorkerOnce(ctx context.Context, tweets store.TweetStore, reader appkafka.Reader) error {
	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		return err
	}
	if err := New(tweets, reader, 1, 1).handle(ctx, msg); err != nil {
		return err
	}
	return reader.CommitMessages(ctx, msg)
}

func encode(t *testing.T, tweet models.Tweet) kafka.Message {
	t.Helper()
	msg, err := appkafka.EncodeTweet(tweet)
	if err != nil {
		t.Fatalf("EncodeTweet: %v", err)
	}
	return msg
}

func sampleTweet() models.Tweet {
	return models.Tweet{
		TweetID:     100,
		UserID:      1,
		TweetDesc:   "hello",
		CreatedDate: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

// flakyTweets fails the first n saves, n = failures, then delegates.
type flakyTweets struct {
	*store.MockStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyTweets) SaveTweet(ctx context.Context, tweet models.Tweet) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("flaky save failed")
	}
	return f.MockStore.SaveTweet(ctx, tweet)
}

// ---------- Positive tests ----------

func TestWorker_PersistsTweet(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{encode(t, sampleTweet())},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	got, _ := mockStore.FindTweetByID(ctx, 100)
	if got == nil || got.TweetDesc != "hello" || got.UserID != 1 {
		t.Fatalf("tweet not stored correctly, got: %+v", got)
	}
	if !got.CreatedDate.Equal(sampleTweet().CreatedDate) {
		t.Fatalf("created date changed: %v", got.CreatedDate)
	}
	if n := len(mockKafka.CommittedMessages()); n != 1 {
		t.Fatalf("expected message to be committed, got %d commits", n)
	}
}

// a redelivered message leaves a single row
func TestWorker_RedeliveryIsIdempotent(t *testing.T) {
	mockStore := store.NewMock()
	msg := encode(t, sampleTweet())
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{msg, msg}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if err := runWorkerOnce(ctx, mockStore, mockKafka); err != nil {
			t.Fatalf("worker failed: %v", err)
		}
	}

	all, _ := mockStore.FindAllTweets(ctx)
	if len(all) != 1 {
		t.Fatalf("expected 1 tweet after redelivery, got %d", len(all))
	}
}

func TestWorker_RetriesTransientSaveFailure(t *testing.T) {
	flaky := &flakyTweets{MockStore: store.NewMock(), failures: saveAttempts - 1}
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{encode(t, sampleTweet())}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, flaky, mockKafka); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if flaky.calls != saveAttempts {
		t.Fatalf("expected %d save calls, got %d", saveAttempts, flaky.calls)
	}
}

// ---------- Negative tests ----------

// Simulate broker read error
func TestWorker_KafkaReadError(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafkaFail{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err == nil {
		t.Fatalf("expected error from Kafka read")
	}
}

// Simulate invalid tweet JSON
func TestWorker_InvalidTweetJSON(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{
			{Value: []byte("{invalid-json}")},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

// Simulate a store that never recovers
func TestWorker_StoreSaveFail(t *testing.T) {
	mockStore := &store.MockStoreFail{}
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{encode(t, sampleTweet())},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err == nil {
		t.Fatalf("expected error from store SaveTweet")
	}
	if n := len(mockKafka.CommittedMessages()); n != 0 {
		t.Fatalf("unsaved message must stay uncommitted, got %d commits", n)
	}
}

func TestWorker_ProcessDropsUndecodableMessage(t *testing.T) {
	w := New(store.NewMock(), &appkafka.MockKafka{}, 1, 1)

	if !w.process(context.Background(), kafka.Message{Value: []byte("{invalid-json}")}) {
		t.Fatal("undecodable message should be released for commit")
	}
}

// a save that keeps failing is never released once ctx ends
func TestWorker_ProcessHoldsFailedSaveOnShutdown(t *testing.T) {
	w := New(&store.MockStoreFail{}, &appkafka.MockKafka{}, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if w.process(ctx, encode(t, sampleTweet())) {
		t.Fatal("failed save must not be released for commit")
	}
}

func TestWorker_ProcessRetriesUntilSaved(t *testing.T) {
	flaky := &flakyTweets{MockStore: store.NewMock(), failures: saveAttempts + 1}
	w := New(flaky, &appkafka.MockKafka{}, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !w.process(ctx, encode(t, sampleTweet())) {
		t.Fatal("expected the save to succeed on a later round")
	}
	if got, _ := flaky.FindTweetByID(ctx, 100); got == nil {
		t.Fatal("tweet not stored after retries")
	}
}

func TestCommitLog_CommitsInFetchOrder(t *testing.T) {
	mockKafka := &appkafka.MockKafka{}
	c := newCommitLog(mockKafka)
	ctx := context.Background()
	msgs := []kafka.Message{{Offset: 10}, {Offset: 11}, {Offset: 12}}

	// later messages finish first
	if err := c.complete(ctx, 2, msgs[2]); err != nil {
		t.Fatal(err)
	}
	if err := c.complete(ctx, 1, msgs[1]); err != nil {
		t.Fatal(err)
	}
	if n := len(mockKafka.CommittedMessages()); n != 0 {
		t.Fatalf("nothing may commit before the oldest message is done, got %d", n)
	}

	if err := c.complete(ctx, 0, msgs[0]); err != nil {
		t.Fatal(err)
	}
	got := mockKafka.CommittedMessages()
	if len(got) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(got))
	}
	for i, m := range got {
		if m.Offset != msgs[i].Offset {
			t.Fatalf("commit %d: expected offset %d, got %d", i, msgs[i].Offset, m.Offset)
		}
	}
}

func TestCommitLog_CommitsAfterCancel(t *testing.T) {
	mockKafka := &appkafka.MockKafka{}
	c := newCommitLog(mockKafka)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.complete(ctx, 0, kafka.Message{Offset: 1}); err != nil {
		t.Fatal(err)
	}
	if n := len(mockKafka.CommittedMessages()); n != 1 {
		t.Fatalf("expected saved message to be committed during shutdown, got %d", n)
	}
}

func TestWorker_EmptyKafkaMessage(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{{Value: nil}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err != nil {
		t.Fatalf("expected no error for empty Kafka message, got: %v", err)
	}
	if n := len(mockKafka.CommittedMessages()); n != 1 {
		t.Fatalf("expected empty message to be committed, got %d commits", n)
	}
}
