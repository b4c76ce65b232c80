package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"
	"time"

	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/metrics"
	"example.com/tweetapp/internal/store"
	"github.com/segmentio/kafka-go"
)

var logg = logger.New()

const (
	saveAttempts  = 3
	commitTimeout = 5 * time.Second
)

var errInvalidMessage = errors.New("invalid tweet message")

// Worker consumes published tweets and stores them concurrently. A message
// is committed back to the broker only once its tweet is saved.
type Worker struct {
	tweets       store.TweetStore
	reader       appkafka.Reader
	workerCount  int
	jobQueueSize int
	commits      *commitLog
}

type job struct {
	seq uint64
	msg kafka.Message
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(tweets store.TweetStore, reader appkafka.Reader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		tweets:       tweets,
		reader:       reader,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
		commits:      newCommitLog(reader),
	}
}

// Run starts message reading and concurrent processing. Messages still
// queued or mid-retry when ctx ends are left uncommitted for redelivery.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan job, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop fetches broker messages and pushes them into a job queue,
// numbering them in fetch order.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- job) {
	var retry int
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := w.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logg.Error("worker", "Broker read error, backing off", err)
				if !waitWithContext(ctx, backoff(retry)) {
					return
				}
				retry++
				continue
			}
			retry = 0

			// blocks until a slot frees up; dropping would lose the tweet
			for enqueued := false; !enqueued; {
				select {
				case jobs <- job{seq: seq, msg: msg}:
					enqueued = true
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
					logg.Info("worker", "Queue full, waiting to enqueue message")
				}
			}
			seq++
		}
	}
}

// processLoop stores queued tweets until the queue is closed or ctx ends.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if !w.process(ctx, j.msg) {
				continue
			}
			if err := w.commits.complete(ctx, j.seq, j.msg); err != nil {
				logg.Error("worker", "Failed to commit message", err)
			}
		}
	}
}

// process keeps retrying msg until it is saved or ctx ends. It reports
// whether the message may be committed; undecodable messages are dropped.
func (w *Worker) process(ctx context.Context, msg kafka.Message) bool {
	for round := 0; ; round++ {
		err := w.handle(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, errInvalidMessage) {
			logg.Error("worker", "Dropping undecodable message", err)
			return true
		}
		logg.Error("worker", "Failed to persist tweet", err)
		if !waitWithContext(ctx, backoff(round+saveAttempts)) {
			return false
		}
	}
}

// handle decodes one message and saves the tweet. Saving is an upsert by
// tweet id, so a redelivered message rewrites the same row.
func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	if len(msg.Value) == 0 {
		return nil
	}

	tweet, err := appkafka.DecodeTweet(msg)
	if err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", errInvalidMessage, err)
	}

	for attempt := 1; ; attempt++ {
		err = w.tweets.SaveTweet(ctx, tweet)
		if err == nil {
			break
		}
		if attempt == saveAttempts || !waitWithContext(ctx, time.Duration(attempt)*100*time.Millisecond) {
			metrics.WorkerMessagesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("save tweet %d: %w", tweet.TweetID, err)
		}
	}

	metrics.WorkerMessagesTotal.WithLabelValues("ok").Inc()
	logg.Debug("worker", "Tweet persisted with tweet_id="+strconv.FormatInt(tweet.TweetID, 10))
	return nil
}

// commitLog commits finished messages in fetch order. Kafka offsets commit
// as a watermark, so a message is handed to the broker only after every
// message fetched before it is done.
type commitLog struct {
	mu      sync.Mutex
	reader  appkafka.Reader
	next    uint64
	pending map[uint64]kafka.Message
}

func newCommitLog(reader appkafka.Reader) *commitLog {
	return &commitLog{reader: reader, pending: make(map[uint64]kafka.Message)}
}

// complete marks seq as done and commits the run of done messages that
// starts at the oldest uncommitted one.
func (c *commitLog) complete(ctx context.Context, seq uint64, msg kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[seq] = msg
	var ready []kafka.Message
	for {
		m, ok := c.pending[c.next]
		if !ok {
			break
		}
		ready = append(ready, m)
		delete(c.pending, c.next)
		c.next++
	}
	if len(ready) == 0 {
		return nil
	}

	// saved tweets are committed even while shutting down
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return c.reader.CommitMessages(cctx, ready...)
}

func backoff(retry int) time.Duration {
	return time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the broker reader. The store is owned by the caller.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing broker reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing broker reader", err)
		return err
	}
	return nil
}
