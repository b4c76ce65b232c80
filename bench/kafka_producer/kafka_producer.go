package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/models"
	"github.com/segmentio/kafka-go"
)

func main() {
	var total, batchSize, numWorkers int
	var kafkaBroker, topic string
	var userID int64

	flag.IntVar(&total, "n", 100000, "total number of messages to send")
	flag.IntVar(&batchSize, "batch", 100, "batch size for sending messages")
	flag.IntVar(&numWorkers, "c", 4, "number of parallel goroutines")
	flag.StringVar(&kafkaBroker, "broker", "localhost:29092", "Kafka broker address")
	flag.StringVar(&topic, "topic", "tweet-topic", "topic the worker consumes")
	flag.Int64Var(&userID, "user", 1, "user id stamped on every tweet")
	flag.Parse()

	// Kafka writer with asynchronous sending enabled
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{kafkaBroker},
		Topic:   topic,
		Async:   true,
	})
	defer w.Close()

	// Tweet ids start above anything the sequence hands out in a normal run
	baseID := time.Now().UnixNano()
	start := time.Now()

	var successCount uint64
	var failCount uint64

	// Channel for feeding message indexes to worker goroutines
	jobs := make(chan int, total)
	var wg sync.WaitGroup

	// --- Start worker goroutines ---
	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			for i := range jobs {
				msg, err := appkafka.EncodeTweet(models.Tweet{
					TweetID:     baseID + int64(i),
					UserID:      userID,
					TweetDesc:   fmt.Sprintf("kafka bench %d", i),
					CreatedDate: time.Now().UTC(),
				})
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("encode error: %v\n", err)
					continue
				}

				// Add message to batch
				batch = append(batch, msg)

				// Send batch if batch size reached
				if len(batch) >= batchSize {
					if err := w.WriteMessages(context.Background(), batch...); err != nil {
						atomic.AddUint64(&failCount, uint64(len(batch)))
						fmt.Printf("write error: %v\n", err)
					} else {
						atomic.AddUint64(&successCount, uint64(len(batch)))
					}
					batch = batch[:0] // clear the batch
				}
			}

			// Send any remaining messages after finishing loop
			if len(batch) > 0 {
				if err := w.WriteMessages(context.Background(), batch...); err != nil {
					atomic.AddUint64(&failCount, uint64(len(batch)))
					fmt.Printf("write error: %v\n", err)
				} else {
					atomic.AddUint64(&successCount, uint64(len(batch)))
				}
			}
		}()
	}

	// Feed jobs channel with indexes
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	// Wait for all worker goroutines to finish
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total messages: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount)/elapsed.Seconds())
}
