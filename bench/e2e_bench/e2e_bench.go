package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"example.com/tweetapp/internal/models"
)

// UserResp represents the server's response when a user registers.
type UserResp struct {
	UserID  int64  `json:"user_id"`
	LoginID string `json:"login_id"`
	Token   string `json:"token"`
}

// TweetReq defines the request payload for posting a tweet.
type TweetReq struct {
	TweetDesc string `json:"tweetDesc"`
}

const apiBase = "/api/v1.0/tweets"

func main() {
	// CLI flags
	var serverAddr string
	var U, P, concurrency int
	var pollTimeout int
	var insecure bool

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&U, "users", 50, "number of users to register")
	flag.IntVar(&P, "tweets", 100, "number of tweets to post")
	flag.IntVar(&concurrency, "c", 20, "concurrency for posting")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for a tweet to become visible")
	flag.BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	flag.Parse()

	ctx := context.Background()

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
		Timeout: 10 * time.Second,
	}

	// --- 1) Register users ---
	fmt.Printf("Registering %d users...\n", U)
	users := make([]UserResp, 0, U)
	for i := 0; i < U; i++ {
		payload := map[string]string{"username": fmt.Sprintf("user-%d-%d", i, time.Now().UnixNano())}
		b, _ := json.Marshal(payload)

		resp, err := client.Post(serverAddr+apiBase+"/register", "application/json", bytes.NewReader(b))
		if err != nil {
			fmt.Printf("register error: %v\n", err)
			os.Exit(1)
		}

		var ur UserResp
		if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
			resp.Body.Close()
			fmt.Printf("decode register resp error: %v\n", err)
			os.Exit(1)
		}
		resp.Body.Close()
		users = append(users, ur)
	}
	fmt.Println("Users registered successfully.")

	// --- 2) Post tweets concurrently ---
	fmt.Printf("Posting %d tweets with concurrency %d...\n", P, concurrency)
	type tweetRecord struct {
		Author UserResp
		Desc   string
		Sent   time.Time
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // concurrency limiter
	tweetsCh := make(chan tweetRecord, P)

	for i := 0; i < P; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			author := users[rand.Intn(len(users))]
			// the text doubles as the lookup key, the post response carries no id
			desc := fmt.Sprintf("tweet %d-%d", i, rand.Int())
			b, _ := json.Marshal(TweetReq{TweetDesc: desc})

			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+apiBase+"/"+author.LoginID+"/add", bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+author.Token)

			sent := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("post error: %v\n", err)
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Printf("post rejected with status %d\n", resp.StatusCode)
				return
			}
			tweetsCh <- tweetRecord{Author: author, Desc: desc, Sent: sent}
		}(i)
	}

	wg.Wait()
	close(tweetsCh)

	// --- 3) Poll each author's timeline until the tweet is stored ---
	fmt.Println("Checking tweet visibility...")
	var latencies []float64
	var latMu sync.Mutex
	var failCount int64
	var checksWg sync.WaitGroup

	for tr := range tweetsCh {
		checksWg.Add(1)
		go func(tr tweetRecord) {
			defer checksWg.Done()
			deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)

			for time.Now().Before(deadline) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, serverAddr+apiBase+"/"+tr.Author.LoginID, nil)
				req.Header.Set("Authorization", "Bearer "+tr.Author.Token)
				resp, err := client.Do(req)
				if err != nil {
					time.Sleep(200 * time.Millisecond)
					continue
				}

				var tl models.TweetResponse
				err = json.NewDecoder(resp.Body).Decode(&tl)
				resp.Body.Close()
				if err == nil {
					for _, tw := range tl.TweetList {
						if tw.TweetDesc == tr.Desc {
							lat := time.Since(tr.Sent).Seconds() * 1000
							latMu.Lock()
							latencies = append(latencies, lat)
							latMu.Unlock()
							return
						}
					}
				}
				time.Sleep(200 * time.Millisecond)
			}

			latMu.Lock()
			failCount++
			latMu.Unlock()
		}(tr)
	}

	checksWg.Wait()

// --- 4) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
	} else {
		trimPercent := 1.0
		meanVal := trimmedMean(latencies, trimPercent)
		p50 := trimmedPercentile(latencies, 50, trimPercent)
		p90 := trimmedPercentile(latencies, 90, trimPercent)
		p99 := trimmedPercentile(latencies, 99, trimPercent)
		fmt.Printf("Post-to-visible stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d\n",
			len(latencies), meanVal, p50, p90, p99, failCount)

		// Export latencies to CSV
		f, _ := os.Create("e2e_latencies.csv")
		w := csv.NewWriter(f)
		w.Write([]string{"latency_ms"})
		for _, v := range latencies {
			w.Write([]string{fmt.Sprintf("%.3f", v)})
		}
		w.Flush()
		f.Close()
		fmt.Println("Saved e2e_latencies.csv")
	}
}

// trimmedMean calculates the mean of a dataset excluding extreme values.
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	data = data[trim : len(data)-trim]
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// trimmedPercentile returns a percentile value after trimming extremes.
func trimmedPercentile(data []float64, p float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	data = data[trim : len(data)-trim]
	return percentile(data, p)
}

// percentile calculates the requested percentile using linear interpolation.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	d0 := data[f] * (float64(c) - k)
	d1 := data[c] * (k - float64(f))
	return d0 + d1
}
