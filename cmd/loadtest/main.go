// Command loadtest drives a running search service with keyword searches
// mixed with document writes and prints a latency report.
//
//	loadtest -url http://localhost:8080 -concurrency 16 -duration 30s -writes 0.1
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	WriteRatio  float64
	RPS         float64
	Vocabulary  []string
}

type opStats struct {
	total     atomic.Int64
	errors    atomic.Int64
	latencies []time.Duration
	mu        sync.Mutex
	codes     map[int]int64
}

func newOpStats() *opStats {
	return &opStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *opStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil || status < 200 || status >= 300 {
		s.errors.Add(1)
	}
	if err != nil {
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

type Stats struct {
	searches *opStats
	writes   *opStats
	docSeq   atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	writes := flag.Float64("writes", 0.1, "fraction of requests that index a document")
	rps := flag.Float64("rps", 0, "overall request rate limit (0 for unlimited)")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		WriteRatio:  *writes,
		RPS:         *rps,
		Vocabulary: []string{
			"cours", "projet", "examen", "professeur", "clair", "difficile",
			"intéressant", "rapide", "lent", "exercices", "travail", "groupe",
			"notes", "séance", "support", "excellent", "moyen", "organisation",
		},
	}

	fmt.Println("=== Comment Index Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Write ratio: %.2f\n", cfg.WriteRatio)
	fmt.Println()

	stats, err := runLoadTest(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) (*Stats, error) {
	stats := &Stats{searches: newOpStats(), writes: newOpStats()}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for w := range cfg.Concurrency {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				if rng.Float64() < cfg.WriteRatio {
					id := fmt.Sprintf("load-%d", stats.docSeq.Add(1))
					d, status, err := putDocument(gctx, client, cfg.BaseURL, id, randomWords(rng, cfg.Vocabulary, 12))
					if gctx.Err() != nil {
						return nil
					}
					stats.writes.record(d, status, err)
					continue
				}
				d, status, err := searchKeywords(gctx, client, cfg.BaseURL, randomWords(rng, cfg.Vocabulary, 1+rng.IntN(3)))
				if gctx.Err() != nil {
					return nil
				}
				stats.searches.record(d, status, err)
			}
		})
	}

	fmt.Print("Running")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	err := g.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats, err
}

func randomWords(rng *rand.Rand, vocab []string, n int) []string {
	words := make([]string, n)
	for i := range words {
		words[i] = vocab[rng.IntN(len(vocab))]
	}
	return words
}

func searchKeywords(ctx context.Context, client *http.Client, base string, keywords []string) (time.Duration, int, error) {
	body, err := json.Marshal(keywords)
	if err != nil {
		return 0, 0, err
	}
	return do(ctx, client, http.MethodPost, base+"/api/v1/search", body)
}

func putDocument(ctx context.Context, client *http.Client, base, id string, words []string) (time.Duration, int, error) {
	body, err := json.Marshal(map[string]string{"comment": strings.Join(words, " ")})
	if err != nil {
		return 0, 0, err
	}
	return do(ctx, client, http.MethodPut, base+"/api/v1/documents/"+id, body)
}

func do(ctx context.Context, client *http.Client, method, url string, body []byte) (time.Duration, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		return time.Since(start), resp.StatusCode, err
	}
	return time.Since(start), resp.StatusCode, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.searches.total.Load() + stats.writes.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	if total > 0 {
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	printOp("search", stats.searches)
	printOp("index", stats.writes)

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func printOp(name string, s *opStats) {
	total := s.total.Load()
	if total == 0 {
		return
	}
	errs := s.errors.Load()

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	counts := make([]int64, len(codes))
	for i, code := range codes {
		counts[i] = s.codes[code]
	}
	s.mu.Unlock()

	fmt.Println()
	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("Requests:   %d\n", total)
	fmt.Printf("Error Rate: %.2f%%\n", float64(errs)/float64(total)*100)

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}
	for i, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[i])
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
