// Command sse-load holds many task streams open against a running API and
// reports how many events arrived and how many connections failed.
package main

import (
	"bufio"
	"context"
	"flag"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

type stats struct {
	attempts atomic.Uint64
	failures atomic.Uint64
	events   atomic.Uint64
}

func (s *stats) failureRate() float64 {
	a := s.attempts.Load()
	if a == 0 {
		return 0
	}
	return float64(s.failures.Load()) / float64(a)
}

func main() {
	var (
		url        = flag.String("url", envOr("STREAM_URL", "http://localhost:8080/api/tasks/1/stream"), "task stream URL")
		conns      = flag.Int("connections", 200, "concurrent stream connections")
		duration   = flag.Duration("duration", 2*time.Minute, "test duration")
		tokensFile = flag.String("tokens", "", "JSON array of bearer tokens, assigned round-robin (gen-token -output)")
		maxFailure = flag.Float64("max-failure-rate", 0.01, "failure rate above which the run fails")
	)
	flag.Parse()

	tokens, err := loadTokens(*tokensFile)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var st stats
	var wg sync.WaitGroup
	client := &http.Client{}
	for i := 0; i < *conns; i++ {
		bearer := ""
		if len(tokens) > 0 {
			bearer = tokens[i%len(tokens)]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			hold(ctx, client, *url, bearer, &st)
		}()
	}

	go func() {
		select {
		case <-time.After(time.Minute):
			if st.events.Load() == 0 {
				log.Fatal("no events received in 60s")
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	log.WithFields(log.Fields{
		"connections":         *conns,
		"duration_sec":        int(duration.Seconds()),
		"events_received":     st.events.Load(),
		"connection_failures": st.failures.Load(),
	}).Info("sse load finished")
	if st.events.Load() == 0 || st.failureRate() > *maxFailure {
		os.Exit(1)
	}
}

// hold keeps one stream open, reconnecting with backoff, until ctx ends.
func hold(ctx context.Context, client *http.Client, url, bearer string, st *stats) {
	backoff := time.Second
	retry := func() {
		st.failures.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 5*time.Second)
	}
	for ctx.Err() == nil {
		st.attempts.Add(1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			retry()
			continue
		}
		req.Header.Set("Accept", "text/event-stream")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			retry()
			continue
		}
		backoff = time.Second
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), "data:") {
				st.events.Add(1)
			}
		}
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		retry()
	}
}

func loadTokens(path string) ([]string, error) {
	if path == "" {
		if b := os.Getenv("TEST_BEARER"); b != "" {
			return []string{b}, nil
		}
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := sonic.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
