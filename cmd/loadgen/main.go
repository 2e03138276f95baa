// Command loadgen simulates a dashboard user scrubbing through time,
// to exercise the cache and prefetch path of a running server.
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/router"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	base := flag.String("addr", getenv("VVMVIZ_ADDR", "http://localhost:8090"), "server base URL")
	variable := flag.String("var", "th", "variable to scrub")
	frames := flag.Int("frames", 200, "number of frame requests")
	reversalPct := flag.Int("reversal", 10, "percent chance of reversing direction per step")
	pause := flag.Duration("pause", 50*time.Millisecond, "pause between requests (playback speed)")
	seed := flag.Int64("seed", 1, "rng seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	domain := frame.NewDomain(21.9, 25.3, 119.9, 122.1)
	client := &http.Client{Timeout: 30 * time.Second}

	t, dir := 0, 1
	var latencies []time.Duration
	failures := 0

	for i := 0; i < *frames; i++ {
		if rng.Intn(100) < *reversalPct {
			dir = -dir
		}
		t += dir
		if t < 0 {
			t, dir = 0, 1
		}

		key := frame.NewSliceKey(*variable, t, 0, domain, nil)
		u := strings.TrimRight(*base, "/") + "/frame?" + router.BuildFrameQuery(key).Encode()

		start := time.Now()
		resp, err := client.Get(u)
		if err != nil {
			failures++
			fmt.Printf("t=%d error: %v\n", t, err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			failures++
			fmt.Printf("t=%d status %d\n", t, resp.StatusCode)
			continue
		}
		latencies = append(latencies, time.Since(start))

		time.Sleep(*pause)
	}

	if len(latencies) == 0 {
		fmt.Println("no successful requests")
		os.Exit(1)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		return latencies[int(p*float64(len(latencies)-1))]
	}
	fmt.Printf("requests=%d failures=%d\n", *frames, failures)
	fmt.Printf("latency p50=%v p90=%v p99=%v max=%v\n",
		pct(0.50), pct(0.90), pct(0.99), latencies[len(latencies)-1])
}
