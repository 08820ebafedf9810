// Command marketauth-loadtest measures session validation and rate-limit
// throughput of a fully built Engine.
//
// Sessions live in the in-memory store; rate-limit counters go to Redis at
// -redis-addr (or REDIS_ADDR), falling back to an embedded miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of users to seed")
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed across users")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + ratelimit)")
		clients     = flag.Int("clients", 5000, "distinct client IPs for the rate-limit phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *clients <= 0 {
		fmt.Fprintln(os.Stderr, "users, sessions, concurrency, ops and clients must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := redisClient(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := marketauth.DefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Session.TouchInterval = time.Hour
	cfg.RateLimit.Default = *ops

	mem := store.NewMemory()
	engine, err := marketauth.New().
		WithConfig(cfg).
		WithStore(mem).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users / %d sessions...\n", *users, *sessions)
	startSeed := time.Now()
	tokens, err := seed(ctx, engine, mem, *users, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := engine.ValidateSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	rateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		n := r.Intn(*clients)
		ip := fmt.Sprintf("10.%d.%d.%d", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
		return engine.CheckRateLimit(marketauth.WithClientIP(ctx, ip), marketauth.RateLimitDefault)
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("ratelimit", rateStats)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// seed writes users straight into the store, skipping registration and its
// rate limit, then issues sessions round-robin across them.
func seed(ctx context.Context, engine *marketauth.Engine, mem *store.Memory, users, sessions int) ([]string, error) {
	now := time.Now()
	ids := make([]string, users)
	for i := range ids {
		ids[i] = uuid.NewString()
		if err := mem.CreateUser(ctx, &store.User{
			ID:        ids[i],
			Email:     fmt.Sprintf("load-%d@example.com", i),
			FirstName: "Load",
			LastName:  "Test",
			Role:      "customer",
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, err
		}
	}

	tokens := make([]string, sessions)
	for i := range tokens {
		s, err := engine.IssueSession(ctx, ids[i%users], "loadtest", "127.0.0.1")
		if err != nil {
			return nil, err
		}
		tokens[i] = s.Token
	}
	return tokens, nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
