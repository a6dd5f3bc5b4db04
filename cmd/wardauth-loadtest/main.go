// wardauth-loadtest drives the Redis session store with concurrent touches,
// refresh rotations and login storms, and checks the per-user session cap
// held under contention.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/wardAuth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type sessionState struct {
	sid string
	jti string
	mu  sync.Mutex
}

type options struct {
	users       int
	maxSessions int
	concurrency int
	ops         int
	storm       int
	redisAddr   string
	prefix      string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var o options
	flagSet := pflag.NewFlagSet("wardauth-loadtest", pflag.ContinueOnError)
	flagSet.IntVar(&o.users, "users", 10000, "number of users to seed")
	flagSet.IntVar(&o.maxSessions, "max-sessions", 3, "per-user session cap")
	flagSet.IntVar(&o.concurrency, "concurrency", 256, "number of concurrent workers")
	flagSet.IntVar(&o.ops, "ops", 200000, "operations per phase")
	flagSet.IntVar(&o.storm, "storm", 32, "simultaneous logins per user in the storm phase")
	flagSet.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR or miniredis is used")
	flagSet.StringVar(&o.prefix, "prefix", "ws-load", "session key prefix")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if o.users <= 0 || o.concurrency <= 0 || o.ops <= 0 || o.maxSessions <= 0 || o.storm <= 0 {
		return errors.New("users, max-sessions, concurrency, ops and storm must be > 0")
	}

	ctx := context.Background()
	client, cleanup, err := connect(o.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := session.NewStore(client, o.prefix, session.Options{
		InactivityTimeout: time.Hour,
		MaxSessions:       o.maxSessions,
		Policy:            session.LimitEvictOldest,
	})
	if err != nil {
		return err
	}

	fmt.Printf("seeding %d sessions...\n", o.users)
	startSeed := time.Now()
	states := make([]*sessionState, o.users)
	for i := range states {
		jti := uuid.NewString()
		sid, _, err := store.Create(ctx, session.CreateInput{
			UserID:     fmt.Sprintf("u-%d", i),
			Username:   fmt.Sprintf("user%d", i),
			Roles:      []string{"NURSE"},
			Device:     session.ParseUserAgent("Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"),
			RefreshJTI: jti,
		})
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		states[i] = &sessionState{sid: sid, jti: jti}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	touch := runPhase(o.ops, o.concurrency, 7919, func(r *rand.Rand, _ int) error {
		return store.Refresh(ctx, states[r.Intn(len(states))].sid)
	})
	rotate := runPhase(o.ops, o.concurrency, 6151, func(r *rand.Rand, _ int) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next := uuid.NewString()
		if _, err := store.RotateRefreshJTI(ctx, st.sid, st.jti, next); err != nil {
			return err
		}
		st.jti = next
		return nil
	})

	stormUsers := min(o.users, 200)
	var violations atomic.Int64
	storm := runPhase(stormUsers*o.storm, o.concurrency, 4049, func(_ *rand.Rand, i int) error {
		_, _, err := store.Create(ctx, session.CreateInput{
			UserID:     fmt.Sprintf("storm-%d", i%stormUsers),
			RefreshJTI: uuid.NewString(),
		})
		return err
	})
	for u := range stormUsers {
		list, err := store.ListByUser(ctx, fmt.Sprintf("storm-%d", u), "")
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(list) > o.maxSessions {
			violations.Add(1)
		}
	}

	fmt.Println("---- results ----")
	printStats("touch", touch)
	printStats("rotate", rotate)
	printStats("login storm", storm)
	fmt.Printf("cap violations: %d of %d users\n", violations.Load(), stormUsers)
	if violations.Load() > 0 {
		return errors.New("session cap exceeded under concurrent logins")
	}
	return nil
}

func connect(addr string) (redis.UniversalClient, func(), error) {
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
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase runs op ops times across concurrency workers and collects latencies.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
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
	if len(samples) == 0 {
		return 0
	}
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
