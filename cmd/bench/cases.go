// README: Benchmark cases: environment, migration, greedy builder properties and throughput, live API checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tourdispatch/internal/infra"
	"tourdispatch/internal/modules/demand"
	"tourdispatch/internal/modules/location"
	"tourdispatch/internal/modules/tour"
	"tourdispatch/internal/types"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name   string
	Online bool
	Run    func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" && !r.cfg.Offline {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" && !r.cfg.Offline {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		var res Result
		if tc.Online && r.cfg.Offline {
			res = Result{Status: "SKIP", Note: "offline"}
		} else {
			res = tc.Run(ctx, r)
		}
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:   "Env: Postgres connect",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:   "Env: Redis connect",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:   "Migration: apply (optional)",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				if err := infra.ApplySQLFile(ctx, r.db, r.cfg.MigrationPath); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:   "Migration: tables exist",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("%d tables", len(tables))}
			},
		},

		// Builder, in process
		{Name: "Builder: capacity, order and distance hold", Run: builderProperties},
		{Name: "Builder: deterministic for equal input", Run: builderDeterminism},
		{Name: "Builder: throughput", Run: builderThroughput},

		// API
		{
			Name:   "API: health",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		httpCase("API: request without token -> 401", http.MethodPost, base+"/api/drivers/"+r.cfg.DriverID+"/tours", "", nil, []int{401}),
		httpCase("API: half position -> 400", http.MethodPost, base+"/api/drivers/"+r.cfg.DriverID+"/tours", r.cfg.Token,
			map[string]any{"lat": 25.03}, []int{400}),
		{
			Name:   "Concurrency: duplicate tour requests share one tour",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentRequests(ctx, r, base+"/api/drivers/"+r.cfg.DriverID+"/tours")
			},
		},
		{
			Name:   "Perf: location update throughput",
			Online: true,
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPut, base+"/api/drivers/"+r.cfg.DriverID+"/location", map[string]any{
					"lat": 25.033,
					"lng": 121.565,
				})
			},
		},
	}
}

func syntheticPool(rng *rand.Rand, n int) []demand.Demand {
	pool := make([]demand.Demand, n)
	for i := range pool {
		p := &types.Point{Lat: 25 + rng.Float64()*0.3, Lng: 121.4 + rng.Float64()*0.3}
		if rng.Intn(20) == 0 {
			p = nil
		}
		pool[i] = demand.Demand{
			ID:       types.ID(fmt.Sprintf("bench-%d", i)),
			Position: p,
			Quantity: float64(50 + rng.Intn(1500)),
			Priority: rng.Intn(101),
			Status:   demand.StatusConfirmed,
		}
	}
	return pool
}

func builderProperties(_ context.Context, r *Runner) Result {
	rng := rand.New(rand.NewSource(r.cfg.Seed))
	b := tour.NewBuilder(tour.DefaultBuildConfig())
	start := types.Point{Lat: 25.1, Lng: 121.5}
	for round := 0; round < 200; round++ {
		pool := syntheticPool(rng, 1+rng.Intn(r.cfg.PoolSize))
		capacity := float64(500 + rng.Intn(5000))
		maxStops := 1 + rng.Intn(25)
		plan := b.Build(start, capacity, maxStops, pool)

		load, dist := 0.0, 0.0
		prev := start
		seen := map[types.ID]bool{}
		for i, st := range plan.Stops {
			dist += location.HaversineKm(prev, st.Position)
			prev = st.Position
			if st.Order != i+1 {
				return Result{Status: "FAIL", Note: fmt.Sprintf("round %d: order gap at %d", round, i)}
			}
			if seen[st.DemandID] {
				return Result{Status: "FAIL", Note: fmt.Sprintf("round %d: %s picked twice", round, st.DemandID)}
			}
			seen[st.DemandID] = true
			load += st.PlannedQuantity
		}
		if load > capacity || len(plan.Stops) > maxStops {
			return Result{Status: "FAIL", Note: fmt.Sprintf("round %d: load %.0f/%.0f stops %d/%d", round, load, capacity, len(plan.Stops), maxStops)}
		}
		if math.Abs(dist-plan.TotalDistanceKm) > 1e-6 {
			return Result{Status: "FAIL", Note: fmt.Sprintf("round %d: total distance %.3f, legs sum %.3f", round, plan.TotalDistanceKm, dist)}
		}
	}
	return Result{Status: "PASS", Note: "200 random pools"}
}

func builderDeterminism(_ context.Context, r *Runner) Result {
	pool := syntheticPool(rand.New(rand.NewSource(r.cfg.Seed)), r.cfg.PoolSize)
	b := tour.NewBuilder(tour.DefaultBuildConfig())
	start := types.Point{Lat: 25.1, Lng: 121.5}
	first := b.Build(start, 3200, 20, pool)
	for i := 0; i < 10; i++ {
		again := b.Build(start, 3200, 20, pool)
		if len(again.Stops) != len(first.Stops) {
			return Result{Status: "FAIL", Note: "stop count changed"}
		}
		for j := range again.Stops {
			if again.Stops[j].DemandID != first.Stops[j].DemandID {
				return Result{Status: "FAIL", Note: fmt.Sprintf("stop %d differs", j+1)}
			}
		}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("%d stops", len(first.Stops))}
}

func builderThroughput(ctx context.Context, r *Runner) Result {
	pool := syntheticPool(rand.New(rand.NewSource(r.cfg.Seed)), r.cfg.PoolSize)
	b := tour.NewBuilder(tour.DefaultBuildConfig())
	start := types.Point{Lat: 25.1, Lng: 121.5}

	budget := r.cfg.Duration
	if budget > 2*time.Second {
		budget = 2 * time.Second
	}
	end := time.Now().Add(budget)
	builds := 0
	began := time.Now()
	for time.Now().Before(end) && ctx.Err() == nil {
		b.Build(start, 3200, 20, pool)
		builds++
	}
	elapsed := time.Since(began)
	if builds == 0 {
		return Result{Status: "FAIL", Note: "no builds completed"}
	}
	per := elapsed / time.Duration(builds)
	return Result{Status: "PASS", Latency: per, Note: fmt.Sprintf("pool=%d builds/s=%.0f", len(pool), float64(builds)/elapsed.Seconds())}
}

func (r *Runner) newRequest(ctx context.Context, method, url, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func httpCase(name, method, url, token string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:   name,
		Online: true,
		Run: func(ctx context.Context, r *Runner) Result {
			req, err := r.newRequest(ctx, method, url, token, body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if containsStatus(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

// concurrentRequests fires the same tour request in parallel; every caller
// must see the same tour (or the same empty outcome).
func concurrentRequests(ctx context.Context, r *Runner, url string) Result {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tours  = map[string]int{}
		empty  int
		failed int
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := r.newRequest(ctx, http.MethodPost, url, r.cfg.Token, map[string]any{})
			if err != nil {
				return
			}
			resp, err := r.httpc.Do(req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			defer resp.Body.Close()
			var body struct {
				Tour *struct {
					ID string `json:"id"`
				} `json:"tour"`
			}
			if resp.StatusCode >= 300 || json.NewDecoder(resp.Body).Decode(&body) != nil {
				failed++
				return
			}
			if body.Tour == nil {
				empty++
				return
			}
			tours[body.Tour.ID]++
		}()
	}
	wg.Wait()

	switch {
	case failed > 0:
		return Result{Status: "FAIL", Note: fmt.Sprintf("failed=%d", failed)}
	case len(tours) > 1:
		return Result{Status: "FAIL", Note: fmt.Sprintf("distinct tours=%d", len(tours))}
	case len(tours) == 1 && empty > 0:
		return Result{Status: "FAIL", Note: "mixed empty and tour responses"}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("tours=%d empty=%d", len(tours), empty)}
}

func perfLoad(ctx context.Context, r *Runner, method, url string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, err := r.newRequest(ctx, method, url, r.cfg.Token, payload)
				if err != nil {
					return
				}
				resp, err := r.httpc.Do(req)
				mu.Lock()
				if err != nil || resp.StatusCode >= 300 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
				if err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("no successful requests, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func containsStatus(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
