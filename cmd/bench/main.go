// README: Benchmark runner; executes environment, builder and HTTP checks and prints a PASS/FAIL summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	Token          string
	DriverID       string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Offline        bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
	PoolSize       int
	Seed           int64
}

// Flags not given on the command line fall back to the environment, then
// to their defaults.
func loadConfig(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	fs.StringVar(&cfg.Token, "token", "bench-driver", "Bearer token for API calls")
	fs.StringVar(&cfg.DriverID, "driver", "bench-driver", "Driver id used for tour requests")
	fs.StringVar(&cfg.DSN, "dsn", "", "Postgres DSN")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "Redis address")
	fs.StringVar(&cfg.MigrationPath, "migration", "migrations/0001_init.sql", "Migration SQL path")
	fs.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "Apply migration SQL before tests")
	fs.BoolVar(&cfg.Offline, "offline", false, "Only run in-process builder checks")
	fs.BoolVar(&cfg.Strict, "strict", false, "Fail on skipped checks")
	fs.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Total timeout")
	fs.IntVar(&cfg.Concurrency, "concurrency", 20, "Concurrency for load checks")
	fs.DurationVar(&cfg.Duration, "duration", 5*time.Second, "Duration for throughput checks")
	fs.IntVar(&cfg.PoolSize, "pool", 500, "Synthetic pool size for builder checks")
	fs.Int64Var(&cfg.Seed, "seed", 42, "Random seed for synthetic pools")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := applyEnv(fs); err != nil {
		return cfg, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

var sharedEnv = map[string]string{
	"dsn":   "DISPATCH_DB_DSN",
	"redis": "DISPATCH_REDIS_ADDR",
}

func envKey(name string) string {
	if k, ok := sharedEnv[name]; ok {
		return k
	}
	return "DISPATCH_BENCH_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func applyEnv(fs *flag.FlagSet) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		key := envKey(f.Name)
		if v := os.Getenv(key); v != "" {
			if e := fs.Set(f.Name, v); e != nil {
				err = fmt.Errorf("%s: %w", key, e)
			}
		}
	})
	return err
}
