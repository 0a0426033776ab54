// README: Claim race runner; fires concurrent driver claims at one order and checks that exactly one wins.
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
	cfg := loadConfig()
	if cfg.OrderID == "" || cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "order-id and secret are required")
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

	if fail > 0 {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL string
	DSN     string
	OrderID string
	Secret  string
	Issuer  string
	Drivers int
	Timeout time.Duration
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("CVNEAT_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.DSN, "dsn", envOrDefault("CVNEAT_DB_DSN", ""), "Postgres DSN, used to verify the stored driver")
	flag.StringVar(&cfg.OrderID, "order-id", envOrDefault("CVNEAT_BENCH_ORDER_ID", ""), "Paid order to race for")
	flag.StringVar(&cfg.Secret, "secret", envOrDefault("CVNEAT_AUTH_JWT_SECRET", ""), "JWT secret shared with the API")
	flag.StringVar(&cfg.Issuer, "issuer", envOrDefault("CVNEAT_AUTH_JWT_ISSUER", "cvneat"), "JWT issuer")
	flag.IntVar(&cfg.Drivers, "drivers", envOrDefaultInt("CVNEAT_BENCH_DRIVERS", 20), "Number of competing drivers")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("CVNEAT_BENCH_TIMEOUT", 30*time.Second), "Total timeout")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
