// README: Claim race cases: health, concurrent claim, stored winner and repeat claim.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cvneat/internal/infra"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	issuer *infra.JWTIssuer

	winner string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		issuer: infra.NewJWTIssuer(cfg.Secret, cfg.Issuer),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
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
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "API: server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
				resp, err := r.httpc.Do(req)
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
		{Name: "Claim: concurrent drivers, one winner", Run: concurrentClaim},
		{Name: "Claim: stored driver matches winner", Run: storedWinner},
		{
			Name: "Claim: loser retries after the race",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.winner == "" {
					return Result{Status: "SKIP", Note: "no winner"}
				}
				loser := driverName(r.cfg.Drivers + 1)
				code, latency, err := r.claim(ctx, loser)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if code != http.StatusConflict {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", code)}
				}
				return Result{Status: "PASS", Latency: latency}
			},
		},
	}
}

func driverName(i int) string {
	return fmt.Sprintf("bench-driver-%03d", i)
}

func (r *Runner) claim(ctx context.Context, driverID string) (int, time.Duration, error) {
	token, err := r.issuer.Sign(driverID, "delivery", 10*time.Minute)
	if err != nil {
		return 0, 0, err
	}
	url := r.cfg.BaseURL + "/api/delivery/orders/" + r.cfg.OrderID + "/claim"
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(`{"delivery_time":25}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), nil
}

func concurrentClaim(ctx context.Context, r *Runner) Result {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		start   = make(chan struct{})
		wins    []string
		lost    int
		other   = map[int]int{}
		slowest time.Duration
	)

	for i := 0; i < r.cfg.Drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			code, latency, err := r.claim(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if latency > slowest {
				slowest = latency
			}
			switch {
			case err != nil:
				other[0]++
			case code == http.StatusOK:
				wins = append(wins, id)
			case code == http.StatusConflict:
				lost++
			default:
				other[code]++
			}
		}(driverName(i))
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("won=%d conflict=%d other=%v", len(wins), lost, other)
	if len(wins) != 1 || lost != r.cfg.Drivers-1 {
		return Result{Status: "FAIL", Latency: slowest, Note: note}
	}
	r.winner = wins[0]
	return Result{Status: "PASS", Latency: slowest, Note: note + " winner=" + r.winner}
}

func storedWinner(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	if r.winner == "" {
		return Result{Status: "SKIP", Note: "no winner"}
	}
	var driverID *string
	err := r.db.QueryRow(ctx, `SELECT driver_id FROM orders WHERE id = $1`, r.cfg.OrderID).Scan(&driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Result{Status: "FAIL", Note: "order not found"}
	}
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if driverID == nil {
		return Result{Status: "FAIL", Note: "no driver stored"}
	}
	if *driverID != r.winner {
		return Result{Status: "FAIL", Note: "stored driver " + *driverID}
	}
	return Result{Status: "PASS"}
}
