// README: Smoke cases; environment checks, the match/approve flow and the seat race.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
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
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
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
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: caseDBConnect},
		{Name: "Env: Redis connect", Run: caseRedisConnect},
		{Name: "Migration: apply (optional)", Run: caseApplyMigration},
		{Name: "Migration: tables exist", Run: caseTablesExist},
		{Name: "API: health", Run: caseHealth},
		{Name: "API: metrics", Run: caseMetrics},
		{Name: "Flow: match and approve", Run: caseMatchFlow},
		{Name: "Race: last seat", Run: caseSeatRace},
		{Name: "Realtime: driver notification", Run: caseRealtime},
	}
}

func caseDBConnect(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "dsn not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func caseRedisConnect(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "SKIP", Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS"}
}

func caseApplyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: "SKIP", Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: "FAIL", Note: "dsn not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	for _, stmt := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
	}
	return Result{Status: "PASS"}
}

func caseTablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "dsn not configured"}
	}
	for _, table := range []string{"students", "rides", "ride_requests", "entry_requests", "entry_request_events", "notifications"} {
		var one int
		err := r.db.QueryRow(ctx, `SELECT 1 FROM information_schema.tables WHERE table_name = $1`, table).Scan(&one)
		if err != nil {
			return Result{Status: "FAIL", Note: "missing table " + table}
		}
	}
	return Result{Status: "PASS"}
}

func caseHealth(ctx context.Context, r *Runner) Result {
	started := time.Now()
	status, body, err := r.get(ctx, "/health")
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusOK || !strings.Contains(body, "OK") {
		return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "PASS", Latency: time.Since(started)}
}

func caseMetrics(ctx context.Context, r *Runner) Result {
	status, body, err := r.get(ctx, "/metrics")
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if status != http.StatusOK || !strings.Contains(body, "unipool_match_attempts_total") {
		return Result{Status: "FAIL", Note: "match counters not exported"}
	}
	return Result{Status: "PASS"}
}

// caseMatchFlow walks the happy path: seed two students, publish a ride,
// submit a request, approve the entry and check that the seat was consumed.
func caseMatchFlow(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "dsn required for seeding"}
	}
	ids := r.seedStudents(ctx, 2)
	driver, student := ids[0], ids[1]

	started := time.Now()
	rideID, err := r.createRide(ctx, driver, 2)
	if err != nil {
		return Result{Status: "FAIL", Note: "create ride: " + err.Error()}
	}
	entryID, err := r.createRequest(ctx, student)
	if err != nil {
		return Result{Status: "FAIL", Note: "match: " + err.Error()}
	}
	status, body, err := r.post(ctx, "/api/entry-requests/"+entryID+"/approve", nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("approve status=%d body=%s", status, body)}
	}

	status, body, err = r.get(ctx, "/api/rides/"+rideID)
	if err != nil || status != http.StatusOK {
		return Result{Status: "FAIL", Note: "get ride after approve"}
	}
	var ride struct {
		SeatsAvailable int `json:"seats_available"`
	}
	if err := json.Unmarshal([]byte(body), &ride); err != nil || ride.SeatsAvailable != 1 {
		return Result{Status: "FAIL", Note: "seat not consumed: " + body}
	}
	return Result{Status: "PASS", Latency: time.Since(started)}
}

// caseSeatRace fires concurrent approvals at a capacity-1 ride and expects
// exactly one winner; everyone else must get 409.
func caseSeatRace(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "dsn required for seeding"}
	}
	ids := r.seedStudents(ctx, r.cfg.Concurrency+1)
	driver, students := ids[0], ids[1:]

	if _, err := r.createRide(ctx, driver, 1); err != nil {
		return Result{Status: "FAIL", Note: "create ride: " + err.Error()}
	}

	entries := make([]string, 0, len(students))
	for _, s := range students {
		entryID, err := r.createRequest(ctx, s)
		if err != nil {
			return Result{Status: "FAIL", Note: "match: " + err.Error()}
		}
		entries = append(entries, entryID)
	}

	var wg sync.WaitGroup
	codes := make([]int, len(entries))
	for i, id := range entries {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			status, _, _ := r.post(ctx, "/api/entry-requests/"+id+"/approve", nil)
			codes[i] = status
		}(i, id)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			winners++
		case http.StatusConflict:
			conflicts++
		}
	}
	if winners != 1 || conflicts != len(entries)-1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("winners=%d conflicts=%d of %d", winners, conflicts, len(entries))}
	}
	return Result{Status: "PASS"}
}

// caseRealtime checks that matching pushes the driver's entry-requested
// notification onto the Redis user topic.
func caseRealtime(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.redis == nil {
		return Result{Status: "SKIP", Note: "dsn and redis required"}
	}
	ids := r.seedStudents(ctx, 2)
	driver, student := ids[0], ids[1]

	sub := r.redis.Subscribe(ctx, "user/"+driver+"/notifications")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return Result{Status: "FAIL", Note: "subscribe: " + err.Error()}
	}

	if _, err := r.createRide(ctx, driver, 2); err != nil {
		return Result{Status: "FAIL", Note: "create ride: " + err.Error()}
	}
	started := time.Now()
	if _, err := r.createRequest(ctx, student); err != nil {
		return Result{Status: "FAIL", Note: "match: " + err.Error()}
	}

	select {
	case <-sub.Channel():
		return Result{Status: "PASS", Latency: time.Since(started)}
	case <-time.After(5 * time.Second):
		return Result{Status: "FAIL", Note: "no notification within 5s"}
	}
}

func (r *Runner) seedStudents(ctx context.Context, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("bench%d%d", time.Now().UnixNano()%1e9, i)
		_, _ = r.db.Exec(ctx, `
			INSERT INTO students (id, name, email) VALUES ($1, $1, $1 || '@bench.local')
			ON CONFLICT (id) DO NOTHING`, ids[i])
	}
	return ids
}

func (r *Runner) createRide(ctx context.Context, driverID string, capacity int) (string, error) {
	dep := time.Now().Add(time.Hour)
	status, body, err := r.post(ctx, "/api/rides", map[string]any{
		"driver_id":    driverID,
		"origin":       map[string]any{"label": "campus", "lat": 25.017, "lng": 121.54},
		"destination":  map[string]any{"label": "dorms", "lat": 25.042, "lng": 121.61},
		"departure_at": dep.Format(time.RFC3339),
		"arrival_at":   dep.Add(30 * time.Minute).Format(time.RFC3339),
		"capacity":     capacity,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("status=%d body=%s", status, body)
	}
	var resp struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", err
	}
	return resp.RideID, nil
}

func (r *Runner) createRequest(ctx context.Context, studentID string) (string, error) {
	status, body, err := r.post(ctx, "/api/ride-requests", map[string]any{
		"student_id":      studentID,
		"origin":          map[string]any{"label": "pickup", "lat": 25.02, "lng": 121.55},
		"destination":     map[string]any{"label": "dropoff", "lat": 25.04, "lng": 121.6},
		"desired_arrival": time.Now().Add(3 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("status=%d body=%s", status, body)
	}
	var resp struct {
		EntryRequestID string `json:"entry_request_id"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", err
	}
	return resp.EntryRequestID, nil
}

func (r *Runner) get(ctx context.Context, path string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, "", err
	}
	return r.do(req)
}

func (r *Runner) post(ctx context.Context, path string, body any) (int, string, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req)
}

func (r *Runner) do(req *http.Request) (int, string, error) {
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(b), nil
}

func splitSQL(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ";") {
		var b strings.Builder
		for _, line := range strings.Split(part, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		if stmt := strings.TrimSpace(b.String()); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
