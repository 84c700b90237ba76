// README: DB-backed store tests; candidate filtering happens in SQL.
package ride

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/routing"
	"unipool/internal/types"
)

// The viability predicate lives in the FindViable query, so it only gets
// exercised against a real database: full rides, rides that are not
// scheduled and rides that already departed must all be filtered out.
func TestFindViable_Exclusions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	now := time.Now()
	seedStudent(t, db, "driver1")
	seedRideRow(t, db, "viable", "driver1", 2, "scheduled", now.Add(time.Hour))
	seedRideRow(t, db, "full", "driver1", 0, "scheduled", now.Add(time.Hour))
	seedRideRow(t, db, "started", "driver1", 2, "in_progress", now.Add(time.Hour))
	seedRideRow(t, db, "departed", "driver1", 2, "scheduled", now.Add(-time.Hour))
	seedRideRow(t, db, "too-late", "driver1", 2, "scheduled", now.Add(3*time.Hour))

	legs := []routing.Trajectory{{Label: "Principal", Principal: true, DistanceKm: 10, DurationSec: 1800}}
	if err := store.SaveTrajectories(ctx, "viable", legs); err != nil {
		t.Fatalf("save trajectories: %v", err)
	}

	rides, err := store.FindViable(ctx, now, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("find viable: %v", err)
	}
	if len(rides) != 1 || rides[0].ID != "viable" {
		ids := make([]types.ID, 0, len(rides))
		for _, r := range rides {
			ids = append(ids, r.ID)
		}
		t.Fatalf("candidates = %v, want [viable]", ids)
	}
	if len(rides[0].Legs) != 1 || !rides[0].Legs[0].Principal {
		t.Fatalf("candidate legs not loaded: %+v", rides[0].Legs)
	}
}

func seedStudent(t *testing.T, db *pgxpool.Pool, id string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO students (id, name, email) VALUES ($1, $1, $1 || '@test.local')`, id)
	if err != nil {
		t.Fatalf("seed student %s: %v", id, err)
	}
}

func seedRideRow(t *testing.T, db *pgxpool.Pool, id, driverID string, seats int, status string, departure time.Time) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO rides (
			id, driver_id, origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			departure_at, arrival_at, capacity, seats_available, status
		) VALUES ($1, $2, 'campus', 25.0, 121.5, 'dorms', 25.1, 121.6, $3, $4, 3, $5, $6)`,
		id, driverID, departure, departure.Add(30*time.Minute), seats, status)
	if err != nil {
		t.Fatalf("seed ride %s: %v", id, err)
	}
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("UNIPOOL_TEST_DSN")
	if dsn == "" {
		t.Skip("UNIPOOL_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	_, err = db.Exec(ctx, `TRUNCATE TABLE entry_request_events, entry_requests, notifications,
		ride_passengers, ride_trajectories, ride_location_snapshots, ride_requests, rides, students`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "migrations", "0001_init.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(40, len(stmt))], err)
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
