// README: Concurrency tests for the PostgreSQL ledger store (run with -race).
package entryrequest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"unipool/internal/types"
)

// Two approvals racing for the last seat of the same ride must resolve to
// exactly one APPROVED entry; the loser re-validates after acquiring the
// ride row lock and fails with a seat conflict.
func TestPGConcurrentApprove_LastSeat(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewPGStore(db)

	seedStudent(t, db, "driver1")
	seedStudent(t, db, "alice")
	seedStudent(t, db, "bob")
	seedRide(t, db, "r1", "driver1", 1)
	seedRequest(t, db, "q1", "alice")
	seedRequest(t, db, "q2", "bob")

	e1 := seedEntry(t, store, "r1", "q1", "alice")
	e2 := seedEntry(t, store, "r1", "q2", "bob")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []types.ID{e1, e2} {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := store.ApproveAndSeat(ctx, id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success, conflict := 0, 0
	for err := range errs {
		switch err {
		case nil:
			success++
		case ErrSeatConflict:
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || conflict != 1 {
		t.Fatalf("expected 1 success and 1 conflict, got %d/%d", success, conflict)
	}

	var seats int
	if err := db.QueryRow(ctx, "SELECT seats_available FROM rides WHERE id = 'r1'").Scan(&seats); err != nil {
		t.Fatalf("query seats: %v", err)
	}
	if seats != 0 {
		t.Fatalf("seats_available = %d, want 0", seats)
	}
}

// A student holding two pending entries on the same ride can only be seated
// once; the second approval must fail with a sentinel, not a constraint
// violation.
func TestPGApprove_DuplicateStudentSameRide(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewPGStore(db)

	seedStudent(t, db, "driver1")
	seedStudent(t, db, "alice")
	seedRide(t, db, "r1", "driver1", 3)
	seedRequest(t, db, "q1", "alice")
	seedRequest(t, db, "q2", "alice")

	e1 := seedEntry(t, store, "r1", "q1", "alice")
	e2 := seedEntry(t, store, "r1", "q2", "alice")

	if _, err := store.ApproveAndSeat(ctx, e1); err != nil {
		t.Fatalf("approve e1: %v", err)
	}
	if _, err := store.ApproveAndSeat(ctx, e2); err != ErrAlreadySeated {
		t.Fatalf("expected ErrAlreadySeated, got %v", err)
	}

	var seats, passengers int
	if err := db.QueryRow(ctx, "SELECT seats_available FROM rides WHERE id = 'r1'").Scan(&seats); err != nil {
		t.Fatalf("query seats: %v", err)
	}
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM ride_passengers WHERE ride_id = 'r1'").Scan(&passengers); err != nil {
		t.Fatalf("query passengers: %v", err)
	}
	if seats != 2 || passengers != 1 {
		t.Fatalf("duplicate approval mutated seats: seats=%d passengers=%d", seats, passengers)
	}

	var status string
	if err := db.QueryRow(ctx, "SELECT status FROM entry_requests WHERE id = $1", string(e2)).Scan(&status); err != nil {
		t.Fatalf("query e2: %v", err)
	}
	if status != "pending" {
		t.Fatalf("e2 status = %s, want pending", status)
	}
}

func TestPGApproveThenCancel_SeatAccounting(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewPGStore(db)

	seedStudent(t, db, "driver1")
	seedStudent(t, db, "alice")
	seedRide(t, db, "r1", "driver1", 2)
	seedRequest(t, db, "q1", "alice")
	id := seedEntry(t, store, "r1", "q1", "alice")

	if _, err := store.ApproveAndSeat(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	actor := types.ID("alice")
	if _, err := store.CancelAndUnseat(ctx, id, ActorStudent, &actor); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var seats, passengers int
	if err := db.QueryRow(ctx, "SELECT seats_available FROM rides WHERE id = 'r1'").Scan(&seats); err != nil {
		t.Fatalf("query seats: %v", err)
	}
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM ride_passengers WHERE ride_id = 'r1'").Scan(&passengers); err != nil {
		t.Fatalf("query passengers: %v", err)
	}
	if seats != 2 || passengers != 0 {
		t.Fatalf("seat accounting broken: seats=%d passengers=%d", seats, passengers)
	}

	// The audit trail keeps both transitions.
	var events int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM entry_request_events WHERE entry_request_id = $1", string(id)).Scan(&events); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if events != 3 { // create, approve, cancel
		t.Fatalf("expected 3 events, got %d", events)
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

func seedRide(t *testing.T, db *pgxpool.Pool, id, driverID string, capacity int) {
	t.Helper()
	dep := time.Now().Add(time.Hour)
	_, err := db.Exec(context.Background(), `
		INSERT INTO rides (
			id, driver_id, origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			departure_at, arrival_at, capacity, seats_available, status
		) VALUES ($1, $2, 'campus', 25.0, 121.5, 'dorms', 25.1, 121.6, $3, $4, $5, $5, 'scheduled')`,
		id, driverID, dep, dep.Add(30*time.Minute), capacity)
	if err != nil {
		t.Fatalf("seed ride %s: %v", id, err)
	}
}

func seedRequest(t *testing.T, db *pgxpool.Pool, id, studentID string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO ride_requests (
			id, student_id, origin_label, origin_lat, origin_lng,
			destination_label, destination_lat, destination_lng,
			desired_arrival, status
		) VALUES ($1, $2, 'a', 25.0, 121.5, 'b', 25.1, 121.6, $3, 'pending')`,
		id, studentID, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("seed request %s: %v", id, err)
	}
}

func seedEntry(t *testing.T, store *PGStore, rideID, requestID, studentID string) types.ID {
	t.Helper()
	e := &EntryRequest{
		ID:            types.NewID(),
		RideID:        types.ID(rideID),
		RideRequestID: types.ID(requestID),
		StudentID:     types.ID(studentID),
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
	if err := store.Create(context.Background(), e); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return e.ID
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("UNIPOOL_TEST_DSN")
	if dsn == "" {
		t.Skip("UNIPOOL_TEST_DSN not set; skipping DB-backed race tests")
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
