package seed

import (
	"context"
	"os"
	"testing"

	"compass/api/internal/store"
)

// TestRunIsIdempotent verifies that seeding twice leaves the dataset
// unchanged: no duplicate demo users, and the task floor is topped up
// once without over-creating on the second pass.
func TestRunIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	databaseURL := getTestDatabaseURL(t)
	db, err := store.Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	// Start from an empty dataset so the first run creates everything.
	_, err = db.ExecContext(ctx, `TRUNCATE allocations, risks, features, backlog_items, tasks, projects, resources, revoked_access_tokens, refresh_sessions, users CASCADE`)
	if err != nil {
		t.Fatalf("reset tables: %v", err)
	}

	svc := New(store.NewPostgresStore(db))

	first, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.CreatedUsers) != len(demoUsers) {
		t.Fatalf("first run created %d users, want %d", len(first.CreatedUsers), len(demoUsers))
	}
	if first.CreatedTasks == 0 {
		t.Fatal("first run created no tasks")
	}

	second, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.CreatedUsers) != 0 {
		t.Fatalf("second run created users again: %v", second.CreatedUsers)
	}
	if second.CreatedTasks != 0 {
		t.Fatalf("second run created %d tasks, want 0", second.CreatedTasks)
	}
	if second.CuratedProjects != first.CuratedProjects {
		t.Fatalf("curated projects changed between runs: %d then %d", first.CuratedProjects, second.CuratedProjects)
	}

	// Each demo user exists exactly once.
	for _, du := range demoUsers {
		var count int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE email = $1`, du.Email).Scan(&count)
		if err != nil {
			t.Fatalf("count users for %s: %v", du.Email, err)
		}
		if count != 1 {
			t.Fatalf("expected 1 user for %s, got %d", du.Email, count)
		}
	}

	// Every curated project sits at or above the task floor, and the
	// second run did not push any project past it.
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, COUNT(t.id)
		FROM projects p
		LEFT JOIN tasks t ON t.project_id = p.id AND t.is_active
		WHERE p.is_active
		GROUP BY p.id`)
	if err != nil {
		t.Fatalf("count tasks per project: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var tasks int
		if err := rows.Scan(&id, &tasks); err != nil {
			t.Fatalf("scan task count: %v", err)
		}
		if tasks != taskFloor {
			t.Fatalf("project %s has %d tasks, want exactly %d after two runs from empty", id, tasks, taskFloor)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate task counts: %v", err)
	}
}

// getTestDatabaseURL returns the database URL for testing. It checks
// TEST_DATABASE_URL first and skips the test when no database is
// reachable through the environment.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	t.Skip("set TEST_DATABASE_URL or DATABASE_URL to run seed integration tests")
	return ""
}
