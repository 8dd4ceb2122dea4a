package seed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"compass/api/internal/authpw"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

const (
	curatedProjectLimit = 10
	taskFloor           = 5
)

// Report summarizes what a seed run changed. Running twice in a row
// yields an empty CreatedUsers slice and the same curated count.
type Report struct {
	CreatedUsers    []string `json:"created_users"`
	CuratedProjects int      `json:"curated_projects"`
	CreatedTasks    int      `json:"created_tasks"`
}

type demoUser struct {
	Email       string
	DisplayName string
	Role        string
	Password    string
}

// Demo credentials are intentionally well known; the seeder only runs
// behind the admin guard or the one-time setup token.
var demoUsers = []demoUser{
	{Email: "admin@compass.local", DisplayName: "Admin", Role: "admin", Password: "admin-demo-pw"},
	{Email: "alice@compass.local", DisplayName: "Alice", Role: "owner", Password: "alice-demo-pw"},
	{Email: "bob@compass.local", DisplayName: "Bob", Role: "owner", Password: "bob-demo-pw"},
	{Email: "carol@compass.local", DisplayName: "Carol", Role: "portfolio", Password: "carol-demo-pw"},
}

type demoProject struct {
	Name         string
	Status       string
	Priority     string
	ManagerEmail string
	PlannedCost  float64
}

var demoProjects = []demoProject{
	{Name: "Website Relaunch", Status: "active", Priority: "high", ManagerEmail: "alice@compass.local", PlannedCost: 120000},
	{Name: "Mobile App MVP", Status: "active", Priority: "critical", ManagerEmail: "alice@compass.local", PlannedCost: 250000},
	{Name: "Data Warehouse Migration", Status: "active", Priority: "medium", ManagerEmail: "bob@compass.local", PlannedCost: 180000},
}

// Service curates the demo dataset. A run is one transaction so a
// partially applied seed can never be observed.
type Service struct {
	db *sql.DB
}

func New(st *store.PostgresStore) *Service {
	return &Service{db: st.DB()}
}

// Run creates missing demo users (unique by email), makes sure at least
// a minimal active portfolio exists, and tops up to ten most recently
// updated active projects to the task floor.
func (s *Service) Run(ctx context.Context) (Report, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("seed: begin: %w", err)
	}
	defer tx.Rollback()

	report := Report{CreatedUsers: []string{}}
	now := time.Now().UTC()

	userIDs := map[string]string{}
	for _, du := range demoUsers {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE email = $1`, du.Email).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			hash, err := authpw.HashPassword(du.Password)
			if err != nil {
				return Report{}, fmt.Errorf("seed: hash password: %w", err)
			}
			id = util.NewID("usr")
			_, err = tx.ExecContext(ctx, `
				INSERT INTO users (id, display_name, email, password_hash, role, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)`,
				id, du.DisplayName, du.Email, hash, du.Role, now)
			if err != nil {
				return Report{}, fmt.Errorf("seed: insert user %s: %w", du.Email, err)
			}
			report.CreatedUsers = append(report.CreatedUsers, du.Email)
		case err != nil:
			return Report{}, fmt.Errorf("seed: lookup user %s: %w", du.Email, err)
		}
		userIDs[du.Email] = id
	}

	var activeProjects int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE is_active`).Scan(&activeProjects); err != nil {
		return Report{}, fmt.Errorf("seed: count projects: %w", err)
	}
	if activeProjects == 0 {
		for _, dp := range demoProjects {
			var seq int64
			if err := tx.QueryRowContext(ctx,
				`SELECT nextval('project_key_seq')`).Scan(&seq); err != nil {
				return Report{}, fmt.Errorf("seed: project sequence: %w", err)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO projects (id, key, name, status, priority, manager_id,
					planned_cost, actual_cost, planned_benefit, completion,
					is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, 0, TRUE, $8, $8)`,
				util.NewID("prj"), util.NewProjectKey(seq), dp.Name, dp.Status,
				dp.Priority, userIDs[dp.ManagerEmail], dp.PlannedCost, now)
			if err != nil {
				return Report{}, fmt.Errorf("seed: insert project %q: %w", dp.Name, err)
			}
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name FROM projects
		WHERE is_active
		ORDER BY updated_at DESC
		LIMIT $1`, curatedProjectLimit)
	if err != nil {
		return Report{}, fmt.Errorf("seed: list curated projects: %w", err)
	}
	type curated struct{ id, name string }
	var projects []curated
	for rows.Next() {
		var c curated
		if err := rows.Scan(&c.id, &c.name); err != nil {
			rows.Close()
			return Report{}, fmt.Errorf("seed: scan project: %w", err)
		}
		projects = append(projects, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Report{}, fmt.Errorf("seed: list curated projects: %w", err)
	}

	for _, p := range projects {
		var have int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND is_active`,
			p.id).Scan(&have); err != nil {
			return Report{}, fmt.Errorf("seed: count tasks for %s: %w", p.id, err)
		}
		for i := have; i < taskFloor; i++ {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (id, project_id, name, status, priority,
					estimated_hours, actual_hours, completion, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, 'todo', 'medium', 8, 0, 0, TRUE, $4, $4)`,
				util.NewID("task"), p.id,
				fmt.Sprintf("%s task %d", p.name, i+1), now)
			if err != nil {
				return Report{}, fmt.Errorf("seed: insert task for %s: %w", p.id, err)
			}
			report.CreatedTasks++
		}
	}
	report.CuratedProjects = len(projects)

	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("seed: commit: %w", err)
	}
	return report, nil
}
