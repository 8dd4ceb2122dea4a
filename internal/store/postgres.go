package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateAllocation: an active allocation already joins this
	// resource to this target.
	ErrDuplicateAllocation = errors.New("duplicate allocation")
	// ErrOverCapacity: the insert would push the resource's active
	// allocation sum past 100.
	ErrOverCapacity = errors.New("allocation over capacity")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_active
		FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_active
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsActive)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, is_active
		FROM users ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsActive); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// DeactivateUser soft-deletes; user rows are never removed.
func (s *PostgresStore) DeactivateUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1
	`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return requireRow(result)
}

// ── Refresh sessions (Postgres fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.is_active
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsActive)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Projects ──

const projectColumns = `
	id, key, name, status, priority, manager_id,
	planned_cost, actual_cost, planned_benefit,
	start_date, due_date, completion, is_active, created_at, updated_at
`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(
		&p.ID, &p.Key, &p.Name, &p.Status, &p.Priority, &p.ManagerID,
		&p.PlannedCost, &p.ActualCost, &p.PlannedBenefit,
		&p.StartDate, &p.DueDate, &p.Completion, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (s *PostgresStore) NextProjectSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('project_key_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next project sequence: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, key, name, status, priority, manager_id,
			planned_cost, actual_cost, planned_benefit, start_date, due_date, completion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.Key, p.Name, p.Status, p.Priority, p.ManagerID,
		p.PlannedCost, p.ActualCost, p.PlannedBenefit, p.StartDate, p.DueDate, p.Completion)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE id = $1 AND is_active
	`, projectID)
	return scanProject(row)
}

// ListProjects returns active projects. A non-empty managerID scopes the
// listing server-side to that manager's projects; a manager with no
// projects gets an empty set, not an error.
func (s *PostgresStore) ListProjects(ctx context.Context, managerID string, limit, offset int) ([]Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE is_active`
	args := []any{}
	if managerID != "" {
		query += ` AND manager_id = $1`
		args = append(args, managerID)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name=$2, status=$3, priority=$4, manager_id=$5,
			planned_cost=$6, actual_cost=$7, planned_benefit=$8,
			start_date=$9, due_date=$10, completion=$11, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, p.ID, p.Name, p.Status, p.Priority, p.ManagerID,
		p.PlannedCost, p.ActualCost, p.PlannedBenefit, p.StartDate, p.DueDate, p.Completion)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, projectID)
	if err != nil {
		return fmt.Errorf("soft delete project: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListRecentActiveProjects(ctx context.Context, limit int) ([]Project, error) {
	return s.ListProjects(ctx, "", limit, 0)
}

// ── Tasks ──

const taskColumns = `
	id, project_id, name, status, priority, estimated_hours, actual_hours,
	completion, is_active, created_at, updated_at
`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Name, &t.Status, &t.Priority,
		&t.EstimatedHours, &t.ActualHours, &t.Completion, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (s *PostgresStore) InsertTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, name, status, priority, estimated_hours, actual_hours, completion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.ProjectID, t.Name, t.Status, t.Priority, t.EstimatedHours, t.ActualHours, t.Completion)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND is_active
	`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 AND is_active ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET name=$2, status=$3, priority=$4, estimated_hours=$5,
			actual_hours=$6, completion=$7, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, t.ID, t.Name, t.Status, t.Priority, t.EstimatedHours, t.ActualHours, t.Completion)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, taskID)
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	return requireRow(result)
}

// ── Features ──

func (s *PostgresStore) InsertFeature(ctx context.Context, f Feature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO features (id, project_id, name, status, priority, completion)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, f.ID, f.ProjectID, f.Name, f.Status, f.Priority, f.Completion)
	if err != nil {
		return fmt.Errorf("insert feature: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFeature(ctx context.Context, featureID string) (Feature, error) {
	var f Feature
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, status, priority, completion, is_active, created_at, updated_at
		FROM features WHERE id=$1 AND is_active
	`, featureID).Scan(&f.ID, &f.ProjectID, &f.Name, &f.Status, &f.Priority, &f.Completion, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Feature{}, err
	}
	return f, nil
}

func (s *PostgresStore) ListFeaturesByProject(ctx context.Context, projectID string) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, status, priority, completion, is_active, created_at, updated_at
		FROM features WHERE project_id=$1 AND is_active ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Status, &f.Priority, &f.Completion, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func (s *PostgresStore) UpdateFeature(ctx context.Context, f Feature) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE features SET name=$2, status=$3, priority=$4, completion=$5, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, f.ID, f.Name, f.Status, f.Priority, f.Completion)
	if err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteFeature(ctx context.Context, featureID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE features SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, featureID)
	if err != nil {
		return fmt.Errorf("soft delete feature: %w", err)
	}
	return requireRow(result)
}

// ── Backlog ──

func (s *PostgresStore) InsertBacklogItem(ctx context.Context, b BacklogItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog_items (id, name, status, priority, effort_estimate, completion)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.Name, b.Status, b.Priority, b.EffortEstimate, b.Completion)
	if err != nil {
		return fmt.Errorf("insert backlog item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBacklogItem(ctx context.Context, itemID string) (BacklogItem, error) {
	var b BacklogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, priority, effort_estimate, completion, is_active, created_at, updated_at
		FROM backlog_items WHERE id=$1 AND is_active
	`, itemID).Scan(&b.ID, &b.Name, &b.Status, &b.Priority, &b.EffortEstimate, &b.Completion, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return BacklogItem{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListBacklog(ctx context.Context, limit, offset int) ([]BacklogItem, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, status, priority, effort_estimate, completion, is_active, created_at, updated_at
		FROM backlog_items WHERE is_active
		ORDER BY CASE priority
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3
		END, created_at
		LIMIT %d OFFSET %d
	`, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	defer rows.Close()

	var items []BacklogItem
	for rows.Next() {
		var b BacklogItem
		if err := rows.Scan(&b.ID, &b.Name, &b.Status, &b.Priority, &b.EffortEstimate, &b.Completion, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan backlog item: %w", err)
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateBacklogItem(ctx context.Context, b BacklogItem) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE backlog_items SET name=$2, status=$3, priority=$4, effort_estimate=$5, completion=$6, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, b.ID, b.Name, b.Status, b.Priority, b.EffortEstimate, b.Completion)
	if err != nil {
		return fmt.Errorf("update backlog item: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteBacklogItem(ctx context.Context, itemID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE backlog_items SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, itemID)
	if err != nil {
		return fmt.Errorf("soft delete backlog item: %w", err)
	}
	return requireRow(result)
}

// ── Resources ──

func (s *PostgresStore) InsertResource(ctx context.Context, r Resource) error {
	skills, err := json.Marshal(r.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, name, role_label, skills, experience)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Name, r.RoleLabel, skills, r.Experience)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResource(ctx context.Context, resourceID string) (Resource, error) {
	var r Resource
	var skills []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role_label, skills, experience, is_active, created_at, updated_at
		FROM resources WHERE id=$1 AND is_active
	`, resourceID).Scan(&r.ID, &r.Name, &r.RoleLabel, &skills, &r.Experience, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Resource{}, err
	}
	if err := json.Unmarshal(skills, &r.Skills); err != nil {
		return Resource{}, fmt.Errorf("unmarshal skills: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListResources(ctx context.Context, limit, offset int) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, role_label, skills, experience, is_active, created_at, updated_at
		FROM resources WHERE is_active ORDER BY name LIMIT %d OFFSET %d
	`, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var r Resource
		var skills []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.RoleLabel, &skills, &r.Experience, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		if err := json.Unmarshal(skills, &r.Skills); err != nil {
			return nil, fmt.Errorf("unmarshal skills: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

func (s *PostgresStore) UpdateResource(ctx context.Context, r Resource) error {
	skills, err := json.Marshal(r.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET name=$2, role_label=$3, skills=$4, experience=$5, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, r.ID, r.Name, r.RoleLabel, skills, r.Experience)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteResource(ctx context.Context, resourceID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE resources SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, resourceID)
	if err != nil {
		return fmt.Errorf("soft delete resource: %w", err)
	}
	return requireRow(result)
}

// ── Allocations ──

// CreateAllocation inserts inside one transaction with the resource row
// locked, so the duplicate and capacity checks are atomic even across
// processes. Returns sql.ErrNoRows when the resource or target is missing,
// ErrDuplicateAllocation for an existing active pair, ErrOverCapacity when
// the active sum would exceed 100.
func (s *PostgresStore) CreateAllocation(ctx context.Context, a Allocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin allocation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var resourceID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM resources WHERE id=$1 AND is_active FOR UPDATE
	`, a.ResourceID).Scan(&resourceID)
	if err != nil {
		return err
	}

	var targetExists bool
	switch a.TargetKind {
	case TargetProject:
		err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1 AND is_active)`, a.TargetID).Scan(&targetExists)
	case TargetTask:
		err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id=$1 AND is_active)`, a.TargetID).Scan(&targetExists)
	default:
		return fmt.Errorf("unknown target kind %q", a.TargetKind)
	}
	if err != nil {
		return fmt.Errorf("check allocation target: %w", err)
	}
	if !targetExists {
		return sql.ErrNoRows
	}

	var duplicate bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM allocations
			WHERE resource_id=$1 AND target_kind=$2 AND target_id=$3 AND is_active
		)
	`, a.ResourceID, a.TargetKind, a.TargetID).Scan(&duplicate)
	if err != nil {
		return fmt.Errorf("check duplicate allocation: %w", err)
	}
	if duplicate {
		return ErrDuplicateAllocation
	}

	var allocated float64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(percentage), 0) FROM allocations WHERE resource_id=$1 AND is_active
	`, a.ResourceID).Scan(&allocated)
	if err != nil {
		return fmt.Errorf("sum allocations: %w", err)
	}
	if allocated+a.Percentage > 100 {
		return ErrOverCapacity
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allocations (id, resource_id, target_kind, target_id, percentage, role_label)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ResourceID, a.TargetKind, a.TargetID, a.Percentage, a.RoleLabel); err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit allocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllocation(ctx context.Context, resourceID, targetKind, targetID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE allocations SET is_active=FALSE
		WHERE resource_id=$1 AND target_kind=$2 AND target_id=$3 AND is_active
	`, resourceID, targetKind, targetID)
	if err != nil {
		return fmt.Errorf("delete allocation: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListAllocationsByResource(ctx context.Context, resourceID string) ([]Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, target_kind, target_id, percentage, role_label, is_active, created_at
		FROM allocations WHERE resource_id=$1 AND is_active ORDER BY created_at
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.ResourceID, &a.TargetKind, &a.TargetID, &a.Percentage, &a.RoleLabel, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (s *PostgresStore) AllocationSum(ctx context.Context, resourceID string) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(percentage), 0) FROM allocations WHERE resource_id=$1 AND is_active
	`, resourceID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum allocations: %w", err)
	}
	return sum, nil
}

// ResourceWorkload sums hours over the tasks a resource is allocated to.
func (s *PostgresStore) ResourceWorkload(ctx context.Context, resourceID string) (WorkloadCounts, error) {
	var counts WorkloadCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE target_kind='project'),
			COUNT(*) FILTER (WHERE target_kind='task')
		FROM allocations WHERE resource_id=$1 AND is_active
	`, resourceID).Scan(&counts.ProjectCount, &counts.TaskCount)
	if err != nil {
		return WorkloadCounts{}, fmt.Errorf("count allocations: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(t.estimated_hours), 0), COALESCE(SUM(t.actual_hours), 0)
		FROM allocations a
		JOIN tasks t ON t.id = a.target_id AND t.is_active
		WHERE a.resource_id=$1 AND a.target_kind='task' AND a.is_active
	`, resourceID).Scan(&counts.EstimatedHours, &counts.ActualHours)
	if err != nil {
		return WorkloadCounts{}, fmt.Errorf("sum task hours: %w", err)
	}
	return counts, nil
}

// ── Risks ──

const riskColumns = `
	id, project_id, title, probability, impact, status, mitigation_owner,
	due_date, is_active, created_at, updated_at
`

func scanRisk(row interface{ Scan(...any) error }) (Risk, error) {
	var r Risk
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.Title, &r.Probability, &r.Impact, &r.Status,
		&r.MitigationOwner, &r.DueDate, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (s *PostgresStore) InsertRisk(ctx context.Context, r Risk) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risks (id, project_id, title, probability, impact, status, mitigation_owner, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.ProjectID, r.Title, r.Probability, r.Impact, r.Status, r.MitigationOwner, r.DueDate)
	if err != nil {
		return fmt.Errorf("insert risk: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRisk(ctx context.Context, riskID string) (Risk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+riskColumns+` FROM risks WHERE id=$1 AND is_active
	`, riskID)
	return scanRisk(row)
}

func (s *PostgresStore) ListRisksByProject(ctx context.Context, projectID string) ([]Risk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+riskColumns+` FROM risks WHERE project_id=$1 AND is_active
		ORDER BY probability * impact DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list risks: %w", err)
	}
	defer rows.Close()

	var risks []Risk
	for rows.Next() {
		r, err := scanRisk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk: %w", err)
		}
		risks = append(risks, r)
	}
	return risks, rows.Err()
}

func (s *PostgresStore) UpdateRisk(ctx context.Context, r Risk) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE risks SET title=$2, probability=$3, impact=$4, status=$5,
			mitigation_owner=$6, due_date=$7, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, r.ID, r.Title, r.Probability, r.Impact, r.Status, r.MitigationOwner, r.DueDate)
	if err != nil {
		return fmt.Errorf("update risk: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SoftDeleteRisk(ctx context.Context, riskID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE risks SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND is_active
	`, riskID)
	if err != nil {
		return fmt.Errorf("soft delete risk: %w", err)
	}
	return requireRow(result)
}

// ── Aggregates ──

// Summary excludes soft-deleted projects and risks entirely.
func (s *PostgresStore) Summary(ctx context.Context) (PortfolioSummary, error) {
	var sum PortfolioSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status='active'),
			COUNT(*) FILTER (WHERE status='completed'),
			COUNT(*) FILTER (WHERE status='at_risk'),
			COUNT(*) FILTER (WHERE status='off_track'),
			COALESCE(SUM(planned_cost), 0),
			COALESCE(SUM(actual_cost), 0)
		FROM projects WHERE is_active
	`).Scan(&sum.ProjectCount, &sum.ActiveCount, &sum.CompletedCount,
		&sum.AtRiskCount, &sum.OffTrackCount, &sum.TotalPlannedCost, &sum.TotalActualCost)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("project summary: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risks WHERE is_active AND status IN ('open', 'in_progress')
	`).Scan(&sum.OpenRiskCount)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("risk summary: %w", err)
	}
	return sum, nil
}

// SearchPortfolio is the ILIKE fallback used when Meilisearch is not
// configured.
func (s *PostgresStore) SearchPortfolio(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT 'project', id, name, status FROM projects WHERE is_active AND (name ILIKE $1 OR key ILIKE $1)
		UNION ALL
		SELECT 'resource', id, name, role_label FROM resources WHERE is_active AND (name ILIKE $1 OR skills::text ILIKE $1)
		UNION ALL
		SELECT 'risk', id, title, status FROM risks WHERE is_active AND title ILIKE $1
		LIMIT %d
	`, limit), pattern)
	if err != nil {
		return nil, fmt.Errorf("search portfolio: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(&hit.Kind, &hit.ID, &hit.Title, &hit.Extra); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
