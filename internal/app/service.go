package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"compass/api/internal/aireport"
	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/bus"
	"compass/api/internal/config"
	"compass/api/internal/export"
	"compass/api/internal/ledger"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/seed"
	"compass/api/internal/session"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of the Postgres store the service uses.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	CountUsers(ctx context.Context) (int, error)
	DeactivateUser(ctx context.Context, userID string) error
	UpdateUserRole(ctx context.Context, userID, role string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	NextProjectSequence(ctx context.Context) (int64, error)
	InsertProject(ctx context.Context, p store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context, managerID string, limit, offset int) ([]store.Project, error)
	UpdateProject(ctx context.Context, p store.Project) error
	SoftDeleteProject(ctx context.Context, projectID string) error

	InsertTask(ctx context.Context, t store.Task) error
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]store.Task, error)
	UpdateTask(ctx context.Context, t store.Task) error
	SoftDeleteTask(ctx context.Context, taskID string) error

	InsertFeature(ctx context.Context, f store.Feature) error
	GetFeature(ctx context.Context, featureID string) (store.Feature, error)
	ListFeaturesByProject(ctx context.Context, projectID string) ([]store.Feature, error)
	UpdateFeature(ctx context.Context, f store.Feature) error
	SoftDeleteFeature(ctx context.Context, featureID string) error

	InsertBacklogItem(ctx context.Context, b store.BacklogItem) error
	GetBacklogItem(ctx context.Context, itemID string) (store.BacklogItem, error)
	ListBacklog(ctx context.Context, limit, offset int) ([]store.BacklogItem, error)
	UpdateBacklogItem(ctx context.Context, b store.BacklogItem) error
	SoftDeleteBacklogItem(ctx context.Context, itemID string) error

	InsertResource(ctx context.Context, r store.Resource) error
	GetResource(ctx context.Context, resourceID string) (store.Resource, error)
	ListResources(ctx context.Context, limit, offset int) ([]store.Resource, error)
	UpdateResource(ctx context.Context, r store.Resource) error
	SoftDeleteResource(ctx context.Context, resourceID string) error

	InsertRisk(ctx context.Context, r store.Risk) error
	GetRisk(ctx context.Context, riskID string) (store.Risk, error)
	ListRisksByProject(ctx context.Context, projectID string) ([]store.Risk, error)
	UpdateRisk(ctx context.Context, r store.Risk) error
	SoftDeleteRisk(ctx context.Context, riskID string) error

	Summary(ctx context.Context) (store.PortfolioSummary, error)
}

// sessionStore holds refresh sessions; Redis in production, Postgres as
// the fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessions adapts the Postgres store to the sessionStore interface.
type pgSessions struct {
	store interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
}

// NewPGSessions wraps the Postgres store as a session store.
func NewPGSessions(st *store.PostgresStore) sessionStore {
	return &pgSessions{store: st}
}

func (p *pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p *pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, err := p.store.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, session.ErrNotFound
	}
	return user, err
}

func (p *pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type passwordAuth interface {
	SignIn(ctx context.Context, email, password string) (store.User, error)
	CreateUser(ctx context.Context, req authpw.CreateUserRequest) (store.User, error)
}

type seeder interface {
	Run(ctx context.Context) (seed.Report, error)
}

type reporter interface {
	Generate(ctx context.Context) (aireport.Report, error)
}

type allocator interface {
	Allocate(ctx context.Context, resourceID, targetID, targetKind string, percentage float64, roleLabel string) (store.Allocation, error)
	Deallocate(ctx context.Context, resourceID, targetKind, targetID string) error
	Allocations(ctx context.Context, resourceID string) ([]store.Allocation, error)
	Availability(ctx context.Context, resourceID string) (ledger.Availability, error)
	Workload(ctx context.Context, resourceID string) (ledger.Workload, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	auth     passwordAuth
	ledger   allocator
	hub      *bus.Hub
	seeder   seeder
	reports  reporter
	exporter *export.Service
	search   *search.Service
}

// Deps bundles the service's collaborators for wiring in main.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Auth     passwordAuth
	Ledger   allocator
	Hub      *bus.Hub
	Seeder   seeder
	Reports  reporter
	Exporter *export.Service
	Search   *search.Service
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		auth:     deps.Auth,
		ledger:   deps.Ledger,
		hub:      deps.Hub,
		seeder:   deps.Seeder,
		reports:  deps.Reports,
		exporter: deps.Exporter,
		search:   deps.Search,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SignIn verifies credentials and issues a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrAccountDisabled) {
			return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and resolves its user. Any
// decode failure, revocation, or missing/disabled user rejects the
// request; nothing downgrades to an anonymous principal.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateUser is the admin user-management path.
func (s *Service) CreateUser(ctx context.Context, session Session, req authpw.CreateUserRequest) (store.User, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.User{}, errForbidden()
	}
	user, err := s.auth.CreateUser(ctx, req)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return store.User{}, errConflict("A user with that email already exists")
		}
		var invalid *authpw.ValidationError
		if errors.As(err, &invalid) {
			return store.User{}, errValidation(invalid.Error())
		}
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, errForbidden()
	}
	return s.store.ListUsers(ctx)
}

func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	if userID == session.UserID {
		return errValidation("cannot deactivate your own account")
	}
	return s.store.DeactivateUser(ctx, userID)
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	if string(rbac.Normalize(role)) != role {
		return errValidation("unknown role")
	}
	return s.store.UpdateUserRole(ctx, userID, role)
}

// SeedAdmin runs the demo seeder for an authenticated admin.
func (s *Service) SeedAdmin(ctx context.Context, session Session) (seed.Report, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return seed.Report{}, errForbidden()
	}
	return s.seeder.Run(ctx)
}

// SeedSetup runs the seeder against an empty installation. The setup
// token is only honored while the users table is empty; once any user
// exists the endpoint is dead regardless of the token.
func (s *Service) SeedSetup(ctx context.Context, setupToken string) (seed.Report, error) {
	if s.cfg.SetupToken == "" || setupToken == "" || setupToken != s.cfg.SetupToken {
		return seed.Report{}, domainError(401, "UNAUTHORIZED", "Unauthorized", nil)
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return seed.Report{}, err
	}
	if count > 0 {
		return seed.Report{}, errForbidden()
	}
	return s.seeder.Run(ctx)
}

// GenerateReport builds a portfolio status report. Report generation is
// a write on the Report entity, so portfolio and admin only.
func (s *Service) GenerateReport(ctx context.Context, session Session) (aireport.Report, error) {
	if !s.Can(session.Role, rbac.ActionManageRisks) {
		return aireport.Report{}, errForbidden()
	}
	report, err := s.reports.Generate(ctx)
	if err != nil {
		return aireport.Report{}, err
	}
	s.publish("reports", "report_generated", map[string]any{
		"headline": report.Headline,
		"health":   report.Health,
		"fallback": report.Fallback,
	})
	return report, nil
}

// ExportReport renders a freshly generated report in the requested
// format.
func (s *Service) ExportReport(ctx context.Context, session Session, format export.Format) (*export.Result, error) {
	report, err := s.GenerateReport(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(report, format)
}

func (s *Service) SearchPortfolio(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return search.Response{}, errForbidden()
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Summary(ctx context.Context, session Session) (store.PortfolioSummary, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.PortfolioSummary{}, errForbidden()
	}
	return s.store.Summary(ctx)
}

// publish hands an event to the bus. Callers only publish after the
// store write has committed, so subscribers never observe rolled-back
// state.
func (s *Service) publish(topic, eventType string, data map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(topic, eventType, data)
}
