package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/bus"
	"compass/api/internal/export"
	"compass/api/internal/ledger"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/session"
	"compass/api/internal/store"
)

// wsTopics are the channels clients may subscribe to.
var wsTopics = []string{"projects", "tasks", "features", "backlog", "resources", "allocations", "risks", "reports"}

type HTTPServer struct {
	service    *Service
	hub        *bus.Hub
	corsOrigin string
}

func NewHTTPServer(service *Service, hub *bus.Hub, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, hub: hub, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		refreshed, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			// Only an unknown or revoked token is the client's fault;
			// anything else is an upstream failure and must not read
			// as "signed out".
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(refreshed))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/setup/seed" {
		setupToken := strings.TrimSpace(r.Header.Get("X-Setup-Token"))
		report, err := s.service.SeedSetup(r.Context(), setupToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ws" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		bus.ServeWS(s.hub, wsTopics, w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/seed" {
		report, err := s.service.SeedAdmin(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{
			Text:       strings.TrimSpace(r.URL.Query().Get("q")),
			FilterKind: search.Kind(strings.TrimSpace(r.URL.Query().Get("kind"))),
		}
		var ok bool
		if q.Limit, ok = queryInt(w, r, "limit", 20); !ok {
			return
		}
		if q.Offset, ok = queryInt(w, r, "offset", 0); !ok {
			return
		}
		payload, err := s.service.SearchPortfolio(r.Context(), session, q)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		summary, err := s.service.Summary(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reports/status" {
		report, err := s.service.GenerateReport(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reports/status/export" {
		format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
		if format == "" {
			format = export.FormatPDF
		}
		result, err := s.service.ExportReport(r.Context(), session, format)
		if err != nil {
			if errors.Is(err, export.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF rendering is not available", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if r.URL.Path == "/api/users" {
		s.handleUsersCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/projects" {
		s.handleProjectsCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/backlog" {
		s.handleBacklogCollection(w, r, session)
		return
	}

	if r.URL.Path == "/api/resources" {
		s.handleResourcesCollection(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" {
		switch parts[1] {
		case "users":
			if len(parts) == 3 {
				s.handleUser(w, r, session, parts[2])
				return
			}
		case "projects":
			if len(parts) == 3 {
				s.handleProject(w, r, session, parts[2])
				return
			}
			if len(parts) == 4 {
				s.handleProjectChildren(w, r, session, parts[2], parts[3])
				return
			}
		case "tasks":
			if len(parts) == 3 {
				s.handleTask(w, r, session, parts[2])
				return
			}
		case "features":
			if len(parts) == 3 {
				s.handleFeature(w, r, session, parts[2])
				return
			}
		case "risks":
			if len(parts) == 3 {
				s.handleRisk(w, r, session, parts[2])
				return
			}
		case "backlog":
			if len(parts) == 3 {
				s.handleBacklogItem(w, r, session, parts[2])
				return
			}
		case "resources":
			if len(parts) >= 3 {
				s.handleResource(w, r, session, parts[2], parts[3:])
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleUsersCollection(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.service.ListUsers(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(users))
		for _, user := range users {
			items = append(items, userPayload(user))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": items})
	case http.MethodPost:
		var body struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.CreateUser(r.Context(), session, authpw.CreateUserRequest{
			Email:       body.Email,
			Password:    body.Password,
			DisplayName: body.DisplayName,
			Role:        body.Role,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, userPayload(user))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	switch r.Method {
	case http.MethodDelete:
		if err := s.service.DeactivateUser(r.Context(), session, userID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateUserRole(r.Context(), session, userID, body.Role); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleProjectsCollection(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		projects, err := s.service.ListProjects(r.Context(), session, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(projects))
		for _, project := range projects {
			items = append(items, projectPayload(project))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
	case http.MethodPost:
		var input ProjectInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.CreateProject(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, projectPayload(project))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.service.GetProject(r.Context(), session, projectID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, projectPayload(project))
	case http.MethodPut:
		var input ProjectInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.UpdateProject(r.Context(), session, projectID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, projectPayload(project))
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), session, projectID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleProjectChildren(w http.ResponseWriter, r *http.Request, session Session, projectID, child string) {
	switch child {
	case "tasks":
		switch r.Method {
		case http.MethodGet:
			tasks, err := s.service.ListTasks(r.Context(), session, projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			items := make([]map[string]any, 0, len(tasks))
			for _, task := range tasks {
				items = append(items, taskPayload(task))
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		case http.MethodPost:
			var input TaskInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateTask(r.Context(), session, projectID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, taskPayload(task))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "features":
		switch r.Method {
		case http.MethodGet:
			features, err := s.service.ListFeatures(r.Context(), session, projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			items := make([]map[string]any, 0, len(features))
			for _, feature := range features {
				items = append(items, featurePayload(feature))
			}
			writeJSON(w, http.StatusOK, map[string]any{"features": items})
		case http.MethodPost:
			var input FeatureInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			feature, err := s.service.CreateFeature(r.Context(), session, projectID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, featurePayload(feature))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case "risks":
		switch r.Method {
		case http.MethodGet:
			risks, err := s.service.ListRisks(r.Context(), session, projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			items := make([]map[string]any, 0, len(risks))
			for _, risk := range risks {
				items = append(items, riskPayload(risk))
			}
			writeJSON(w, http.StatusOK, map[string]any{"risks": items})
		case http.MethodPost:
			var input RiskInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			risk, err := s.service.CreateRisk(r.Context(), session, projectID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, riskPayload(risk))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request, session Session, taskID string) {
	switch r.Method {
	case http.MethodGet:
		task, err := s.service.GetTask(r.Context(), session, taskID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, taskPayload(task))
	case http.MethodPut:
		var input TaskInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		task, err := s.service.UpdateTask(r.Context(), session, taskID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, taskPayload(task))
	case http.MethodDelete:
		if err := s.service.DeleteTask(r.Context(), session, taskID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleFeature(w http.ResponseWriter, r *http.Request, session Session, featureID string) {
	switch r.Method {
	case http.MethodGet:
		feature, err := s.service.GetFeature(r.Context(), session, featureID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, featurePayload(feature))
	case http.MethodPut:
		var input FeatureInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		feature, err := s.service.UpdateFeature(r.Context(), session, featureID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, featurePayload(feature))
	case http.MethodDelete:
		if err := s.service.DeleteFeature(r.Context(), session, featureID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRisk(w http.ResponseWriter, r *http.Request, session Session, riskID string) {
	switch r.Method {
	case http.MethodGet:
		risk, err := s.service.GetRisk(r.Context(), session, riskID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, riskPayload(risk))
	case http.MethodPut:
		var input RiskInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		risk, err := s.service.UpdateRisk(r.Context(), session, riskID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, riskPayload(risk))
	case http.MethodDelete:
		if err := s.service.DeleteRisk(r.Context(), session, riskID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleBacklogCollection(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		items, err := s.service.ListBacklog(r.Context(), session, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, backlogPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"backlog": payload})
	case http.MethodPost:
		var input BacklogInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateBacklogItem(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, backlogPayload(item))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleBacklogItem(w http.ResponseWriter, r *http.Request, session Session, itemID string) {
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetBacklogItem(r.Context(), session, itemID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, backlogPayload(item))
	case http.MethodPut:
		var input BacklogInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateBacklogItem(r.Context(), session, itemID, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, backlogPayload(item))
	case http.MethodDelete:
		if err := s.service.DeleteBacklogItem(r.Context(), session, itemID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleResourcesCollection(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		resources, err := s.service.ListResources(r.Context(), session, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(resources))
		for _, resource := range resources {
			items = append(items, resourcePayload(resource))
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": items})
	case http.MethodPost:
		var input ResourceInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		resource, err := s.service.CreateResource(r.Context(), session, input)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, resourcePayload(resource))
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleResource covers /api/resources/{id} and its derived views:
// availability, workload, and the allocation collection.
func (s *HTTPServer) handleResource(w http.ResponseWriter, r *http.Request, session Session, resourceID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			resource, err := s.service.GetResource(r.Context(), session, resourceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, resourcePayload(resource))
		case http.MethodPut:
			var input ResourceInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			resource, err := s.service.UpdateResource(r.Context(), session, resourceID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, resourcePayload(resource))
		case http.MethodDelete:
			if err := s.service.DeleteResource(r.Context(), session, resourceID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "availability":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		availability, err := s.service.ResourceAvailability(r.Context(), session, resourceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, availability)
	case "workload":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		workload, err := s.service.ResourceWorkload(r.Context(), session, resourceID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, workload)
	case "allocations":
		s.handleAllocations(w, r, session, resourceID, rest[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAllocations(w http.ResponseWriter, r *http.Request, session Session, resourceID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			allocations, err := s.service.ResourceAllocations(r.Context(), session, resourceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			items := make([]map[string]any, 0, len(allocations))
			for _, allocation := range allocations {
				items = append(items, allocationPayload(allocation))
			}
			writeJSON(w, http.StatusOK, map[string]any{"allocations": items})
		case http.MethodPost:
			var input AllocationInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			input.ResourceID = resourceID
			allocation, err := s.service.Allocate(r.Context(), session, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, allocationPayload(allocation))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// DELETE /api/resources/{id}/allocations/{kind}/{targetId}
	if len(rest) == 2 && r.Method == http.MethodDelete {
		if err := s.service.Deallocate(r.Context(), session, resourceID, rest[0], rest[1]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" && r.URL.Path == "/api/ws" {
		// Browsers cannot set Authorization headers on WebSocket dials.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade work through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Setup-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be a non-negative integer", nil)
		return 0, false
	}
	return parsed, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrOverCapacity) {
		capacityErr := errCapacity(nil)
		return capacityErr.Status, capacityErr.Code, capacityErr.Message, nil
	}
	if errors.Is(err, store.ErrDuplicateAllocation) {
		return http.StatusConflict, "CONFLICT", "An allocation for this resource and target already exists", nil
	}
	if errors.Is(err, ledger.ErrInvalidPercentage) || errors.Is(err, ledger.ErrInvalidTargetKind) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"isActive":    user.IsActive,
	}
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"key":            p.Key,
		"name":           p.Name,
		"status":         p.Status,
		"priority":       p.Priority,
		"managerId":      p.ManagerID,
		"plannedCost":    p.PlannedCost,
		"actualCost":     p.ActualCost,
		"plannedBenefit": p.PlannedBenefit,
		"startDate":      p.StartDate,
		"dueDate":        p.DueDate,
		"completion":     p.Completion,
	}
}

func taskPayload(t store.Task) map[string]any {
	return map[string]any{
		"id":             t.ID,
		"projectId":      t.ProjectID,
		"name":           t.Name,
		"status":         t.Status,
		"priority":       t.Priority,
		"estimatedHours": t.EstimatedHours,
		"actualHours":    t.ActualHours,
		"completion":     t.Completion,
	}
}

func featurePayload(f store.Feature) map[string]any {
	return map[string]any{
		"id":         f.ID,
		"projectId":  f.ProjectID,
		"name":       f.Name,
		"status":     f.Status,
		"priority":   f.Priority,
		"completion": f.Completion,
	}
}

func backlogPayload(b store.BacklogItem) map[string]any {
	return map[string]any{
		"id":             b.ID,
		"name":           b.Name,
		"status":         b.Status,
		"priority":       b.Priority,
		"effortEstimate": b.EffortEstimate,
		"completion":     b.Completion,
	}
}

func resourcePayload(r store.Resource) map[string]any {
	skills := r.Skills
	if skills == nil {
		skills = []string{}
	}
	return map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"roleLabel":  r.RoleLabel,
		"skills":     skills,
		"experience": r.Experience,
	}
}

func allocationPayload(a store.Allocation) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"resourceId": a.ResourceID,
		"targetKind": a.TargetKind,
		"targetId":   a.TargetID,
		"percentage": a.Percentage,
		"roleLabel":  a.RoleLabel,
	}
}

func riskPayload(r store.Risk) map[string]any {
	return map[string]any{
		"id":              r.ID,
		"projectId":       r.ProjectID,
		"title":           r.Title,
		"probability":     r.Probability,
		"impact":          r.Impact,
		"riskScore":       r.RiskScore(),
		"status":          r.Status,
		"mitigationOwner": r.MitigationOwner,
		"dueDate":         r.DueDate,
	}
}
