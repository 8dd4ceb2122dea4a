package app

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"compass/api/internal/ledger"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

type ProjectInput struct {
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	ManagerID      *string    `json:"managerId"`
	PlannedCost    float64    `json:"plannedCost"`
	ActualCost     float64    `json:"actualCost"`
	PlannedBenefit float64    `json:"plannedBenefit"`
	StartDate      *time.Time `json:"startDate"`
	DueDate        *time.Time `json:"dueDate"`
	Completion     int        `json:"completion"`
}

type TaskInput struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority"`
	EstimatedHours float64 `json:"estimatedHours"`
	ActualHours    float64 `json:"actualHours"`
	Completion     int     `json:"completion"`
}

type FeatureInput struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	Completion int    `json:"completion"`
}

type BacklogInput struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority"`
	EffortEstimate float64 `json:"effortEstimate"`
	Completion     int     `json:"completion"`
}

type ResourceInput struct {
	Name       string   `json:"name"`
	RoleLabel  string   `json:"roleLabel"`
	Skills     []string `json:"skills"`
	Experience string   `json:"experience"`
}

type RiskInput struct {
	Title           string     `json:"title"`
	Probability     float64    `json:"probability"`
	Impact          float64    `json:"impact"`
	Status          string     `json:"status"`
	MitigationOwner string     `json:"mitigationOwner"`
	DueDate         *time.Time `json:"dueDate"`
}

type AllocationInput struct {
	ResourceID string  `json:"resourceId"`
	TargetKind string  `json:"targetKind"`
	TargetID   string  `json:"targetId"`
	Percentage float64 `json:"percentage"`
	RoleLabel  string  `json:"roleLabel"`
}

// manages reports whether the session's user is the manager of record.
func manages(session Session, p store.Project) bool {
	return p.ManagerID != nil && *p.ManagerID == session.UserID
}

// readableProject loads a project the session may read. Owners get
// NotFound for projects they do not manage, so existence does not leak.
func (s *Service) readableProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if rbac.Normalize(session.Role) == rbac.RoleOwner && !manages(session, project) {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

// writableProject loads a project the session may mutate.
func (s *Service) writableProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return store.Project{}, errForbidden()
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if rbac.Normalize(session.Role) == rbac.RoleOwner && !manages(session, project) {
		return store.Project{}, errForbidden()
	}
	return project, nil
}

func validateProjectInput(input ProjectInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return errValidation("name is required")
	}
	if !slices.Contains(store.ProjectStatuses, input.Status) {
		return errValidation("unknown project status")
	}
	if !slices.Contains(store.Priorities, input.Priority) {
		return errValidation("unknown priority")
	}
	if input.Completion < 0 || input.Completion > 100 {
		return errValidation("completion must be between 0 and 100")
	}
	return nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (store.Project, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return store.Project{}, errForbidden()
	}
	if input.Status == "" {
		input.Status = "active"
	}
	if input.Priority == "" {
		input.Priority = "medium"
	}
	if err := validateProjectInput(input); err != nil {
		return store.Project{}, err
	}

	managerID := input.ManagerID
	// Owners always manage their own projects; only admins assign other
	// managers.
	if rbac.Normalize(session.Role) == rbac.RoleOwner || managerID == nil {
		id := session.UserID
		managerID = &id
	}

	seq, err := s.store.NextProjectSequence(ctx)
	if err != nil {
		return store.Project{}, err
	}
	project := store.Project{
		ID:             util.NewID("prj"),
		Key:            util.NewProjectKey(seq),
		Name:           strings.TrimSpace(input.Name),
		Status:         input.Status,
		Priority:       input.Priority,
		ManagerID:      managerID,
		PlannedCost:    input.PlannedCost,
		ActualCost:     input.ActualCost,
		PlannedBenefit: input.PlannedBenefit,
		StartDate:      input.StartDate,
		DueDate:        input.DueDate,
		Completion:     input.Completion,
		IsActive:       true,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}

	s.publish("projects", "project_created", map[string]any{"id": project.ID, "key": project.Key, "name": project.Name})
	if s.search != nil {
		s.search.IndexProject(project)
	}
	return project, nil
}

// ListProjects is scoped server-side: owners only ever receive projects
// they manage, regardless of what the client requests.
func (s *Service) ListProjects(ctx context.Context, session Session, limit, offset int) ([]store.Project, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	managerID := ""
	if rbac.Normalize(session.Role) == rbac.RoleOwner {
		managerID = session.UserID
	}
	return s.store.ListProjects(ctx, managerID, limit, offset)
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Project{}, errForbidden()
	}
	return s.readableProject(ctx, session, projectID)
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (store.Project, error) {
	project, err := s.writableProject(ctx, session, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if err := validateProjectInput(input); err != nil {
		return store.Project{}, err
	}

	project.Name = strings.TrimSpace(input.Name)
	project.Status = input.Status
	project.Priority = input.Priority
	project.PlannedCost = input.PlannedCost
	project.ActualCost = input.ActualCost
	project.PlannedBenefit = input.PlannedBenefit
	project.StartDate = input.StartDate
	project.DueDate = input.DueDate
	project.Completion = input.Completion
	if input.ManagerID != nil && s.Can(session.Role, rbac.ActionAdmin) {
		project.ManagerID = input.ManagerID
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return store.Project{}, err
	}

	s.publish("projects", "project_updated", map[string]any{"id": project.ID, "key": project.Key, "status": project.Status})
	if s.search != nil {
		s.search.IndexProject(project)
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, err := s.writableProject(ctx, session, projectID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.publish("projects", "project_deleted", map[string]any{"id": projectID})
	if s.search != nil {
		s.search.Remove(search.KindProject, projectID)
	}
	return nil
}

func validateWorkItem(name, status, priority string, completion int) error {
	if strings.TrimSpace(name) == "" {
		return errValidation("name is required")
	}
	if !slices.Contains(store.WorkStatuses, status) {
		return errValidation("unknown status")
	}
	if !slices.Contains(store.Priorities, priority) {
		return errValidation("unknown priority")
	}
	if completion < 0 || completion > 100 {
		return errValidation("completion must be between 0 and 100")
	}
	return nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, projectID string) ([]store.Task, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	if _, err := s.readableProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasksByProject(ctx, projectID)
}

func (s *Service) CreateTask(ctx context.Context, session Session, projectID string, input TaskInput) (store.Task, error) {
	if _, err := s.writableProject(ctx, session, projectID); err != nil {
		return store.Task{}, err
	}
	if input.Status == "" {
		input.Status = "todo"
	}
	if input.Priority == "" {
		input.Priority = "medium"
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.Task{}, err
	}

	task := store.Task{
		ID:             util.NewID("task"),
		ProjectID:      projectID,
		Name:           strings.TrimSpace(input.Name),
		Status:         input.Status,
		Priority:       input.Priority,
		EstimatedHours: input.EstimatedHours,
		ActualHours:    input.ActualHours,
		Completion:     input.Completion,
		IsActive:       true,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	s.publish("tasks", "task_created", map[string]any{"id": task.ID, "project_id": projectID, "name": task.Name})
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Task{}, errForbidden()
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.readableProject(ctx, session, task.ProjectID); err != nil {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input TaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.writableProject(ctx, session, task.ProjectID); err != nil {
		return store.Task{}, err
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.Task{}, err
	}

	task.Name = strings.TrimSpace(input.Name)
	task.Status = input.Status
	task.Priority = input.Priority
	task.EstimatedHours = input.EstimatedHours
	task.ActualHours = input.ActualHours
	task.Completion = input.Completion

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	s.publish("tasks", "task_updated", map[string]any{"id": task.ID, "project_id": task.ProjectID, "status": task.Status})
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.writableProject(ctx, session, task.ProjectID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.publish("tasks", "task_deleted", map[string]any{"id": taskID, "project_id": task.ProjectID})
	return nil
}

func (s *Service) ListFeatures(ctx context.Context, session Session, projectID string) ([]store.Feature, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	if _, err := s.readableProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	return s.store.ListFeaturesByProject(ctx, projectID)
}

func (s *Service) CreateFeature(ctx context.Context, session Session, projectID string, input FeatureInput) (store.Feature, error) {
	if _, err := s.writableProject(ctx, session, projectID); err != nil {
		return store.Feature{}, err
	}
	if input.Status == "" {
		input.Status = "todo"
	}
	if input.Priority == "" {
		input.Priority = "medium"
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.Feature{}, err
	}

	feature := store.Feature{
		ID:         util.NewID("feat"),
		ProjectID:  projectID,
		Name:       strings.TrimSpace(input.Name),
		Status:     input.Status,
		Priority:   input.Priority,
		Completion: input.Completion,
		IsActive:   true,
	}
	if err := s.store.InsertFeature(ctx, feature); err != nil {
		return store.Feature{}, err
	}
	s.publish("features", "feature_created", map[string]any{"id": feature.ID, "project_id": projectID, "name": feature.Name})
	return feature, nil
}

func (s *Service) GetFeature(ctx context.Context, session Session, featureID string) (store.Feature, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Feature{}, errForbidden()
	}
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return store.Feature{}, err
	}
	if _, err := s.readableProject(ctx, session, feature.ProjectID); err != nil {
		return store.Feature{}, sql.ErrNoRows
	}
	return feature, nil
}

func (s *Service) UpdateFeature(ctx context.Context, session Session, featureID string, input FeatureInput) (store.Feature, error) {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return store.Feature{}, err
	}
	if _, err := s.writableProject(ctx, session, feature.ProjectID); err != nil {
		return store.Feature{}, err
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.Feature{}, err
	}

	feature.Name = strings.TrimSpace(input.Name)
	feature.Status = input.Status
	feature.Priority = input.Priority
	feature.Completion = input.Completion

	if err := s.store.UpdateFeature(ctx, feature); err != nil {
		return store.Feature{}, err
	}
	s.publish("features", "feature_updated", map[string]any{"id": feature.ID, "project_id": feature.ProjectID})
	return feature, nil
}

func (s *Service) DeleteFeature(ctx context.Context, session Session, featureID string) error {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return err
	}
	if _, err := s.writableProject(ctx, session, feature.ProjectID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteFeature(ctx, featureID); err != nil {
		return err
	}
	s.publish("features", "feature_deleted", map[string]any{"id": featureID, "project_id": feature.ProjectID})
	return nil
}

// Backlog items are unowned, so they read like any other entity and
// only admins write them.
func (s *Service) ListBacklog(ctx context.Context, session Session, limit, offset int) ([]store.BacklogItem, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	return s.store.ListBacklog(ctx, limit, offset)
}

func (s *Service) CreateBacklogItem(ctx context.Context, session Session, input BacklogInput) (store.BacklogItem, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.BacklogItem{}, errForbidden()
	}
	if input.Status == "" {
		input.Status = "todo"
	}
	if input.Priority == "" {
		input.Priority = "medium"
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.BacklogItem{}, err
	}

	item := store.BacklogItem{
		ID:             util.NewID("bklg"),
		Name:           strings.TrimSpace(input.Name),
		Status:         input.Status,
		Priority:       input.Priority,
		EffortEstimate: input.EffortEstimate,
		Completion:     input.Completion,
		IsActive:       true,
	}
	if err := s.store.InsertBacklogItem(ctx, item); err != nil {
		return store.BacklogItem{}, err
	}
	s.publish("backlog", "backlog_item_created", map[string]any{"id": item.ID, "name": item.Name})
	return item, nil
}

func (s *Service) GetBacklogItem(ctx context.Context, session Session, itemID string) (store.BacklogItem, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.BacklogItem{}, errForbidden()
	}
	return s.store.GetBacklogItem(ctx, itemID)
}

func (s *Service) UpdateBacklogItem(ctx context.Context, session Session, itemID string, input BacklogInput) (store.BacklogItem, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.BacklogItem{}, errForbidden()
	}
	item, err := s.store.GetBacklogItem(ctx, itemID)
	if err != nil {
		return store.BacklogItem{}, err
	}
	if err := validateWorkItem(input.Name, input.Status, input.Priority, input.Completion); err != nil {
		return store.BacklogItem{}, err
	}

	item.Name = strings.TrimSpace(input.Name)
	item.Status = input.Status
	item.Priority = input.Priority
	item.EffortEstimate = input.EffortEstimate
	item.Completion = input.Completion

	if err := s.store.UpdateBacklogItem(ctx, item); err != nil {
		return store.BacklogItem{}, err
	}
	s.publish("backlog", "backlog_item_updated", map[string]any{"id": item.ID})
	return item, nil
}

func (s *Service) DeleteBacklogItem(ctx context.Context, session Session, itemID string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	if err := s.store.SoftDeleteBacklogItem(ctx, itemID); err != nil {
		return err
	}
	s.publish("backlog", "backlog_item_deleted", map[string]any{"id": itemID})
	return nil
}

func (s *Service) ListResources(ctx context.Context, session Session, limit, offset int) ([]store.Resource, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	return s.store.ListResources(ctx, limit, offset)
}

func (s *Service) CreateResource(ctx context.Context, session Session, input ResourceInput) (store.Resource, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Resource{}, errForbidden()
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Resource{}, errValidation("name is required")
	}

	resource := store.Resource{
		ID:         util.NewID("res"),
		Name:       strings.TrimSpace(input.Name),
		RoleLabel:  strings.TrimSpace(input.RoleLabel),
		Skills:     input.Skills,
		Experience: input.Experience,
		IsActive:   true,
	}
	if resource.Skills == nil {
		resource.Skills = []string{}
	}
	if err := s.store.InsertResource(ctx, resource); err != nil {
		return store.Resource{}, err
	}
	s.publish("resources", "resource_created", map[string]any{"id": resource.ID, "name": resource.Name})
	if s.search != nil {
		s.search.IndexResource(resource)
	}
	return resource, nil
}

func (s *Service) GetResource(ctx context.Context, session Session, resourceID string) (store.Resource, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Resource{}, errForbidden()
	}
	return s.store.GetResource(ctx, resourceID)
}

func (s *Service) UpdateResource(ctx context.Context, session Session, resourceID string, input ResourceInput) (store.Resource, error) {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Resource{}, errForbidden()
	}
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return store.Resource{}, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return store.Resource{}, errValidation("name is required")
	}

	resource.Name = strings.TrimSpace(input.Name)
	resource.RoleLabel = strings.TrimSpace(input.RoleLabel)
	resource.Experience = input.Experience
	if input.Skills != nil {
		resource.Skills = input.Skills
	}

	if err := s.store.UpdateResource(ctx, resource); err != nil {
		return store.Resource{}, err
	}
	s.publish("resources", "resource_updated", map[string]any{"id": resource.ID})
	if s.search != nil {
		s.search.IndexResource(resource)
	}
	return resource, nil
}

func (s *Service) DeleteResource(ctx context.Context, session Session, resourceID string) error {
	if !s.Can(session.Role, rbac.ActionAdmin) {
		return errForbidden()
	}
	if err := s.store.SoftDeleteResource(ctx, resourceID); err != nil {
		return err
	}
	s.publish("resources", "resource_deleted", map[string]any{"id": resourceID})
	if s.search != nil {
		s.search.Remove(search.KindResource, resourceID)
	}
	return nil
}

// allocationProject resolves the project an allocation targets, going
// through the task when the target is a task.
func (s *Service) allocationProject(ctx context.Context, targetKind, targetID string) (store.Project, error) {
	if targetKind == store.TargetTask {
		task, err := s.store.GetTask(ctx, targetID)
		if err != nil {
			return store.Project{}, err
		}
		targetID = task.ProjectID
	}
	return s.store.GetProject(ctx, targetID)
}

func (s *Service) Allocate(ctx context.Context, session Session, input AllocationInput) (store.Allocation, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return store.Allocation{}, errForbidden()
	}
	if rbac.Normalize(session.Role) == rbac.RoleOwner {
		project, err := s.allocationProject(ctx, input.TargetKind, input.TargetID)
		if err != nil {
			return store.Allocation{}, err
		}
		if !manages(session, project) {
			return store.Allocation{}, errForbidden()
		}
	}

	allocation, err := s.ledger.Allocate(ctx, input.ResourceID, input.TargetID, input.TargetKind, input.Percentage, input.RoleLabel)
	if err != nil {
		return store.Allocation{}, err
	}
	s.publish("allocations", "allocation_created", map[string]any{
		"id":          allocation.ID,
		"resource_id": allocation.ResourceID,
		"target_kind": allocation.TargetKind,
		"target_id":   allocation.TargetID,
		"percentage":  allocation.Percentage,
	})
	return allocation, nil
}

func (s *Service) Deallocate(ctx context.Context, session Session, resourceID, targetKind, targetID string) error {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return errForbidden()
	}
	if rbac.Normalize(session.Role) == rbac.RoleOwner {
		project, err := s.allocationProject(ctx, targetKind, targetID)
		if err != nil {
			return err
		}
		if !manages(session, project) {
			return errForbidden()
		}
	}

	if err := s.ledger.Deallocate(ctx, resourceID, targetKind, targetID); err != nil {
		return err
	}
	s.publish("allocations", "allocation_deleted", map[string]any{
		"resource_id": resourceID,
		"target_kind": targetKind,
		"target_id":   targetID,
	})
	return nil
}

func (s *Service) ResourceAllocations(ctx context.Context, session Session, resourceID string) ([]store.Allocation, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	return s.ledger.Allocations(ctx, resourceID)
}

func (s *Service) ResourceAvailability(ctx context.Context, session Session, resourceID string) (ledger.Availability, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return ledger.Availability{}, errForbidden()
	}
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return ledger.Availability{}, err
	}
	return s.ledger.Availability(ctx, resourceID)
}

func (s *Service) ResourceWorkload(ctx context.Context, session Session, resourceID string) (ledger.Workload, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return ledger.Workload{}, errForbidden()
	}
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return ledger.Workload{}, err
	}
	return s.ledger.Workload(ctx, resourceID)
}

func validateRiskInput(input RiskInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return errValidation("title is required")
	}
	if input.Probability < 0 || input.Probability > 1 {
		return errValidation("probability must be between 0 and 1")
	}
	if input.Impact < 0 || input.Impact > 1 {
		return errValidation("impact must be between 0 and 1")
	}
	if !slices.Contains(store.RiskStatuses, input.Status) {
		return errValidation("unknown risk status")
	}
	return nil
}

func (s *Service) ListRisks(ctx context.Context, session Session, projectID string) ([]store.Risk, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	if _, err := s.readableProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	return s.store.ListRisksByProject(ctx, projectID)
}

func (s *Service) CreateRisk(ctx context.Context, session Session, projectID string, input RiskInput) (store.Risk, error) {
	if !s.Can(session.Role, rbac.ActionManageRisks) {
		return store.Risk{}, errForbidden()
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return store.Risk{}, err
	}
	if input.Status == "" {
		input.Status = "open"
	}
	if err := validateRiskInput(input); err != nil {
		return store.Risk{}, err
	}

	risk := store.Risk{
		ID:              util.NewID("rsk"),
		ProjectID:       projectID,
		Title:           strings.TrimSpace(input.Title),
		Probability:     input.Probability,
		Impact:          input.Impact,
		Status:          input.Status,
		MitigationOwner: strings.TrimSpace(input.MitigationOwner),
		DueDate:         input.DueDate,
		IsActive:        true,
	}
	if err := s.store.InsertRisk(ctx, risk); err != nil {
		return store.Risk{}, err
	}
	s.publish("risks", "risk_created", map[string]any{"risk_id": risk.ID, "project_id": projectID, "title": risk.Title})
	if s.search != nil {
		s.search.IndexRisk(risk)
	}
	return risk, nil
}

func (s *Service) GetRisk(ctx context.Context, session Session, riskID string) (store.Risk, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Risk{}, errForbidden()
	}
	risk, err := s.store.GetRisk(ctx, riskID)
	if err != nil {
		return store.Risk{}, err
	}
	if _, err := s.readableProject(ctx, session, risk.ProjectID); err != nil {
		return store.Risk{}, sql.ErrNoRows
	}
	return risk, nil
}

func (s *Service) UpdateRisk(ctx context.Context, session Session, riskID string, input RiskInput) (store.Risk, error) {
	if !s.Can(session.Role, rbac.ActionManageRisks) {
		return store.Risk{}, errForbidden()
	}
	risk, err := s.store.GetRisk(ctx, riskID)
	if err != nil {
		return store.Risk{}, err
	}
	if err := validateRiskInput(input); err != nil {
		return store.Risk{}, err
	}

	risk.Title = strings.TrimSpace(input.Title)
	risk.Probability = input.Probability
	risk.Impact = input.Impact
	risk.Status = input.Status
	risk.MitigationOwner = strings.TrimSpace(input.MitigationOwner)
	risk.DueDate = input.DueDate

	if err := s.store.UpdateRisk(ctx, risk); err != nil {
		return store.Risk{}, err
	}
	s.publish("risks", "risk_updated", map[string]any{"risk_id": risk.ID, "project_id": risk.ProjectID, "status": risk.Status})
	if s.search != nil {
		s.search.IndexRisk(risk)
	}
	return risk, nil
}

func (s *Service) DeleteRisk(ctx context.Context, session Session, riskID string) error {
	if !s.Can(session.Role, rbac.ActionManageRisks) {
		return errForbidden()
	}
	risk, err := s.store.GetRisk(ctx, riskID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteRisk(ctx, riskID); err != nil {
		return err
	}
	s.publish("risks", "risk_deleted", map[string]any{"risk_id": riskID, "project_id": risk.ProjectID})
	if s.search != nil {
		s.search.Remove(search.KindRisk, riskID)
	}
	return nil
}
