// Package ledger tracks resource-to-project and resource-to-task
// allocations and enforces the capacity invariant: a resource's active
// allocation percentages never sum past 100.
package ledger

import (
	"context"
	"errors"
	"sync"

	"compass/api/internal/store"
	"compass/api/internal/util"
)

var (
	ErrInvalidPercentage = errors.New("percentage must be in (0, 100]")
	ErrInvalidTargetKind = errors.New("target kind must be project or task")
)

// Store is the slice of the entity store the ledger needs.
type Store interface {
	CreateAllocation(ctx context.Context, a store.Allocation) error
	DeleteAllocation(ctx context.Context, resourceID, targetKind, targetID string) error
	ListAllocationsByResource(ctx context.Context, resourceID string) ([]store.Allocation, error)
	AllocationSum(ctx context.Context, resourceID string) (float64, error)
	ResourceWorkload(ctx context.Context, resourceID string) (store.WorkloadCounts, error)
}

type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{store: store, locks: make(map[string]*sync.Mutex)}
}

// resourceLock serializes capacity checks per resource within this
// process. The Postgres store re-verifies under a row lock, which covers
// concurrent writers in other processes.
func (l *Ledger) resourceLock(resourceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[resourceID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[resourceID] = lock
	}
	return lock
}

// Allocate creates an allocation record. Returns sql.ErrNoRows when the
// resource or target is missing, store.ErrDuplicateAllocation when the
// pair already exists, and store.ErrOverCapacity when the resource's
// active sum would exceed 100.
func (l *Ledger) Allocate(ctx context.Context, resourceID, targetID, targetKind string, percentage float64, roleLabel string) (store.Allocation, error) {
	if targetKind != store.TargetProject && targetKind != store.TargetTask {
		return store.Allocation{}, ErrInvalidTargetKind
	}
	if percentage <= 0 || percentage > 100 {
		return store.Allocation{}, ErrInvalidPercentage
	}

	lock := l.resourceLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	allocated, err := l.store.AllocationSum(ctx, resourceID)
	if err != nil {
		return store.Allocation{}, err
	}
	if allocated+percentage > 100 {
		return store.Allocation{}, store.ErrOverCapacity
	}

	allocation := store.Allocation{
		ID:         util.NewID("alloc"),
		ResourceID: resourceID,
		TargetKind: targetKind,
		TargetID:   targetID,
		Percentage: percentage,
		RoleLabel:  roleLabel,
		IsActive:   true,
	}
	if err := l.store.CreateAllocation(ctx, allocation); err != nil {
		return store.Allocation{}, err
	}
	return allocation, nil
}

// Deallocate removes an allocation. A second call for the same pair
// returns sql.ErrNoRows; it never panics or corrupts state.
func (l *Ledger) Deallocate(ctx context.Context, resourceID, targetKind, targetID string) error {
	lock := l.resourceLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	return l.store.DeleteAllocation(ctx, resourceID, targetKind, targetID)
}

func (l *Ledger) Allocations(ctx context.Context, resourceID string) ([]store.Allocation, error) {
	return l.store.ListAllocationsByResource(ctx, resourceID)
}

// Availability is the derived free-capacity view. Available is clamped at
// 0 for display; Allocated is the raw sum so over-allocation that predates
// the capacity check remains detectable.
type Availability struct {
	Available float64 `json:"available"`
	Allocated float64 `json:"allocated"`
}

func (l *Ledger) Availability(ctx context.Context, resourceID string) (Availability, error) {
	allocated, err := l.store.AllocationSum(ctx, resourceID)
	if err != nil {
		return Availability{}, err
	}
	available := 100 - allocated
	if available < 0 {
		available = 0
	}
	return Availability{Available: available, Allocated: allocated}, nil
}

// Workload summarizes a resource's assignments. Utilization is nil when
// no hours are estimated; it is never a division by zero.
type Workload struct {
	ProjectCount   int      `json:"projectCount"`
	TaskCount      int      `json:"taskCount"`
	EstimatedHours float64  `json:"estimatedHours"`
	ActualHours    float64  `json:"actualHours"`
	Utilization    *float64 `json:"utilization"`
}

func (l *Ledger) Workload(ctx context.Context, resourceID string) (Workload, error) {
	counts, err := l.store.ResourceWorkload(ctx, resourceID)
	if err != nil {
		return Workload{}, err
	}
	workload := Workload{
		ProjectCount:   counts.ProjectCount,
		TaskCount:      counts.TaskCount,
		EstimatedHours: counts.EstimatedHours,
		ActualHours:    counts.ActualHours,
	}
	if counts.EstimatedHours > 0 {
		utilization := counts.ActualHours / counts.EstimatedHours
		workload.Utilization = &utilization
	}
	return workload, nil
}
