package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"compass/api/internal/store"
)

// memStore is deliberately naive: it performs no capacity check of its
// own, so every invariant the tests observe is enforced by the ledger.
type memStore struct {
	mu          sync.Mutex
	allocations []store.Allocation
	workload    store.WorkloadCounts
}

func (m *memStore) CreateAllocation(_ context.Context, a store.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.allocations {
		if existing.IsActive && existing.ResourceID == a.ResourceID &&
			existing.TargetKind == a.TargetKind && existing.TargetID == a.TargetID {
			return store.ErrDuplicateAllocation
		}
	}
	m.allocations = append(m.allocations, a)
	return nil
}

func (m *memStore) DeleteAllocation(_ context.Context, resourceID, targetKind, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.allocations {
		if a.IsActive && a.ResourceID == resourceID && a.TargetKind == targetKind && a.TargetID == targetID {
			m.allocations[i].IsActive = false
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) ListAllocationsByResource(_ context.Context, resourceID string) ([]store.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Allocation
	for _, a := range m.allocations {
		if a.IsActive && a.ResourceID == resourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AllocationSum(_ context.Context, resourceID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, a := range m.allocations {
		if a.IsActive && a.ResourceID == resourceID {
			sum += a.Percentage
		}
	}
	return sum, nil
}

func (m *memStore) ResourceWorkload(_ context.Context, _ string) (store.WorkloadCounts, error) {
	return m.workload, nil
}

func TestAllocateRejectsOverCapacity(t *testing.T) {
	l := New(&memStore{})
	ctx := context.Background()

	if _, err := l.Allocate(ctx, "r1", "p1", "project", 70, "dev"); err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	if _, err := l.Allocate(ctx, "r1", "p2", "project", 50, "dev"); !errors.Is(err, store.ErrOverCapacity) {
		t.Fatalf("expected ErrOverCapacity for 70+50, got %v", err)
	}
	if _, err := l.Allocate(ctx, "r1", "p2", "project", 20, "dev"); err != nil {
		t.Fatalf("70+20 should succeed, got %v", err)
	}
}

func TestAllocateRejectsDuplicatePair(t *testing.T) {
	l := New(&memStore{})
	ctx := context.Background()

	if _, err := l.Allocate(ctx, "r1", "p1", "project", 30, ""); err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	if _, err := l.Allocate(ctx, "r1", "p1", "project", 10, ""); !errors.Is(err, store.ErrDuplicateAllocation) {
		t.Fatalf("expected ErrDuplicateAllocation, got %v", err)
	}
}

func TestAllocateValidation(t *testing.T) {
	l := New(&memStore{})
	ctx := context.Background()

	if _, err := l.Allocate(ctx, "r1", "p1", "sprint", 10, ""); !errors.Is(err, ErrInvalidTargetKind) {
		t.Fatalf("expected ErrInvalidTargetKind, got %v", err)
	}
	for _, pct := range []float64{0, -5, 100.5} {
		if _, err := l.Allocate(ctx, "r1", "p1", "project", pct, ""); !errors.Is(err, ErrInvalidPercentage) {
			t.Fatalf("expected ErrInvalidPercentage for %v, got %v", pct, err)
		}
	}
}

// Concurrent allocations whose sum exceeds 100 must admit exactly enough
// to stay within capacity and reject the rest.
func TestConcurrentAllocationsHoldCapacityInvariant(t *testing.T) {
	ms := &memStore{}
	l := New(ms)
	ctx := context.Background()

	const workers = 10
	targets := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9"}

	var wg sync.WaitGroup
	var acceptedMu sync.Mutex
	accepted := 0
	rejected := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, err := l.Allocate(ctx, "r1", target, "project", 30, "")
			acceptedMu.Lock()
			defer acceptedMu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, store.ErrOverCapacity):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(targets[i])
	}
	wg.Wait()

	// 3 × 30 fits; a 4th would push to 120.
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}
	if rejected != workers-3 {
		t.Errorf("rejected = %d, want %d", rejected, workers-3)
	}

	sum, err := ms.AllocationSum(ctx, "r1")
	if err != nil {
		t.Fatalf("AllocationSum failed: %v", err)
	}
	if sum > 100 {
		t.Errorf("allocation sum %v exceeds 100", sum)
	}
}

func TestDeallocateIsNotFoundOnSecondCall(t *testing.T) {
	l := New(&memStore{})
	ctx := context.Background()

	if _, err := l.Allocate(ctx, "r1", "p1", "project", 70, ""); err != nil {
		t.Fatalf("allocation failed: %v", err)
	}
	if err := l.Deallocate(ctx, "r1", "project", "p1"); err != nil {
		t.Fatalf("first deallocate failed: %v", err)
	}
	if err := l.Deallocate(ctx, "r1", "project", "p1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second deallocate: expected sql.ErrNoRows, got %v", err)
	}
}

func TestAvailabilityExposesUnclampedSum(t *testing.T) {
	ms := &memStore{allocations: []store.Allocation{
		{ID: "a1", ResourceID: "r1", TargetKind: "project", TargetID: "p1", Percentage: 80, IsActive: true},
		// Legacy over-allocation written before enforcement existed.
		{ID: "a2", ResourceID: "r1", TargetKind: "project", TargetID: "p2", Percentage: 40, IsActive: true},
	}}
	l := New(ms)

	availability, err := l.Availability(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Availability failed: %v", err)
	}
	if availability.Available != 0 {
		t.Errorf("Available = %v, want 0 (clamped)", availability.Available)
	}
	if availability.Allocated != 120 {
		t.Errorf("Allocated = %v, want 120 (unclamped)", availability.Allocated)
	}
}

func TestWorkloadUtilization(t *testing.T) {
	ms := &memStore{workload: store.WorkloadCounts{
		ProjectCount:   2,
		TaskCount:      3,
		EstimatedHours: 40,
		ActualHours:    30,
	}}
	l := New(ms)

	workload, err := l.Workload(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Workload failed: %v", err)
	}
	if workload.Utilization == nil || *workload.Utilization != 0.75 {
		t.Fatalf("Utilization = %v, want 0.75", workload.Utilization)
	}
}

func TestWorkloadUtilizationNullWhenNoEstimate(t *testing.T) {
	ms := &memStore{workload: store.WorkloadCounts{TaskCount: 1, ActualHours: 5}}
	l := New(ms)

	workload, err := l.Workload(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Workload failed: %v", err)
	}
	if workload.Utilization != nil {
		t.Fatalf("Utilization = %v, want nil when estimated hours is 0", *workload.Utilization)
	}
}
