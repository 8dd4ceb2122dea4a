package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"compass/api/internal/bus"
	"compass/api/internal/ledger"
	"compass/api/internal/store"
)

func TestAllocationOverCapacityMapsTo409(t *testing.T) {
	fs := seededProjectStore()
	svc := newTestService(fs)
	svc.ledger = &fakeLedger{
		allocateFn: func(context.Context, string, string, string, float64, string) (store.Allocation, error) {
			return store.Allocation{}, store.ErrOverCapacity
		},
	}
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-root", DisplayName: "Root", Role: "admin"})

	req := httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
		bytes.NewBufferString(`{"targetKind":"project","targetId":"prj-1","percentage":50}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serveRequest(server, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseBody(t, rr); payload["code"] != "CAPACITY_EXCEEDED" {
		t.Fatalf("expected code CAPACITY_EXCEEDED, got %v", payload["code"])
	}
}

func TestDuplicateAllocationMapsTo409Conflict(t *testing.T) {
	fs := seededProjectStore()
	svc := newTestService(fs)
	svc.ledger = &fakeLedger{
		allocateFn: func(context.Context, string, string, string, float64, string) (store.Allocation, error) {
			return store.Allocation{}, store.ErrDuplicateAllocation
		},
	}
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-root", DisplayName: "Root", Role: "admin"})

	req := httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
		bytes.NewBufferString(`{"targetKind":"project","targetId":"prj-1","percentage":50}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serveRequest(server, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseBody(t, rr); payload["code"] != "CONFLICT" {
		t.Fatalf("expected code CONFLICT, got %v", payload["code"])
	}
}

func TestAllocationValidationMapsTo422(t *testing.T) {
	fs := seededProjectStore()
	svc := newTestService(fs)
	svc.ledger = &fakeLedger{
		allocateFn: func(_ context.Context, _, _, _ string, percentage float64, _ string) (store.Allocation, error) {
			if percentage <= 0 || percentage > 100 {
				return store.Allocation{}, ledger.ErrInvalidPercentage
			}
			return store.Allocation{}, ledger.ErrInvalidTargetKind
		},
	}
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-root", DisplayName: "Root", Role: "admin"})

	for _, body := range []string{
		`{"targetKind":"project","targetId":"prj-1","percentage":0}`,
		`{"targetKind":"project","targetId":"prj-1","percentage":120}`,
		`{"targetKind":"sprint","targetId":"spr-1","percentage":50}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := serveRequest(server, req)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %s: expected 422, got %d body=%s", body, rr.Code, rr.Body.String())
		}
		if payload := parseBody(t, rr); payload["code"] != "VALIDATION_ERROR" {
			t.Fatalf("body %s: expected code VALIDATION_ERROR, got %v", body, payload["code"])
		}
	}
}

func TestOwnerAllocatesOnlyToManagedProjects(t *testing.T) {
	fs := twoOwnerStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-alice", DisplayName: "Alice", Role: "owner"})

	req := httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
		bytes.NewBufferString(`{"targetKind":"project","targetId":"prj-data","percentage":30}`))
	req.Header.Set("Authorization", "Bearer "+token)
	assertForbiddenCode(t, serveRequest(server, req))

	// The task path resolves through to the managing project.
	req = httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
		bytes.NewBufferString(`{"targetKind":"task","targetId":"task-data-1","percentage":30}`))
	req.Header.Set("Authorization", "Bearer "+token)
	assertForbiddenCode(t, serveRequest(server, req))

	req = httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
		bytes.NewBufferString(`{"targetKind":"project","targetId":"prj-web","percentage":30}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serveRequest(server, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for managed project, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAllocationEventsPublishOnlyAfterSuccess(t *testing.T) {
	hub := bus.NewHub()
	go hub.Run()
	defer hub.Stop()

	sub := hub.NewSubscriber()
	hub.Subscribe(sub, "allocations")

	fs := seededProjectStore()
	svc := newTestService(fs)
	svc.hub = hub
	failing := true
	svc.ledger = &fakeLedger{
		allocateFn: func(_ context.Context, resourceID, targetID, targetKind string, percentage float64, roleLabel string) (store.Allocation, error) {
			if failing {
				return store.Allocation{}, store.ErrOverCapacity
			}
			return store.Allocation{
				ID: "alloc-1", ResourceID: resourceID, TargetKind: targetKind,
				TargetID: targetID, Percentage: percentage, RoleLabel: roleLabel,
			}, nil
		},
	}
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-root", DisplayName: "Root", Role: "admin"})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/resources/res-1/allocations",
			bytes.NewBufferString(`{"targetKind":"project","targetId":"prj-1","percentage":40,"roleLabel":"dev"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		return serveRequest(server, req)
	}

	if rr := post(); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for failing allocation, got %d", rr.Code)
	}

	failing = false
	if rr := post(); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	// Exactly one event: the rejected allocation never published.
	select {
	case event := <-sub.C():
		if event.Topic != "allocations" || event.Type != "allocation_created" {
			t.Fatalf("unexpected event %+v", event)
		}
		if event.Data["resource_id"] != "res-1" || event.Data["target_id"] != "prj-1" {
			t.Fatalf("unexpected event data %+v", event.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected allocation_created event")
	}
	select {
	case event := <-sub.C():
		t.Fatalf("unexpected extra event %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeallocateRouteAndEvent(t *testing.T) {
	hub := bus.NewHub()
	go hub.Run()
	defer hub.Stop()

	sub := hub.NewSubscriber()
	hub.Subscribe(sub, "allocations")

	fs := seededProjectStore()
	svc := newTestService(fs)
	svc.hub = hub
	var deallocated [3]string
	svc.ledger = &fakeLedger{
		deallocateFn: func(_ context.Context, resourceID, targetKind, targetID string) error {
			deallocated = [3]string{resourceID, targetKind, targetID}
			return nil
		},
	}
	server := NewHTTPServer(svc, nil, "*")
	token := tokenFor(t, svc, fs, store.User{ID: "user-root", DisplayName: "Root", Role: "admin"})

	req := httptest.NewRequest(http.MethodDelete, "/api/resources/res-1/allocations/project/prj-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := serveRequest(server, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if deallocated != [3]string{"res-1", "project", "prj-1"} {
		t.Fatalf("unexpected deallocate call %v", deallocated)
	}

	select {
	case event := <-sub.C():
		if event.Type != "allocation_deleted" {
			t.Fatalf("expected allocation_deleted, got %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected allocation_deleted event")
	}
}
