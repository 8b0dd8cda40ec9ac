package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

func TestInsertMirrorIsConditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	mir := model.MirroredOrder{RestaurantID: "r1", ExternalOrderID: "E1", Status: "pending", ExpiresAt: time.Now()}
	id, err := m.InsertMirror(ctx, mir)
	if err != nil || id == "" {
		t.Fatalf("first insert: id=%q err=%v", id, err)
	}
	if _, err := m.InsertMirror(ctx, mir); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert: %v", err)
	}
	// same order id for another restaurant is a different mirror
	mir.RestaurantID = "r2"
	if _, err := m.InsertMirror(ctx, mir); err != nil {
		t.Fatalf("other restaurant: %v", err)
	}
}

func TestPatchMirrorAppliesOnlySetFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.InsertMirror(ctx, model.MirroredOrder{RestaurantID: "r1", ExternalOrderID: "E1", Status: "pending", ExpiresAt: time.Now()})
	local := "lo-1"
	got, err := m.PatchMirror(ctx, "r1", "E1", model.MirrorPatch{Status: "confirmed", LocalOrderID: &local})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got.Status != "confirmed" || got.LocalOrderID != "lo-1" {
		t.Fatalf("mirror = %+v", got)
	}
	// a later patch without LocalOrderID must not clear it
	got, _ = m.PatchMirror(ctx, "r1", "E1", model.MirrorPatch{Status: "preparing"})
	if got.LocalOrderID != "lo-1" {
		t.Fatalf("localOrderId cleared: %+v", got)
	}
	if _, err := m.PatchMirror(ctx, "r1", "missing", model.MirrorPatch{Status: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing mirror: %v", err)
	}
}

func TestListMirrorsPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"E1", "E2", "E3"} {
		_, _ = m.InsertMirror(ctx, model.MirroredOrder{RestaurantID: "r1", ExternalOrderID: id, Status: "pending", ExpiresAt: time.Now()})
	}
	page1, next, err := m.ListMirrors(ctx, "r1", "", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1) != 2 || next == "" {
		t.Fatalf("page1 = %d next = %q", len(page1), next)
	}
	page2, next2, _ := m.ListMirrors(ctx, "r1", "", next, 2)
	if len(page2) != 1 || next2 != "" {
		t.Fatalf("page2 = %d next = %q", len(page2), next2)
	}
	if page2[0].ExternalOrderID != "E3" {
		t.Fatalf("page2[0] = %+v", page2[0])
	}
}

func TestListMirrorsStatusFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _ = m.InsertMirror(ctx, model.MirroredOrder{RestaurantID: "r1", ExternalOrderID: "E1", Status: "pending", ExpiresAt: time.Now()})
	_, _ = m.InsertMirror(ctx, model.MirroredOrder{RestaurantID: "r1", ExternalOrderID: "E2", Status: "confirmed", ExpiresAt: time.Now()})
	items, _, _ := m.ListMirrors(ctx, "r1", "confirmed", "", 10)
	if len(items) != 1 || items[0].ExternalOrderID != "E2" {
		t.Fatalf("items = %+v", items)
	}
}

func TestNextOrderNumberIncrementsPerRestaurant(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for want := 1; want <= 3; want++ {
		n, err := m.NextOrderNumber(ctx, "r1")
		if err != nil || n != want {
			t.Fatalf("r1 number = %d err = %v", n, err)
		}
	}
	n, _ := m.NextOrderNumber(ctx, "r2")
	if n != 1 {
		t.Fatalf("r2 starts at %d", n)
	}
}

func TestTouchLastSync(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedIntegration(model.IntegrationSettings{RestaurantID: "r1"})
	ts := time.Now().UTC()
	if err := m.TouchLastSync(ctx, "r1", ts); err != nil {
		t.Fatalf("touch: %v", err)
	}
	s, _ := m.GetIntegrationSettings(ctx, "r1")
	if s.LastSyncAt == nil || !s.LastSyncAt.Equal(ts) {
		t.Fatalf("lastSyncAt = %v", s.LastSyncAt)
	}
	if err := m.TouchLastSync(ctx, "absent", ts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent: %v", err)
	}
}
