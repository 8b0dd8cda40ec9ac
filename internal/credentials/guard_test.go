package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
)

func TestLoadMissingIntegration(t *testing.T) {
	g := NewGuard(store.NewMemory())
	_, err := g.Load(context.Background(), "r-absent")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestLoadEmptyToken(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntegration(model.IntegrationSettings{RestaurantID: "r1", MerchantID: "m1", IsEnabled: true})
	g := NewGuard(mem)
	_, err := g.Load(context.Background(), "r1")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestLoadExpiredToken(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntegration(model.IntegrationSettings{
		RestaurantID:   "r1",
		MerchantID:     "m1",
		AccessToken:    "tok",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		IsEnabled:      true,
	})
	g := NewGuard(mem)
	_, err := g.Load(context.Background(), "r1")
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestLoadValidToken(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntegration(model.IntegrationSettings{
		RestaurantID:   "r1",
		MerchantID:     "m1",
		AccessToken:    "tok",
		TokenExpiresAt: time.Now().Add(time.Hour),
		IsEnabled:      true,
	})
	g := NewGuard(mem)
	s, err := g.Load(context.Background(), "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.AccessToken != "tok" || s.MerchantID != "m1" {
		t.Fatalf("settings = %+v", s)
	}
}
