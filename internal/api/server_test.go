package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/config"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
)

func TestNewServerAppliesHTTPTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	cfg := config.Default()
	cfg.APIBase = slow.URL
	cfg.HTTPTimeout = config.Duration(50 * time.Millisecond)
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if _, err := srv.Market.GetOrder(context.Background(), "tok", "E1"); err == nil {
		t.Fatal("expected the configured timeout to cut the call short")
	}
}

func TestNewServerDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.NotifyMaxAttempts = 3
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if _, ok := srv.Store.(*store.Memory); !ok {
		t.Fatalf("expected memory store without database_url, got %T", srv.Store)
	}
	if w := srv.NewNotifyWorker(); w.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d", w.MaxAttempts)
	}
}
