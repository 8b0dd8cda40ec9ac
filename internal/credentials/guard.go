// Package credentials gates every marketplace call behind the stored
// integration settings: no token, no remote traffic.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
)

var (
	ErrNotConfigured = errors.New("iFood not configured or token missing")
	ErrTokenExpired  = errors.New("token expired, refresh required")
)

type Guard struct {
	store store.Store
	now   func() time.Time
}

func NewGuard(s store.Store) *Guard {
	return &Guard{store: s, now: time.Now}
}

// Load returns the settings for restaurantID only when the integration
// holds a usable token. Callers must not reach the marketplace on error.
func (g *Guard) Load(ctx context.Context, restaurantID string) (model.IntegrationSettings, error) {
	s, err := g.store.GetIntegrationSettings(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.IntegrationSettings{}, ErrNotConfigured
		}
		return model.IntegrationSettings{}, fmt.Errorf("credentials: load settings: %w", err)
	}
	if s.AccessToken == "" {
		return model.IntegrationSettings{}, ErrNotConfigured
	}
	if !s.TokenExpiresAt.IsZero() && !s.TokenExpiresAt.After(g.now()) {
		return model.IntegrationSettings{}, ErrTokenExpired
	}
	return s, nil
}
