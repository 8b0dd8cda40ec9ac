package ingest

import (
	"context"
	"log"
	"time"
)

// Scheduler runs poll cycles for every enabled integration on a fixed
// interval. Disabled integrations and expired tokens are skipped, not
// errors; the operator fixes credentials out of band.
type Scheduler struct {
	Poller   *Poller
	Locker   Locker
	Interval time.Duration
	LockTTL  time.Duration
	Stop     chan struct{}
}

func NewScheduler(p *Poller, l Locker, interval time.Duration) *Scheduler {
	if interval <= 0 { interval = 30 * time.Second }
	return &Scheduler{
		Poller:   p,
		Locker:   l,
		Interval: interval,
		LockTTL:  interval * 2,
		Stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go func() {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.Stop:
				return
			case <-ticker.C:
				s.runOnce()
			}
		}
	}()
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()
	settings, err := s.Poller.Store.ListEnabledIntegrations(ctx)
	if err != nil {
		log.Printf("ingest: list integrations: %v", err)
		return
	}
	now := time.Now()
	for _, st := range settings {
		if st.AccessToken == "" { continue }
		if !st.TokenExpiresAt.IsZero() && !st.TokenExpiresAt.After(now) { continue }
		ok, err := s.Locker.TryLock(ctx, st.RestaurantID, s.LockTTL)
		if err != nil {
			log.Printf("ingest: restaurant=%s lock: %v", st.RestaurantID, err)
			continue
		}
		if !ok { continue }
		if _, err := s.Poller.PollOnce(ctx, st); err != nil {
			log.Printf("ingest: restaurant=%s poll: %v", st.RestaurantID, err)
		}
		_ = s.Locker.Unlock(ctx, st.RestaurantID)
	}
}
