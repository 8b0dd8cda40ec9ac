package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/LastBoss7/orderly-eats-sub002/internal/config"
	"github.com/LastBoss7/orderly-eats-sub002/internal/credentials"
	"github.com/LastBoss7/orderly-eats-sub002/internal/ingest"
	"github.com/LastBoss7/orderly-eats-sub002/internal/marketplace"
	"github.com/LastBoss7/orderly-eats-sub002/internal/notify"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
	"github.com/LastBoss7/orderly-eats-sub002/internal/stream"
)

type Server struct {
	Store  store.Store
	Market marketplace.API
	Guard  *credentials.Guard
	Pub    *notify.Publisher
	Broker stream.EventBroker
	Poller *ingest.Poller
	Locker ingest.Locker

	cfg config.Config
}

// NewServer wires the gateway from the loaded configuration. If
// database_url is unset, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}

	market, err := marketplace.NewClient(cfg.APIBase, marketplace.WithTimeout(cfg.HTTPTimeout.Std()))
	if err != nil {
		return nil, err
	}

	// Broker and poll lock share the Redis connection when one is
	// configured; otherwise both stay in-process.
	var broker stream.EventBroker = stream.NewBroker()
	var locker ingest.Locker = ingest.NewMemoryLocker()
	if cfg.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.RedisURL); err == nil {
			rdb := redis.NewClient(opt)
			broker = stream.NewRedisBroker(rdb)
			locker = ingest.NewRedisLocker(rdb)
		}
	}

	srv := &Server{
		Store:  s,
		Market: market,
		Guard:  credentials.NewGuard(s),
		Pub:    notify.NewPublisher(s),
		Broker: broker,
		Locker: locker,
		cfg:    cfg,
	}
	srv.Poller = ingest.NewPoller(s, market)
	srv.Poller.Pub = srv.Pub
	srv.Poller.Broker = broker
	srv.Poller.OnPlaced = srv.autoAccept
	return srv, nil
}

// autoAccept runs the accept flow for restaurants that opted in. A
// failure only logs; the order stays pending for the operator.
func (s *Server) autoAccept(ctx context.Context, restaurantID, externalOrderID string) {
	_, _ = s.accept(ctx, ActionRequest{RestaurantID: restaurantID, OrderID: externalOrderID})
}

// NewNotifyWorker creates the background worker for subscriber deliveries.
func (s *Server) NewNotifyWorker() *notify.Worker {
	w := notify.NewWorker(s.Store)
	if s.cfg.NotifyMaxAttempts > 0 {
		w.MaxAttempts = s.cfg.NotifyMaxAttempts
	}
	return w
}

// NewPollScheduler creates the background poll loop over all enabled
// integrations.
func (s *Server) NewPollScheduler(interval time.Duration) *ingest.Scheduler {
	return ingest.NewScheduler(s.Poller, s.Locker, interval)
}

func allowCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type, x-signature")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}
