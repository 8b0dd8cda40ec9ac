package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/LastBoss7/orderly-eats-sub002/internal/api"
	"github.com/LastBoss7/orderly-eats-sub002/internal/buildinfo"
	"github.com/LastBoss7/orderly-eats-sub002/internal/config"
	"github.com/LastBoss7/orderly-eats-sub002/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRoot()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "marketplace order-ingestion gateway",
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config path (YAML, optional)")

	cmd.AddCommand(newServeCmd(&cfgPath))
	cmd.AddCommand(newPollCmd(&cfgPath))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return json.NewEncoder(os.Stdout).Encode(buildinfo.Info())
		},
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP gateway with background pollers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			srv, err := api.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}
			metrics.RegisterDefault()

			mux := http.NewServeMux()
			mux.HandleFunc("/", srv.ActionsHandler)
			mux.HandleFunc("/v1/marketplace/webhook", srv.WebhookHandler)
			mux.HandleFunc("/v1/orders", srv.MirrorsHandler)
			mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
			mux.HandleFunc("/v1/stream", srv.StreamHandler)
			mux.HandleFunc("/v1/ws", srv.WSHandler)
			mux.HandleFunc("/healthz", srv.HealthHandler)
			mux.HandleFunc("/readyz", srv.ReadyHandler)
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

			worker := srv.NewNotifyWorker()
			worker.Start()
			scheduler := srv.NewPollScheduler(cfg.PollInterval.Std())
			scheduler.Start()

			httpSrv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           logMiddleware(mux),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				close(worker.Stop)
				close(scheduler.Stop)
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutCtx)
			}()

			log.Printf("gateway listening on :%s (version %s)", cfg.Port, buildinfo.Version)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func newPollCmd(cfgPath *string) *cobra.Command {
	var restaurantID string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "run one poll cycle for a restaurant and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			srv, err := api.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}
			settings, err := srv.Guard.Load(cmd.Context(), restaurantID)
			if err != nil {
				return err
			}
			sum, err := srv.LockedPollOnce(cmd.Context(), settings)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(sum)
		},
	}
	cmd.Flags().StringVar(&restaurantID, "restaurant", "", "restaurant id to poll")
	_ = cmd.MarkFlagRequired("restaurant")
	return cmd
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, fmt.Sprint(rec.status)).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the middleware wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
