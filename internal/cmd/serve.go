package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opsignal/threatmem/internal/config"
	"github.com/opsignal/threatmem/internal/kv"
	"github.com/opsignal/threatmem/internal/memory"
	"github.com/opsignal/threatmem/internal/resilience"
	"github.com/opsignal/threatmem/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the threatmem server with the scheduled decay worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

// newStore opens the configured key-value backend.
func newStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		store, err := kv.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return store, nil
	case config.StoreMemory:
		log.Warn().Msg("using in-process store; records do not survive a restart")
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := resilience.NewMonitor(resilience.Config{
		FailureThreshold:   cfg.BreakerFailureThreshold,
		SuccessThreshold:   cfg.BreakerSuccessThreshold,
		Cooldown:           cfg.BreakerCooldown,
		MaxRetries:         cfg.RetryMaxAttempts,
		InitialDelay:       cfg.RetryInitialDelay,
		MaxDelay:           cfg.RetryMaxDelay,
		DeadLetterCapacity: cfg.DeadLetterCapacity,
	})

	svc := memory.NewService(store, monitor, memory.TTLConfig{
		Working:   cfg.WorkingTTL,
		ShortTerm: cfg.ShortTermTTL,
		LongTerm:  cfg.LongTermTTL,
	})
	decayWorker := svc.NewDecayWorker(cfg.DecayRate, cfg.ConfidenceFloor, int64(cfg.DecayBatchSize))

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.DecaySchedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		decayed, err := decayWorker.RunOnce(runCtx)
		if err != nil {
			log.Error().Err(err).Msg("decay_run_failed")
			return
		}
		log.Info().Int("decayed", decayed).Msg("decay_run_completed")
	})
	if err != nil {
		return fmt.Errorf("registering decay schedule %q: %w", cfg.DecaySchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.NewServer(svc, server.WithDecayWorker(decayWorker))

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("store_backend", cfg.StoreBackend).
		Str("decay_schedule", cfg.DecaySchedule).
		Msg("threatmem_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
