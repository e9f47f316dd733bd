package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/opsignal/threatmem/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run preflight checks (config, store, decay schedule)",
	Long:  "Verifies configuration is valid, the key-value store is reachable, and the decay cron schedule parses.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	ok := true

	// 1. Configuration valid
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(out, "✗ Config: %v\n", err)
		return fmt.Errorf("preflight checks failed")
	}
	fmt.Fprintf(out, "✓ Config: backend=%s working_ttl=%s short_term_ttl=%s long_term_ttl=%s\n",
		cfg.StoreBackend, cfg.WorkingTTL, cfg.ShortTermTTL, cfg.LongTermTTL)

	// 2. Store reachable
	store, err := newStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(out, "✗ Store: %v\n", err)
		ok = false
	} else {
		if err := store.Ping(ctx); err != nil {
			fmt.Fprintf(out, "✗ Store: ping failed — %v\n", err)
			ok = false
		} else {
			fmt.Fprintf(out, "✓ Store: %s reachable\n", cfg.StoreBackend)
		}
		_ = store.Close()
	}

	// 3. Decay schedule parses
	if _, err := cron.ParseStandard(cfg.DecaySchedule); err != nil {
		fmt.Fprintf(out, "✗ Decay schedule: %q — %v\n", cfg.DecaySchedule, err)
		ok = false
	} else {
		fmt.Fprintf(out, "✓ Decay schedule: %q (rate=%.2f floor=%.2f)\n",
			cfg.DecaySchedule, cfg.DecayRate, cfg.ConfidenceFloor)
	}

	if !ok {
		return fmt.Errorf("preflight checks failed")
	}
	fmt.Fprintf(out, "\nAll checks passed.\n")
	return nil
}
