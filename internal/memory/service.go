package memory

import (
	"context"
	"time"

	"github.com/opsignal/threatmem/internal/kv"
	"github.com/opsignal/threatmem/internal/resilience"
)

// Service is the façade collectors and analyst surfaces talk to. Every
// tier operation goes through the shared resilience monitor, so retries,
// the breaker, dead-lettering, and latency accounting apply uniformly.
// The monitor is injected — there is no package-level singleton.
type Service struct {
	monitor *resilience.Monitor
	working *WorkingTier
	short   *ShortTermTier
	long    *LongTermTier
	engine  *PromotionEngine
}

// TTLConfig carries the per-tier expiry windows.
type TTLConfig struct {
	Working   time.Duration
	ShortTerm time.Duration
	LongTerm  time.Duration
}

// NewService builds the three tiers and the promotion engine over store
// and wraps them with monitor.
func NewService(store kv.Store, monitor *resilience.Monitor, ttl TTLConfig) *Service {
	working := NewWorkingTier(store, ttl.Working)
	short := NewShortTermTier(store, ttl.ShortTerm)
	long := NewLongTermTier(store, ttl.LongTerm)
	return &Service{
		monitor: monitor,
		working: working,
		short:   short,
		long:    long,
		engine:  NewPromotionEngine(store, working, short, long),
	}
}

// Monitor exposes the shared resilience monitor for health reporting.
func (s *Service) Monitor() *resilience.Monitor { return s.monitor }

// AddThreat ingests a collector-discovered threat into working memory.
func (s *Service) AddThreat(ctx context.Context, threatID, content string, severity Severity, metadata map[string]string) (*WorkingMemory, error) {
	var wm *WorkingMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.working.add_threat",
		Payload: threatID,
		Do: func(ctx context.Context) error {
			var err error
			wm, err = s.working.AddThreat(ctx, threatID, content, severity, metadata)
			return err
		},
	})
	return wm, err
}

// RecordInteraction registers an analyst action against an active threat.
func (s *Service) RecordInteraction(ctx context.Context, threatID, analystID, action string) (*WorkingMemory, error) {
	var wm *WorkingMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.working.record_interaction",
		Payload: threatID,
		Do: func(ctx context.Context) error {
			var err error
			wm, err = s.working.RecordInteraction(ctx, threatID, analystID, action)
			return err
		},
	})
	return wm, err
}

// GetThreat returns the active L1 record for threatID.
func (s *Service) GetThreat(ctx context.Context, threatID string) (*WorkingMemory, error) {
	var wm *WorkingMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.working.get_threat",
		Payload: threatID,
		Do: func(ctx context.Context) error {
			var err error
			wm, err = s.working.GetThreat(ctx, threatID)
			return err
		},
	})
	return wm, err
}

// ListActive returns all threat_ids under active investigation.
func (s *Service) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.working.list_active",
		Do: func(ctx context.Context) error {
			var err error
			ids, err = s.working.ListActive(ctx)
			return err
		},
	})
	return ids, err
}

// GetHot returns active threats with at least minInteractions touches.
func (s *Service) GetHot(ctx context.Context, minInteractions int) ([]*WorkingMemory, error) {
	var hot []*WorkingMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.working.get_hot",
		Do: func(ctx context.Context) error {
			var err error
			hot, err = s.working.GetHot(ctx, minInteractions)
			return err
		},
	})
	return hot, err
}

// GetStale returns active threats untouched for longer than maxAge.
func (s *Service) GetStale(ctx context.Context, maxAge time.Duration) ([]*WorkingMemory, error) {
	var stale []*WorkingMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.working.get_stale",
		Do: func(ctx context.Context) error {
			var err error
			stale, err = s.working.GetStale(ctx, maxAge)
			return err
		},
	})
	return stale, err
}

// Dismiss removes a threat from working memory without promotion.
func (s *Service) Dismiss(ctx context.Context, threatID string) error {
	return s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.working.remove",
		Payload: threatID,
		Do: func(ctx context.Context) error {
			return s.working.Remove(ctx, threatID)
		},
	})
}

// PromoteToShortTerm moves a working threat into short-term memory.
func (s *Service) PromoteToShortTerm(ctx context.Context, threatID string, confidence float64, industry string, evidenceCount, analystInteractions int, memoryType MemoryType) (*ShortTermMemory, error) {
	var stm *ShortTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.promote.short_term",
		Payload: threatID,
		Do: func(ctx context.Context) error {
			var err error
			stm, err = s.engine.PromoteToShortTerm(ctx, threatID, confidence, industry, evidenceCount, analystInteractions, memoryType)
			return err
		},
	})
	return stm, err
}

// PromoteToLongTerm moves a short-term memory into long-term memory.
func (s *Service) PromoteToLongTerm(ctx context.Context, shortTermID string) (*LongTermMemory, error) {
	var ltm *LongTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.promote.long_term",
		Payload: shortTermID,
		Do: func(ctx context.Context) error {
			var err error
			ltm, err = s.engine.PromoteToLongTerm(ctx, shortTermID)
			return err
		},
	})
	return ltm, err
}

// GetTopShortTerm returns the analyst triage view: highest-score L2
// records first.
func (s *Service) GetTopShortTerm(ctx context.Context, limit int) ([]*ShortTermMemory, error) {
	var top []*ShortTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.short_term.get_top",
		Do: func(ctx context.Context) error {
			var err error
			top, err = s.engine.GetTopShortTerm(ctx, limit)
			return err
		},
	})
	return top, err
}

// GetShortTerm returns one L2 record by id.
func (s *Service) GetShortTerm(ctx context.Context, shortTermID string) (*ShortTermMemory, error) {
	var stm *ShortTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.short_term.get",
		Payload: shortTermID,
		Do: func(ctx context.Context) error {
			var err error
			stm, err = s.short.Get(ctx, shortTermID)
			return err
		},
	})
	return stm, err
}

// Reinforce extends a short-term memory's TTL on renewed observation.
func (s *Service) Reinforce(ctx context.Context, shortTermID string) (*ShortTermMemory, error) {
	var stm *ShortTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.short_term.reinforce",
		Payload: shortTermID,
		Do: func(ctx context.Context) error {
			var err error
			stm, err = s.short.Reinforce(ctx, shortTermID)
			return err
		},
	})
	return stm, err
}

// GetLongTerm returns one L3 record by id.
func (s *Service) GetLongTerm(ctx context.Context, memoryID string) (*LongTermMemory, error) {
	var ltm *LongTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.long_term.get",
		Payload: memoryID,
		Do: func(ctx context.Context) error {
			var err error
			ltm, err = s.long.Get(ctx, memoryID)
			return err
		},
	})
	return ltm, err
}

// Consolidate reinforces an existing long-term memory.
func (s *Service) Consolidate(ctx context.Context, memoryID string) (*LongTermMemory, error) {
	var ltm *LongTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.long_term.consolidate",
		Payload: memoryID,
		Do: func(ctx context.Context) error {
			var err error
			ltm, err = s.long.Consolidate(ctx, memoryID)
			return err
		},
	})
	return ltm, err
}

// GetByIndustry returns long-term records for one industry partition.
func (s *Service) GetByIndustry(ctx context.Context, industry string, limit int) ([]*LongTermMemory, error) {
	var out []*LongTermMemory
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.long_term.get_by_industry",
		Do: func(ctx context.Context) error {
			var err error
			out, err = s.long.GetByIndustry(ctx, industry, limit)
			return err
		},
	})
	return out, err
}

// ListExportPending returns ids awaiting graph/vector export.
func (s *Service) ListExportPending(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.long_term.list_export_pending",
		Do: func(ctx context.Context) error {
			var err error
			ids, err = s.long.ListExportPending(ctx)
			return err
		},
	})
	return ids, err
}

// MarkExported acknowledges a completed downstream export.
func (s *Service) MarkExported(ctx context.Context, memoryID string) error {
	return s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.long_term.mark_exported",
		Payload: memoryID,
		Do: func(ctx context.Context) error {
			return s.long.MarkExported(ctx, memoryID)
		},
	})
}

// SetFact flags a long-term memory as a factual extraction, exempting it
// from confidence decay.
func (s *Service) SetFact(ctx context.Context, memoryID string, isFact bool) error {
	return s.monitor.Execute(ctx, resilience.Operation{
		Name:    "memory.long_term.set_fact",
		Payload: memoryID,
		Do: func(ctx context.Context) error {
			return s.long.SetFact(ctx, memoryID, isFact)
		},
	})
}

// NewDecayWorker returns a decay worker bound to this service's L3 tier
// and its resilience monitor.
func (s *Service) NewDecayWorker(decayRate, floor float64, batchSize int64) *DecayWorker {
	return NewDecayWorker(s.long, s.monitor, decayRate, floor, batchSize)
}

// TierCounts is the per-tier record census for the status endpoint.
type TierCounts struct {
	Working   int64 `json:"working"`
	ShortTerm int64 `json:"short_term"`
	LongTerm  int64 `json:"long_term"`
}

// Counts returns the current record count per tier.
func (s *Service) Counts(ctx context.Context) (TierCounts, error) {
	var counts TierCounts
	err := s.monitor.Execute(ctx, resilience.Operation{
		Name: "memory.counts",
		Do: func(ctx context.Context) error {
			var err error
			if counts.Working, err = s.working.Count(ctx); err != nil {
				return err
			}
			if counts.ShortTerm, err = s.short.Count(ctx); err != nil {
				return err
			}
			counts.LongTerm, err = s.long.Count(ctx)
			return err
		},
	})
	return counts, err
}
