package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Severity of a tracked threat.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity validates a collector-supplied severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: severity %q", ErrValidation, s)
}

// MemoryType classifies what a validated threat memory represents.
type MemoryType string

const (
	TypeCampaign      MemoryType = "CAMPAIGN"
	TypeEvolution     MemoryType = "EVOLUTION"
	TypePattern       MemoryType = "PATTERN"
	TypeValidated     MemoryType = "VALIDATED"
	TypeFalsePositive MemoryType = "FALSE_POSITIVE"
)

func (t MemoryType) valid() bool {
	switch t {
	case TypeCampaign, TypeEvolution, TypePattern, TypeValidated, TypeFalsePositive:
		return true
	}
	return false
}

// Analyst interaction actions accepted by RecordInteraction.
const (
	ActionView     = "view"
	ActionEscalate = "escalate"
	ActionDismiss  = "dismiss"
)

// Cache tier labels derived by the decay worker from (confidence, age).
// Advisory bookkeeping on long-term records, never a move between tiers.
const (
	CacheHot  = "hot"
	CacheWarm = "warm"
	CacheCold = "cold"
)

// WorkingMemory is an L1 record: a threat under active investigation.
// One record per threat_id while active; expires after inactivity.
type WorkingMemory struct {
	ID               string            `json:"id"`
	ThreatID         string            `json:"threat_id"`
	Content          string            `json:"content"`
	Severity         Severity          `json:"severity"`
	StartedAt        time.Time         `json:"started_at"`
	LastActivity     time.Time         `json:"last_activity"`
	AnalystCount     int               `json:"analyst_count"`
	InteractionCount int               `json:"interaction_count"`
	Metadata         map[string]string `json:"metadata"`
}

// ShortTermMemory is an L2 record: validated but recent, ranked by Score
// in a sorted-set index. Created only by promotion from L1.
type ShortTermMemory struct {
	ID                  string            `json:"id"`
	ThreatID            string            `json:"threat_id"`
	Content             string            `json:"content"`
	Confidence          float64           `json:"confidence"`
	Severity            Severity          `json:"severity"`
	Industry            string            `json:"industry"`
	FormedAt            time.Time         `json:"formed_at"`
	LastUpdated         time.Time         `json:"last_updated"`
	EvidenceCount       int               `json:"evidence_count"`
	AnalystInteractions int               `json:"analyst_interactions"`
	MemoryType          MemoryType        `json:"memory_type"`
	Score               float64           `json:"score"`
	Metadata            map[string]string `json:"metadata"`
}

// LongTermMemory is an L3 record: consolidated knowledge with an export
// hand-off flag for the downstream graph/vector pipeline.
//
// BaseConfidence is the confidence at promotion time; the decay worker
// always recomputes Confidence from it rather than compounding, so a
// re-run with no elapsed time is a strict no-op.
type LongTermMemory struct {
	ID                  string            `json:"id"`
	ThreatID            string            `json:"threat_id"`
	Content             string            `json:"content"`
	Confidence          float64           `json:"confidence"`
	BaseConfidence      float64           `json:"base_confidence"`
	Severity            Severity          `json:"severity"`
	Industry            string            `json:"industry"`
	FormedAt            time.Time         `json:"formed_at"`
	LastUpdated         time.Time         `json:"last_updated"`
	EvidenceCount       int               `json:"evidence_count"`
	AnalystInteractions int               `json:"analyst_interactions"`
	MemoryType          MemoryType        `json:"memory_type"`
	ConsolidationCount  int               `json:"consolidation_count"`
	ExportPending       bool              `json:"export_pending"`
	IsFact              bool              `json:"is_fact"`
	CacheTier           string            `json:"cache_tier"`
	Metadata            map[string]string `json:"metadata"`
}

// Hash field encoding. Records live in store hashes as flat string
// fields; timestamps are RFC3339Nano, metadata is one JSON blob that is
// pass-through — this system never interprets individual metadata keys
// (collectors rely on at least source, url, published, industry, tags
// surviving the round trip for downstream consumers).

func encodeMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(meta)
	return string(b)
}

func decodeMeta(s string) map[string]string {
	meta := map[string]string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &meta)
	}
	return meta
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func encodeFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func decodeFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func decodeInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (w *WorkingMemory) fields() map[string]string {
	return map[string]string{
		"id":                w.ID,
		"threat_id":         w.ThreatID,
		"content":           w.Content,
		"severity":          string(w.Severity),
		"started_at":        encodeTime(w.StartedAt),
		"last_activity":     encodeTime(w.LastActivity),
		"analyst_count":     strconv.Itoa(w.AnalystCount),
		"interaction_count": strconv.Itoa(w.InteractionCount),
		"metadata":          encodeMeta(w.Metadata),
	}
}

func workingFromFields(f map[string]string) *WorkingMemory {
	return &WorkingMemory{
		ID:               f["id"],
		ThreatID:         f["threat_id"],
		Content:          f["content"],
		Severity:         Severity(f["severity"]),
		StartedAt:        decodeTime(f["started_at"]),
		LastActivity:     decodeTime(f["last_activity"]),
		AnalystCount:     decodeInt(f["analyst_count"]),
		InteractionCount: decodeInt(f["interaction_count"]),
		Metadata:         decodeMeta(f["metadata"]),
	}
}

func (s *ShortTermMemory) fields() map[string]string {
	return map[string]string{
		"id":                   s.ID,
		"threat_id":            s.ThreatID,
		"content":              s.Content,
		"confidence":           encodeFloat(s.Confidence),
		"severity":             string(s.Severity),
		"industry":             s.Industry,
		"formed_at":            encodeTime(s.FormedAt),
		"last_updated":         encodeTime(s.LastUpdated),
		"evidence_count":       strconv.Itoa(s.EvidenceCount),
		"analyst_interactions": strconv.Itoa(s.AnalystInteractions),
		"memory_type":          string(s.MemoryType),
		"score":                encodeFloat(s.Score),
		"metadata":             encodeMeta(s.Metadata),
	}
}

func shortTermFromFields(f map[string]string) *ShortTermMemory {
	return &ShortTermMemory{
		ID:                  f["id"],
		ThreatID:            f["threat_id"],
		Content:             f["content"],
		Confidence:          decodeFloat(f["confidence"]),
		Severity:            Severity(f["severity"]),
		Industry:            f["industry"],
		FormedAt:            decodeTime(f["formed_at"]),
		LastUpdated:         decodeTime(f["last_updated"]),
		EvidenceCount:       decodeInt(f["evidence_count"]),
		AnalystInteractions: decodeInt(f["analyst_interactions"]),
		MemoryType:          MemoryType(f["memory_type"]),
		Score:               decodeFloat(f["score"]),
		Metadata:            decodeMeta(f["metadata"]),
	}
}

func (l *LongTermMemory) fields() map[string]string {
	return map[string]string{
		"id":                   l.ID,
		"threat_id":            l.ThreatID,
		"content":              l.Content,
		"confidence":           encodeFloat(l.Confidence),
		"base_confidence":      encodeFloat(l.BaseConfidence),
		"severity":             string(l.Severity),
		"industry":             l.Industry,
		"formed_at":            encodeTime(l.FormedAt),
		"last_updated":         encodeTime(l.LastUpdated),
		"evidence_count":       strconv.Itoa(l.EvidenceCount),
		"analyst_interactions": strconv.Itoa(l.AnalystInteractions),
		"memory_type":          string(l.MemoryType),
		"consolidation_count":  strconv.Itoa(l.ConsolidationCount),
		"export_pending":       encodeBool(l.ExportPending),
		"is_fact":              encodeBool(l.IsFact),
		"cache_tier":           l.CacheTier,
		"metadata":             encodeMeta(l.Metadata),
	}
}

func longTermFromFields(f map[string]string) *LongTermMemory {
	return &LongTermMemory{
		ID:                  f["id"],
		ThreatID:            f["threat_id"],
		Content:             f["content"],
		Confidence:          decodeFloat(f["confidence"]),
		BaseConfidence:      decodeFloat(f["base_confidence"]),
		Severity:            Severity(f["severity"]),
		Industry:            f["industry"],
		FormedAt:            decodeTime(f["formed_at"]),
		LastUpdated:         decodeTime(f["last_updated"]),
		EvidenceCount:       decodeInt(f["evidence_count"]),
		AnalystInteractions: decodeInt(f["analyst_interactions"]),
		MemoryType:          MemoryType(f["memory_type"]),
		ConsolidationCount:  decodeInt(f["consolidation_count"]),
		ExportPending:       f["export_pending"] == "1",
		IsFact:              f["is_fact"] == "1",
		CacheTier:           f["cache_tier"],
		Metadata:            decodeMeta(f["metadata"]),
	}
}
