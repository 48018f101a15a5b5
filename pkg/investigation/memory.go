package investigation

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ColdCacheCapacity bounds the in-process LRU fallback that retains cold
// snapshots evicted from InvestigationState once MaxColdSnapshots is
// exceeded, so a case with a long history can still recall older
// summaries (e.g. for report generation) without growing the persisted
// state unboundedly.
const ColdCacheCapacity = 256

// Tier size limits, after which compression demotes or discards the
// oldest elements.
const (
	MaxHotSnapshots  = 3
	MaxWarmSnapshots = 5
	MaxColdSnapshots = 10

	// CompressionTurnInterval triggers compression every N turns even
	// if the hot tier hasn't overflowed.
	CompressionTurnInterval = 3
)

// MemoryManager organises turn history into hot/warm/cold tiers to
// bound the prompt context. Compression is deterministic:
// the same InvestigationState always produces the same tiering, and
// running it twice in a row is a no-op after the first run.
type MemoryManager struct {
	// Summarize, if set, is used to compress content beyond simple
	// truncation (e.g. an LLM-backed summariser). It must be pure from
	// the caller's point of view: same input -> same output, and any
	// error here falls back to deterministic concatenation-with-truncation.
	Summarize func(content string) (string, error)

	// coldCache holds cold snapshots evicted from the in-state tier by
	// Compress, keyed by SnapshotID. It is a best-effort process-local
	// fallback, not a replacement for persistence: a cache miss after a
	// restart simply means the snapshot is gone, same as before this
	// cache existed.
	coldCache *lru.Cache[string, MemorySnapshot]
}

// NewMemoryManager constructs a MemoryManager with no summariser
// (concatenation-with-truncation only) and an empty cold-tier LRU cache.
func NewMemoryManager() *MemoryManager {
	cache, err := lru.New[string, MemorySnapshot](ColdCacheCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// ColdCacheCapacity never is.
		panic(err)
	}
	return &MemoryManager{coldCache: cache}
}

// RecallCold looks up a cold snapshot evicted from InvestigationState by
// a prior Compress call. Reports ok=false on a miss, whether because the
// snapshot was never cached or because it aged out of the LRU.
func (m *MemoryManager) RecallCold(snapshotID string) (MemorySnapshot, bool) {
	if m.coldCache == nil {
		return MemorySnapshot{}, false
	}
	return m.coldCache.Get(snapshotID)
}

// ShouldCompress reports whether compression should run this turn:
// either the turn counter crossed a multiple of CompressionTurnInterval,
// or the hot tier already exceeds 5 snapshots.
func (m *MemoryManager) ShouldCompress(state *InvestigationState) bool {
	if state.CurrentTurn > 0 && state.CurrentTurn%CompressionTurnInterval == 0 {
		return true
	}
	return len(state.Memory.Hot) > MaxWarmSnapshots
}

// Organize rebuilds the hierarchical memory from the current
// InvestigationState: hot holds the last 3 turns at full fidelity, warm
// holds one snapshot summarising ACTIVE hypotheses plus recent evidence,
// cold holds one snapshot of VALIDATED/REFUTED hypotheses.
func (m *MemoryManager) Organize(state *InvestigationState) HierarchicalMemory {
	var mem HierarchicalMemory

	hot := state.TurnHistory
	if len(hot) > MaxHotSnapshots {
		hot = hot[len(hot)-MaxHotSnapshots:]
	}
	for _, turn := range hot {
		mem.Hot = append(mem.Hot, m.snapshotFromTurn(turn))
	}

	if active := state.ActiveHypotheses(); len(active) > 0 {
		mem.Warm = append(mem.Warm, m.snapshotFromHypotheses(active, state.Evidence, TierWarm))
	}

	if archived := state.ArchivedHypotheses(); len(archived) > 0 {
		mem.Cold = append(mem.Cold, m.snapshotFromHypotheses(archived, nil, TierCold))
	}

	m.Compress(&mem)
	return mem
}

// Compress enforces the tier size ceilings in place: oldest hot
// snapshots demote to warm, oldest warm snapshots merge into a single
// cold snapshot, and cold snapshots beyond MaxColdSnapshots are
// discarded. Calling Compress twice in succession is a no-op the second
// time.
func (m *MemoryManager) Compress(mem *HierarchicalMemory) {
	for len(mem.Hot) > MaxHotSnapshots {
		demoted := mem.Hot[0]
		demoted.Tier = TierWarm
		mem.Hot = mem.Hot[1:]
		mem.Warm = append(mem.Warm, demoted)
	}

	if len(mem.Warm) > MaxWarmSnapshots {
		overflow := mem.Warm[:len(mem.Warm)-MaxWarmSnapshots]
		mem.Warm = mem.Warm[len(mem.Warm)-MaxWarmSnapshots:]
		merged := m.mergeSnapshots(overflow, TierCold)
		mem.Cold = append(mem.Cold, merged)
	}

	if len(mem.Cold) > MaxColdSnapshots {
		evicted := mem.Cold[:len(mem.Cold)-MaxColdSnapshots]
		mem.Cold = mem.Cold[len(mem.Cold)-MaxColdSnapshots:]
		if m.coldCache != nil {
			for _, s := range evicted {
				m.coldCache.Add(s.SnapshotID, s)
			}
		}
	}
}

func (m *MemoryManager) snapshotFromTurn(turn TurnRecord) MemorySnapshot {
	return MemorySnapshot{
		SnapshotID:     fmt.Sprintf("turn_%d", turn.TurnNumber),
		TurnRangeStart: turn.TurnNumber,
		TurnRangeEnd:   turn.TurnNumber,
		Tier:           TierHot,
		ContentSummary: fmt.Sprintf("Turn %d: %s -> %s", turn.TurnNumber, turn.UserInputSummary, turn.Outcome),
		KeyInsights: []string{
			fmt.Sprintf("phase: %s", turn.Phase),
			fmt.Sprintf("progress made: %t", turn.ProgressMade),
		},
		EvidenceIDs:        turn.EvidenceCollected,
		HypothesisIDs:      turn.HypothesesUpdated,
		TokenCountEstimate: HotMemoryTokenEstimate,
		CreatedAt:          turn.CreatedAt,
	}
}

func (m *MemoryManager) snapshotFromHypotheses(hyps []*Hypothesis, evidence []Evidence, tier MemoryTier) MemorySnapshot {
	var insights []string
	var hypIDs []string
	var evIDs []string
	for _, h := range hyps {
		insights = append(insights, fmt.Sprintf("%s (%s, likelihood=%.2f)", h.Statement, h.Status, h.Likelihood))
		hypIDs = append(hypIDs, h.ID)
	}
	for _, e := range evidence {
		evIDs = append(evIDs, e.ID)
	}

	tokens := WarmMemoryTokenEstimate
	if tier == TierCold {
		tokens = ColdMemoryTokenEstimate
	}

	return MemorySnapshot{
		SnapshotID:         fmt.Sprintf("%s_summary", tier),
		Tier:               tier,
		ContentSummary:     summarize(insights, m.Summarize),
		KeyInsights:        insights,
		EvidenceIDs:        evIDs,
		HypothesisIDs:      hypIDs,
		TokenCountEstimate: tokens,
	}
}

func (m *MemoryManager) mergeSnapshots(snapshots []MemorySnapshot, tier MemoryTier) MemorySnapshot {
	var insights []string
	var start, end int
	for i, s := range snapshots {
		insights = append(insights, s.ContentSummary)
		if i == 0 || s.TurnRangeStart < start {
			start = s.TurnRangeStart
		}
		if s.TurnRangeEnd > end {
			end = s.TurnRangeEnd
		}
	}
	return MemorySnapshot{
		SnapshotID:         fmt.Sprintf("merged_%s_%d_%d", tier, start, end),
		TurnRangeStart:     start,
		TurnRangeEnd:       end,
		Tier:               tier,
		ContentSummary:     summarize(insights, m.Summarize),
		TokenCountEstimate: ColdMemoryTokenEstimate,
	}
}

// summarize concatenates lines, truncating deterministically. When an
// LLM-backed summarizer is supplied it is tried first, but any error
// falls back to the deterministic path.
func summarize(lines []string, llm func(string) (string, error)) string {
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += "; "
		}
		joined += l
	}

	if llm != nil {
		if out, err := llm(joined); err == nil {
			return out
		}
	}

	const maxLen = 400
	if len(joined) > maxLen {
		return joined[:maxLen] + "..."
	}
	return joined
}
