package fuzzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/minifuzz/tracing"
)

// Stats counts what a campaign did. Counters may be read from another
// goroutine while the campaign runs.
type Stats struct {
	mu sync.RWMutex

	roundsStarted   int64
	roundsCompleted int64
	roundsAborted   int64

	callsExecuted int64
	callsReverted int64
	callsSkipped  int64

	findings map[tracing.RuleID]int64

	startTime time.Time
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	RoundsStarted   int64                    `json:"roundsStarted"`
	RoundsCompleted int64                    `json:"roundsCompleted"`
	RoundsAborted   int64                    `json:"roundsAborted"`
	CallsExecuted   int64                    `json:"callsExecuted"`
	CallsReverted   int64                    `json:"callsReverted"`
	CallsSkipped    int64                    `json:"callsSkipped"`
	Findings        map[tracing.RuleID]int64 `json:"findings"`
	Elapsed         time.Duration            `json:"elapsed"`
}

func NewStats() *Stats {
	return &Stats{
		findings:  make(map[tracing.RuleID]int64),
		startTime: time.Now(),
	}
}

func (s *Stats) RoundStarted()   { atomic.AddInt64(&s.roundsStarted, 1) }
func (s *Stats) RoundCompleted() { atomic.AddInt64(&s.roundsCompleted, 1) }
func (s *Stats) RoundAborted()   { atomic.AddInt64(&s.roundsAborted, 1) }

// CallExecuted counts a mined call that was analyzed
func (s *Stats) CallExecuted() { atomic.AddInt64(&s.callsExecuted, 1) }
func (s *Stats) CallReverted() { atomic.AddInt64(&s.callsReverted, 1) }
func (s *Stats) CallSkipped()  { atomic.AddInt64(&s.callsSkipped, 1) }

func (s *Stats) RecordFinding(rule tracing.RuleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[rule]++
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	findings := make(map[tracing.RuleID]int64, len(s.findings))
	for rule, n := range s.findings {
		findings[rule] = n
	}
	s.mu.RUnlock()

	return StatsSnapshot{
		RoundsStarted:   atomic.LoadInt64(&s.roundsStarted),
		RoundsCompleted: atomic.LoadInt64(&s.roundsCompleted),
		RoundsAborted:   atomic.LoadInt64(&s.roundsAborted),
		CallsExecuted:   atomic.LoadInt64(&s.callsExecuted),
		CallsReverted:   atomic.LoadInt64(&s.callsReverted),
		CallsSkipped:    atomic.LoadInt64(&s.callsSkipped),
		Findings:        findings,
		Elapsed:         time.Since(s.startTime),
	}
}

// TotalFindings sums findings over all rules
func (ss StatsSnapshot) TotalFindings() int64 {
	var total int64
	for _, n := range ss.Findings {
		total += n
	}
	return total
}

// Summary renders the findings per rule, sorted by rule id
func (ss StatsSnapshot) Summary() string {
	if len(ss.Findings) == 0 {
		return "none"
	}
	rules := make([]string, 0, len(ss.Findings))
	for rule := range ss.Findings {
		rules = append(rules, string(rule))
	}
	sort.Strings(rules)

	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		parts = append(parts, fmt.Sprintf("%s=%d", rule, ss.Findings[tracing.RuleID(rule)]))
	}
	return strings.Join(parts, " ")
}

func (ss StatsSnapshot) Log(logger log.Logger) {
	logger.Info("fuzzing campaign finished",
		"rounds", ss.RoundsStarted,
		"completed", ss.RoundsCompleted,
		"aborted", ss.RoundsAborted,
		"calls", ss.CallsExecuted,
		"reverted", ss.CallsReverted,
		"skipped", ss.CallsSkipped,
		"findings", ss.TotalFindings(),
		"byRule", ss.Summary(),
		"elapsed", ss.Elapsed.Round(time.Millisecond),
	)
}
