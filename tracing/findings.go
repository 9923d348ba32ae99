package tracing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

type RuleID string

const (
	RuleReentrancy RuleID = "SCWE-046"
	RuleTxOrigin   RuleID = "SCWE-018"
)

const SeverityCritical = "CRITICAL"

var ruleTitles = map[RuleID]string{
	RuleReentrancy: "Reentrancy Attack",
	RuleTxOrigin:   "Use of tx.origin for Authorization",
}

func (r RuleID) Title() string {
	if title, ok := ruleTitles[r]; ok {
		return title
	}
	return string(r)
}

// Finding is a single rule hit. Round, Function and TxHash are filled in by
// the fuzzer; the detector only knows the PC.
type Finding struct {
	Rule     RuleID
	Severity string
	PC       uint64
	Round    int
	Function string
	TxHash   common.Hash
}

func NewFinding(rule RuleID, pc uint64) Finding {
	return Finding{Rule: rule, Severity: SeverityCritical, PC: pc}
}

func (f Finding) String() string {
	return fmt.Sprintf("------ %s: %s detected! ------", f.Rule, f.Rule.Title())
}

type Reporter interface {
	Report(Finding)
}

// ReporterFunc adapts a function to a Reporter
type ReporterFunc func(Finding)

func (fn ReporterFunc) Report(f Finding) { fn(f) }

// MultiReporter fans a finding out to every reporter in order
type MultiReporter []Reporter

func (m MultiReporter) Report(f Finding) {
	for _, r := range m {
		if r != nil {
			r.Report(f)
		}
	}
}

// LogReporter writes findings at critical level without terminating the process
type LogReporter struct {
	log log.Logger
}

func NewLogReporter(logger log.Logger) *LogReporter {
	return &LogReporter{log: logger}
}

func (r *LogReporter) Report(f Finding) {
	ctx := []any{"rule", string(f.Rule), "severity", f.Severity, "pc", f.PC}
	if f.Function != "" {
		ctx = append(ctx, "round", f.Round, "function", f.Function, "tx", f.TxHash)
	}
	r.log.Write(log.LevelCrit, f.String(), ctx...)
}
