package tracing

import (
	"github.com/ethereum/go-ethereum/common"
)

// CallStipend is the gas forwarded with a plain transfer. A call with more
// gas than this lets the callee re-enter.
const CallStipend = 2300

// slotReads maps a storage slot to the pc of its most recent SLOAD
type slotReads map[common.Hash]uint64

// pcSet holds the pcs of calls that forwarded value and enough gas to re-enter
type pcSet map[uint64]struct{}

func (s pcSet) add(pc uint64) { s[pc] = struct{}{} }

// Detector scans the instruction stream of one transaction for storage
// reads that precede a value-bearing external call, and for tx.origin use.
// It must be Reset between transactions.
type Detector struct {
	reporter Reporter

	sloads   slotReads
	calls    pcSet
	reported bool
}

func NewDetector(reporter Reporter) *Detector {
	return &Detector{
		reporter: reporter,
		sloads:   make(slotReads),
		calls:    make(pcSet),
	}
}

// Analyze feeds every instruction in order and returns the findings it raised
func (d *Detector) Analyze(instructions []Instruction) []Finding {
	var findings []Finding
	collect := d.reporter
	d.reporter = MultiReporter{collect, ReporterFunc(func(f Finding) {
		findings = append(findings, f)
	})}
	defer func() { d.reporter = collect }()

	for _, ins := range instructions {
		d.Process(ins)
	}
	return findings
}

// Process evaluates a single instruction against both rules
func (d *Detector) Process(ins Instruction) {
	switch ins := ins.(type) {
	case SLoad:
		d.sloads[ins.Slot] = ins.PC()
	case Call:
		d.onCall(ins)
	case SStore:
		d.onStore(ins)
	case Origin:
		d.report(NewFinding(RuleTxOrigin, ins.PC()))
	}
}

func (d *Detector) onCall(ins Call) {
	if len(d.sloads) == 0 {
		return
	}
	if !ins.Gas.GtUint64(CallStipend) || ins.Value.IsZero() {
		return
	}
	d.calls.add(ins.PC())
	for _, readPC := range d.sloads {
		if readPC < ins.PC() {
			if !d.reported {
				d.report(NewFinding(RuleReentrancy, ins.PC()))
			}
			d.reported = true
			return
		}
	}
}

// onStore flags a write to a slot that was read before a risky call. The
// latch is checked here but only set by onCall, so a trace can raise this
// more than once.
func (d *Detector) onStore(ins SStore) {
	if len(d.calls) == 0 {
		return
	}
	if _, read := d.sloads[ins.Slot]; !read {
		return
	}
	for callPC := range d.calls {
		if callPC < ins.PC() && !d.reported {
			d.report(NewFinding(RuleReentrancy, ins.PC()))
			return
		}
	}
}

func (d *Detector) report(f Finding) {
	if d.reporter != nil {
		d.reporter.Report(f)
	}
}

// Reset forgets all reads, risky calls and the reported latch
func (d *Detector) Reset() {
	d.sloads = make(slotReads)
	d.calls = make(pcSet)
	d.reported = false
}
