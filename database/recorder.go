package database

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/database/worker"
	"github.com/DQYXACML/minifuzz/fuzzer"
	"github.com/DQYXACML/minifuzz/tracing"
)

// Recorder persists one campaign. Findings reported during a call are held
// until the call itself is recorded and then written in the same transaction.
type Recorder struct {
	db       *DB
	campaign uuid.UUID
	log      log.Logger

	mu      sync.Mutex
	pending []worker.Finding
}

func NewRecorder(db *DB, logger log.Logger) *Recorder {
	campaign := uuid.New()
	return &Recorder{
		db:       db,
		campaign: campaign,
		log:      logger.New("campaign", campaign.String()),
	}
}

func (r *Recorder) Campaign() uuid.UUID {
	return r.campaign
}

func (r *Recorder) Report(f tracing.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, findingRow(r.campaign, f))
}

func (r *Recorder) RecordCall(ctx context.Context, record fuzzer.CallRecord) error {
	r.mu.Lock()
	findings := r.pending
	r.pending = nil
	r.mu.Unlock()

	call := fuzzCallRow(r.campaign, record)
	err := r.db.Transaction(func(tx *DB) error {
		if err := tx.FuzzCalls.StoreFuzzCalls([]worker.FuzzCall{call}); err != nil {
			return err
		}
		if len(findings) == 0 {
			return nil
		}
		return tx.Findings.StoreFindings(findings)
	})
	if err != nil {
		return errs.WrapError(errs.ErrorTypeStorage, "store fuzz call", err).
			AddContext("round", record.Round).
			AddContext("function", record.Function)
	}
	r.log.Debug("stored fuzz call", "round", record.Round, "function", record.Function, "findings", len(findings))
	return nil
}

func findingRow(campaign uuid.UUID, f tracing.Finding) worker.Finding {
	return worker.Finding{
		GUID:      uuid.New(),
		Campaign:  campaign,
		Rule:      string(f.Rule),
		Severity:  f.Severity,
		Round:     f.Round,
		Function:  f.Function,
		Pc:        f.PC,
		TxHash:    f.TxHash,
		Timestamp: uint64(time.Now().Unix()),
	}
}

func fuzzCallRow(campaign uuid.UUID, record fuzzer.CallRecord) worker.FuzzCall {
	return worker.FuzzCall{
		GUID:            uuid.New(),
		Campaign:        campaign,
		Round:           record.Round,
		ContractAddress: record.Contract,
		Function:        record.Function,
		TxHash:          record.TxHash,
		Value:           record.Value,
		Outcome:         string(record.Outcome),
		Findings:        record.Findings,
		Timestamp:       uint64(time.Now().Unix()),
	}
}
