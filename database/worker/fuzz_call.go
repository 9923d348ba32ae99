package worker

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FuzzCall is one planned call of a campaign and how far it got
type FuzzCall struct {
	GUID            uuid.UUID      `gorm:"primaryKey" json:"guid"`
	Campaign        uuid.UUID      `gorm:"index" json:"campaign"`
	Round           int            `json:"round"`
	ContractAddress common.Address `gorm:"serializer:bytes" json:"contract_address"`
	Function        string         `json:"function"`
	TxHash          common.Hash    `gorm:"serializer:bytes" json:"tx_hash"`
	Value           *big.Int       `gorm:"serializer:u256" json:"value"`
	Outcome         string         `gorm:"index" json:"outcome"`
	Findings        int            `json:"findings"`
	Timestamp       uint64         `json:"timestamp"`
}

func (FuzzCall) TableName() string {
	return "fuzz_calls"
}

type FuzzCallsView interface {
	QueryFuzzCallsByRound(campaign uuid.UUID, round int) ([]FuzzCall, error)
	CountFuzzCallsByOutcome(campaign uuid.UUID) (map[string]int64, error)
}

type FuzzCallsDB interface {
	FuzzCallsView

	StoreFuzzCalls([]FuzzCall) error
}

type fuzzCallsDB struct {
	gorm *gorm.DB
}

func NewFuzzCallsDB(db *gorm.DB) FuzzCallsDB {
	return &fuzzCallsDB{gorm: db}
}

func (db *fuzzCallsDB) StoreFuzzCalls(calls []FuzzCall) error {
	now := uint64(time.Now().Unix())
	for i := range calls {
		if calls[i].GUID == uuid.Nil {
			calls[i].GUID = uuid.New()
		}
		if calls[i].Timestamp == 0 {
			calls[i].Timestamp = now
		}
	}
	return db.gorm.Create(&calls).Error
}

func (db *fuzzCallsDB) QueryFuzzCallsByRound(campaign uuid.UUID, round int) ([]FuzzCall, error) {
	var calls []FuzzCall
	err := db.gorm.Where("campaign = ? AND round = ?", campaign, round).Order("timestamp ASC").Find(&calls).Error
	return calls, err
}

func (db *fuzzCallsDB) CountFuzzCallsByOutcome(campaign uuid.UUID) (map[string]int64, error) {
	type outcomeCount struct {
		Outcome string
		Count   int64
	}

	var results []outcomeCount
	err := db.gorm.Model(&FuzzCall{}).
		Select("outcome, count(*) as count").
		Where("campaign = ?", campaign).
		Group("outcome").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.Outcome] = r.Count
	}
	return counts, nil
}
