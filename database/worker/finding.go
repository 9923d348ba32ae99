package worker

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Finding is a persisted detector hit
type Finding struct {
	GUID      uuid.UUID   `gorm:"primaryKey" json:"guid"`
	Campaign  uuid.UUID   `gorm:"index" json:"campaign"`
	Rule      string      `gorm:"index" json:"rule"`
	Severity  string      `json:"severity"`
	Round     int         `json:"round"`
	Function  string      `json:"function"`
	Pc        uint64      `json:"pc"`
	TxHash    common.Hash `gorm:"serializer:bytes" json:"tx_hash"`
	Timestamp uint64      `json:"timestamp"`
}

func (Finding) TableName() string {
	return "findings"
}

type FindingsView interface {
	QueryFindingsByCampaign(campaign uuid.UUID) ([]Finding, error)
	CountFindingsByRule(campaign uuid.UUID) (map[string]int64, error)
}

type FindingsDB interface {
	FindingsView

	StoreFindings([]Finding) error
}

type findingsDB struct {
	gorm *gorm.DB
}

func NewFindingsDB(db *gorm.DB) FindingsDB {
	return &findingsDB{gorm: db}
}

func (db *findingsDB) StoreFindings(findings []Finding) error {
	now := uint64(time.Now().Unix())
	for i := range findings {
		if findings[i].GUID == uuid.Nil {
			findings[i].GUID = uuid.New()
		}
		if findings[i].Timestamp == 0 {
			findings[i].Timestamp = now
		}
	}
	return db.gorm.Create(&findings).Error
}

func (db *findingsDB) QueryFindingsByCampaign(campaign uuid.UUID) ([]Finding, error) {
	var findings []Finding
	err := db.gorm.Where("campaign = ?", campaign).Order("round ASC, timestamp ASC").Find(&findings).Error
	return findings, err
}

func (db *findingsDB) CountFindingsByRule(campaign uuid.UUID) (map[string]int64, error) {
	type ruleCount struct {
		Rule  string
		Count int64
	}

	var results []ruleCount
	err := db.gorm.Model(&Finding{}).
		Select("rule, count(*) as count").
		Where("campaign = ?", campaign).
		Group("rule").
		Find(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.Rule] = r.Count
	}
	return counts, nil
}
