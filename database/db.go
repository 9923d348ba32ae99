package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DQYXACML/minifuzz/config"
	"github.com/DQYXACML/minifuzz/database/worker"

	_ "github.com/DQYXACML/minifuzz/database/utils/serializers"
)

type DB struct {
	gorm *gorm.DB

	Findings  worker.FindingsDB
	FuzzCalls worker.FuzzCallsDB
}

func NewDB(ctx context.Context, dbConfig config.DBConfig) (*DB, error) {
	dsn := fmt.Sprintf("host=%s dbname=%s sslmode=disable", dbConfig.Host, dbConfig.Name)
	if dbConfig.Port != 0 {
		dsn += fmt.Sprintf(" port=%d", dbConfig.Port)
	}
	if dbConfig.User != "" {
		dsn += fmt.Sprintf(" user=%s", dbConfig.User)
	}
	if dbConfig.Password != "" {
		dsn += fmt.Sprintf(" password=%s", dbConfig.Password)
	}

	gormConfig := gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        3_000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	gorm, err := gorm.Open(postgres.Open(dsn), &gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "open findings database")
	}

	sqlDB, err := gorm.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping findings database")
	}

	return newDB(gorm.WithContext(ctx)), nil
}

func newDB(gorm *gorm.DB) *DB {
	return &DB{
		gorm:      gorm,
		Findings:  worker.NewFindingsDB(gorm),
		FuzzCalls: worker.NewFuzzCallsDB(gorm),
	}
}

func (db *DB) Transaction(fn func(db *DB) error) error {
	return db.gorm.Transaction(func(tx *gorm.DB) error {
		return fn(newDB(tx))
	})
}

func (db *DB) Close() error {
	sql, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sql.Close()
}

// ExecuteSQLMigration runs every file under migrationsFolder in lexical order
func (db *DB) ExecuteSQLMigration(migrationsFolder string) error {
	var files []string
	err := filepath.Walk(migrationsFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Failed to process migration file: %s", path))
		}
		if !info.IsDir() && filepath.Ext(path) == ".sql" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		fileContent, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.Wrap(readErr, fmt.Sprintf("Error reading SQL file: %s", path))
		}
		if execErr := db.gorm.Exec(string(fileContent)).Error; execErr != nil {
			return errors.Wrap(execErr, fmt.Sprintf("Error executing SQL script: %s", path))
		}
	}
	return nil
}
