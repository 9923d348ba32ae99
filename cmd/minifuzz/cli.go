package main

import (
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/minifuzz"
	"github.com/DQYXACML/minifuzz/common/cliapp"
	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/config"
	"github.com/DQYXACML/minifuzz/database"
	"github.com/DQYXACML/minifuzz/flags"
)

func runFuzzer(ctx *cli.Context) (cliapp.Lifecycle, error) {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return nil, err
	}
	return minifuzz.NewMiniFuzz(ctx.Context, &cfg)
}

func runMigrations(ctx *cli.Context) error {
	dbConfig := config.LoadDBConfig(ctx)
	if !dbConfig.Enabled() {
		return errs.NewConfigError("database host must be set to run migrations", "master-db-host")
	}
	db, err := database.NewDB(ctx.Context, dbConfig)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("fail to close database", "err", err)
		}
	}()

	migrationsDir := ctx.String(flags.MigrationsFlag.Name)
	log.Info("running migrations", "dir", migrationsDir)
	return db.ExecuteSQLMigration(migrationsDir)
}

// setupLogging applies the log level flag to the root logger
func setupLogging(ctx *cli.Context) error {
	level, err := log.LvlFromString(ctx.String(flags.LogLevelFlag.Name))
	if err != nil {
		return errs.NewConfigError(err.Error(), "log-level")
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(ctx.App.ErrWriter, level, true)))
	return nil
}

func NewCli() *cli.App {
	return &cli.App{
		Name:                 "minifuzz",
		Usage:                "Fuzz a Solidity contract for reentrancy and tx.origin misuse",
		Version:              "v0.1.0",
		EnableBashCompletion: true,
		Flags:                flags.GlobalFlags,
		Before:               setupLogging,
		Commands: []*cli.Command{
			{
				Name:      "fuzz",
				Usage:     "Deploy the contract and fuzz its functions for a number of rounds",
				ArgsUsage: "<contract.sol> <rounds> <rpc-url>",
				Flags:     flags.Flags,
				Action:    cliapp.LifecycleCmd(runFuzzer),
			},
			{
				Name:        "migrate",
				Description: "Runs the database migrations",
				Flags:       flags.MigrateFlags,
				Action:      runMigrations,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
