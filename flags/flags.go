package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "MINIFUZZ"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

// The fuzz command only takes positional arguments. Everything below is
// optional, environment driven and hidden from the help output.
var (
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: trace, debug, info, warn, error, crit",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Value:   "info",
		Hidden:  true,
	}
	SolcPathFlag = &cli.StringFlag{
		Name:    "solc",
		Usage:   "Path to the solc binary",
		EnvVars: prefixEnvVars("SOLC"),
		Value:   "solc",
		Hidden:  true,
	}
	ChainIdFlag = &cli.UintFlag{
		Name:    "chain-id",
		Usage:   "Chain id used to sign transactions; queried from the node when zero",
		EnvVars: prefixEnvVars("CHAIN_ID"),
		Hidden:  true,
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "Hex private key of the fuzzing account; the node's first unlocked account is used when empty",
		EnvVars: prefixEnvVars("PRIVATE_KEY"),
		Hidden:  true,
	}
	GasLimitFlag = &cli.Uint64Flag{
		Name:    "gas-limit",
		Usage:   "Gas limit for deployments and calls",
		EnvVars: prefixEnvVars("GAS_LIMIT"),
		Value:   6_000_000,
		Hidden:  true,
	}
	ReceiptTimeoutFlag = &cli.DurationFlag{
		Name:    "receipt-timeout",
		Usage:   "How long to wait for a transaction to be mined",
		EnvVars: prefixEnvVars("RECEIPT_TIMEOUT"),
		Value:   60 * time.Second,
		Hidden:  true,
	}
	ReceiptIntervalFlag = &cli.DurationFlag{
		Name:    "receipt-interval",
		Usage:   "Polling interval while waiting for a receipt",
		EnvVars: prefixEnvVars("RECEIPT_INTERVAL"),
		Value:   500 * time.Millisecond,
		Hidden:  true,
	}
	SeedFlag = &cli.Int64Flag{
		Name:    "seed",
		Usage:   "Random seed; a time based seed is used when zero",
		EnvVars: prefixEnvVars("SEED"),
		Hidden:  true,
	}

	// Findings database, disabled when the host is empty
	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Usage:   "The host of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
		Hidden:  true,
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Usage:   "The port of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
		Value:   5432,
		Hidden:  true,
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "The user of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
		Hidden:  true,
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "The password of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
		Hidden:  true,
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Usage:   "The db name of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
		Value:   "minifuzz",
		Hidden:  true,
	}

	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Usage:   "Path to the SQL migrations folder",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
		Value:   "./migrations",
	}
)

var dbFlags = []cli.Flag{
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

var fuzzFlags = []cli.Flag{
	SolcPathFlag,
	ChainIdFlag,
	PrivateKeyFlag,
	GasLimitFlag,
	ReceiptTimeoutFlag,
	ReceiptIntervalFlag,
	SeedFlag,
}

// GlobalFlags are attached to the app itself.
var GlobalFlags = []cli.Flag{LogLevelFlag}

// Flags are attached to the fuzz command.
var Flags []cli.Flag

// MigrateFlags are attached to the migrate command.
var MigrateFlags []cli.Flag

func init() {
	Flags = append(append(Flags, fuzzFlags...), dbFlags...)
	MigrateFlags = append(append(MigrateFlags, MigrationsFlag), dbFlags...)
}
