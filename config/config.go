package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/flags"
)

type Config struct {
	ContractPath string
	Rounds       int
	SolcPath     string
	Seed         int64
	Chain        ChainConfig
	MasterDB     DBConfig
}

type ChainConfig struct {
	ChainRpcUrl     string
	ChainId         uint
	PrivateKey      string
	GasLimit        uint64
	ReceiptTimeout  time.Duration
	ReceiptInterval time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Enabled reports whether findings should be persisted
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// LoadConfig reads the three positional arguments of the fuzz command,
// <contract.sol> <rounds> <rpc-url>, plus the optional environment settings.
func LoadConfig(cliCtx *cli.Context) (Config, error) {
	if cliCtx.NArg() != 3 {
		return Config{}, errs.NewConfigError(
			fmt.Sprintf("expected 3 arguments <contract.sol> <rounds> <rpc-url>, got %d", cliCtx.NArg()), "args")
	}

	contractPath := cliCtx.Args().Get(0)
	if _, err := os.Stat(contractPath); err != nil {
		return Config{}, errs.WrapError(errs.ErrorTypeConfig, "contract source not readable", err).
			AddContext("field", "contract")
	}

	rounds, err := strconv.Atoi(cliCtx.Args().Get(1))
	if err != nil || rounds <= 0 {
		return Config{}, errs.NewConfigError(
			fmt.Sprintf("rounds must be a positive integer, got %q", cliCtx.Args().Get(1)), "rounds")
	}

	rpcUrl := cliCtx.Args().Get(2)
	if rpcUrl == "" {
		return Config{}, errs.NewConfigError("rpc url must not be empty", "rpc-url")
	}

	cfg := NewConfig(cliCtx)
	cfg.ContractPath = contractPath
	cfg.Rounds = rounds
	cfg.Chain.ChainRpcUrl = rpcUrl
	log.Info("loaded fuzz config", "contract", contractPath, "rounds", rounds, "rpc", rpcUrl, "db", cfg.MasterDB.Enabled())
	return cfg, nil
}

func NewConfig(cliCtx *cli.Context) Config {
	return Config{
		SolcPath: cliCtx.String(flags.SolcPathFlag.Name),
		Seed:     cliCtx.Int64(flags.SeedFlag.Name),
		Chain: ChainConfig{
			ChainId:         cliCtx.Uint(flags.ChainIdFlag.Name),
			PrivateKey:      cliCtx.String(flags.PrivateKeyFlag.Name),
			GasLimit:        cliCtx.Uint64(flags.GasLimitFlag.Name),
			ReceiptTimeout:  cliCtx.Duration(flags.ReceiptTimeoutFlag.Name),
			ReceiptInterval: cliCtx.Duration(flags.ReceiptIntervalFlag.Name),
		},
		MasterDB: LoadDBConfig(cliCtx),
	}
}

func LoadDBConfig(cliCtx *cli.Context) DBConfig {
	return DBConfig{
		Host:     cliCtx.String(flags.MasterDbHostFlag.Name),
		Port:     cliCtx.Int(flags.MasterDbPortFlag.Name),
		Name:     cliCtx.String(flags.MasterDbNameFlag.Name),
		User:     cliCtx.String(flags.MasterDbUserFlag.Name),
		Password: cliCtx.String(flags.MasterDbPasswordFlag.Name),
	}
}
