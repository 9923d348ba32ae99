package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/flags"
)

func runLoadConfig(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var (
		cfg     Config
		loadErr error
	)
	app := &cli.App{
		Name:  "minifuzz",
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, loadErr = LoadConfig(ctx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"minifuzz"}, args...)))
	return cfg, loadErr
}

func TestLoadConfig(t *testing.T) {
	contract := filepath.Join(t.TempDir(), "Bank.sol")
	require.NoError(t, os.WriteFile(contract, []byte("pragma solidity ^0.8.0;"), 0o644))

	t.Run("PositionalArguments", func(t *testing.T) {
		cfg, err := runLoadConfig(t, contract, "7", "http://127.0.0.1:8545")
		require.NoError(t, err)
		assert.Equal(t, contract, cfg.ContractPath)
		assert.Equal(t, 7, cfg.Rounds)
		assert.Equal(t, "http://127.0.0.1:8545", cfg.Chain.ChainRpcUrl)
		assert.Equal(t, uint64(6_000_000), cfg.Chain.GasLimit)
		assert.Equal(t, 60*time.Second, cfg.Chain.ReceiptTimeout)
		assert.False(t, cfg.MasterDB.Enabled())
	})

	t.Run("EnvironmentSettings", func(t *testing.T) {
		t.Setenv("MINIFUZZ_MASTER_DB_HOST", "db.local")
		t.Setenv("MINIFUZZ_GAS_LIMIT", "1000000")

		cfg, err := runLoadConfig(t, contract, "1", "http://127.0.0.1:8545")
		require.NoError(t, err)
		assert.True(t, cfg.MasterDB.Enabled())
		assert.Equal(t, uint64(1_000_000), cfg.Chain.GasLimit)
	})

	t.Run("MissingArguments", func(t *testing.T) {
		_, err := runLoadConfig(t, contract, "3")
		require.Error(t, err)
		assert.True(t, errs.IsType(err, errs.ErrorTypeConfig))
		assert.Equal(t, errs.SeverityFatal, errs.SeverityOf(err))
	})

	t.Run("MalformedRounds", func(t *testing.T) {
		for _, rounds := range []string{"ten", "0", "1.5"} {
			_, err := runLoadConfig(t, contract, rounds, "http://127.0.0.1:8545")
			assert.Error(t, err, rounds)
		}
	})

	t.Run("MissingContract", func(t *testing.T) {
		_, err := runLoadConfig(t, filepath.Join(t.TempDir(), "nope.sol"), "1", "http://127.0.0.1:8545")
		assert.Error(t, err)
	})
}
