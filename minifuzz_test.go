package minifuzz

import (
	"context"
	"math/big"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/minifuzz/config"
	"github.com/DQYXACML/minifuzz/fuzzer"
)

func TestInvocationFromPlan(t *testing.T) {
	plan := fuzzer.FunctionPlan{
		Name: "store",
		Params: []fuzzer.ParameterSpec{
			{Name: "key", Type: "bytes32"},
			{Name: "amount", Type: "uint256"},
		},
		Args:  []any{"0x01", big.NewInt(5)},
		Value: big.NewInt(1e15),
	}

	call := invocation(plan)
	assert.Equal(t, "store", call.Method)
	assert.Equal(t, []string{"bytes32", "uint256"}, call.Types)
	assert.Equal(t, plan.Args, call.Args)
	assert.Equal(t, plan.Value, call.Value)
}

func TestCampaignAgainstLiveNode(t *testing.T) {
	testConfig, err := config.LoadTestConfig()
	require.NoError(t, err)
	if testConfig.RPCURL == "" || testConfig.ContractPath == "" {
		t.Skip("no live node configured")
	}
	if _, err := exec.LookPath("solc"); err != nil {
		t.Skip("solc not installed")
	}

	cfg := &config.Config{
		ContractPath: testConfig.ContractPath,
		Rounds:       testConfig.Rounds,
		SolcPath:     "solc",
		Seed:         1,
		Chain: config.ChainConfig{
			ChainRpcUrl:     testConfig.RPCURL,
			PrivateKey:      testConfig.PrivateKey,
			GasLimit:        6_000_000,
			ReceiptTimeout:  time.Minute,
			ReceiptInterval: 200 * time.Millisecond,
		},
		MasterDB: testConfig.DBConfig,
	}

	ctx := context.Background()
	mf, err := NewMiniFuzz(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, mf.Start(ctx))
	require.NoError(t, mf.Stop(ctx))
	assert.True(t, mf.Stopped())

	snapshot := mf.fuzzer.Stats().Snapshot()
	assert.Equal(t, int64(testConfig.Rounds), snapshot.RoundsStarted)
}
