package fuzzer

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/compiler"
)

// bankAST is the compact AST of a contract with an address constructor, a
// payable deposit, a withdraw, an internal helper, and receive.
const bankAST = `{
  "nodeType": "SourceUnit",
  "nodes": [
    {"nodeType": "PragmaDirective"},
    {
      "nodeType": "ContractDefinition", "name": "Bank", "contractKind": "contract",
      "nodes": [
        {"nodeType": "VariableDeclaration", "name": "balances"},
        {
          "nodeType": "FunctionDefinition", "name": "", "kind": "constructor",
          "stateMutability": "nonpayable", "visibility": "public",
          "parameters": {"parameters": [
            {"name": "owner", "typeDescriptions": {"typeString": "address"}}
          ]}
        },
        {
          "nodeType": "FunctionDefinition", "name": "deposit", "kind": "function",
          "stateMutability": "payable", "visibility": "public",
          "parameters": {"parameters": []}
        },
        {
          "nodeType": "FunctionDefinition", "name": "withdraw", "kind": "function",
          "stateMutability": "nonpayable", "visibility": "external",
          "parameters": {"parameters": [
            {"name": "amount", "typeDescriptions": {"typeString": "uint256"}},
            {"name": "memo", "typeDescriptions": {"typeString": "string"}}
          ]}
        },
        {
          "nodeType": "FunctionDefinition", "name": "_credit", "kind": "function",
          "stateMutability": "nonpayable", "visibility": "internal",
          "parameters": {"parameters": [
            {"name": "who", "typeDescriptions": {"typeString": "address"}}
          ]}
        },
        {
          "nodeType": "FunctionDefinition", "name": "", "kind": "receive",
          "stateMutability": "payable", "visibility": "external",
          "parameters": {"parameters": []}
        }
      ]
    }
  ]
}`

func parseAST(t *testing.T, src string) *compiler.SourceUnit {
	t.Helper()
	var unit compiler.SourceUnit
	require.NoError(t, json.Unmarshal([]byte(src), &unit))
	return &unit
}

func functionNames(plans []FunctionPlan) []string {
	names := make([]string, 0, len(plans))
	for _, p := range plans {
		names = append(names, p.Name)
	}
	return names
}

func TestBuildPlan(t *testing.T) {
	builder := NewPlanBuilder(newTestGenerator(7), log.Root())
	plan, err := builder.Build(parseAST(t, bankAST), "Bank")
	require.NoError(t, err)

	assert.Equal(t, []string{"deposit", "withdraw", "_credit"}, functionNames(plan.Functions))

	deposit := plan.Functions[0]
	assert.Empty(t, deposit.Args)
	assert.True(t, deposit.Value.Cmp(big.NewInt(1_000_000_000_000_000)) >= 0)
	assert.True(t, deposit.Value.Cmp(big.NewInt(5_000_000_000_000_000_000)) <= 0)

	withdraw := plan.Functions[1]
	require.Len(t, withdraw.Args, 2)
	assert.IsType(t, &big.Int{}, withdraw.Args[0])
	assert.IsType(t, "", withdraw.Args[1])
	assert.Zero(t, withdraw.Value.Sign())
	assert.Equal(t, []string{"uint256", "string"}, withdraw.Types())

	require.NotNil(t, plan.Constructor)
	require.Len(t, plan.Constructor.Args, 1)
	owner, ok := plan.Constructor.Args[0].(string)
	require.True(t, ok)
	assert.Len(t, owner, 42)
	assert.True(t, strings.HasPrefix(owner, "0x"))
	assert.Equal(t, common.HexToAddress(owner).Hex(), owner)
	assert.Equal(t, plan.Constructor.Args, plan.ConstructorArgs())
}

func TestBuildPlanVisibilityFilter(t *testing.T) {
	builder := NewPlanBuilder(newTestGenerator(8), log.Root(), WithVisibilityFilter())
	plan, err := builder.Build(parseAST(t, bankAST), "Bank")
	require.NoError(t, err)
	assert.Equal(t, []string{"deposit", "withdraw"}, functionNames(plan.Functions))
}

// vaultAST declares an interface with an unsupported parameter type, an
// abstract Ownable base with an address constructor, and Vault, which has no
// constructor of its own and overrides transferOwnership.
const vaultAST = `{"nodeType": "SourceUnit", "nodes": [
  {"nodeType": "ContractDefinition", "id": 1, "name": "IHooks", "contractKind": "interface",
   "linearizedBaseContracts": [1], "nodes": [
    {"nodeType": "FunctionDefinition", "name": "onBatch", "kind": "function",
     "stateMutability": "nonpayable", "visibility": "external", "parameters": {"parameters": [
       {"name": "ids", "typeDescriptions": {"typeString": "uint256[] calldata"}}
     ]}}
  ]},
  {"nodeType": "ContractDefinition", "id": 2, "name": "Ownable", "contractKind": "contract", "abstract": true,
   "linearizedBaseContracts": [2], "nodes": [
    {"nodeType": "FunctionDefinition", "name": "", "kind": "constructor",
     "stateMutability": "nonpayable", "visibility": "internal", "parameters": {"parameters": [
       {"name": "owner", "typeDescriptions": {"typeString": "address"}}
     ]}},
    {"nodeType": "FunctionDefinition", "name": "owner", "kind": "function",
     "stateMutability": "view", "visibility": "public", "parameters": {"parameters": []}},
    {"nodeType": "FunctionDefinition", "name": "transferOwnership", "kind": "function",
     "stateMutability": "nonpayable", "visibility": "public", "parameters": {"parameters": [
       {"name": "next", "typeDescriptions": {"typeString": "address"}}
     ]}}
  ]},
  {"nodeType": "ContractDefinition", "id": 3, "name": "Vault", "contractKind": "contract",
   "linearizedBaseContracts": [3, 2], "nodes": [
    {"nodeType": "FunctionDefinition", "name": "deposit", "kind": "function",
     "stateMutability": "payable", "visibility": "external", "parameters": {"parameters": []}},
    {"nodeType": "FunctionDefinition", "name": "transferOwnership", "kind": "function",
     "stateMutability": "payable", "visibility": "public", "parameters": {"parameters": [
       {"name": "next", "typeDescriptions": {"typeString": "address payable"}}
     ]}}
  ]}
]}`

func TestBuildPlanTakesConstructorOnlyFromTarget(t *testing.T) {
	plan, err := NewPlanBuilder(newTestGenerator(9), log.Root()).Build(parseAST(t, vaultAST), "Vault")
	require.NoError(t, err)

	assert.Nil(t, plan.Constructor)
	assert.Nil(t, plan.ConstructorArgs())
}

func TestBuildPlanFollowsInheritance(t *testing.T) {
	plan, err := NewPlanBuilder(newTestGenerator(9), log.Root()).Build(parseAST(t, vaultAST), "Vault")
	require.NoError(t, err)

	// onBatch belongs to an interface Vault does not inherit and is never planned
	assert.Equal(t, []string{"owner", "transferOwnership", "deposit"}, functionNames(plan.Functions))

	override := plan.Functions[1]
	assert.Equal(t, "payable", override.StateMutability)
	assert.Equal(t, []string{"address"}, override.Types())
	assert.Positive(t, override.Value.Sign())
}

func TestBuildPlanForBaseContract(t *testing.T) {
	plan, err := NewPlanBuilder(newTestGenerator(9), log.Root()).Build(parseAST(t, vaultAST), "Ownable")
	require.NoError(t, err)

	assert.Equal(t, []string{"owner", "transferOwnership"}, functionNames(plan.Functions))
	require.NotNil(t, plan.Constructor)
	assert.Len(t, plan.Constructor.Args, 1)
}

func TestBuildPlanUnknownContract(t *testing.T) {
	_, err := NewPlanBuilder(newTestGenerator(9), log.Root()).Build(parseAST(t, vaultAST), "Missing")
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeBuild))
}

func TestBuildPlanUnsupportedType(t *testing.T) {
	src := `{"nodeType": "SourceUnit", "nodes": [
	  {"nodeType": "ContractDefinition", "name": "A", "contractKind": "contract", "nodes": [
	    {"nodeType": "FunctionDefinition", "name": "ok", "kind": "function",
	     "stateMutability": "nonpayable", "visibility": "public", "parameters": {"parameters": []}},
	    {"nodeType": "FunctionDefinition", "name": "bad", "kind": "function",
	     "stateMutability": "nonpayable", "visibility": "public", "parameters": {"parameters": [
	       {"name": "xs", "typeDescriptions": {"typeString": "uint256[]"}}
	     ]}}
	  ]}
	]}`
	plan, err := NewPlanBuilder(newTestGenerator(10), log.Root()).Build(parseAST(t, src), "A")
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.True(t, errs.IsType(err, errs.ErrorTypeBuild))
	assert.True(t, errs.IsType(err, errs.ErrorTypeGeneration))
	assert.Equal(t, errs.SeverityRound, errs.SeverityOf(err))
}

func TestBuildPlanNilAST(t *testing.T) {
	_, err := NewPlanBuilder(newTestGenerator(11), log.Root()).Build(nil, "A")
	assert.Error(t, err)
}
