package fuzzer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/minifuzz/common/errs"
	"github.com/DQYXACML/minifuzz/compiler"
)

// FunctionPlan is one planned call with generated arguments
type FunctionPlan struct {
	Name            string
	Params          []ParameterSpec
	Args            []any
	Value           *big.Int
	Visibility      string
	StateMutability string
}

// Types returns the ABI types of the parameters in order
func (p FunctionPlan) Types() []string {
	types := make([]string, len(p.Params))
	for i, param := range p.Params {
		types[i] = CanonicalType(param.Type)
	}
	return types
}

type ConstructorPlan struct {
	Params []ParameterSpec
	Args   []any
}

// TestPlan is everything one round deploys and calls
type TestPlan struct {
	Functions   []FunctionPlan
	Constructor *ConstructorPlan
}

// ConstructorArgs returns the constructor arguments, nil without a constructor
func (p *TestPlan) ConstructorArgs() []any {
	if p.Constructor == nil {
		return nil
	}
	return p.Constructor.Args
}

type BuilderOption func(*PlanBuilder)

// WithVisibilityFilter skips internal and private functions, which cannot
// be called by a transaction.
func WithVisibilityFilter() BuilderOption {
	return func(b *PlanBuilder) {
		b.externalOnly = true
	}
}

type PlanBuilder struct {
	gen          *InputGenerator
	log          log.Logger
	externalOnly bool
}

func NewPlanBuilder(gen *InputGenerator, logger log.Logger, opts ...BuilderOption) *PlanBuilder {
	b := &PlanBuilder{gen: gen, log: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build plans the calls of the named contract. Functions come from the
// contract and its non-interface bases, base declarations first, with an
// override replacing the declaration it overrides. Only the contract's own
// constructor becomes the ConstructorPlan.
func (b *PlanBuilder) Build(ast *compiler.SourceUnit, contractName string) (*TestPlan, error) {
	if ast == nil {
		return nil, errs.NewError(errs.ErrorTypeBuild, "no syntax tree")
	}
	target, ok := ast.Contract(contractName)
	if !ok {
		return nil, errs.NewError(errs.ErrorTypeBuild, fmt.Sprintf("contract %s not found in syntax tree", contractName))
	}

	plan := &TestPlan{}
	for _, fn := range callableFunctions(ast.Lineage(target)) {
		if b.externalOnly && fn.Visibility != "public" && fn.Visibility != "external" {
			b.log.Debug("skipping non-callable function", "contract", target.Name, "function", fn.Name, "visibility", fn.Visibility)
			continue
		}
		fp, err := b.buildFunction(fn)
		if err != nil {
			return nil, errs.WrapError(errs.ErrorTypeBuild,
				fmt.Sprintf("plan %s.%s", target.Name, fn.Name), err)
		}
		plan.Functions = append(plan.Functions, fp)
	}

	for _, fn := range target.Functions() {
		if fn.FunctionKind() != compiler.FunctionKindConstructor {
			continue
		}
		params := parameterSpecs(fn)
		args, err := b.gen.Generate(params)
		if err != nil {
			return nil, errs.WrapError(errs.ErrorTypeBuild,
				fmt.Sprintf("plan %s constructor", target.Name), err)
		}
		plan.Constructor = &ConstructorPlan{Params: params, Args: args}
	}

	b.log.Debug("test plan built", "contract", target.Name, "functions", len(plan.Functions), "constructor", plan.Constructor != nil)
	return plan, nil
}

// callableFunctions flattens the ordinary functions of a lineage, most
// derived contract first, into declaration order.
func callableFunctions(lineage []compiler.ContractDefinition) []compiler.FunctionDefinition {
	var functions []compiler.FunctionDefinition
	index := make(map[string]int)
	for i := len(lineage) - 1; i >= 0; i-- {
		contract := lineage[i]
		if contract.Kind == compiler.ContractKindInterface || contract.Kind == compiler.ContractKindLibrary {
			continue
		}
		for _, fn := range contract.Functions() {
			if fn.FunctionKind() != compiler.FunctionKindFunction {
				continue
			}
			sig := signature(fn)
			if at, ok := index[sig]; ok {
				functions[at] = fn
				continue
			}
			index[sig] = len(functions)
			functions = append(functions, fn)
		}
	}
	return functions
}

func signature(fn compiler.FunctionDefinition) string {
	types := make([]string, len(fn.Parameters.Parameters))
	for i, p := range fn.Parameters.Parameters {
		types[i] = CanonicalType(p.TypeDescriptions.TypeString)
	}
	return fn.Name + "(" + strings.Join(types, ",") + ")"
}

func (b *PlanBuilder) buildFunction(fn compiler.FunctionDefinition) (FunctionPlan, error) {
	params := parameterSpecs(fn)
	args, err := b.gen.Generate(params)
	if err != nil {
		return FunctionPlan{}, err
	}
	value := new(big.Int)
	if fn.Payable() {
		value = b.gen.PayableValue()
	}
	return FunctionPlan{
		Name:            fn.Name,
		Params:          params,
		Args:            args,
		Value:           value,
		Visibility:      fn.Visibility,
		StateMutability: fn.StateMutability,
	}, nil
}

func parameterSpecs(fn compiler.FunctionDefinition) []ParameterSpec {
	specs := make([]ParameterSpec, 0, len(fn.Parameters.Parameters))
	for _, p := range fn.Parameters.Parameters {
		specs = append(specs, ParameterSpec{Name: p.Name, Type: p.TypeDescriptions.TypeString})
	}
	return specs
}
