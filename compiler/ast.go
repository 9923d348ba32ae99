package compiler

import (
	"encoding/json"
)

// ContractKind represents the kind of contract definition represented by an AST node
type ContractKind string

const (
	ContractKindContract  ContractKind = "contract"
	ContractKindLibrary   ContractKind = "library"
	ContractKindInterface ContractKind = "interface"
)

// FunctionKind distinguishes ordinary functions from the special functions
type FunctionKind string

const (
	FunctionKindFunction    FunctionKind = "function"
	FunctionKindConstructor FunctionKind = "constructor"
	FunctionKindFallback    FunctionKind = "fallback"
	FunctionKindReceive     FunctionKind = "receive"
)

// Node interface represents a generic AST node
type Node interface {
	GetNodeType() string
}

// TypeDescriptions carries the solc type of a declaration
type TypeDescriptions struct {
	TypeIdentifier string `json:"typeIdentifier"`
	TypeString     string `json:"typeString"`
}

// VariableDeclaration is a function parameter
type VariableDeclaration struct {
	Name             string           `json:"name"`
	TypeDescriptions TypeDescriptions `json:"typeDescriptions"`
}

type ParameterList struct {
	Parameters []VariableDeclaration `json:"parameters"`
}

// FunctionDefinition is the function definition node
type FunctionDefinition struct {
	NodeType        string        `json:"nodeType"`
	Src             string        `json:"src"`
	Name            string        `json:"name"`
	Kind            FunctionKind  `json:"kind"`
	IsConstructor   bool          `json:"isConstructor"`
	StateMutability string        `json:"stateMutability"`
	Visibility      string        `json:"visibility"`
	Parameters      ParameterList `json:"parameters"`
}

func (f FunctionDefinition) GetNodeType() string {
	return f.NodeType
}

// FunctionKind returns the kind of the function. Pre-0.5 compilers only set
// isConstructor.
func (f FunctionDefinition) FunctionKind() FunctionKind {
	if f.Kind != "" {
		return f.Kind
	}
	if f.IsConstructor {
		return FunctionKindConstructor
	}
	return FunctionKindFunction
}

// Payable reports whether the function accepts ether
func (f FunctionDefinition) Payable() bool {
	return f.StateMutability == "payable"
}

// ContractDefinition is the contract definition node
type ContractDefinition struct {
	NodeType string       `json:"nodeType"`
	Src      string       `json:"src"`
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Kind     ContractKind `json:"contractKind"`
	Abstract bool         `json:"abstract"`
	Nodes    []Node       `json:"nodes"`

	// LinearizedBaseContracts holds node ids, the contract itself first
	LinearizedBaseContracts []int `json:"linearizedBaseContracts"`
}

func (c ContractDefinition) GetNodeType() string {
	return c.NodeType
}

// Functions returns the function definitions declared in the contract
func (c ContractDefinition) Functions() []FunctionDefinition {
	var functions []FunctionDefinition
	for _, node := range c.Nodes {
		if fn, ok := node.(FunctionDefinition); ok {
			functions = append(functions, fn)
		}
	}
	return functions
}

func (c *ContractDefinition) UnmarshalJSON(data []byte) error {
	type Alias ContractDefinition
	aux := &struct {
		Nodes []json.RawMessage `json:"nodes"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Nodes = nil
	for _, nodeData := range aux.Nodes {
		nodeType, err := peekNodeType(nodeData)
		if err != nil {
			return err
		}
		if nodeType != "FunctionDefinition" {
			continue
		}
		var functionDefinition FunctionDefinition
		if err := json.Unmarshal(nodeData, &functionDefinition); err != nil {
			return err
		}
		c.Nodes = append(c.Nodes, functionDefinition)
	}
	return nil
}

// SourceUnit is the root of the solc compact AST
type SourceUnit struct {
	NodeType string `json:"nodeType"`
	Src      string `json:"src"`
	Nodes    []Node `json:"nodes"`
}

// Contracts returns the top-level contract definitions in source order
func (s *SourceUnit) Contracts() []ContractDefinition {
	var contracts []ContractDefinition
	for _, node := range s.Nodes {
		if contract, ok := node.(ContractDefinition); ok {
			contracts = append(contracts, contract)
		}
	}
	return contracts
}

// Contract returns the top-level contract definition called name
func (s *SourceUnit) Contract(name string) (ContractDefinition, bool) {
	for _, contract := range s.Contracts() {
		if contract.Name == name {
			return contract, true
		}
	}
	return ContractDefinition{}, false
}

// Lineage returns the contract followed by its bases in C3 linearization
// order, most derived first. Bases declared outside this source unit are
// not included.
func (s *SourceUnit) Lineage(contract ContractDefinition) []ContractDefinition {
	byID := make(map[int]ContractDefinition)
	for _, c := range s.Contracts() {
		byID[c.ID] = c
	}

	lineage := []ContractDefinition{contract}
	for _, id := range contract.LinearizedBaseContracts {
		if id == contract.ID {
			continue
		}
		if base, ok := byID[id]; ok {
			lineage = append(lineage, base)
		}
	}
	return lineage
}

func (s *SourceUnit) UnmarshalJSON(data []byte) error {
	type Alias SourceUnit
	aux := &struct {
		Nodes []json.RawMessage `json:"nodes"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	s.Nodes = nil
	for _, nodeData := range aux.Nodes {
		nodeType, err := peekNodeType(nodeData)
		if err != nil {
			return err
		}
		switch nodeType {
		case "ContractDefinition":
			var contractDefinition ContractDefinition
			if err := json.Unmarshal(nodeData, &contractDefinition); err != nil {
				return err
			}
			s.Nodes = append(s.Nodes, contractDefinition)
		case "FunctionDefinition":
			var functionDefinition FunctionDefinition
			if err := json.Unmarshal(nodeData, &functionDefinition); err != nil {
				return err
			}
			s.Nodes = append(s.Nodes, functionDefinition)
		}
	}
	return nil
}

func peekNodeType(data []byte) (string, error) {
	var node struct {
		NodeType string `json:"nodeType"`
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return "", err
	}
	return node.NodeType, nil
}
