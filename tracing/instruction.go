package tracing

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/DQYXACML/minifuzz/node"
)

// Instruction is one executed opcode of a transaction trace. The set of
// implementations is closed: SLoad, SStore, Call, Origin and Other.
type Instruction interface {
	PC() uint64
	Op() vm.OpCode
	isInstruction()
}

type position struct {
	pc uint64
}

func (p position) PC() uint64 { return p.pc }

func (position) isInstruction() {}

// SLoad reads Slot
type SLoad struct {
	position
	Slot common.Hash
}

func (SLoad) Op() vm.OpCode { return vm.SLOAD }

// SStore writes Slot
type SStore struct {
	position
	Slot common.Hash
}

func (SStore) Op() vm.OpCode { return vm.SSTORE }

// Call is a CALL carrying its gas and value operands
type Call struct {
	position
	Gas   *uint256.Int
	Value *uint256.Int
}

func (Call) Op() vm.OpCode { return vm.CALL }

// Origin reads tx.origin
type Origin struct {
	position
}

func (Origin) Op() vm.OpCode { return vm.ORIGIN }

// Other is any opcode the detector does not inspect, including inspected
// opcodes whose operands could not be decoded.
type Other struct {
	position
	Mnemonic string
}

func (o Other) Op() vm.OpCode { return vm.StringToOp(o.Mnemonic) }

// NewInstruction converts a struct logger entry. The stack is ordered with
// the top of the stack last.
func NewInstruction(entry node.StructLog) Instruction {
	pos := position{pc: entry.Pc}
	fallback := Other{position: pos, Mnemonic: entry.Op}

	switch vm.StringToOp(entry.Op) {
	case vm.SLOAD:
		slot, ok := peek(entry.Stack, 0)
		if !ok {
			return fallback
		}
		return SLoad{position: pos, Slot: slot.Bytes32()}
	case vm.SSTORE:
		slot, ok := peek(entry.Stack, 0)
		if !ok {
			return fallback
		}
		return SStore{position: pos, Slot: slot.Bytes32()}
	case vm.CALL:
		// gas, addr, value, argsOffset, argsLength, retOffset, retLength
		if len(entry.Stack) < 7 {
			return fallback
		}
		gas, ok := peek(entry.Stack, 0)
		if !ok {
			return fallback
		}
		value, ok := peek(entry.Stack, 2)
		if !ok {
			return fallback
		}
		return Call{position: pos, Gas: gas, Value: value}
	case vm.ORIGIN:
		return Origin{position: pos}
	default:
		return fallback
	}
}

// Decode converts a whole struct log in execution order
func Decode(logs []node.StructLog) []Instruction {
	instructions := make([]Instruction, 0, len(logs))
	for _, entry := range logs {
		instructions = append(instructions, NewInstruction(entry))
	}
	return instructions
}

// peek returns the n-th word below the top of the stack
func peek(stack []string, n int) (*uint256.Int, bool) {
	idx := len(stack) - 1 - n
	if idx < 0 {
		return nil, false
	}
	return parseStackWord(stack[idx])
}

// parseStackWord accepts both 0x-prefixed quantities and the unprefixed
// 64 digit words of older nodes.
func parseStackWord(word string) (*uint256.Int, bool) {
	digits := strings.TrimPrefix(strings.TrimPrefix(word, "0x"), "0X")
	if digits == "" {
		return nil, false
	}
	b, ok := new(big.Int).SetString(digits, 16)
	if !ok || b.Sign() < 0 {
		return nil, false
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, false
	}
	return v, true
}
