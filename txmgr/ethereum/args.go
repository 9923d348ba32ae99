package ethereum

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LookupMethod finds the method declared as name in the source. Overloads
// are told apart by argument count and, when given, the declared types.
func LookupMethod(contractABI *abi.ABI, name string, types []string, nargs int) (abi.Method, error) {
	var candidates []string
	for key, method := range contractABI.Methods {
		if method.RawName != name || len(method.Inputs) != nargs {
			continue
		}
		if types != nil && !inputsMatch(method.Inputs, types) {
			continue
		}
		candidates = append(candidates, key)
	}
	if len(candidates) == 0 {
		return abi.Method{}, fmt.Errorf("method %s with %d arguments not found in ABI", name, nargs)
	}
	sort.Strings(candidates)
	return contractABI.Methods[candidates[0]], nil
}

func inputsMatch(inputs abi.Arguments, types []string) bool {
	if len(inputs) != len(types) {
		return false
	}
	for i, input := range inputs {
		declared := types[i]
		if declared == "uint" {
			declared = "uint256"
		}
		if input.Type.String() != declared {
			return false
		}
	}
	return true
}

// ConvertArgs turns generated values into the Go types the ABI packer
// expects. Addresses and byte values may be given as 0x-hex strings.
func ConvertArgs(inputs abi.Arguments, values []any) ([]any, error) {
	if len(inputs) != len(values) {
		return nil, fmt.Errorf("argument count mismatch: have %d, want %d", len(values), len(inputs))
	}
	converted := make([]any, len(values))
	for i, input := range inputs {
		v, err := convertArg(input.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s %s): %w", i, input.Type.String(), input.Name, err)
		}
		converted[i] = v
	}
	return converted, nil
}

func convertArg(typ abi.Type, value any) (any, error) {
	switch typ.T {
	case abi.AddressTy:
		switch v := value.(type) {
		case common.Address:
			return v, nil
		case string:
			if !common.IsHexAddress(v) {
				return nil, fmt.Errorf("invalid address %q", v)
			}
			return common.HexToAddress(v), nil
		}
	case abi.UintTy, abi.IntTy:
		n, ok := value.(*big.Int)
		if !ok {
			break
		}
		if typ.Size > 64 {
			return n, nil
		}
		out := reflect.New(typ.GetType()).Elem()
		if typ.T == abi.UintTy {
			if !n.IsUint64() {
				return nil, fmt.Errorf("%s does not fit %s", n, typ.String())
			}
			out.SetUint(n.Uint64())
		} else {
			if !n.IsInt64() {
				return nil, fmt.Errorf("%s does not fit %s", n, typ.String())
			}
			out.SetInt(n.Int64())
		}
		return out.Interface(), nil
	case abi.BoolTy:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case abi.StringTy:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case abi.BytesTy:
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return hexutil.Decode(v)
		}
	case abi.FixedBytesTy:
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			decoded, err := hexutil.Decode(v)
			if err != nil {
				return nil, err
			}
			raw = decoded
		default:
			return value, nil
		}
		if len(raw) != typ.Size {
			return nil, fmt.Errorf("got %d bytes for %s", len(raw), typ.String())
		}
		out := reflect.New(typ.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(raw))
		return out.Interface(), nil
	}
	return value, nil
}
