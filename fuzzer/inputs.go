package fuzzer

import (
	"math/big"
	"math/rand"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/DQYXACML/minifuzz/common/errs"
)

// TypeKind is the family of a fuzzable parameter type
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindUint256
	KindAddress
	KindString
	KindBool
	KindFixedBytes
	KindBytes
)

const (
	minStringLength = 5
	maxStringLength = 15
	maxBytesLength  = 32
	letters         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	maxUint256Excl = new(big.Int).Lsh(big.NewInt(1), 256)

	// ether attached to payable calls, in wei: [10^15, 5*10^18]
	minPayableValue = big.NewInt(1_000_000_000_000_000)
	maxPayableValue = big.NewInt(5_000_000_000_000_000_000)
)

// TypeTag is a parsed solidity type. Size is set for fixed bytes only.
type TypeTag struct {
	Kind TypeKind
	Size int
}

// CanonicalType reduces a solc typeString to its ABI type name. Data
// locations are dropped and `address payable` becomes `address`.
func CanonicalType(typeString string) string {
	t := strings.TrimSpace(typeString)
	for _, location := range []string{" pointer", " ref", " calldata", " memory", " storage"} {
		t = strings.TrimSuffix(t, location)
	}
	switch t {
	case "address payable":
		return "address"
	case "uint":
		return "uint256"
	}
	return t
}

// ParseType maps a solc typeString to a TypeTag
func ParseType(typeString string) TypeTag {
	typeString = CanonicalType(typeString)
	switch typeString {
	case "uint256":
		return TypeTag{Kind: KindUint256}
	case "address":
		return TypeTag{Kind: KindAddress}
	case "string":
		return TypeTag{Kind: KindString}
	case "bool":
		return TypeTag{Kind: KindBool}
	case "bytes":
		return TypeTag{Kind: KindBytes}
	}
	if digits, ok := strings.CutPrefix(typeString, "bytes"); ok {
		n, err := strconv.Atoi(digits)
		if err == nil && n >= 1 && n <= 32 && strconv.Itoa(n) == digits {
			return TypeTag{Kind: KindFixedBytes, Size: n}
		}
	}
	return TypeTag{Kind: KindUnknown}
}

// ParameterSpec is a declared function parameter
type ParameterSpec struct {
	Name string
	Type string
}

func (p ParameterSpec) Tag() TypeTag {
	return ParseType(p.Type)
}

// InputGenerator samples random argument values. It is not safe for
// concurrent use because the random source is not.
type InputGenerator struct {
	rng *rand.Rand
}

func NewInputGenerator(rng *rand.Rand) *InputGenerator {
	return &InputGenerator{rng: rng}
}

// Generate returns one value per parameter, or an error and no values if
// any parameter type is unsupported.
func (g *InputGenerator) Generate(specs []ParameterSpec) ([]any, error) {
	tags := make([]TypeTag, len(specs))
	for i, spec := range specs {
		tags[i] = spec.Tag()
		if tags[i].Kind == KindUnknown {
			return nil, errs.NewGenerationError(spec.Name, spec.Type)
		}
	}

	values := make([]any, len(specs))
	for i, tag := range tags {
		values[i] = g.sample(tag)
	}
	return values, nil
}

func (g *InputGenerator) sample(tag TypeTag) any {
	switch tag.Kind {
	case KindUint256:
		return g.Uint256()
	case KindAddress:
		return g.Address()
	case KindString:
		return g.Letters()
	case KindBool:
		return g.rng.Intn(2) == 1
	case KindFixedBytes:
		return g.Bytes(tag.Size)
	case KindBytes:
		return g.Bytes(1 + g.rng.Intn(maxBytesLength))
	default:
		return nil
	}
}

// Uint256 is uniform in [0, 2^256-1]
func (g *InputGenerator) Uint256() *big.Int {
	return new(big.Int).Rand(g.rng, maxUint256Excl)
}

// Address is a random EIP-55 checksummed address
func (g *InputGenerator) Address() string {
	var raw [common.AddressLength]byte
	g.rng.Read(raw[:])
	return common.BytesToAddress(raw[:]).Hex()
}

// Letters is 5 to 15 random ASCII letters
func (g *InputGenerator) Letters() string {
	n := minStringLength + g.rng.Intn(maxStringLength-minStringLength+1)
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(letters[g.rng.Intn(len(letters))])
	}
	return sb.String()
}

// Bytes returns n random bytes as 0x-prefixed hex
func (g *InputGenerator) Bytes(n int) string {
	raw := make([]byte, n)
	g.rng.Read(raw)
	return hexutil.Encode(raw)
}

// PayableValue is uniform in [10^15, 5*10^18] wei
func (g *InputGenerator) PayableValue() *big.Int {
	span := new(big.Int).Sub(maxPayableValue, minPayableValue)
	span.Add(span, big.NewInt(1))
	v := new(big.Int).Rand(g.rng, span)
	return v.Add(v, minPayableValue)
}
