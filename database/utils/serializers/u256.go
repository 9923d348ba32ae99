package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

var (
	bigIntType = reflect.TypeOf((*big.Int)(nil))
	maxU256    = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// U256Serializer stores *big.Int wei amounts in NUMERIC(78, 0) columns
type U256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	}
	if field.FieldType != bigIntType {
		return fmt.Errorf("can only deserialize into a *big.Int: %s", field.FieldType)
	}

	n, err := parseNumeric(dbValue)
	if err != nil {
		return err
	}
	if !inU256Range(n) {
		return fmt.Errorf("deserialized number out of u256 range: %s", n)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(n))
	return nil
}

func (U256Serializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if field.FieldType != bigIntType {
		return nil, fmt.Errorf("can only serialize a *big.Int: %s", field.FieldType)
	}
	n, _ := fieldValue.(*big.Int)
	if n == nil {
		return nil, nil
	}
	if !inU256Range(n) {
		return nil, fmt.Errorf("cannot serialize %s as u256", n)
	}
	return n.String(), nil
}

// parseNumeric accepts the decimal text returned for NUMERIC columns and
// falls back to pgtype for anything else the driver hands over.
func parseNumeric(dbValue interface{}) (*big.Int, error) {
	var text string
	switch v := dbValue.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		var numeric pgtype.Numeric
		if err := numeric.Scan(dbValue); err != nil {
			return nil, fmt.Errorf("failed to scan value as numeric: %w", err)
		}
		if numeric.Exp < 0 {
			return nil, fmt.Errorf("numeric value has a fractional part")
		}
		n := new(big.Int).Set(numeric.Int)
		if numeric.Exp > 0 {
			n.Mul(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(numeric.Exp)), nil))
		}
		return n, nil
	}

	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse %q as an integer", text)
	}
	return n, nil
}

func inU256Range(n *big.Int) bool {
	return n.Sign() >= 0 && n.Cmp(maxU256) <= 0
}
