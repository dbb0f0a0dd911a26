package compiler

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shibukawa/snapmongo"
)

// renderValue renders v as Extended JSON text for the given semantic type.
// String-like values are quoted, numbers and booleans are bare, longs keep
// their width through $numberLong and objects are encoded as documents.
func renderValue(v any, typ snapmongo.AttributeType) (string, error) {
	if v == nil {
		return "null", nil
	}

	switch typ {
	case snapmongo.TypeString:
		if s, ok := v.(string); ok {
			return quote(s)
		}

		return quote(fmt.Sprint(v))

	case snapmongo.TypeInt, snapmongo.TypeLong:
		d, err := toDecimal(v)
		if err != nil {
			return "", err
		}

		if !d.IsInteger() {
			return "", fmt.Errorf("%w: %v is not an integer", snapmongo.ErrInvalidParameter, v)
		}

		if typ == snapmongo.TypeLong {
			return `{"$numberLong":"` + d.String() + `"}`, nil
		}

		return d.String(), nil

	case snapmongo.TypeFloat, snapmongo.TypeDouble:
		if f, ok := asFloat(v); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return renderSpecialFloat(f), nil
		}

		d, err := toDecimal(v)
		if err != nil {
			return "", err
		}

		s := d.String()
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}

		return s, nil

	case snapmongo.TypeBool:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return "", fmt.Errorf("%w: %q is not a boolean", snapmongo.ErrInvalidParameter, b)
			}

			return strconv.FormatBool(parsed), nil
		default:
			return "", fmt.Errorf("%w: %T is not a boolean", snapmongo.ErrInvalidParameter, v)
		}

	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: cannot encode %T: %w", snapmongo.ErrInvalidParameter, v, err)
		}

		return string(data), nil
	}
}

func quote(s string) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func renderSpecialFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return `{"$numberDouble":"NaN"}`
	case math.IsInf(f, 1):
		return `{"$numberDouble":"Infinity"}`
	default:
		return `{"$numberDouble":"-Infinity"}`
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int8:
		return decimal.NewFromInt(int64(n)), nil
	case int16:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case uint:
		return decimal.NewFromUint64(uint64(n)), nil
	case uint8:
		return decimal.NewFromUint64(uint64(n)), nil
	case uint16:
		return decimal.NewFromUint64(uint64(n)), nil
	case uint32:
		return decimal.NewFromUint64(uint64(n)), nil
	case uint64:
		return decimal.NewFromUint64(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q is not a number", snapmongo.ErrInvalidParameter, n)
		}

		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %T is not a number", snapmongo.ErrInvalidParameter, v)
	}
}
