package compiler

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/expr"
)

func TestResolve_ConstantsOnlyIsPassThrough(t *testing.T) {
	node := expr.Compare{Op: expr.Equal, Left: symbol, Right: expr.Constant{Value: "IBM", Type: snapmongo.TypeString}}

	compiled, err := CompileCondition(node, trades)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(compiled.Placeholders()))

	var direct bson.D
	assert.NoError(t, bson.UnmarshalExtJSON([]byte(compiled.Template()), false, &direct))

	resolved, err := Resolve(compiled, map[string]any{"unused": 1})
	assert.NoError(t, err)
	assert.Equal(t, extJSON(t, direct), extJSON(t, resolved))
}

func TestResolve_MatchAllIgnoresParameters(t *testing.T) {
	compiled, err := CompileCondition(nil, trades)
	assert.NoError(t, err)

	for _, params := range []map[string]any{nil, {}, {"limit": 3}} {
		resolved, err := Resolve(compiled, params)
		assert.NoError(t, err)
		assert.Equal(t, 0, len(resolved))
	}
}

func TestResolve_OnlyPlaceholderPositionsDiffer(t *testing.T) {
	node := expr.And{
		Left:  expr.Compare{Op: expr.GreaterThan, Left: price, Right: limit},
		Right: expr.Compare{Op: expr.Equal, Left: symbol, Right: who},
	}

	compiled, err := CompileCondition(node, trades)
	assert.NoError(t, err)

	first, err := Resolve(compiled, map[string]any{"limit": 10.5, "symbol": "IBM"})
	assert.NoError(t, err)
	second, err := Resolve(compiled, map[string]any{"limit": 99.0, "symbol": "WSO2"})
	assert.NoError(t, err)

	assert.Equal(t, `{"$expr":{"$and":[{"$gt":["$price",{"$literal":10.5}]},{"$eq":["$symbol",{"$literal":"IBM"}]}]}}`, extJSON(t, first))
	assert.Equal(t, `{"$expr":{"$and":[{"$gt":["$price",{"$literal":99.0}]},{"$eq":["$symbol",{"$literal":"WSO2"}]}]}}`, extJSON(t, second))
}

func TestResolve_Deterministic(t *testing.T) {
	node := expr.Compare{Op: expr.LessThan, Left: volume, Right: expr.StreamVariable{Attribute: "volume", Type: snapmongo.TypeLong}}

	compiled, err := CompileCondition(node, trades)
	assert.NoError(t, err)

	params := map[string]any{"volume": int64(1) << 40}

	expected, err := Resolve(compiled, params)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 16)

	for i := range results {
		wg.Add(1)

		go func() {
			defer wg.Done()

			doc, err := Resolve(compiled, params)
			if err == nil {
				data, _ := bson.MarshalExtJSON(doc, true, false)
				results[i] = string(data)
			}
		}()
	}

	wg.Wait()

	canonical, err := bson.MarshalExtJSON(expected, true, false)
	assert.NoError(t, err)

	for _, result := range results {
		assert.Equal(t, string(canonical), result)
	}

	assert.Contains(t, string(canonical), `{"$numberLong":"1099511627776"}`)
}

func TestResolve_MissingParameter(t *testing.T) {
	compiled, err := CompileCondition(expr.Compare{Op: expr.GreaterThan, Left: price, Right: limit}, trades)
	assert.NoError(t, err)

	_, err = Resolve(compiled, map[string]any{"price": 1.0})
	assert.IsError(t, err, snapmongo.ErrMissingParameter)
	assert.Contains(t, err.Error(), "'limit'")
}

func TestResolve_UnresolvedPlaceholder(t *testing.T) {
	compiled := &CompiledCondition{
		template:     `{"$expr":{"$eq":["$price",{"$literal":<ph:stale:1>}]}}`,
		placeholders: PlaceholderMap{},
	}

	_, err := Resolve(compiled, map[string]any{"limit": 1})
	assert.IsError(t, err, snapmongo.ErrUnresolvedPlaceholder)
	assert.Contains(t, err.Error(), "<ph:stale:1>")
}

func TestResolve_ValueCannotForgeToken(t *testing.T) {
	node := expr.And{
		Left:  expr.Compare{Op: expr.Equal, Left: symbol, Right: who},
		Right: expr.Compare{Op: expr.GreaterThan, Left: price, Right: limit},
	}

	compiled, err := CompileCondition(node, trades)
	assert.NoError(t, err)

	// A value spelling out another placeholder token must stay an inert string
	var limitToken string
	for token, p := range compiled.Placeholders() {
		if p.Attribute == "limit" {
			limitToken = token
		}
	}

	resolved, err := Resolve(compiled, map[string]any{"symbol": limitToken, "limit": 5.0})
	assert.NoError(t, err)

	data, err := bson.MarshalExtJSON(resolved, false, false)
	assert.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "5.0"))
}

func TestRenderValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typ      snapmongo.AttributeType
		expected string
	}{
		{"string", "IBM", snapmongo.TypeString, `"IBM"`},
		{"string escapes markup", "<b>&", snapmongo.TypeString, `"\u003cb\u003e\u0026"`},
		{"string from number", 42, snapmongo.TypeString, `"42"`},
		{"int", 42, snapmongo.TypeInt, `42`},
		{"int from string", " 17 ", snapmongo.TypeInt, `17`},
		{"long", int64(9007199254740993), snapmongo.TypeLong, `{"$numberLong":"9007199254740993"}`},
		{"double", 75.25, snapmongo.TypeDouble, `75.25`},
		{"double integral", 75.0, snapmongo.TypeDouble, `75.0`},
		{"float32", float32(0.5), snapmongo.TypeFloat, `0.5`},
		{"double from decimal", decimal.RequireFromString("1.10"), snapmongo.TypeDouble, `1.1`},
		{"double nan", math.NaN(), snapmongo.TypeDouble, `{"$numberDouble":"NaN"}`},
		{"double -inf", math.Inf(-1), snapmongo.TypeDouble, `{"$numberDouble":"-Infinity"}`},
		{"bool", true, snapmongo.TypeBool, `true`},
		{"bool from string", "false", snapmongo.TypeBool, `false`},
		{"nil", nil, snapmongo.TypeString, `null`},
		{"object", map[string]any{"a": 1}, snapmongo.TypeObject, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, err := renderValue(tt.value, tt.typ)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, rendered)
		})
	}
}

func TestRenderValue_Errors(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   snapmongo.AttributeType
	}{
		{"fractional int", 1.5, snapmongo.TypeInt},
		{"text as long", "many", snapmongo.TypeLong},
		{"text as bool", "yes please", snapmongo.TypeBool},
		{"struct as double", struct{}{}, snapmongo.TypeDouble},
		{"channel as object", make(chan int), snapmongo.TypeObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := renderValue(tt.value, tt.typ)
			assert.IsError(t, err, snapmongo.ErrInvalidParameter)
		})
	}
}
