package compiler

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/expr"
)

func ptr[T any](v T) *T {
	return &v
}

func TestCompileSelection_Projection(t *testing.T) {
	sel, err := CompileSelection(SelectionRequest{
		Columns: []OutputColumn{
			{Name: "symbol", Expr: symbol},
			{Name: "total", Expr: expr.AttributeFunction{Name: "sum", Args: []expr.Node{volume}}},
			{Name: "source", Expr: expr.Constant{Value: "feed", Type: snapmongo.TypeString}},
			{Name: "threshold", Expr: limit},
		},
		Limit:  ptr(int64(10)),
		Offset: ptr(int64(5)),
	}, trades)
	assert.NoError(t, err)

	assert.Equal(t,
		`{"_id":0,"symbol":"$symbol","total":{"$sum":"$volume"},"source":{"$literal":"feed"},"threshold":{"$literal":<1>}}`,
		normalizeTokens(sel.Template(), sel.Placeholders()))
	assert.Equal(t, []string{"symbol", "total", "source", "threshold"}, sel.Outputs())
	assert.Equal(t, int64(10), *sel.Limit())
	assert.Equal(t, int64(5), *sel.Offset())
	assert.Zero(t, sel.Having())
	assert.False(t, sel.IncludeID())

	projection, err := ResolveProjection(sel, map[string]any{"limit": 2.5})
	assert.NoError(t, err)
	assert.Equal(t,
		`{"_id":0,"symbol":"$symbol","total":{"$sum":"$volume"},"source":{"$literal":"feed"},"threshold":{"$literal":2.5}}`,
		extJSON(t, projection))
}

func TestCompileSelection_SuppressesIdentityUnlessRequested(t *testing.T) {
	columns := []OutputColumn{{Name: "price", Expr: price}}

	hidden, err := CompileSelection(SelectionRequest{Columns: columns}, trades)
	assert.NoError(t, err)
	assert.Equal(t, `{"_id":0,"price":"$price"}`, hidden.Template())
	assert.Zero(t, hidden.Limit())
	assert.Zero(t, hidden.Offset())

	shown, err := CompileSelection(SelectionRequest{Columns: columns, IncludeID: true}, trades)
	assert.NoError(t, err)
	assert.Equal(t, `{"price":"$price"}`, shown.Template())
}

func TestCompileSelection_Shadows(t *testing.T) {
	sel, err := CompileSelection(SelectionRequest{
		Columns: []OutputColumn{
			{Name: "symbol", Expr: symbol},
			{Name: "price", Expr: volume},
		},
	}, trades)
	assert.NoError(t, err)

	assert.False(t, sel.Shadows("symbol"))
	assert.True(t, sel.Shadows("price"))
	assert.False(t, sel.Shadows("volume"))
}

func TestCompileSelection_HavingAndOrder(t *testing.T) {
	sel, err := CompileSelection(SelectionRequest{
		Columns: []OutputColumn{
			{Name: "symbol", Expr: symbol},
			{Name: "notional", Expr: expr.Math{Op: expr.Multiply, Left: price, Right: volume}},
		},
		Having:  expr.Compare{Op: expr.GreaterThan, Left: expr.StoreVariable{Attribute: "notional"}, Right: limit},
		OrderBy: []SortKey{{Column: "notional", Descending: true}, {Column: "symbol"}},
	}, trades)
	assert.NoError(t, err)

	having := sel.Having()
	assert.NotZero(t, having)
	assert.Equal(t, `{"$expr":{"$gt":["$notional",{"$literal":<1>}]}}`, normalizeTokens(having.Template(), having.Placeholders()))
	assert.Equal(t, []SortKey{{Column: "notional", Descending: true}, {Column: "symbol"}}, sel.Order())
}

func TestCompileSelection_Errors(t *testing.T) {
	tests := []struct {
		name     string
		req      SelectionRequest
		sentinel error
	}{
		{
			name:     "no columns",
			req:      SelectionRequest{},
			sentinel: snapmongo.ErrUnsupportedExpression,
		},
		{
			name:     "unsupported function",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "n", Expr: expr.AttributeFunction{Name: "count", Args: []expr.Node{price}}}}},
			sentinel: snapmongo.ErrUnsupportedFunction,
		},
		{
			name:     "unknown attribute",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "bid", Expr: expr.StoreVariable{Attribute: "bid"}}}},
			sentinel: snapmongo.ErrUnknownAttribute,
		},
		{
			name:     "duplicate column",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "p", Expr: price}, {Name: "p", Expr: volume}}},
			sentinel: snapmongo.ErrUnsupportedExpression,
		},
		{
			name:     "operator column name",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "$where", Expr: price}}},
			sentinel: snapmongo.ErrUnsupportedExpression,
		},
		{
			name:     "order by unknown column",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "p", Expr: price}}, OrderBy: []SortKey{{Column: "volume"}}},
			sentinel: snapmongo.ErrUnknownAttribute,
		},
		{
			name:     "negative limit",
			req:      SelectionRequest{Columns: []OutputColumn{{Name: "p", Expr: price}}, Limit: ptr(int64(-1))},
			sentinel: snapmongo.ErrUnsupportedExpression,
		},
		{
			name: "having on unknown column",
			req: SelectionRequest{
				Columns: []OutputColumn{{Name: "p", Expr: price}},
				Having:  expr.Compare{Op: expr.Equal, Left: expr.StoreVariable{Attribute: "q"}, Right: limit},
			},
			sentinel: snapmongo.ErrUnknownAttribute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSelection(tt.req, trades)
			assert.IsError(t, err, tt.sentinel)
		})
	}
}

func TestCompileUpdateSet_RoundTripFieldSet(t *testing.T) {
	assignments, err := AssignStreamAttributes(trades, "price", "volume")
	assert.NoError(t, err)

	assignments = append(assignments, SetAssignment{
		Column: "symbol",
		Expr:   expr.Constant{Value: "IBM", Type: snapmongo.TypeString},
	})

	update, err := CompileUpdateSet(assignments, trades)
	assert.NoError(t, err)
	assert.Equal(t, []string{"price", "volume", "symbol"}, update.Columns())

	doc, err := ResolveSet(update, map[string]any{"price": 12.0, "volume": 300})
	assert.NoError(t, err)

	fields := make([]string, len(doc))
	for i, elem := range doc {
		fields[i] = elem.Key
	}

	assert.Equal(t, update.Columns(), fields)
	assert.Equal(t, `{"price":{"$literal":12.0},"volume":{"$literal":300},"symbol":{"$literal":"IBM"}}`, extJSON(t, doc))
}

func TestCompileUpdateSet_Errors(t *testing.T) {
	_, err := CompileUpdateSet(nil, trades)
	assert.IsError(t, err, snapmongo.ErrUnsupportedExpression)

	_, err = CompileUpdateSet([]SetAssignment{{Column: "bid", Expr: limit}}, trades)
	assert.IsError(t, err, snapmongo.ErrUnknownAttribute)

	_, err = CompileUpdateSet([]SetAssignment{{Column: "price", Expr: limit}, {Column: "price", Expr: limit}}, trades)
	assert.IsError(t, err, snapmongo.ErrUnsupportedExpression)

	_, err = AssignStreamAttributes(trades, "bid")
	assert.IsError(t, err, snapmongo.ErrUnknownAttribute)
}
