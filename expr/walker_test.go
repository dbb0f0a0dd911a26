package expr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/shibukawa/snapmongo"
)

type recordingVisitor struct {
	BaseVisitor
	events []string
	failOn string
}

func (r *recordingVisitor) record(event string) error {
	r.events = append(r.events, event)
	if event == r.failOn {
		return errors.New("stop at " + event)
	}

	return nil
}

func (r *recordingVisitor) BeginVisitAnd() error { return r.record("begin and") }
func (r *recordingVisitor) EndVisitAnd() error   { return r.record("end and") }
func (r *recordingVisitor) BeginVisitCompare(op CompareOp) error {
	return r.record("begin " + string(op))
}
func (r *recordingVisitor) EndVisitCompare(op CompareOp) error {
	return r.record("end " + string(op))
}
func (r *recordingVisitor) BeginVisitOperand(i int) error {
	return r.record(fmt.Sprintf("operand %d", i))
}
func (r *recordingVisitor) EndVisitConstant(value any, _ snapmongo.AttributeType) error {
	return r.record(fmt.Sprintf("const %v", value))
}
func (r *recordingVisitor) EndVisitStoreVariable(_, attribute string, _ snapmongo.AttributeType) error {
	return r.record("store " + attribute)
}
func (r *recordingVisitor) EndVisitStreamVariable(_, _, attribute string, _ snapmongo.AttributeType) error {
	return r.record("stream " + attribute)
}

func sampleTree() Node {
	return And{
		Left: Compare{
			Op:    GreaterThan,
			Left:  StoreVariable{StoreID: "table", Attribute: "price", Type: snapmongo.TypeDouble},
			Right: StreamVariable{ID: "limit", StreamID: "stream", Attribute: "limit", Type: snapmongo.TypeDouble},
		},
		Right: Compare{
			Op:    Equal,
			Left:  StoreVariable{StoreID: "table", Attribute: "symbol", Type: snapmongo.TypeString},
			Right: Constant{Value: "IBM", Type: snapmongo.TypeString},
		},
	}
}

func TestWalk_Order(t *testing.T) {
	v := &recordingVisitor{}

	err := Walk(sampleTree(), v)
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"begin and",
		"operand 0",
		"begin >",
		"operand 0",
		"store price",
		"operand 1",
		"stream limit",
		"end >",
		"operand 1",
		"begin ==",
		"operand 0",
		"store symbol",
		"operand 1",
		"const IBM",
		"end ==",
		"end and",
	}, v.events)
}

func TestWalk_StopsAtFirstError(t *testing.T) {
	v := &recordingVisitor{failOn: "stream limit"}

	err := Walk(sampleTree(), v)
	assert.EqualError(t, err, "stop at stream limit")
	assert.Equal(t, "stream limit", v.events[len(v.events)-1])
}

func TestWalk_RejectsNil(t *testing.T) {
	err := Walk(And{Left: nil, Right: Constant{Value: true}}, &recordingVisitor{})
	assert.IsError(t, err, snapmongo.ErrUnsupportedExpression)
}

func TestNodeString(t *testing.T) {
	assert.Equal(t, `((table.price > stream.limit) and (table.symbol == "IBM"))`, sampleTree().String())
	assert.Equal(t, "sum(table.volume)", AttributeFunction{
		Name: "sum",
		Args: []Node{StoreVariable{StoreID: "table", Attribute: "volume"}},
	}.String())
	assert.Equal(t, "not note is null", Not{Operand: IsNull{Operand: StoreVariable{Attribute: "note"}}}.String())
}

func TestIsAlwaysTrue(t *testing.T) {
	assert.True(t, IsAlwaysTrue(nil))
	assert.True(t, IsAlwaysTrue(Constant{Value: true, Type: snapmongo.TypeBool}))
	assert.False(t, IsAlwaysTrue(Constant{Value: false, Type: snapmongo.TypeBool}))
	assert.False(t, IsAlwaysTrue(sampleTree()))
}
