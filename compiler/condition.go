// Package compiler turns expression trees into parameterized MongoDB
// aggregation-expression templates and binds runtime values into them.
package compiler

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/expr"
)

// allowedFunctions is the set of functions with a single-field aggregation operator.
var allowedFunctions = map[string]string{
	"sum": "$sum",
	"avg": "$avg",
	"min": "$min",
	"max": "$max",
}

var compareOperators = map[expr.CompareOp]string{
	expr.Equal:              "$eq",
	expr.NotEqual:           "$ne",
	expr.GreaterThan:        "$gt",
	expr.GreaterThanOrEqual: "$gte",
	expr.LessThan:           "$lt",
	expr.LessThanOrEqual:    "$lte",
}

var mathOperators = map[expr.MathOp]string{
	expr.Add:      "$add",
	expr.Subtract: "$subtract",
	expr.Multiply: "$multiply",
	expr.Divide:   "$divide",
	expr.Mod:      "$mod",
}

// fragment is one compiled subexpression. field is set when the fragment is a
// plain store attribute reference.
type fragment struct {
	text  string
	field string
}

// fragmentCompiler is the push-down accumulator shared by every compiler.
// Composite nodes open a frame on begin; leaves append to the current frame;
// composite ends close the frame, combine its fragments and append the result
// to the enclosing frame.
type fragmentCompiler struct {
	ns           *namespace
	placeholders PlaceholderMap
	fields       []string
	frames       [][]fragment
	attributes   map[string]bool // nil disables attribute validation
}

func newFragmentCompiler(ns *namespace, attributes []string) *fragmentCompiler {
	c := &fragmentCompiler{
		ns:           ns,
		placeholders: PlaceholderMap{},
	}

	if attributes != nil {
		c.attributes = make(map[string]bool, len(attributes))
		for _, name := range attributes {
			c.attributes[name] = true
		}
	}

	return c
}

// compile walks one tree and returns its fragment text.
func (c *fragmentCompiler) compile(node expr.Node) (string, error) {
	c.frames = [][]fragment{nil}

	if err := expr.Walk(node, c); err != nil {
		return "", err
	}

	if len(c.frames) != 1 || len(c.frames[0]) != 1 {
		return "", fmt.Errorf("%w: unbalanced expression %s", snapmongo.ErrUnsupportedExpression, node)
	}

	return c.frames[0][0].text, nil
}

func (c *fragmentCompiler) open() error {
	c.frames = append(c.frames, nil)
	return nil
}

func (c *fragmentCompiler) close() []fragment {
	top := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]

	return top
}

func (c *fragmentCompiler) push(f fragment) error {
	last := len(c.frames) - 1
	c.frames[last] = append(c.frames[last], f)

	return nil
}

func (c *fragmentCompiler) combine(operator string, arity int) error {
	operands := c.close()
	if len(operands) != arity {
		return fmt.Errorf("%w: %s expects %d operands, got %d", snapmongo.ErrUnsupportedExpression, operator, arity, len(operands))
	}

	texts := make([]string, len(operands))
	for i, operand := range operands {
		texts[i] = operand.text
	}

	return c.push(fragment{text: `{"` + operator + `":[` + strings.Join(texts, ",") + `]}`})
}

func (c *fragmentCompiler) BeginVisitAnd() error { return c.open() }
func (c *fragmentCompiler) EndVisitAnd() error   { return c.combine("$and", 2) }
func (c *fragmentCompiler) BeginVisitOr() error  { return c.open() }
func (c *fragmentCompiler) EndVisitOr() error    { return c.combine("$or", 2) }
func (c *fragmentCompiler) BeginVisitNot() error { return c.open() }
func (c *fragmentCompiler) EndVisitNot() error   { return c.combine("$not", 1) }

func (c *fragmentCompiler) BeginVisitCompare(expr.CompareOp) error { return c.open() }

func (c *fragmentCompiler) EndVisitCompare(op expr.CompareOp) error {
	operator, ok := compareOperators[op]
	if !ok {
		return fmt.Errorf("%w: comparison %q", snapmongo.ErrUnsupportedExpression, op)
	}

	return c.combine(operator, 2)
}

func (c *fragmentCompiler) BeginVisitIsNull() error { return c.open() }

// EndVisitIsNull relies on BSON ordering: null and missing fields sort at or below null.
func (c *fragmentCompiler) EndVisitIsNull() error {
	operands := c.close()
	if len(operands) != 1 {
		return fmt.Errorf("%w: is null expects 1 operand, got %d", snapmongo.ErrUnsupportedExpression, len(operands))
	}

	return c.push(fragment{text: `{"$lte":[` + operands[0].text + `,null]}`})
}

func (c *fragmentCompiler) BeginVisitMath(expr.MathOp) error { return c.open() }

func (c *fragmentCompiler) EndVisitMath(op expr.MathOp) error {
	operator, ok := mathOperators[op]
	if !ok {
		return fmt.Errorf("%w: arithmetic %q", snapmongo.ErrUnsupportedExpression, op)
	}

	return c.combine(operator, 2)
}

func (c *fragmentCompiler) BeginVisitOperand(int) error { return nil }
func (c *fragmentCompiler) EndVisitOperand(int) error   { return nil }

func (c *fragmentCompiler) BeginVisitConstant(any, snapmongo.AttributeType) error { return nil }

func (c *fragmentCompiler) EndVisitConstant(value any, typ snapmongo.AttributeType) error {
	if typ == "" {
		typ = snapmongo.TypeObject
	}

	text, err := renderValue(value, typ)
	if err != nil {
		return fmt.Errorf("%w: constant %v: %w", snapmongo.ErrUnsupportedExpression, value, err)
	}

	return c.push(fragment{text: `{"$literal":` + text + `}`})
}

func (c *fragmentCompiler) BeginVisitStoreVariable(string, string, snapmongo.AttributeType) error {
	return nil
}

func (c *fragmentCompiler) EndVisitStoreVariable(_, attribute string, _ snapmongo.AttributeType) error {
	if c.attributes != nil && !c.attributes[attribute] {
		return fmt.Errorf("%w: '%s'", snapmongo.ErrUnknownAttribute, attribute)
	}

	if !slices.Contains(c.fields, attribute) {
		c.fields = append(c.fields, attribute)
	}

	ref, err := json.Marshal("$" + attribute)
	if err != nil {
		return err
	}

	return c.push(fragment{text: string(ref), field: attribute})
}

func (c *fragmentCompiler) BeginVisitStreamVariable(string, string, string, snapmongo.AttributeType) error {
	return nil
}

func (c *fragmentCompiler) EndVisitStreamVariable(_, _, attribute string, typ snapmongo.AttributeType) error {
	token := c.ns.token()
	c.placeholders[token] = Placeholder{Attribute: attribute, Type: typ}

	return c.push(fragment{text: `{"$literal":` + token + `}`})
}

func (c *fragmentCompiler) BeginVisitAttributeFunction(namespace, name string) error {
	if namespace != "" {
		return fmt.Errorf("%w: %s:%s", snapmongo.ErrUnsupportedFunction, namespace, name)
	}

	if _, ok := allowedFunctions[name]; !ok {
		return fmt.Errorf("%w: %s (supported: sum, avg, min, max)", snapmongo.ErrUnsupportedFunction, name)
	}

	return c.open()
}

func (c *fragmentCompiler) EndVisitAttributeFunction(_, name string) error {
	operands := c.close()
	if len(operands) != 1 || operands[0].field == "" {
		return fmt.Errorf("%w: %s takes exactly one table attribute", snapmongo.ErrUnsupportedFunction, name)
	}

	return c.push(fragment{text: `{"` + allowedFunctions[name] + `":` + operands[0].text + `}`})
}

// CompileCondition compiles a boolean filter. A nil tree or the constant true
// compiles to MatchAll. When table is non-nil, store attribute references are
// checked against its attributes.
func CompileCondition(node expr.Node, table *snapmongo.TableDefinition) (*CompiledCondition, error) {
	return compileCondition(node, attributeNames(table))
}

func compileCondition(node expr.Node, attributes []string) (*CompiledCondition, error) {
	if expr.IsAlwaysTrue(node) {
		return &CompiledCondition{template: MatchAll, placeholders: PlaceholderMap{}}, nil
	}

	c := newFragmentCompiler(newNamespace(), attributes)

	text, err := c.compile(node)
	if err != nil {
		return nil, err
	}

	return &CompiledCondition{
		template:        `{"$expr":` + text + `}`,
		placeholders:    c.placeholders,
		storeAttributes: c.fields,
		source:          node.String(),
	}, nil
}

func attributeNames(table *snapmongo.TableDefinition) []string {
	if table == nil {
		return nil
	}

	return table.AttributeNames()
}
