package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/shibukawa/snapmongo"
)

// CELOptions tells ParseCEL how identifiers map onto store and stream attributes.
type CELOptions struct {
	Table            *snapmongo.TableDefinition
	TableName        string // Qualifier for store attributes (default "table")
	StreamName       string // Qualifier for stream attributes (default "stream")
	StreamAttributes []snapmongo.Attribute
}

var compareOperators = map[string]CompareOp{
	"_==_": Equal,
	"_!=_": NotEqual,
	"_>_":  GreaterThan,
	"_>=_": GreaterThanOrEqual,
	"_<_":  LessThan,
	"_<=_": LessThanOrEqual,
}

var mathOperators = map[string]MathOp{
	"_+_": Add,
	"_-_": Subtract,
	"_*_": Multiply,
	"_/_": Divide,
	"_%_": Mod,
}

// ParseCEL builds an expression tree from CEL syntax.
//
//	table.price > stream.limit && !(table.symbol == "IBM")
//	sum(table.volume)
//	table.note == null
//
// Qualified names resolve against the table or the stream; bare names resolve
// against the table first. An empty expression returns a nil tree, which the
// compilers treat as "match everything".
func ParseCEL(text string, opts CELOptions) (Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if opts.TableName == "" {
		opts.TableName = "table"
	}

	if opts.StreamName == "" {
		opts.StreamName = "stream"
	}

	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	parsed, issues := env.Parse(text)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", snapmongo.ErrUnsupportedExpression, issues.Err())
	}

	parsedExpr, err := cel.AstToParsedExpr(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", snapmongo.ErrUnsupportedExpression, err)
	}

	c := &celConverter{opts: opts}

	return c.convert(parsedExpr.GetExpr())
}

type celConverter struct {
	opts CELOptions
}

func (c *celConverter) convert(e *exprpb.Expr) (Node, error) {
	switch e.GetExprKind().(type) {
	case *exprpb.Expr_ConstExpr:
		return convertConstant(e.GetConstExpr())

	case *exprpb.Expr_IdentExpr:
		return c.bareIdentifier(e.GetIdentExpr().GetName())

	case *exprpb.Expr_SelectExpr:
		sel := e.GetSelectExpr()

		ident := sel.GetOperand().GetIdentExpr()
		if ident == nil {
			return nil, fmt.Errorf("%w: nested field access is not supported", snapmongo.ErrUnsupportedExpression)
		}

		return c.qualifiedIdentifier(ident.GetName(), sel.GetField())

	case *exprpb.Expr_CallExpr:
		return c.convertCall(e.GetCallExpr())

	default:
		return nil, fmt.Errorf("%w: %T", snapmongo.ErrUnsupportedExpression, e.GetExprKind())
	}
}

func (c *celConverter) convertCall(call *exprpb.Expr_Call) (Node, error) {
	fn := call.GetFunction()
	args := make([]Node, 0, len(call.GetArgs()))

	// Null checks are recognised before operands are converted: null is not a value here
	if fn == "_==_" || fn == "_!=_" {
		if operand, ok := nullComparison(call.GetArgs()); ok {
			node, err := c.convert(operand)
			if err != nil {
				return nil, err
			}

			if fn == "_!=_" {
				return Not{Operand: IsNull{Operand: node}}, nil
			}

			return IsNull{Operand: node}, nil
		}
	}

	for _, arg := range call.GetArgs() {
		node, err := c.convert(arg)
		if err != nil {
			return nil, err
		}

		args = append(args, node)
	}

	if op, ok := compareOperators[fn]; ok {
		return Compare{Op: op, Left: args[0], Right: args[1]}, nil
	}

	if op, ok := mathOperators[fn]; ok {
		return Math{Op: op, Left: args[0], Right: args[1]}, nil
	}

	switch fn {
	case "_&&_":
		return And{Left: args[0], Right: args[1]}, nil
	case "_||_":
		return Or{Left: args[0], Right: args[1]}, nil
	case "!_":
		return Not{Operand: args[0]}, nil
	case "-_":
		return Math{Op: Subtract, Left: Constant{Value: int64(0), Type: snapmongo.TypeLong}, Right: args[0]}, nil
	}

	if strings.HasPrefix(fn, "_") || strings.HasSuffix(fn, "_") {
		return nil, fmt.Errorf("%w: operator %s", snapmongo.ErrUnsupportedExpression, fn)
	}

	namespace := ""
	if target := call.GetTarget(); target != nil {
		ident := target.GetIdentExpr()
		if ident == nil {
			return nil, fmt.Errorf("%w: method call on expression", snapmongo.ErrUnsupportedExpression)
		}

		namespace = ident.GetName()
	}

	return AttributeFunction{Namespace: namespace, Name: fn, Args: args}, nil
}

func nullComparison(args []*exprpb.Expr) (*exprpb.Expr, bool) {
	if len(args) != 2 {
		return nil, false
	}

	if isNullLiteral(args[1]) {
		return args[0], true
	}

	if isNullLiteral(args[0]) {
		return args[1], true
	}

	return nil, false
}

func isNullLiteral(e *exprpb.Expr) bool {
	constant := e.GetConstExpr()
	if constant == nil {
		return false
	}

	_, ok := constant.GetConstantKind().(*exprpb.Constant_NullValue)

	return ok
}

func convertConstant(constant *exprpb.Constant) (Node, error) {
	switch constant.GetConstantKind().(type) {
	case *exprpb.Constant_StringValue:
		return Constant{Value: constant.GetStringValue(), Type: snapmongo.TypeString}, nil
	case *exprpb.Constant_Int64Value:
		return Constant{Value: constant.GetInt64Value(), Type: snapmongo.TypeLong}, nil
	case *exprpb.Constant_Uint64Value:
		return Constant{Value: int64(constant.GetUint64Value()), Type: snapmongo.TypeLong}, nil
	case *exprpb.Constant_DoubleValue:
		return Constant{Value: constant.GetDoubleValue(), Type: snapmongo.TypeDouble}, nil
	case *exprpb.Constant_BoolValue:
		return Constant{Value: constant.GetBoolValue(), Type: snapmongo.TypeBool}, nil
	case *exprpb.Constant_NullValue:
		return Constant{Value: nil, Type: snapmongo.TypeObject}, nil
	default:
		return nil, fmt.Errorf("%w: literal %T", snapmongo.ErrUnsupportedExpression, constant.GetConstantKind())
	}
}

func (c *celConverter) bareIdentifier(name string) (Node, error) {
	if c.opts.Table != nil {
		if attr, ok := c.opts.Table.Attribute(name); ok {
			return StoreVariable{StoreID: c.opts.TableName, Attribute: name, Type: attr.Type}, nil
		}
	}

	for _, attr := range c.opts.StreamAttributes {
		if attr.Name == name {
			return StreamVariable{ID: name, StreamID: c.opts.StreamName, Attribute: name, Type: attr.Type}, nil
		}
	}

	return nil, fmt.Errorf("%w: '%s'", snapmongo.ErrUnknownAttribute, name)
}

func (c *celConverter) qualifiedIdentifier(qualifier, name string) (Node, error) {
	switch qualifier {
	case c.opts.TableName:
		if c.opts.Table == nil {
			return nil, fmt.Errorf("%w: '%s.%s' (no table definition)", snapmongo.ErrUnknownAttribute, qualifier, name)
		}

		attr, ok := c.opts.Table.Attribute(name)
		if !ok {
			return nil, fmt.Errorf("%w: '%s.%s'", snapmongo.ErrUnknownAttribute, qualifier, name)
		}

		return StoreVariable{StoreID: qualifier, Attribute: name, Type: attr.Type}, nil

	case c.opts.StreamName:
		typ, ok := c.streamType(name)
		if !ok {
			return nil, fmt.Errorf("%w: '%s.%s'", snapmongo.ErrUnknownAttribute, qualifier, name)
		}

		return StreamVariable{ID: name, StreamID: qualifier, Attribute: name, Type: typ}, nil

	default:
		return nil, fmt.Errorf("%w: unknown qualifier '%s' in '%s.%s'", snapmongo.ErrUnknownAttribute, qualifier, qualifier, name)
	}
}

// streamType resolves a stream attribute's type. Stream attributes that are
// not declared take the type of the table attribute with the same name.
func (c *celConverter) streamType(name string) (snapmongo.AttributeType, bool) {
	for _, attr := range c.opts.StreamAttributes {
		if attr.Name == name {
			return attr.Type, true
		}
	}

	if c.opts.Table != nil {
		if attr, ok := c.opts.Table.Attribute(name); ok {
			return attr.Type, true
		}
	}

	return "", false
}
