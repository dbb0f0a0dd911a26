// Package expr models the expression trees a host engine hands to the compilers.
//
// Trees are immutable once built. The host walks them with Walk and the
// compilers only implement Visitor callbacks.
package expr

import (
	"fmt"
	"strings"

	"github.com/shibukawa/snapmongo"
)

// Node is one expression tree node.
type Node interface {
	node()
	String() string
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	Equal              CompareOp = "=="
	NotEqual           CompareOp = "!="
	GreaterThan        CompareOp = ">"
	GreaterThanOrEqual CompareOp = ">="
	LessThan           CompareOp = "<"
	LessThanOrEqual    CompareOp = "<="
)

// MathOp is an arithmetic operator.
type MathOp string

const (
	Add      MathOp = "+"
	Subtract MathOp = "-"
	Multiply MathOp = "*"
	Divide   MathOp = "/"
	Mod      MathOp = "%"
)

// Constant is a literal value known at plan time.
type Constant struct {
	Value any
	Type  snapmongo.AttributeType
}

// StoreVariable references an attribute persisted in the table.
type StoreVariable struct {
	StoreID   string
	Attribute string
	Type      snapmongo.AttributeType
}

// StreamVariable references an attribute of the triggering event; its value is
// only known when the compiled artifact is executed.
type StreamVariable struct {
	ID        string
	StreamID  string
	Attribute string
	Type      snapmongo.AttributeType
}

// AttributeFunction is a function call such as sum(price).
type AttributeFunction struct {
	Namespace string
	Name      string
	Args      []Node
}

type Compare struct {
	Op    CompareOp
	Left  Node
	Right Node
}

type And struct {
	Left  Node
	Right Node
}

type Or struct {
	Left  Node
	Right Node
}

type Not struct {
	Operand Node
}

type IsNull struct {
	Operand Node
}

type Math struct {
	Op    MathOp
	Left  Node
	Right Node
}

func (Constant) node()          {}
func (StoreVariable) node()     {}
func (StreamVariable) node()    {}
func (AttributeFunction) node() {}
func (Compare) node()           {}
func (And) node()               {}
func (Or) node()                {}
func (Not) node()               {}
func (IsNull) node()            {}
func (Math) node()              {}

func (n Constant) String() string {
	if s, ok := n.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}

	if n.Value == nil {
		return "null"
	}

	return fmt.Sprint(n.Value)
}

func (n StoreVariable) String() string {
	if n.StoreID == "" {
		return n.Attribute
	}

	return n.StoreID + "." + n.Attribute
}

func (n StreamVariable) String() string {
	if n.StreamID == "" {
		return n.Attribute
	}

	return n.StreamID + "." + n.Attribute
}

func (n AttributeFunction) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}

	name := n.Name
	if n.Namespace != "" {
		name = n.Namespace + ":" + n.Name
	}

	return name + "(" + strings.Join(args, ", ") + ")"
}

func (n Compare) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

func (n And) String() string {
	return "(" + n.Left.String() + " and " + n.Right.String() + ")"
}

func (n Or) String() string {
	return "(" + n.Left.String() + " or " + n.Right.String() + ")"
}

func (n Not) String() string {
	return "not " + n.Operand.String()
}

func (n IsNull) String() string {
	return n.Operand.String() + " is null"
}

func (n Math) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

// IsAlwaysTrue reports whether the tree is absent or the constant true.
func IsAlwaysTrue(n Node) bool {
	if n == nil {
		return true
	}

	c, ok := n.(Constant)
	if !ok {
		return false
	}

	b, ok := c.Value.(bool)

	return ok && b
}
