package expr

import (
	"fmt"

	"github.com/shibukawa/snapmongo"
)

// Walk traverses n depth first. Each node gets its begin callback, then each
// operand wrapped in BeginVisitOperand/EndVisitOperand, then its end callback.
// The first error returned by v aborts the walk.
func Walk(n Node, v Visitor) error {
	switch node := n.(type) {
	case Constant:
		return pair(
			func() error { return v.BeginVisitConstant(node.Value, node.Type) },
			func() error { return v.EndVisitConstant(node.Value, node.Type) },
		)
	case StoreVariable:
		return pair(
			func() error { return v.BeginVisitStoreVariable(node.StoreID, node.Attribute, node.Type) },
			func() error { return v.EndVisitStoreVariable(node.StoreID, node.Attribute, node.Type) },
		)
	case StreamVariable:
		return pair(
			func() error { return v.BeginVisitStreamVariable(node.ID, node.StreamID, node.Attribute, node.Type) },
			func() error { return v.EndVisitStreamVariable(node.ID, node.StreamID, node.Attribute, node.Type) },
		)
	case AttributeFunction:
		return composite(v,
			func() error { return v.BeginVisitAttributeFunction(node.Namespace, node.Name) },
			func() error { return v.EndVisitAttributeFunction(node.Namespace, node.Name) },
			node.Args...)
	case Compare:
		return composite(v,
			func() error { return v.BeginVisitCompare(node.Op) },
			func() error { return v.EndVisitCompare(node.Op) },
			node.Left, node.Right)
	case And:
		return composite(v, v.BeginVisitAnd, v.EndVisitAnd, node.Left, node.Right)
	case Or:
		return composite(v, v.BeginVisitOr, v.EndVisitOr, node.Left, node.Right)
	case Not:
		return composite(v, v.BeginVisitNot, v.EndVisitNot, node.Operand)
	case IsNull:
		return composite(v, v.BeginVisitIsNull, v.EndVisitIsNull, node.Operand)
	case Math:
		return composite(v,
			func() error { return v.BeginVisitMath(node.Op) },
			func() error { return v.EndVisitMath(node.Op) },
			node.Left, node.Right)
	case nil:
		return fmt.Errorf("%w: nil expression node", snapmongo.ErrUnsupportedExpression)
	default:
		return fmt.Errorf("%w: %T", snapmongo.ErrUnsupportedExpression, n)
	}
}

func pair(begin, end func() error) error {
	if err := begin(); err != nil {
		return err
	}

	return end()
}

func composite(v Visitor, begin, end func() error, operands ...Node) error {
	if err := begin(); err != nil {
		return err
	}

	for i, operand := range operands {
		if err := v.BeginVisitOperand(i); err != nil {
			return err
		}

		if err := Walk(operand, v); err != nil {
			return err
		}

		if err := v.EndVisitOperand(i); err != nil {
			return err
		}
	}

	return end()
}
