package expr

import "github.com/shibukawa/snapmongo"

// Visitor receives begin/end callbacks for every node. Composite nodes also
// report each operand with BeginVisitOperand/EndVisitOperand so accumulators
// that need positional information can track it. Returning an error stops the walk.
type Visitor interface {
	BeginVisitAnd() error
	EndVisitAnd() error
	BeginVisitOr() error
	EndVisitOr() error
	BeginVisitNot() error
	EndVisitNot() error
	BeginVisitCompare(op CompareOp) error
	EndVisitCompare(op CompareOp) error
	BeginVisitIsNull() error
	EndVisitIsNull() error
	BeginVisitMath(op MathOp) error
	EndVisitMath(op MathOp) error

	BeginVisitOperand(index int) error
	EndVisitOperand(index int) error

	BeginVisitConstant(value any, typ snapmongo.AttributeType) error
	EndVisitConstant(value any, typ snapmongo.AttributeType) error
	BeginVisitStoreVariable(storeID, attribute string, typ snapmongo.AttributeType) error
	EndVisitStoreVariable(storeID, attribute string, typ snapmongo.AttributeType) error
	BeginVisitStreamVariable(id, streamID, attribute string, typ snapmongo.AttributeType) error
	EndVisitStreamVariable(id, streamID, attribute string, typ snapmongo.AttributeType) error
	BeginVisitAttributeFunction(namespace, name string) error
	EndVisitAttributeFunction(namespace, name string) error
}

// BaseVisitor implements every callback as a no-op. Embed it and override what you need.
type BaseVisitor struct{}

func (BaseVisitor) BeginVisitAnd() error                { return nil }
func (BaseVisitor) EndVisitAnd() error                  { return nil }
func (BaseVisitor) BeginVisitOr() error                 { return nil }
func (BaseVisitor) EndVisitOr() error                   { return nil }
func (BaseVisitor) BeginVisitNot() error                { return nil }
func (BaseVisitor) EndVisitNot() error                  { return nil }
func (BaseVisitor) BeginVisitCompare(CompareOp) error   { return nil }
func (BaseVisitor) EndVisitCompare(CompareOp) error     { return nil }
func (BaseVisitor) BeginVisitIsNull() error             { return nil }
func (BaseVisitor) EndVisitIsNull() error               { return nil }
func (BaseVisitor) BeginVisitMath(MathOp) error         { return nil }
func (BaseVisitor) EndVisitMath(MathOp) error           { return nil }
func (BaseVisitor) BeginVisitOperand(int) error         { return nil }
func (BaseVisitor) EndVisitOperand(int) error           { return nil }
func (BaseVisitor) BeginVisitAttributeFunction(string, string) error {
	return nil
}
func (BaseVisitor) EndVisitAttributeFunction(string, string) error {
	return nil
}

func (BaseVisitor) BeginVisitConstant(any, snapmongo.AttributeType) error { return nil }
func (BaseVisitor) EndVisitConstant(any, snapmongo.AttributeType) error   { return nil }

func (BaseVisitor) BeginVisitStoreVariable(string, string, snapmongo.AttributeType) error {
	return nil
}

func (BaseVisitor) EndVisitStoreVariable(string, string, snapmongo.AttributeType) error {
	return nil
}

func (BaseVisitor) BeginVisitStreamVariable(string, string, string, snapmongo.AttributeType) error {
	return nil
}

func (BaseVisitor) EndVisitStreamVariable(string, string, string, snapmongo.AttributeType) error {
	return nil
}
