// Package query defines the typed query AST the planner compiles: a
// set of named Units (graph node variables) and a tree of Conditions
// constraining them. Building a query is purely structural — no store
// access happens until the planner compiles and runs it.
package query

import "github.com/mr-martian/rebabel-format/internal/store"

// Unit names one graph-node variable in a query. Types is one or more
// disjunctive unit types the variable may bind to; Order, if set,
// names the feature results are sorted by for this variable.
// A Unit only ever binds to active units (meta:active=true): the
// planner seeds its candidates from store.GetUnits, which filters on
// that feature.
type Unit struct {
	Name  string
	Types []string
	Order string // "tier:feature", or "" for unordered
}

// NewUnit builds a Unit bound to a single type.
func NewUnit(name, unitType string) Unit {
	return Unit{Name: name, Types: []string{unitType}}
}

// NewDisjunctiveUnit builds a Unit that may bind to any of types.
func NewDisjunctiveUnit(name string, types ...string) Unit {
	return Unit{Name: name, Types: types}
}

// WithOrder returns a copy of u sorted by feature name.
func (u Unit) WithOrder(name string) Unit {
	u.Order = name
	return u
}

// Op is the closed set of operators a Condition node may carry.
type Op int

const (
	OpFeatureAccess   Op = iota // unit.feature            -> scalar
	OpExists                    // exists(unit.feature)    -> bool
	OpNotExists                 // not exists(unit.feature)-> bool
	OpAdd                        // a + b (numeric, or string concat)
	OpSub                        // a - b
	OpMul                        // a * b
	OpDiv                        // a / b
	OpMod                        // a % b
	OpStartsWith
	OpEndsWith
	OpContains
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpNot
	OpParent // unit parent unit: parent-of relationship
	OpChild  // unit child unit: child-of relationship
	OpLiteral
	OpRefEquals // rewritten form: ref-feature = target unit variable
)

// Condition is one node of the constraint tree. Leaf kinds
// (OpFeatureAccess, OpLiteral) carry Unit/Feature or Value; composite
// kinds carry Left/Right/Operand subtrees.
type Condition struct {
	Op Op

	Unit    string // the Unit.Name this leaf reads from
	Feature string // "tier:feature", for OpFeatureAccess/OpExists/OpNotExists

	Value any // literal value, for OpLiteral

	Left    *Condition
	Right   *Condition
	Operand *Condition // for OpNot

	// RefTarget names the Unit variable an OpRefEquals predicate
	// compares a ref-typed feature against.
	RefTarget string
}

func leaf(op Op) *Condition { return &Condition{Op: op} }

// FeatureOf builds the unit.feature leaf node.
func FeatureOf(unit, feature string) *Condition {
	return &Condition{Op: OpFeatureAccess, Unit: unit, Feature: feature}
}

// Exists builds an existence predicate over unit.feature.
func Exists(unit, feature string) *Condition {
	return &Condition{Op: OpExists, Unit: unit, Feature: feature}
}

// NotExists builds the negated existence predicate, defined directly
// as NOT exists(...) rather than as a distinct SQL shape (Open
// Question 4).
func NotExists(unit, feature string) *Condition {
	return &Condition{Op: OpNotExists, Unit: unit, Feature: feature}
}

// Literal wraps a constant value as a leaf Condition.
func Literal(v any) *Condition {
	return &Condition{Op: OpLiteral, Value: v}
}

func binary(op Op, l, r *Condition) *Condition {
	return &Condition{Op: op, Left: l, Right: r}
}

func Add(l, r *Condition) *Condition          { return binary(OpAdd, l, r) }
func Sub(l, r *Condition) *Condition          { return binary(OpSub, l, r) }
func Mul(l, r *Condition) *Condition          { return binary(OpMul, l, r) }
func Div(l, r *Condition) *Condition          { return binary(OpDiv, l, r) }
func Mod(l, r *Condition) *Condition          { return binary(OpMod, l, r) }
func StartsWith(l, r *Condition) *Condition   { return binary(OpStartsWith, l, r) }
func EndsWith(l, r *Condition) *Condition     { return binary(OpEndsWith, l, r) }
func Contains(l, r *Condition) *Condition     { return binary(OpContains, l, r) }
func Eq(l, r *Condition) *Condition           { return binary(OpEq, l, r) }
func Neq(l, r *Condition) *Condition          { return binary(OpNeq, l, r) }
func Lt(l, r *Condition) *Condition           { return binary(OpLt, l, r) }
func Lte(l, r *Condition) *Condition          { return binary(OpLte, l, r) }
func Gt(l, r *Condition) *Condition           { return binary(OpGt, l, r) }
func Gte(l, r *Condition) *Condition          { return binary(OpGte, l, r) }
func And(l, r *Condition) *Condition          { return binary(OpAnd, l, r) }
func Or(l, r *Condition) *Condition           { return binary(OpOr, l, r) }

// Not negates operand.
func Not(operand *Condition) *Condition {
	return &Condition{Op: OpNot, Operand: operand}
}

// Parent asserts that parentUnit is childUnit's active parent.
func Parent(parentUnit, childUnit string) *Condition {
	return &Condition{Op: OpParent, Unit: parentUnit, RefTarget: childUnit}
}

// Child asserts that childUnit is an active primary child of
// parentUnit; it is Parent with the arguments in the opposite order.
func Child(childUnit, parentUnit string) *Condition {
	return &Condition{Op: OpChild, Unit: childUnit, RefTarget: parentUnit}
}

// RefEquals asserts that unit.feature (a ref-typed feature) points at
// target's bound unit id. Comparing a ref feature against a literal
// unit id is intentionally unsupported (QueryCompileError), mirroring
// add_feature's NotImplementedError for ftyp == 'ref' in the source
// planner; this constructor only ever builds the unit-to-unit form.
func RefEquals(unit, feature, target string) *Condition {
	return &Condition{Op: OpRefEquals, Unit: unit, Feature: feature, RefTarget: target}
}

// Flatten splits a top-level AND tree into its independent conjuncts,
// so the planner can assemble one join clause per conjunct instead of
// a single deeply nested WHERE expression. Non-AND roots flatten to a
// single-element slice.
func (c *Condition) Flatten() []*Condition {
	if c == nil {
		return nil
	}
	if c.Op != OpAnd {
		return []*Condition{c}
	}
	return append(c.Left.Flatten(), c.Right.Flatten()...)
}

// Query is a complete compiled-from AST: the Units in scope, the root
// Condition constraining them (nil means "no constraint beyond the
// implicit meta:active=true per Unit"), and zero or more Subqueries
// bounding the count of a nested query anchored on one of these Units.
type Query struct {
	Units      []Unit
	Where      *Condition
	Subqueries []Subquery
}

// Subquery anchors Query as a bounded nested search on one of the
// outer query's results: for every outer match, the planner restricts
// AnchorUnit (a Unit name inside Query.Units) to exactly the id the
// outer match bound to Anchor (a Unit name in the outer query), runs
// Query, and keeps the outer match only if the nested match count
// falls within [Min,Max] (Max == 0 means unbounded), per the
// bounded-subquery query-specifier `subqueries?`.
type Subquery struct {
	Anchor     string // outer Unit.Name this subquery is anchored on
	AnchorUnit string // Unit.Name inside Query.Units representing the same entity
	Query      *Query
	Min        int
	Max        int // 0 means unbounded
}

// UnitByName returns the Unit in q named name, or false if absent.
func (q *Query) UnitByName(name string) (Unit, bool) {
	for _, u := range q.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// ValidateRefEquals rejects comparisons the planner cannot express:
// a ref feature compared against anything other than another Unit
// variable's id is unimplemented, matching the original's explicit
// NotImplementedError for ref-typed value constraints.
func ValidateRefEquals(c *Condition) error {
	if c == nil {
		return nil
	}
	if c.Op == OpRefEquals && c.RefTarget == "" {
		return store.NewQueryCompileError("comparing a ref feature against a literal value is not supported")
	}
	if err := ValidateRefEquals(c.Left); err != nil {
		return err
	}
	if err := ValidateRefEquals(c.Right); err != nil {
		return err
	}
	return ValidateRefEquals(c.Operand)
}

// ValidateQuery runs ValidateRefEquals over q's own Where clause and,
// recursively, over every attached Subquery's nested Query.
func ValidateQuery(q *Query) error {
	if q == nil {
		return nil
	}
	if err := ValidateRefEquals(q.Where); err != nil {
		return err
	}
	for _, sq := range q.Subqueries {
		if err := ValidateQuery(sq.Query); err != nil {
			return err
		}
	}
	return nil
}
