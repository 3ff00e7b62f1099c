package planner

import (
	"fmt"
	"strings"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/query"
)

// binding maps a Query's Unit names to the unit id they are currently
// bound to, for one candidate match row.
type binding map[string]int64

// evalContext carries everything Condition evaluation needs beyond the
// binding itself: the store to resolve feature values against, and a
// per-unit feature-value cache so repeated leaves in one Condition
// tree (or across candidate rows) do not re-query the same cell.
type evalContext struct {
	st    *store.Store
	cache map[int64]map[string]any
}

func newEvalContext(st *store.Store) *evalContext {
	return &evalContext{st: st, cache: make(map[int64]map[string]any)}
}

func (ctx *evalContext) featureValue(unitID int64, feature string) (any, bool, error) {
	if byFeat, ok := ctx.cache[unitID]; ok {
		if v, ok := byFeat[feature]; ok {
			return v, v != nil, nil
		}
	}
	v, err := ctx.st.GetFeatureValue(unitID, feature)
	if err != nil {
		return nil, false, err
	}
	if ctx.cache[unitID] == nil {
		ctx.cache[unitID] = make(map[string]any)
	}
	ctx.cache[unitID][feature] = v
	return v, v != nil, nil
}

// Eval evaluates c against b, returning the Go value the subtree
// produces (bool for predicates, string/int64/float64 for scalar
// expressions).
func Eval(ctx *evalContext, c *query.Condition, b binding) (any, error) {
	if c == nil {
		return true, nil
	}
	switch c.Op {
	case query.OpLiteral:
		return c.Value, nil

	case query.OpFeatureAccess:
		id, ok := b[c.Unit]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q in feature access", c.Unit)
		}
		v, _, err := ctx.featureValue(id, c.Feature)
		return v, err

	case query.OpExists, query.OpNotExists:
		id, ok := b[c.Unit]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q in existence check", c.Unit)
		}
		_, present, err := ctx.featureValue(id, c.Feature)
		if err != nil {
			return nil, err
		}
		if c.Op == query.OpNotExists {
			return !present, nil
		}
		return present, nil

	case query.OpAnd:
		l, err := Eval(ctx, c.Left, b)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := Eval(ctx, c.Right, b)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil

	case query.OpOr:
		l, err := Eval(ctx, c.Left, b)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := Eval(ctx, c.Right, b)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil

	case query.OpNot:
		v, err := Eval(ctx, c.Operand, b)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case query.OpParent:
		parentID, ok := b[c.Unit]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q", c.Unit)
		}
		childID, ok := b[c.RefTarget]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q", c.RefTarget)
		}
		actual, has, err := ctx.st.GetParent(childID)
		if err != nil {
			return nil, err
		}
		return has && actual == parentID, nil

	case query.OpChild:
		return Eval(ctx, query.Parent(c.RefTarget, c.Unit), b)

	case query.OpRefEquals:
		id, ok := b[c.Unit]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q", c.Unit)
		}
		targetID, ok := b[c.RefTarget]
		if !ok {
			return nil, fmt.Errorf("planner: unbound unit %q", c.RefTarget)
		}
		v, _, err := ctx.featureValue(id, c.Feature)
		if err != nil {
			return nil, err
		}
		ref, ok := asInt64(v)
		if !ok {
			return false, nil
		}
		return ref == targetID, nil

	case query.OpAdd, query.OpSub, query.OpMul, query.OpDiv, query.OpMod:
		return evalArith(ctx, c, b)

	case query.OpStartsWith, query.OpEndsWith, query.OpContains:
		return evalStringOp(ctx, c, b)

	case query.OpEq, query.OpNeq, query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		return evalCompare(ctx, c, b)

	default:
		return nil, fmt.Errorf("planner: unhandled operator %d", c.Op)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// evalArith implements '+' as string concatenation when either operand
// is a string, and as numeric arithmetic otherwise, matching the
// mini-language's overloaded '+'.
func evalArith(ctx *evalContext, c *query.Condition, b binding) (any, error) {
	l, err := Eval(ctx, c.Left, b)
	if err != nil {
		return nil, err
	}
	r, err := Eval(ctx, c.Right, b)
	if err != nil {
		return nil, err
	}
	if c.Op == query.OpAdd {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok || rok {
			if !lok {
				ls = fmt.Sprint(l)
			}
			if !rok {
				rs = fmt.Sprint(r)
			}
			return ls + rs, nil
		}
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("planner: arithmetic operand is not numeric")
	}
	switch c.Op {
	case query.OpAdd:
		return lf + rf, nil
	case query.OpSub:
		return lf - rf, nil
	case query.OpMul:
		return lf * rf, nil
	case query.OpDiv:
		return lf / rf, nil
	case query.OpMod:
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, fmt.Errorf("planner: unreachable arithmetic operator")
}

func evalStringOp(ctx *evalContext, c *query.Condition, b binding) (any, error) {
	l, err := Eval(ctx, c.Left, b)
	if err != nil {
		return nil, err
	}
	r, err := Eval(ctx, c.Right, b)
	if err != nil {
		return nil, err
	}
	ls, _ := l.(string)
	rs, _ := r.(string)
	switch c.Op {
	case query.OpStartsWith:
		return strings.HasPrefix(ls, rs), nil
	case query.OpEndsWith:
		return strings.HasSuffix(ls, rs), nil
	case query.OpContains:
		return strings.Contains(ls, rs), nil
	}
	return nil, fmt.Errorf("planner: unreachable string operator")
}

func evalCompare(ctx *evalContext, c *query.Condition, b binding) (any, error) {
	l, err := Eval(ctx, c.Left, b)
	if err != nil {
		return nil, err
	}
	r, err := Eval(ctx, c.Right, b)
	if err != nil {
		return nil, err
	}
	if c.Op == query.OpEq || c.Op == query.OpNeq {
		eq := fmt.Sprint(l) == fmt.Sprint(r)
		if lf, lok := asFloat(l); lok {
			if rf, rok := asFloat(r); rok {
				eq = lf == rf
			}
		}
		if c.Op == query.OpEq {
			return eq, nil
		}
		return !eq, nil
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("planner: ordering comparison requires numeric operands")
	}
	switch c.Op {
	case query.OpLt:
		return lf < rf, nil
	case query.OpLte:
		return lf <= rf, nil
	case query.OpGt:
		return lf > rf, nil
	case query.OpGte:
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("planner: unreachable comparison operator")
}
