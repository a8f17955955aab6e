package predicate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetupdate/agent/pkg/version"
)

// Facts is the host-facts info object predicates are evaluated
// against: an untyped mapping from fact name to value, as produced by
// pkg/hostfacts.
type Facts map[string]interface{}

// Eval parses and evaluates src against facts in one step. Any parse
// or evaluation error is logged by the caller and treated as false,
// per spec: a malformed or unevaluable predicate never blocks
// processing, it just excludes the conditional branch.
func Eval(src string, facts Facts) (bool, error) {
	expr, err := Parse(src)
	if err != nil {
		return false, err
	}
	return expr.Eval(facts)
}

// Eval evaluates a compiled expression against facts.
func (e *Expr) Eval(facts Facts) (bool, error) {
	return evalNode(e.root, facts)
}

func evalNode(n *node, facts Facts) (bool, error) {
	switch n.kind {
	case nkAnd:
		for _, c := range n.children {
			ok, err := evalNode(c, facts)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case nkOr:
		for _, c := range n.children {
			ok, err := evalNode(c, facts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case nkNot:
		ok, err := evalNode(n.children[0], facts)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case nkCompare:
		return evalCompare(n, facts)
	default:
		return false, fmt.Errorf("predicate: cannot evaluate node of kind %d as boolean", n.kind)
	}
}

func evalCompare(n *node, facts Facts) (bool, error) {
	left, err := resolveValue(n.left, facts)
	if err != nil {
		return false, err
	}

	switch n.op {
	case "TRUTHY":
		return isTruthy(left), nil
	case "==":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return compareEqual(left, right), nil
	case "!=":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return !compareEqual(left, right), nil
	case "<", "<=", ">", ">=":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return compareOrdered(left, right, n.op), nil
	case "IN":
		return evalIn(left, n.right, facts)
	case "CONTAINS":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return strings.Contains(toString(left), toString(right)), nil
	case "BEGINSWITH":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(toString(left), toString(right)), nil
	case "ENDSWITH":
		right, err := resolveValue(n.right, facts)
		if err != nil {
			return false, err
		}
		return strings.HasSuffix(toString(left), toString(right)), nil
	default:
		return false, fmt.Errorf("predicate: unknown operator %q", n.op)
	}
}

func evalIn(left interface{}, rhs *node, facts Facts) (bool, error) {
	needle := toString(left)
	if rhs.kind == nkList {
		for _, item := range rhs.list {
			v, err := resolveValue(item, facts)
			if err != nil {
				return false, err
			}
			if toString(v) == needle {
				return true, nil
			}
		}
		return false, nil
	}
	v, err := resolveValue(rhs, facts)
	if err != nil {
		return false, err
	}
	switch coll := v.(type) {
	case []string:
		for _, item := range coll {
			if item == needle {
				return true, nil
			}
		}
	case []interface{}:
		for _, item := range coll {
			if toString(item) == needle {
				return true, nil
			}
		}
	}
	return false, nil
}

func resolveValue(n *node, facts Facts) (interface{}, error) {
	switch n.kind {
	case nkLiteral:
		if n.isNum {
			return n.num, nil
		}
		return n.str, nil
	case nkIdent:
		if n.isFunc {
			return callFunc(n.funcName, facts)
		}
		v, ok := facts[n.ident]
		if !ok {
			return nil, fmt.Errorf("predicate: fact %q not found", n.ident)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("predicate: cannot resolve node of kind %d", n.kind)
	}
}

func callFunc(name string, facts Facts) (interface{}, error) {
	switch strings.ToLower(name) {
	case "date":
		if v, ok := facts["date"]; ok {
			return v, nil
		}
		return time.Now(), nil
	default:
		return nil, fmt.Errorf("predicate: unknown function %q()", name)
	}
}

func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case nil:
		return false
	default:
		return true
	}
}

func compareEqual(a, b interface{}) bool {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}
	return toString(a) == toString(b)
}

// compareOrdered handles <, <=, >, >= for strings, numbers, and times.
// Version-shaped string facts (os_vers et al.) compare via the pkginfo
// version total order rather than lexicographically, so "9" < "10".
func compareOrdered(a, b interface{}, op string) bool {
	var cmp int
	switch av := a.(type) {
	case time.Time:
		bt, ok := toTime(b)
		if ok {
			switch {
			case av.Before(bt):
				cmp = -1
			case av.After(bt):
				cmp = 1
			default:
				cmp = 0
			}
			return applyOp(cmp, op)
		}
	}
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			switch {
			case an < bn:
				cmp = -1
			case an > bn:
				cmp = 1
			default:
				cmp = 0
			}
			return applyOp(cmp, op)
		}
	}
	cmp = version.Compare(toString(a), toString(b))
	return applyOp(cmp, op)
}

func applyOp(cmp int, op string) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
