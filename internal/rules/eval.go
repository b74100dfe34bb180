package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"coldroute/internal/model"
)

// EvaluationError marks a runtime type mismatch inside one rule. The offending
// rule is treated as non-matching; evaluation continues for the rest.
type EvaluationError struct {
	RuleID string
	Field  string
	Detail string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s: field %s: %s", e.RuleID, e.Field, e.Detail)
}

// CompiledRule pairs a rule record with its parsed condition and actions.
type CompiledRule struct {
	Rule      model.Rule
	Condition *Condition
	Actions   []Action
}

// Compile parses a rule's condition tree and action set. Any defect is a
// *MalformedRuleError carrying the rule id.
func Compile(r model.Rule) (CompiledRule, error) {
	cond, err := Parse(r.Condition)
	if err != nil {
		if me, ok := err.(*MalformedRuleError); ok {
			me.RuleID = r.ID
		}
		return CompiledRule{}, err
	}
	actions := make([]Action, 0, len(r.Actions))
	for _, raw := range r.Actions {
		a, err := ParseAction(raw)
		if err != nil {
			if me, ok := err.(*MalformedRuleError); ok {
				me.RuleID = r.ID
			}
			return CompiledRule{}, err
		}
		actions = append(actions, a)
	}
	return CompiledRule{Rule: r, Condition: cond, Actions: actions}, nil
}

// CompileAll compiles every rule, rejecting the whole snapshot on the first
// malformed rule. Bad rules are authored defects, never silently dropped.
func CompileAll(rules []model.Rule) ([]CompiledRule, error) {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := Compile(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

// MatchedRule is one rule whose condition held against the facts.
type MatchedRule struct {
	Rule    model.Rule
	Actions []Action
}

// Evaluate runs every applicable rule against the facts and returns matches
// ordered by (priority desc, id asc). Rules that are inactive or outside
// their time-of-day/weekday window are skipped, not merely false. The second
// return collects *EvaluationError issues for the caller to log; evaluation
// itself is pure and side-effect-free.
func Evaluate(rules []CompiledRule, facts Facts, now time.Time) ([]MatchedRule, []error) {
	var matched []MatchedRule
	var issues []error
	for _, cr := range rules {
		if !applicable(cr.Rule, now) {
			continue
		}
		ok, err := evalNode(cr.Condition, facts, now)
		if err != nil {
			if ee, isEval := err.(*EvaluationError); isEval {
				ee.RuleID = cr.Rule.ID
			}
			issues = append(issues, err)
			continue
		}
		if ok {
			matched = append(matched, MatchedRule{Rule: cr.Rule, Actions: cr.Actions})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Rule.Priority != matched[j].Rule.Priority {
			return matched[i].Rule.Priority > matched[j].Rule.Priority
		}
		return matched[i].Rule.ID < matched[j].Rule.ID
	})
	return matched, issues
}

func applicable(r model.Rule, now time.Time) bool {
	if !r.Active {
		return false
	}
	if len(r.ApplyDays) > 0 {
		ok := false
		for _, d := range r.ApplyDays {
			if d == now.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if r.ApplyStart != "" && r.ApplyEnd != "" {
		start, err1 := parseClock(r.ApplyStart)
		end, err2 := parseClock(r.ApplyEnd)
		if err1 != nil || err2 != nil {
			return false
		}
		cur := now.Hour()*60 + now.Minute()
		if start <= end {
			if cur < start || cur > end {
				return false
			}
		} else if cur < start && cur > end { // window wraps midnight
			return false
		}
	}
	return true
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func evalNode(c *Condition, facts Facts, now time.Time) (bool, error) {
	switch c.kind {
	case nodeAnd:
		for _, child := range c.children {
			ok, err := evalNode(child, facts, now)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case nodeOr:
		for _, child := range c.children {
			ok, err := evalNode(child, facts, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case nodeNot:
		ok, err := evalNode(c.children[0], facts, now)
		return !ok, err
	default:
		return evalLeaf(c, facts, now)
	}
}

func evalLeaf(c *Condition, facts Facts, now time.Time) (bool, error) {
	val, present := facts.Resolve(c.path)
	operand := resolveSpecial(c.operand, now)
	field := strings.Join(c.path, ".")

	if !present {
		// absent matches only explicit nil equality checks
		switch c.op {
		case OpEq:
			return operand == nil, nil
		case OpNe:
			return operand != nil, nil
		default:
			return false, nil
		}
	}

	switch c.op {
	case OpEq:
		return looseEq(val, operand), nil
	case OpNe:
		return !looseEq(val, operand), nil
	case OpGt, OpGte, OpLt, OpLte:
		cmp, err := compare(val, operand)
		if err != nil {
			return false, &EvaluationError{Field: field, Detail: err.Error()}
		}
		switch c.op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn, OpNotIn:
		list := operand.([]any) // checked at parse time
		found := false
		for _, item := range list {
			if looseEq(val, resolveSpecial(item, now)) {
				found = true
				break
			}
		}
		if c.op == OpIn {
			return found, nil
		}
		return !found, nil
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok1 := val.(string)
		sub, ok2 := operand.(string)
		if !ok1 || !ok2 {
			return false, &EvaluationError{Field: field, Detail: "string predicate on non-string value"}
		}
		switch c.op {
		case OpContains:
			return strings.Contains(s, sub), nil
		case OpStartsWith:
			return strings.HasPrefix(s, sub), nil
		default:
			return strings.HasSuffix(s, sub), nil
		}
	case OpRegex:
		s, ok := val.(string)
		if !ok {
			return false, &EvaluationError{Field: field, Detail: "regex on non-string value"}
		}
		return c.re.MatchString(s), nil
	case OpBetween:
		pair := operand.([]any) // checked at parse time
		lo, err := compare(val, resolveSpecial(pair[0], now))
		if err != nil {
			return false, &EvaluationError{Field: field, Detail: err.Error()}
		}
		hi, err := compare(val, resolveSpecial(pair[1], now))
		if err != nil {
			return false, &EvaluationError{Field: field, Detail: err.Error()}
		}
		return lo >= 0 && hi <= 0, nil
	}
	return false, &EvaluationError{Field: field, Detail: "unhandled operator " + string(c.op)}
}

// resolveSpecial binds NOW()/TODAY() operands at evaluation time so a rule
// authored once behaves correctly whenever it runs.
func resolveSpecial(operand any, now time.Time) any {
	s, ok := operand.(string)
	if !ok {
		return operand
	}
	switch s {
	case "NOW()":
		return now
	case "TODAY()":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	return operand
}

func looseEq(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			return at.Equal(bt)
		}
	}
	return a == b
}

// compare returns -1/0/1 for ordered types; times and numbers are coerced,
// strings compare lexically, anything else is a type mismatch.
func compare(a, b any) (int, error) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare number with %T", b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if at, aok := toTime(a); aok {
		bt, bok := toTime(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare time with %T", b)
		}
		switch {
		case at.Before(bt):
			return -1, nil
		case at.After(bt):
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
