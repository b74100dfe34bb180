package rules

import (
	"errors"
	"testing"
)

func TestParseLeafAliases(t *testing.T) {
	cases := []struct {
		op   string
		want Op
	}{
		{"==", OpEq}, {"=", OpEq}, {"eq", OpEq},
		{"!=", OpNe},
		{">", OpGt}, {">=", OpGte}, {"<", OpLt}, {"<=", OpLte},
		{"not_in", OpNotIn}, {"matches", OpRegex},
	}
	for _, c := range cases {
		cond, err := Parse(map[string]any{"field": "order.zone", "op": c.op, "value": "frozen"})
		if c.want == OpNotIn || c.want == OpRegex {
			// not_in needs a list operand; regex needs a valid pattern
			cond, err = Parse(map[string]any{"field": "order.zone", "op": c.op, "value": operandFor(c.want)})
		}
		if err != nil {
			t.Fatalf("op %q: %v", c.op, err)
		}
		if cond.op != c.want {
			t.Fatalf("op %q parsed as %q, want %q", c.op, cond.op, c.want)
		}
	}
}

func operandFor(op Op) any {
	if op == OpNotIn {
		return []any{"frozen", "chilled"}
	}
	return "^fro"
}

func TestParseShorthandEquality(t *testing.T) {
	cond, err := Parse(map[string]any{"order.zone": "frozen"})
	if err != nil {
		t.Fatalf("shorthand: %v", err)
	}
	if cond.op != OpEq {
		t.Fatalf("shorthand op = %q, want eq", cond.op)
	}
}

func TestParseCombinators(t *testing.T) {
	raw := map[string]any{
		"AND": []any{
			map[string]any{"order.zone": "frozen"},
			map[string]any{"OR": []any{
				map[string]any{"field": "order.pallets", "op": ">", "value": 4},
				map[string]any{"NOT": map[string]any{"order.urgent": false}},
			}},
		},
	}
	if _, err := Parse(raw); err != nil {
		t.Fatalf("nested combinators: %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []map[string]any{
		{"field": "order.zone", "op": "~~", "value": "x"},          // unknown operator
		{"AND": "not-a-list"},                                      // non-list AND
		{"OR": 7},                                                  // non-list OR
		{"field": "order..zone", "op": "eq", "value": "x"},         // empty path segment
		{"field": "", "op": "eq", "value": "x"},                    // empty path
		{"field": "order.pallets", "op": "in", "value": "frozen"},  // in needs a list
		{"field": "order.pallets", "op": "between", "value": []any{1}}, // between needs a pair
		{"field": "order.id", "op": "regex", "value": "("},         // invalid pattern
	}
	for i, raw := range cases {
		_, err := Parse(raw)
		var me *MalformedRuleError
		if !errors.As(err, &me) {
			t.Fatalf("case %d: got %v, want MalformedRuleError", i, err)
		}
	}
}

func TestCompileTagsRuleID(t *testing.T) {
	_, err := Compile(ruleFixture("r-bad", map[string]any{"AND": 1}))
	var me *MalformedRuleError
	if !errors.As(err, &me) {
		t.Fatalf("got %v, want MalformedRuleError", err)
	}
	if me.RuleID != "r-bad" {
		t.Fatalf("RuleID = %q, want r-bad", me.RuleID)
	}
}
