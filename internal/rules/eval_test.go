package rules

import (
	"errors"
	"testing"
	"time"

	"coldroute/internal/model"
)

func ruleFixture(id string, cond map[string]any) model.Rule {
	return model.Rule{
		ID:        id,
		Type:      model.RuleConstraint,
		Active:    true,
		Condition: cond,
	}
}

func mustCompile(t *testing.T, rules ...model.Rule) []CompiledRule {
	t.Helper()
	out, err := CompileAll(rules)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return out
}

var frozenFacts = Facts{
	"order": map[string]any{
		"zone":     "frozen",
		"pallets":  6,
		"priority": 3,
		"id":       "ord-17",
	},
	"client": map[string]any{
		"requires_forklift": true,
	},
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	cond := map[string]any{"order.zone": "frozen"}
	r1 := ruleFixture("b", cond)
	r1.Priority = 10
	r2 := ruleFixture("a", cond)
	r2.Priority = 10
	r3 := ruleFixture("c", cond)
	r3.Priority = 50

	matched, issues := Evaluate(mustCompile(t, r1, r2, r3), frozenFacts, time.Now())
	if len(issues) != 0 {
		t.Fatalf("issues: %v", issues)
	}
	ids := []string{}
	for _, m := range matched {
		ids = append(ids, m.Rule.ID)
	}
	want := []string{"c", "a", "b"} // priority desc, then id asc
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestEvaluateSkipsInactiveAndOutOfWindow(t *testing.T) {
	now := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC) // Wednesday 14:00

	inactive := ruleFixture("inactive", map[string]any{"order.zone": "frozen"})
	inactive.Active = false

	night := ruleFixture("night", map[string]any{"order.zone": "frozen"})
	night.ApplyStart, night.ApplyEnd = "22:00", "06:00"

	weekend := ruleFixture("weekend", map[string]any{"order.zone": "frozen"})
	weekend.ApplyDays = []time.Weekday{time.Saturday, time.Sunday}

	open := ruleFixture("open", map[string]any{"order.zone": "frozen"})
	open.ApplyStart, open.ApplyEnd = "08:00", "18:00"

	matched, _ := Evaluate(mustCompile(t, inactive, night, weekend, open), frozenFacts, now)
	if len(matched) != 1 || matched[0].Rule.ID != "open" {
		t.Fatalf("matched %v, want only open", matched)
	}
}

func TestEvaluateMidnightWrapWindow(t *testing.T) {
	r := ruleFixture("night", map[string]any{"order.zone": "frozen"})
	r.ApplyStart, r.ApplyEnd = "22:00", "06:00"

	at2am := time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)
	matched, _ := Evaluate(mustCompile(t, r), frozenFacts, at2am)
	if len(matched) != 1 {
		t.Fatal("02:00 should fall inside a 22:00-06:00 window")
	}
}

func TestEvaluateAbsentSentinel(t *testing.T) {
	cases := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"eq nil matches absent", map[string]any{"field": "order.missing", "op": "eq", "value": nil}, true},
		{"ne nil rejects absent", map[string]any{"field": "order.missing", "op": "ne", "value": nil}, false},
		{"eq value rejects absent", map[string]any{"field": "order.missing", "op": "eq", "value": "x"}, false},
		{"gt never matches absent", map[string]any{"field": "order.missing", "op": ">", "value": 1}, false},
		{"in never matches absent", map[string]any{"field": "order.missing", "op": "in", "value": []any{"x"}}, false},
		{"contains never matches absent", map[string]any{"field": "order.missing", "op": "contains", "value": "x"}, false},
	}
	for _, c := range cases {
		matched, issues := Evaluate(mustCompile(t, ruleFixture("r", c.cond)), frozenFacts, time.Now())
		if len(issues) != 0 {
			t.Fatalf("%s: absent must never raise, got %v", c.name, issues)
		}
		if got := len(matched) == 1; got != c.want {
			t.Fatalf("%s: matched=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvaluateOperators(t *testing.T) {
	cases := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"gt", map[string]any{"field": "order.pallets", "op": ">", "value": 5}, true},
		{"gte boundary", map[string]any{"field": "order.pallets", "op": ">=", "value": 6}, true},
		{"lt false", map[string]any{"field": "order.pallets", "op": "<", "value": 6}, false},
		{"numeric coercion", map[string]any{"field": "order.pallets", "op": "==", "value": 6.0}, true},
		{"in", map[string]any{"field": "order.zone", "op": "in", "value": []any{"chilled", "frozen"}}, true},
		{"not_in", map[string]any{"field": "order.zone", "op": "not_in", "value": []any{"ambient"}}, true},
		{"contains", map[string]any{"field": "order.id", "op": "contains", "value": "d-1"}, true},
		{"starts_with", map[string]any{"field": "order.id", "op": "starts_with", "value": "ord-"}, true},
		{"ends_with", map[string]any{"field": "order.id", "op": "ends_with", "value": "17"}, true},
		{"regex", map[string]any{"field": "order.id", "op": "matches", "value": `^ord-\d+$`}, true},
		{"between", map[string]any{"field": "order.pallets", "op": "between", "value": []any{5, 8}}, true},
		{"between outside", map[string]any{"field": "order.priority", "op": "between", "value": []any{5, 8}}, false},
		{"bool eq", map[string]any{"client.requires_forklift": true}, true},
	}
	for _, c := range cases {
		matched, issues := Evaluate(mustCompile(t, ruleFixture("r", c.cond)), frozenFacts, time.Now())
		if len(issues) != 0 {
			t.Fatalf("%s: %v", c.name, issues)
		}
		if got := len(matched) == 1; got != c.want {
			t.Fatalf("%s: matched=%v, want %v", c.name, got, c.want)
		}
	}
}

func TestEvaluateNowOperand(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	facts := Facts{"order": map[string]any{
		"deadline": now.Add(2 * time.Hour).Format(time.RFC3339),
	}}
	r := ruleFixture("deadline-ahead", map[string]any{"field": "order.deadline", "op": ">", "value": "NOW()"})
	matched, issues := Evaluate(mustCompile(t, r), facts, now)
	if len(issues) != 0 {
		t.Fatalf("issues: %v", issues)
	}
	if len(matched) != 1 {
		t.Fatal("deadline two hours ahead of NOW() should match >")
	}
}

func TestEvaluateTypeMismatchSkipsRule(t *testing.T) {
	bad := ruleFixture("bad", map[string]any{"field": "order.zone", "op": ">", "value": 5})
	good := ruleFixture("good", map[string]any{"order.zone": "frozen"})

	matched, issues := Evaluate(mustCompile(t, bad, good), frozenFacts, time.Now())
	if len(issues) != 1 {
		t.Fatalf("want one issue, got %v", issues)
	}
	var ee *EvaluationError
	if !errors.As(issues[0], &ee) {
		t.Fatalf("issue type %T, want EvaluationError", issues[0])
	}
	if ee.RuleID != "bad" {
		t.Fatalf("RuleID = %q, want bad", ee.RuleID)
	}
	if len(matched) != 1 || matched[0].Rule.ID != "good" {
		t.Fatal("a failing rule must not block the rest of the snapshot")
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	rules := mustCompile(t,
		ruleFixture("a", map[string]any{"order.zone": "frozen"}),
		ruleFixture("b", map[string]any{"field": "order.pallets", "op": ">", "value": 1}),
	)
	now := time.Now()
	first, _ := Evaluate(rules, frozenFacts, now)
	for i := 0; i < 20; i++ {
		again, _ := Evaluate(rules, frozenFacts, now)
		if len(again) != len(first) {
			t.Fatal("evaluation count changed between identical runs")
		}
		for j := range again {
			if again[j].Rule.ID != first[j].Rule.ID {
				t.Fatal("evaluation order changed between identical runs")
			}
		}
	}
}
