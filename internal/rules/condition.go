package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// MalformedRuleError is returned at compile time for rules that can never be
// evaluated: unknown operators, bad combinator operands, unusable field paths.
// These are fatal for the offending rule and surfaced immediately.
type MalformedRuleError struct {
	RuleID string
	Detail string
}

func (e *MalformedRuleError) Error() string {
	if e.RuleID == "" {
		return "malformed rule: " + e.Detail
	}
	return fmt.Sprintf("malformed rule %s: %s", e.RuleID, e.Detail)
}

// Op is a leaf comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "not_in"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
	OpEndsWith   Op = "ends_with"
	OpRegex      Op = "regex"
	OpBetween    Op = "between"
)

// symbolic spellings accepted in authored rules
var opAliases = map[string]Op{
	"eq": OpEq, "==": OpEq, "=": OpEq,
	"ne": OpNe, "!=": OpNe,
	"gt": OpGt, ">": OpGt,
	"gte": OpGte, ">=": OpGte,
	"lt": OpLt, "<": OpLt,
	"lte": OpLte, "<=": OpLte,
	"in": OpIn, "not_in": OpNotIn,
	"contains": OpContains, "starts_with": OpStartsWith, "ends_with": OpEndsWith,
	"regex": OpRegex, "matches": OpRegex,
	"between": OpBetween,
}

type nodeKind int

const (
	nodeAnd nodeKind = iota
	nodeOr
	nodeNot
	nodeLeaf
)

// Condition is a parsed, evaluable condition tree. Field paths and special
// operands (NOW(), TODAY()) bind late, at evaluation time.
type Condition struct {
	kind     nodeKind
	children []*Condition

	// leaf fields
	path    []string
	op      Op
	operand any
	re      *regexp.Regexp // compiled for OpRegex
}

// Parse compiles a raw condition tree into an evaluable Condition.
//
// A node is either a combinator ({"AND": [...]}, {"OR": [...]}, {"NOT": {...}})
// or a leaf, written explicitly ({"field": "order.zone", "op": "eq",
// "value": "frozen"}) or in shorthand ({"client.requires_forklift": true}).
func Parse(raw map[string]any) (*Condition, error) {
	if len(raw) == 0 {
		return nil, &MalformedRuleError{Detail: "empty condition"}
	}
	if c, ok, err := parseCombinator(raw); ok || err != nil {
		return c, err
	}
	return parseLeaf(raw)
}

func parseCombinator(raw map[string]any) (*Condition, bool, error) {
	for key, kind := range map[string]nodeKind{"AND": nodeAnd, "OR": nodeOr, "NOT": nodeNot} {
		val, ok := raw[key]
		if !ok {
			continue
		}
		if len(raw) != 1 {
			return nil, true, &MalformedRuleError{Detail: key + " must be the only key of its node"}
		}
		if kind == nodeNot {
			child, ok := val.(map[string]any)
			if !ok {
				return nil, true, &MalformedRuleError{Detail: "NOT takes a single condition object"}
			}
			parsed, err := Parse(child)
			if err != nil {
				return nil, true, err
			}
			return &Condition{kind: nodeNot, children: []*Condition{parsed}}, true, nil
		}
		list, ok := val.([]any)
		if !ok {
			return nil, true, &MalformedRuleError{Detail: key + " operand must be a list"}
		}
		if len(list) == 0 {
			return nil, true, &MalformedRuleError{Detail: key + " operand must be non-empty"}
		}
		node := &Condition{kind: kind}
		for _, item := range list {
			childRaw, ok := item.(map[string]any)
			if !ok {
				return nil, true, &MalformedRuleError{Detail: key + " children must be condition objects"}
			}
			child, err := Parse(childRaw)
			if err != nil {
				return nil, true, err
			}
			node.children = append(node.children, child)
		}
		return node, true, nil
	}
	return nil, false, nil
}

func parseLeaf(raw map[string]any) (*Condition, error) {
	// explicit form
	if f, ok := raw["field"]; ok {
		fieldStr, _ := f.(string)
		opStr, _ := raw["op"].(string)
		return newLeaf(fieldStr, opStr, raw["value"])
	}
	// shorthand: {"path.to.field": value} means equality
	if len(raw) == 1 {
		for k, v := range raw {
			return newLeaf(k, "eq", v)
		}
	}
	return nil, &MalformedRuleError{Detail: "condition node is neither combinator nor leaf"}
}

func newLeaf(field, opStr string, operand any) (*Condition, error) {
	path, err := splitPath(field)
	if err != nil {
		return nil, err
	}
	op, ok := opAliases[strings.ToLower(strings.TrimSpace(opStr))]
	if !ok {
		return nil, &MalformedRuleError{Detail: fmt.Sprintf("unknown operator %q", opStr)}
	}
	leaf := &Condition{kind: nodeLeaf, path: path, op: op, operand: operand}
	switch op {
	case OpIn, OpNotIn:
		if _, ok := operand.([]any); !ok {
			return nil, &MalformedRuleError{Detail: string(op) + " operand must be a list"}
		}
	case OpBetween:
		pair, ok := operand.([]any)
		if !ok || len(pair) != 2 {
			return nil, &MalformedRuleError{Detail: "between operand must be a two-element list"}
		}
	case OpRegex:
		pat, ok := operand.(string)
		if !ok {
			return nil, &MalformedRuleError{Detail: "regex operand must be a string"}
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, &MalformedRuleError{Detail: "bad regex: " + err.Error()}
		}
		leaf.re = re
	}
	return leaf, nil
}

func splitPath(field string) ([]string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, &MalformedRuleError{Detail: "empty field path"}
	}
	parts := strings.Split(field, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &MalformedRuleError{Detail: fmt.Sprintf("bad field path %q", field)}
		}
	}
	return parts, nil
}
