// Package events implements the event filter predicate language from
// spec.md §4.3 and the cursor helpers workers use to advance their
// position through the append-only event log.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Op is one of the predicate comparison operators.
type Op string

const (
	OpEq        Op = "="
	OpNeq       Op = "!="
	OpIn        Op = "in"
	OpNotIn     Op = "not in"
	OpExists    Op = "exists"
	OpNotExists Op = "!exists"
)

// Predicate is one ANDed clause of a Filter: key OP value.
type Predicate struct {
	Key   string
	Op    Op
	Value any // string, or []string for in/not in; unused for exists/!exists
}

// Filter is a list of predicates, all of which must match (logical AND).
type Filter []Predicate

// ParseFilters parses the worker config's raw filter strings into a Filter.
// Each entry is one predicate: "key = value", "key != value",
// "key in [a, b, c]", "key not in [a, b]", "key exists", "key !exists".
func ParseFilters(raw []string) (Filter, error) {
	out := make(Filter, 0, len(raw))
	for _, r := range raw {
		p, err := parsePredicate(r)
		if err != nil {
			return nil, fmt.Errorf("parse filter %q: %w", r, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePredicate(raw string) (Predicate, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasSuffix(raw, "!exists"):
		key := strings.TrimSpace(strings.TrimSuffix(raw, "!exists"))
		return Predicate{Key: key, Op: OpNotExists}, nil
	case strings.HasSuffix(raw, "exists"):
		key := strings.TrimSpace(strings.TrimSuffix(raw, "exists"))
		return Predicate{Key: key, Op: OpExists}, nil
	}

	for _, op := range []Op{OpNotIn, OpIn, OpNeq, OpEq} {
		sep := " " + string(op) + " "
		if op == OpEq {
			sep = "="
		}
		idx := strings.Index(raw, sep)
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(raw[:idx])
		valueStr := strings.TrimSpace(raw[idx+len(sep):])
		if op == OpIn || op == OpNotIn {
			return Predicate{Key: key, Op: op, Value: parseList(valueStr)}, nil
		}
		return Predicate{Key: key, Op: op, Value: unquote(valueStr)}, nil
	}
	return Predicate{}, fmt.Errorf("no recognized operator in %q", raw)
}

func parseList(s string) []string {
	s = strings.TrimPrefix(strings.TrimSuffix(strings.TrimSpace(s), "]"), "[")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, unquote(p))
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Match reports whether payload satisfies every predicate in the filter. An
// empty filter matches everything.
func (f Filter) Match(payload json.RawMessage) bool {
	for _, p := range f {
		if !p.match(payload) {
			return false
		}
	}
	return true
}

func (p Predicate) match(payload json.RawMessage) bool {
	res := gjson.GetBytes(payload, p.Key)

	switch p.Op {
	case OpExists:
		return res.Exists()
	case OpNotExists:
		return !res.Exists()
	}

	// Unknown keys evaluate to absent: every other operator fails closed.
	if !res.Exists() {
		return false
	}

	switch p.Op {
	case OpEq:
		return valueEquals(res, p.Value.(string))
	case OpNeq:
		return !valueEquals(res, p.Value.(string))
	case OpIn:
		return containsAny(res, p.Value.([]string))
	case OpNotIn:
		return !containsAny(res, p.Value.([]string))
	default:
		return false
	}
}

func valueEquals(res gjson.Result, want string) bool {
	if res.Type == gjson.Number {
		if f, err := strconv.ParseFloat(want, 64); err == nil {
			return res.Num == f
		}
	}
	return res.String() == want
}

func containsAny(res gjson.Result, wants []string) bool {
	for _, w := range wants {
		if valueEquals(res, w) {
			return true
		}
	}
	return false
}
