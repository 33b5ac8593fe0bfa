package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"spendguard/internal/stats"
)

// DefaultPriority is used for templates that do not declare one.
const DefaultPriority = 9999

type object map[string]json.RawMessage

// ParseDocument decodes a policy document. It accepts {"templates": [...]},
// a bare list of templates or a single template object with a "root".
// Unknown keys are ignored and templates that cannot be decoded are skipped.
func ParseDocument(b []byte) ([]Template, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	var raws []json.RawMessage
	switch b[0] {
	case '[':
		if err := json.Unmarshal(b, &raws); err != nil {
			return nil, fmt.Errorf("decode policy list: %w", err)
		}
	case '{':
		var doc object
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode policy document: %w", err)
		}
		if tpls, ok := doc["templates"]; ok {
			if err := json.Unmarshal(tpls, &raws); err != nil {
				return nil, fmt.Errorf("decode templates: %w", err)
			}
		} else if _, ok := doc["root"]; ok {
			raws = []json.RawMessage{b}
		}
	default:
		return nil, fmt.Errorf("policy document: unexpected token %q", b[0])
	}

	out := make([]Template, 0, len(raws))
	for i, raw := range raws {
		t, err := parseTemplate(raw)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("skipping malformed policy template")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func parseTemplate(raw json.RawMessage) (Template, error) {
	var o object
	if err := json.Unmarshal(raw, &o); err != nil || o == nil {
		return Template{}, fmt.Errorf("template is not an object")
	}
	root := o.obj("root")
	if root == nil {
		return Template{}, fmt.Errorf("template has no root")
	}
	t := Template{
		ID:       o.str("id"),
		Name:     o.str("name"),
		Priority: DefaultPriority,
	}
	if p, ok := o.num("priority"); ok {
		t.Priority = int(p)
	}
	if scope := root.obj("accountsScope"); scope != nil {
		t.Scope = parseScope(scope)
	}
	t.Conditions = parseConditions(root.list("conditions"))
	t.Chain = parseChain(root.obj("child"))
	return t, nil
}

func parseScope(o object) Scope {
	s := Scope{Mode: strings.ToUpper(o.str("mode"))}
	for _, key := range []string{"selected", "accounts", "ids"} {
		if items := o.list(key); items != nil {
			for _, it := range items {
				s.Selected = append(s.Selected, rawString(it))
			}
			break
		}
	}
	return s
}

// parseChain flattens the nested child objects into a linked list without recursion.
func parseChain(o object) *Node {
	var head, tail *Node
	for o != nil {
		n := &Node{
			Type:       strings.ToUpper(o.str("type")),
			Mode:       strings.ToUpper(o.str("mode")),
			Conditions: parseConditions(o.list("conditions")),
			Action:     parseAction(o.obj("action")),
		}
		for _, raw := range o.list("rules") {
			n.Rules = append(n.Rules, parseRule(raw))
		}
		if head == nil {
			head = n
		} else {
			tail.Next = n
		}
		tail = n

		next := o.obj("child")
		if next == nil {
			next = o.obj("next")
		}
		o = next
	}
	return head
}

func parseAction(o object) State {
	if o == nil || !strings.EqualFold(o.str("type"), "SET_STATE") {
		return Noop
	}
	switch s := State(strings.ToUpper(o.str("state"))); s {
	case Disable, Enable, Noop:
		return s
	}
	return Noop
}

func parseConditions(raws []json.RawMessage) []Condition {
	if len(raws) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(raws))
	for _, raw := range raws {
		out = append(out, parseCondition(raw))
	}
	return out
}

// parseCondition never fails: anything unusable becomes a condition whose
// type the evaluator does not recognize, so it evaluates to false.
func parseCondition(raw json.RawMessage) Condition {
	var o object
	if err := json.Unmarshal(raw, &o); err != nil || o == nil {
		return Condition{Type: "MALFORMED"}
	}
	c := Condition{
		Type:       strings.ToUpper(o.str("type")),
		Window:     parseWindow(o, "period"),
		Op:         ParseOperator(o.str("op")),
		Mode:       strings.ToUpper(o.str("mode")),
		Target:     strings.TrimSpace(o.str("target")),
		Multiplier: 1,
	}
	c.Value, _ = o.num("valueRub")
	if v, ok := o.num("value"); ok && !o.has("valueRub") {
		c.Value = v
	}
	if m, ok := o.num("multiplier"); ok {
		c.Multiplier = m
	}
	c.SpendWindow = c.Window
	if o.has("spendPeriod") {
		c.SpendWindow = parseWindow(o, "spendPeriod")
	}
	if c.Type == "SPENT" && c.Op == "" {
		c.Op = GTE
	}
	return c
}

func parseRule(raw json.RawMessage) CostRule {
	var o object
	if err := json.Unmarshal(raw, &o); err != nil || o == nil {
		return CostRule{Type: "MALFORMED"}
	}
	r := CostRule{
		Type:   strings.ToUpper(o.str("type")),
		Metric: strings.ToUpper(o.str("metric")),
		Op:     ParseOperator(o.str("op")),
		Window: parseWindow(o, "period"),
	}
	if r.Op == "" {
		r.Op = EQ
	}
	r.MinSpend, _ = o.num("spentRub")
	r.Threshold, _ = o.num("value")
	return r
}

// parseWindow reads {type, n}. A missing period is ALL_TIME; a period that
// is present but not an object yields an invalid window.
func parseWindow(o object, key string) stats.Window {
	if !o.has(key) {
		return stats.Lifetime
	}
	p := o.obj(key)
	if p == nil {
		return stats.Window{Kind: "INVALID"}
	}
	n, _ := p.num("n")
	return stats.NewWindow(p.str("type"), int(n))
}

func (o object) has(key string) bool {
	v, ok := o[key]
	return ok && !isNull(v)
}

func (o object) str(key string) string {
	return rawString(o[key])
}

func (o object) num(key string) (float64, bool) {
	return rawNumber(o[key])
}

func (o object) obj(key string) object {
	v, ok := o[key]
	if !ok || isNull(v) {
		return nil
	}
	var out object
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func (o object) list(key string) []json.RawMessage {
	v, ok := o[key]
	if !ok || isNull(v) {
		return nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// rawString accepts a JSON string or number.
func rawString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawNumber accepts a JSON number or a numeric string.
func rawNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

// Windows lists every distinct valid window referenced by the templates,
// always including ALL_TIME, so callers fetch exactly the statistics needed.
func Windows(templates []Template) []stats.Window {
	seen := map[string]bool{}
	out := []stats.Window{}
	add := func(w stats.Window) {
		if !w.Valid() || seen[w.Key()] {
			return
		}
		seen[w.Key()] = true
		out = append(out, w)
	}
	addConds := func(cs []Condition) {
		for _, c := range cs {
			add(c.Window)
			add(c.SpendWindow)
		}
	}
	add(stats.Lifetime)
	for _, t := range templates {
		addConds(t.Conditions)
		for n := t.Chain; n != nil; n = n.Next {
			addConds(n.Conditions)
			for _, r := range n.Rules {
				add(r.Window)
			}
		}
	}
	return out
}
