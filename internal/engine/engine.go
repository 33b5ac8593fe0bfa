package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"spendguard/internal/stats"
)

// PolicyEngine evaluates an ordered set of templates. It holds no per-run
// state; everything run specific comes in through Context.
type PolicyEngine struct {
	templates []Template // sorted by priority, stable
}

// NewEngine sorts templates by ascending priority, keeping document order
// for equal priorities.
func NewEngine(templates []Template) *PolicyEngine {
	ordered := make([]Template, len(templates))
	copy(ordered, templates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	return &PolicyEngine{templates: ordered}
}

// Templates returns the templates in evaluation order.
func (e *PolicyEngine) Templates() []Template { return e.templates }

// Decide evaluates the templates for one creative without building an engine.
func Decide(templates []Template, accountID string, u Unit, c Context) Decision {
	return NewEngine(templates).Decide(accountID, u, c)
}

// Decide returns the decision of the first template whose chain reaches a
// matching node. A matching NOOP node is terminal too. Without any terminal
// node the result is NOOP with an empty reason.
func (e *PolicyEngine) Decide(accountID string, u Unit, c Context) Decision {
	for _, t := range e.templates {
		if !t.Scope.Allows(accountID) {
			continue
		}
		if !c.conditionsHold(t.Conditions, u) {
			continue
		}
		if d, ok := c.walk(t, u); ok {
			return d
		}
	}
	return Decision{State: Noop}
}

// Allows reports whether the scope covers the account. An unknown mode
// covers nothing.
func (s Scope) Allows(accountID string) bool {
	switch strings.ToUpper(s.Mode) {
	case "", "ALL":
		return true
	case "SELECTED":
		for _, id := range s.Selected {
			if id == accountID {
				return true
			}
		}
	}
	return false
}

// walk follows the fallback chain with an explicit cursor.
func (c Context) walk(t Template, u Unit) (Decision, bool) {
	for n := t.Chain; n != nil; n = n.Next {
		if n.Type != "" && n.Type != "FILTER" {
			continue
		}
		if len(n.Conditions) > 0 && !c.conditionsHold(n.Conditions, u) {
			continue
		}
		matched, why := c.matchRules(n, u.ID)
		if !matched {
			continue
		}
		d := Decision{State: n.Action, TemplateID: t.ID}
		if d.State == "" {
			d.State = Noop
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		d.Reason = fmt.Sprintf("template %q: %s", name, strings.Join(why, "; "))
		if len(why) > 0 {
			d.ShortReason = why[0]
		}
		return d, true
	}
	return Decision{}, false
}

type ruleOutcome struct {
	matched bool
	// conversion cost comparison holds while the window has conversions
	healthyConversionCost bool
	metric                stats.Metric
	text                  string
}

// matchRules evaluates the node's rules under its mode. An empty rule list
// never matches. A CLICK_COST rule counts as satisfied when a
// CONVERSION_COST rule of the same node holds for a window with conversions.
func (c Context) matchRules(n *Node, unitID string) (bool, []string) {
	if len(n.Rules) == 0 {
		return false, nil
	}
	outcomes := make([]ruleOutcome, len(n.Rules))
	shortcut := false
	for i, r := range n.Rules {
		outcomes[i] = c.evalRule(r, unitID)
		if outcomes[i].healthyConversionCost {
			shortcut = true
		}
	}
	if shortcut {
		for i := range outcomes {
			if outcomes[i].metric == stats.ClickCost && !outcomes[i].matched {
				outcomes[i].matched = true
				outcomes[i].text = "click cost waived: conversion cost holds"
			}
		}
	}

	var why []string
	matchedCount := 0
	for _, o := range outcomes {
		if o.matched {
			matchedCount++
			why = append(why, o.text)
		}
	}
	switch n.Mode {
	case "", "ALL":
		return matchedCount == len(outcomes), why
	case "ANY":
		return matchedCount > 0, why
	}
	log.Debug().Str("mode", n.Mode).Msg("unknown filter mode; node does not match")
	return false, nil
}

func (c Context) evalRule(r CostRule, unitID string) ruleOutcome {
	if r.Type != "COST_RULE" {
		log.Debug().Str("type", r.Type).Msg("unknown rule type evaluates to false")
		return ruleOutcome{}
	}
	metric, ok := stats.ParseMetric(r.Metric)
	if !ok {
		log.Debug().Str("metric", r.Metric).Msg("unknown metric evaluates to false")
		return ruleOutcome{}
	}
	if !r.Op.Known() {
		log.Debug().Str("op", string(r.Op)).Msg("unknown operator evaluates to false")
		return ruleOutcome{}
	}
	snap, ok := c.Stats.Snapshot(r.Window, unitID)
	if !ok {
		log.Debug().Str("window", r.Window.Key()).Msg("no statistics for window; rule evaluates to false")
		return ruleOutcome{}
	}
	value, _ := snap.Value(metric)
	holds := r.Op.Compare(value, r.Threshold)

	out := ruleOutcome{metric: metric}
	out.healthyConversionCost = metric == stats.ConversionCost && snap.Conversions > 0 && holds
	out.matched = snap.Spend >= r.MinSpend && holds
	out.text = fmt.Sprintf("%s(%s) %.2f %s %.2f, spent %.2f ≥ %.2f",
		metric, r.Window.Key(), value, r.Op.Symbol(), r.Threshold, snap.Spend, r.MinSpend)
	return out
}

// conditionsHold is a conjunction; an empty list holds.
func (c Context) conditionsHold(conds []Condition, u Unit) bool {
	for _, cond := range conds {
		if !c.evalCondition(cond, u) {
			return false
		}
	}
	return true
}

func (c Context) evalCondition(cond Condition, u Unit) bool {
	switch cond.Type {
	case "SPENT":
		snap, ok := c.Stats.Snapshot(cond.Window, u.ID)
		return ok && cond.Op.Compare(snap.Spend, cond.Value)
	case "INCOME":
		return c.evalIncome(cond, u.ID)
	case "TARGET_ACTION":
		if cond.Target == "" {
			return true
		}
		return Classify(u.Objective) == Category(strings.ToUpper(cond.Target))
	}
	log.Debug().Str("type", cond.Type).Msg("unknown condition type evaluates to false")
	return false
}

func (c Context) evalIncome(cond Condition, unitID string) bool {
	if c.Income == nil {
		return false
	}
	inc, ok := c.Income.ForWindow(unitID, cond.Window, c.Now)
	if !ok {
		return false
	}
	switch cond.Mode {
	case "", "HAS":
		return inc > 0
	case "HAS_NOT", "NONE", "NO", "EMPTY":
		return inc == 0
	case "COMPARE_SPEND":
		snap, ok := c.Stats.Snapshot(cond.SpendWindow, unitID)
		if !ok {
			return false
		}
		return cond.Op.Compare(inc-cond.Multiplier*snap.Spend, cond.Value)
	default:
		// COMPARE, and any other mode that carries an operator
		if cond.Op == "" {
			log.Debug().Str("mode", cond.Mode).Msg("income mode without operator evaluates to false")
			return false
		}
		return cond.Op.Compare(inc, cond.Value)
	}
}
