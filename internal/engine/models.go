package engine

import (
	"time"

	"spendguard/internal/income"
	"spendguard/internal/stats"
)

// State is the outcome of a policy for one creative.
type State string

const (
	Disable State = "DISABLE"
	Enable  State = "ENABLE"
	Noop    State = "NOOP"
)

type UnitStatus string

const (
	Active     UnitStatus = "ACTIVE"
	Suppressed UnitStatus = "SUPPRESSED"
)

// Unit is one creative as observed on the platform for this run.
type Unit struct {
	ID        string
	Name      string
	GroupID   string
	Objective string // declared objective of the owning ad group
	Status    UnitStatus
}

// Scope limits a template to a set of advertising accounts.
// Mode: "ALL" | "SELECTED"
type Scope struct {
	Mode     string
	Selected []string
}

// Template is one prioritized, scoped decision tree.
type Template struct {
	ID         string
	Name       string
	Priority   int // lower is evaluated first
	Scope      Scope
	Conditions []Condition // root gate, conjunction
	Chain      *Node
}

// Node is one link of a template's fallback chain.
// Type: "" | "FILTER" evaluate; anything else is passed through to Next.
// Mode: "ALL" | "ANY"
type Node struct {
	Type       string
	Mode       string
	Conditions []Condition
	Rules      []CostRule
	Action     State
	Next       *Node
}

// CostRule is a spend-gated metric threshold predicate.
// Type must be "COST_RULE"; Metric and Op are kept verbatim so unknown
// values fail at evaluation.
type CostRule struct {
	Type      string
	MinSpend  float64
	Metric    string
	Op        Operator
	Threshold float64
	Window    stats.Window
}

// Condition gates a template or node.
// Type: "SPENT" | "INCOME" | "TARGET_ACTION"
// Mode (INCOME): "HAS" | "HAS_NOT" | "COMPARE" | "COMPARE_SPEND"
type Condition struct {
	Type        string
	Window      stats.Window
	Op          Operator
	Value       float64
	Mode        string
	Multiplier  float64      // COMPARE_SPEND
	SpendWindow stats.Window // COMPARE_SPEND
	Target      string       // TARGET_ACTION
}

// Decision is the result of evaluating all templates for one creative.
type Decision struct {
	State       State
	Reason      string
	ShortReason string
	TemplateID  string
}

// Context is the per-run, read-only evaluation context.
type Context struct {
	Stats  *stats.Book
	Income *income.Store
	Now    time.Time
}
