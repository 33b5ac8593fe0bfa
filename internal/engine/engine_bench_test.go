package engine

import (
	"strconv"
	"testing"

	"spendguard/internal/income"
	"spendguard/internal/stats"
)

func BenchmarkDecide(b *testing.B) {
	raw := map[string]stats.Raw{}
	for i := 0; i < 1000; i++ {
		raw[strconv.Itoa(i)] = stats.Raw{Spent: float64(i), Clicks: float64(i % 7), Goals: float64(i % 3)}
	}
	book := stats.NewBook()
	book.Put(stats.Lifetime, raw)
	c := Context{Stats: book, Income: income.Empty()}

	var tpls []Template
	for p := 0; p < 10; p++ {
		tpls = append(tpls, Template{
			ID:       strconv.Itoa(p),
			Priority: p,
			Chain: &Node{Mode: "ALL", Action: Disable, Rules: []CostRule{
				{Type: "COST_RULE", MinSpend: 300, Metric: "CPA", Op: GTE, Threshold: 300, Window: stats.Lifetime},
				{Type: "COST_RULE", MinSpend: 80, Metric: "CPC", Op: GTE, Threshold: 80, Window: stats.Lifetime},
			}},
		})
	}
	eng := NewEngine(tpls)
	u := Unit{ID: "999"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eng.Decide("acc", u, c)
	}
}
