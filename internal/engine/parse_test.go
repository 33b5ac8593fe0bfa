package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendguard/internal/stats"
)

const document = `{
  "version": 3,
  "templates": [
    {
      "id": "t-low",
      "name": "Low priority",
      "priority": "5",
      "root": {
        "type": "ROOT",
        "accountsScope": {"mode": "SELECTED", "selected": [111, "222"]},
        "conditions": [
          {"type": "SPENT", "period": {"type": "LAST_N_DAYS", "n": 3}, "op": "GTE", "valueRub": 100},
          {"type": "INCOME", "period": {"type": "TODAY"}, "mode": "COMPARE_SPEND", "op": "LT", "valueRub": 0, "multiplier": 1.5, "spendPeriod": {"type": "YESTERDAY"}}
        ],
        "child": {
          "type": "FILTER",
          "mode": "any",
          "uiColor": "red",
          "rules": [
            {"type": "COST_RULE", "spentRub": 300, "metric": "RESULT_COST", "op": "GTE", "value": 300},
            {"type": "cost_rule", "spentRub": "80", "metric": "CPC", "op": "gte", "value": 80, "period": {"type": "YESTERDAY"}}
          ],
          "action": {"type": "SET_STATE", "state": "DISABLE"},
          "child": {
            "type": "FILTER",
            "rules": [{"type": "COST_RULE", "metric": "SPENT", "op": "LT", "value": 10}],
            "action": {"type": "SET_STATE", "state": "ENABLE"}
          }
        }
      }
    },
    {"id": "no-root"},
    "not an object",
    {
      "id": "t-high",
      "priority": 1,
      "root": {"child": {"type": "FILTER", "rules": [{"type": "COST_RULE"}], "action": {"type": "WEIRD"}}}
    }
  ]
}`

func TestParseDocument(t *testing.T) {
	tpls, err := ParseDocument([]byte(document))
	require.NoError(t, err)
	require.Len(t, tpls, 2, "malformed templates are skipped")

	low := tpls[0]
	assert.Equal(t, "t-low", low.ID)
	assert.Equal(t, 5, low.Priority)
	assert.Equal(t, Scope{Mode: "SELECTED", Selected: []string{"111", "222"}}, low.Scope)
	require.Len(t, low.Conditions, 2)
	assert.Equal(t, stats.NewWindow("LAST_N_DAYS", 3), low.Conditions[0].Window)
	assert.Equal(t, GTE, low.Conditions[0].Op)
	assert.Equal(t, 100.0, low.Conditions[0].Value)

	inc := low.Conditions[1]
	assert.Equal(t, "COMPARE_SPEND", inc.Mode)
	assert.Equal(t, 1.5, inc.Multiplier)
	assert.Equal(t, stats.NewWindow("TODAY", 0), inc.Window)
	assert.Equal(t, stats.NewWindow("YESTERDAY", 0), inc.SpendWindow)

	head := low.Chain
	require.NotNil(t, head)
	assert.Equal(t, "ANY", head.Mode)
	assert.Equal(t, Disable, head.Action)
	require.Len(t, head.Rules, 2)
	assert.Equal(t, 80.0, head.Rules[1].MinSpend)
	assert.Equal(t, GTE, head.Rules[1].Op)
	assert.Equal(t, "COST_RULE", head.Rules[1].Type)
	assert.Equal(t, stats.Lifetime, head.Rules[0].Window)

	require.NotNil(t, head.Next)
	assert.Equal(t, Enable, head.Next.Action)
	assert.Nil(t, head.Next.Next)

	high := tpls[1]
	assert.Equal(t, 1, high.Priority)
	assert.Equal(t, Noop, high.Chain.Action, "unknown action type resolves to NOOP")
	assert.Equal(t, EQ, high.Chain.Rules[0].Op, "missing operator defaults to EQ")
}

func TestParseDocumentShapes(t *testing.T) {
	single := `{"id":"x","root":{"child":{"type":"FILTER"}}}`
	tpls, err := ParseDocument([]byte(single))
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, DefaultPriority, tpls[0].Priority)

	list := `[{"id":"a","root":{}},{"id":"b","root":{}}]`
	tpls, err = ParseDocument([]byte(list))
	require.NoError(t, err)
	assert.Len(t, tpls, 2)

	tpls, err = ParseDocument([]byte(`  `))
	assert.NoError(t, err)
	assert.Empty(t, tpls)

	_, err = ParseDocument([]byte(`"templates"`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{"templates": 5}`))
	assert.Error(t, err)
}

func TestParseBadPeriodFailsClosed(t *testing.T) {
	doc := `[{"root":{"conditions":[{"type":"SPENT","period":"yesterday","op":"GTE","valueRub":0}],
	  "child":{"type":"FILTER","rules":[{"type":"COST_RULE","metric":"SPEND","op":"GTE","value":0}],"action":{"type":"SET_STATE","state":"DISABLE"}}}}]`
	tpls, err := ParseDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.False(t, tpls[0].Conditions[0].Window.Valid())

	book := stats.NewBook()
	book.Put(stats.Lifetime, map[string]stats.Raw{"1": {Spent: 10}})
	d := Decide(tpls, "acc", Unit{ID: "1"}, Context{Stats: book})
	assert.Equal(t, Noop, d.State)
}

func TestWindows(t *testing.T) {
	tpls, err := ParseDocument([]byte(document))
	require.NoError(t, err)

	keys := []string{}
	for _, w := range Windows(tpls) {
		keys = append(keys, w.Key())
	}
	assert.ElementsMatch(t, []string{"ALL_TIME", "LAST_N_DAYS:3", "TODAY", "YESTERDAY"}, keys)
}
