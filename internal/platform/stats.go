package platform

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"spendguard/internal/stats"
)

type statsItem struct {
	ID    ID `json:"id"`
	Total struct {
		Base baseMetrics `json:"base"`
	} `json:"total"`
}

type baseMetrics struct {
	Spent       *Float `json:"spent"`
	CPC         *Float `json:"cpc"`
	Clicks      *Float `json:"clicks"`
	ClicksCount *Float `json:"clicks_count"`
	Goals       *Float `json:"goals"`
	GoalsCount  *Float `json:"goals_count"`
	Results     *Float `json:"results"`
	VK          struct {
		CPA *Float `json:"cpa"`
	} `json:"vk"`
}

func first(vals ...*Float) float64 {
	for _, v := range vals {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

func (b baseMetrics) raw() stats.Raw {
	return stats.Raw{
		Spent:  first(b.Spent),
		CPC:    first(b.CPC),
		Clicks: first(b.Clicks, b.ClicksCount),
		Goals:  first(b.Goals, b.GoalsCount, b.Results),
		CPA:    first(b.VK.CPA),
	}
}

// WindowStats fetches raw metrics of the creatives for one window: the
// lifetime summary for ALL_TIME and the day report for day windows.
func (c *Client) WindowStats(ctx context.Context, ids []string, w stats.Window, now time.Time) (map[string]stats.Raw, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("window %s: not supported", w.Key())
	}
	path := "/api/v2/statistics/banners/summary.json"
	q := url.Values{}
	if r, ok := w.Resolve(now); ok {
		path = "/api/v2/statistics/banners/day.json"
		from, to := r.Strings()
		q.Set("date_from", from)
		q.Set("date_to", to)
	}
	q.Set("metrics", "base")

	out := make(map[string]stats.Raw, len(ids))
	for _, chunk := range chunks(ids, pageSize) {
		q.Set("id", strings.Join(chunk, ","))
		var p page[statsItem]
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return nil, fmt.Errorf("stats %s: %w", w.Key(), err)
		}
		for _, it := range p.Items {
			if it.ID == "" {
				continue
			}
			out[string(it.ID)] = it.Total.Base.raw()
		}
	}
	return out, nil
}
