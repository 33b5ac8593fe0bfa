package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// Creative is one banner as listed by the platform.
type Creative struct {
	ID      string
	Name    string
	GroupID string
	Status  string
}

type bannerItem struct {
	ID             ID     `json:"id"`
	Name           string `json:"name"`
	AdGroupID      ID     `json:"ad_group_id"`
	URL            string `json:"url"`
	LinkURL        string `json:"link_url"`
	DestinationURL string `json:"destination_url"`
}

type page[T any] struct {
	Count int `json:"count"`
	Items []T `json:"items"`
}

// ListCreatives pages through the creatives with the given status.
func (c *Client) ListCreatives(ctx context.Context, status string) ([]Creative, error) {
	var out []Creative
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("_status", status)
		q.Set("fields", "id,name,ad_group_id")
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var p page[bannerItem]
		if err := c.getJSON(ctx, "/api/v2/banners.json", q, &p); err != nil {
			return nil, fmt.Errorf("list %s creatives: %w", status, err)
		}
		for _, it := range p.Items {
			if it.ID == "" {
				continue
			}
			out = append(out, Creative{ID: string(it.ID), Name: strings.TrimSpace(it.Name), GroupID: string(it.AdGroupID), Status: status})
		}
		log.Debug().Str("status", status).Int("batch", len(p.Items)).Int("total", len(out)).Msg("listed creatives")
		if len(p.Items) < pageSize {
			return out, nil
		}
	}
}

// Meta is the descriptive data attached to ledger records.
type Meta struct {
	Name string
	URL  string
}

// Describe fetches names and landing urls for the creatives.
func (c *Client) Describe(ctx context.Context, ids []string) (map[string]Meta, error) {
	out := make(map[string]Meta, len(ids))
	for _, chunk := range chunks(ids, pageSize) {
		q := url.Values{}
		q.Set("_id__in", strings.Join(chunk, ","))
		q.Set("fields", "id,name,url,link_url,destination_url")
		q.Set("limit", strconv.Itoa(len(chunk)))

		var p page[bannerItem]
		if err := c.getJSON(ctx, "/api/v2/banners.json", q, &p); err != nil {
			return out, fmt.Errorf("describe creatives: %w", err)
		}
		for _, it := range p.Items {
			u := it.URL
			if u == "" {
				u = it.LinkURL
			}
			if u == "" {
				u = it.DestinationURL
			}
			out[string(it.ID)] = Meta{Name: strings.TrimSpace(it.Name), URL: strings.TrimSpace(u)}
		}
	}
	return out, nil
}

type groupItem struct {
	ID        ID     `json:"id"`
	Objective string `json:"objective"`
	Banners   []struct {
		ID ID `json:"id"`
	} `json:"banners"`
}

// GroupObjectives maps ad group ids to their declared objective.
func (c *Client) GroupObjectives(ctx context.Context, groupIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(groupIDs))
	for _, chunk := range chunks(groupIDs, pageSize) {
		q := url.Values{}
		q.Set("_id__in", strings.Join(chunk, ","))
		q.Set("fields", "id,objective")
		q.Set("limit", strconv.Itoa(len(chunk)))

		var p page[groupItem]
		if err := c.getJSON(ctx, "/api/v2/ad_groups.json", q, &p); err != nil {
			return out, fmt.Errorf("group objectives: %w", err)
		}
		for _, g := range p.Items {
			out[string(g.ID)] = g.Objective
		}
	}
	return out, nil
}

// BannersForCampaigns resolves campaigns to the creatives of their ad groups.
func (c *Client) BannersForCampaigns(ctx context.Context, campaignIDs []string) ([]string, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	var groupIDs []string
	for _, chunk := range chunks(campaignIDs, pageSize) {
		for offset := 0; ; offset += pageSize {
			q := url.Values{}
			q.Set("_id__in", strings.Join(chunk, ","))
			q.Set("fields", "id,ad_groups")
			q.Set("limit", strconv.Itoa(pageSize))
			q.Set("offset", strconv.Itoa(offset))

			var p page[struct {
				AdGroups []struct {
					ID ID `json:"id"`
				} `json:"ad_groups"`
			}]
			if err := c.getJSON(ctx, "/api/v2/ad_plans.json", q, &p); err != nil {
				return nil, fmt.Errorf("campaign groups: %w", err)
			}
			for _, plan := range p.Items {
				for _, g := range plan.AdGroups {
					if g.ID != "" {
						groupIDs = append(groupIDs, string(g.ID))
					}
				}
			}
			if len(p.Items) < pageSize {
				break
			}
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, chunk := range chunks(groupIDs, pageSize) {
		q := url.Values{}
		q.Set("_id__in", strings.Join(chunk, ","))
		q.Set("fields", "id,banners")
		q.Set("limit", strconv.Itoa(len(chunk)))

		var p page[groupItem]
		if err := c.getJSON(ctx, "/api/v2/ad_groups.json", q, &p); err != nil {
			return nil, fmt.Errorf("group creatives: %w", err)
		}
		for _, g := range p.Items {
			for _, b := range g.Banners {
				if id := string(b.ID); id != "" && !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
	}
	log.Debug().Int("campaigns", len(campaignIDs)).Int("groups", len(groupIDs)).Int("creatives", len(out)).Msg("resolved campaigns")
	return out, nil
}

// Suppress blocks delivery of the creative.
func (c *Client) Suppress(ctx context.Context, unitID string) error {
	return c.setStatus(ctx, unitID, StatusBlocked)
}

// Restore resumes delivery of the creative.
func (c *Client) Restore(ctx context.Context, unitID string) error {
	return c.setStatus(ctx, unitID, StatusActive)
}

func (c *Client) setStatus(ctx context.Context, unitID, status string) error {
	if c.opts.DryRun {
		log.Warn().Str("unit", unitID).Str("status", status).Msg("dry run: creative status not changed")
		return nil
	}
	path := "/api/v2/banners/" + url.PathEscape(unitID) + ".json"
	code, data, err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"status": status})
	if err != nil {
		return err
	}
	if code != http.StatusNoContent {
		return fmt.Errorf("set status %s on %s: %w: %d %s", status, unitID, ErrStatus, code, snippet(data))
	}
	return nil
}
