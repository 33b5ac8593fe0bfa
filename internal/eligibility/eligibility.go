// Package eligibility narrows the creatives of an account run using the
// account's allow/deny lists and the manual-override bypass.
package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// IDs decodes a JSON array of ids given as strings or numbers.
type IDs []string

func (ids *IDs) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(IDs, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(r, &n); err == nil {
			out = append(out, n.String())
		}
	}
	*ids = out
	return nil
}

// Lists is the on-disk allow/deny list shape.
type Lists struct {
	CampaignIDs IDs `json:"campaign_ids"`
	BannerIDs   IDs `json:"banner_ids"`
}

func (l Lists) Empty() bool { return len(l.CampaignIDs) == 0 && len(l.BannerIDs) == 0 }

// LoadLists reads a list file. An absent file is an empty list.
func LoadLists(path string) (Lists, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Lists{}, nil
	}
	if err != nil {
		return Lists{}, fmt.Errorf("read list %s: %w", path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Lists{}, nil
	}
	var l Lists
	if err := json.Unmarshal(b, &l); err != nil {
		return Lists{}, fmt.Errorf("decode list %s: %w", path, err)
	}
	return l, nil
}

// Resolver expands campaigns to the creatives of their ad groups.
type Resolver interface {
	BannersForCampaigns(ctx context.Context, campaignIDs []string) ([]string, error)
}

type set map[string]struct{}

func newSet(lists ...[]string) set {
	s := set{}
	for _, l := range lists {
		for _, v := range l {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}

// Filter is the resolved eligibility of one account run.
type Filter struct {
	deny             set
	allow            set
	allowConfigured  bool
	bypassSuppressed bool
}

// Build resolves both lists. Campaign resolution errors are returned: a
// deny list that cannot be resolved cannot be honoured.
func Build(ctx context.Context, allow, deny Lists, r Resolver, manualOverride bool) (*Filter, error) {
	denyIDs, err := resolve(ctx, deny, r)
	if err != nil {
		return nil, fmt.Errorf("resolve deny list: %w", err)
	}
	f := &Filter{
		deny:             newSet(denyIDs),
		allowConfigured:  !allow.Empty(),
		bypassSuppressed: manualOverride,
	}
	if f.allowConfigured {
		allowIDs, err := resolve(ctx, allow, r)
		if err != nil {
			return nil, fmt.Errorf("resolve allow list: %w", err)
		}
		f.allow = newSet(allowIDs)
	}
	return f, nil
}

func resolve(ctx context.Context, l Lists, r Resolver) ([]string, error) {
	ids := append([]string(nil), l.BannerIDs...)
	if len(l.CampaignIDs) == 0 || r == nil {
		return ids, nil
	}
	resolved, err := r.BannersForCampaigns(ctx, l.CampaignIDs)
	if err != nil {
		return nil, err
	}
	return append(ids, resolved...), nil
}

// AllowsNothing is true when an allow list is configured but resolves to no
// creative at all; the whole account run is then a no-op.
func (f *Filter) AllowsNothing() bool {
	return f.allowConfigured && len(f.allow) == 0
}

// IsEligible reports whether the creative may be evaluated this run.
// suppressedByUs tells whether it is present in the suppression ledger.
func (f *Filter) IsEligible(unitID string, suppressedByUs bool) bool {
	if f.deny.has(unitID) {
		return false
	}
	if f.allowConfigured && !f.allow.has(unitID) {
		return false
	}
	if f.bypassSuppressed && suppressedByUs {
		return false
	}
	return true
}

// Size returns the number of resolved deny and allow entries.
func (f *Filter) Size() (deny, allow int) { return len(f.deny), len(f.allow) }
