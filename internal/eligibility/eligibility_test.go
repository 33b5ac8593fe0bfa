package eligibility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	byCampaign map[string][]string
	err        error
	calls      int
}

func (f *fakeResolver) BannersForCampaigns(_ context.Context, ids []string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, id := range ids {
		out = append(out, f.byCampaign[id]...)
	}
	return out, nil
}

func TestLoadLists(t *testing.T) {
	dir := t.TempDir()

	l, err := LoadLists(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.True(t, l.Empty())

	p := filepath.Join(dir, "allow.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"campaign_ids":[10, "11"],"banner_ids":["1", 2, " "],"comment":"x"}`), 0o644))
	l, err = LoadLists(p)
	require.NoError(t, err)
	assert.Equal(t, IDs{"10", "11"}, l.CampaignIDs)
	assert.Equal(t, IDs{"1", "2"}, l.BannerIDs)

	require.NoError(t, os.WriteFile(p, []byte(`{"banner_ids": {}}`), 0o644))
	_, err = LoadLists(p)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	r := &fakeResolver{byCampaign: map[string][]string{"c1": {"10", "11"}, "c2": {"20"}}}
	ctx := context.Background()

	tests := []struct {
		name       string
		allow      Lists
		deny       Lists
		override   bool
		unit       string
		suppressed bool
		want       bool
	}{
		{"no lists", Lists{}, Lists{}, false, "1", false, true},
		{"denied directly", Lists{}, Lists{BannerIDs: IDs{"1"}}, false, "1", false, false},
		{"denied via campaign", Lists{}, Lists{CampaignIDs: IDs{"c1"}}, false, "11", false, false},
		{"deny beats allow", Lists{BannerIDs: IDs{"10"}}, Lists{CampaignIDs: IDs{"c1"}}, false, "10", false, false},
		{"allowed via campaign", Lists{CampaignIDs: IDs{"c2"}}, Lists{}, false, "20", false, true},
		{"not in allow list", Lists{CampaignIDs: IDs{"c2"}}, Lists{}, false, "10", false, false},
		{"override skips suppressed", Lists{}, Lists{}, true, "1", true, false},
		{"override keeps others", Lists{}, Lists{}, true, "1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Build(ctx, tt.allow, tt.deny, r, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.IsEligible(tt.unit, tt.suppressed))
			assert.False(t, f.AllowsNothing())
		})
	}
}

func TestAllowListResolvingToNothing(t *testing.T) {
	r := &fakeResolver{byCampaign: map[string][]string{}}
	f, err := Build(context.Background(), Lists{CampaignIDs: IDs{"gone"}}, Lists{}, r, false)
	require.NoError(t, err)
	assert.True(t, f.AllowsNothing())
	assert.False(t, f.IsEligible("1", false))
}

func TestBuildResolutionError(t *testing.T) {
	r := &fakeResolver{err: errors.New("boom")}
	_, err := Build(context.Background(), Lists{}, Lists{CampaignIDs: IDs{"c"}}, r, false)
	assert.ErrorContains(t, err, "deny")

	_, err = Build(context.Background(), Lists{CampaignIDs: IDs{"c"}}, Lists{}, r, false)
	assert.ErrorContains(t, err, "allow")

	f, err := Build(context.Background(), Lists{BannerIDs: IDs{"1"}}, Lists{BannerIDs: IDs{"2"}}, r, false)
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls, "no campaign lookups without campaign ids")
	assert.True(t, f.IsEligible("1", false))
}
