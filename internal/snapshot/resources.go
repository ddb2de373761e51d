package snapshot

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// ProviderRollup is one provider's totals across every project in the
// workspace. There is no per-model breakdown here: no upstream component
// (workspace.RunSpec, workspace.Usage, the session launcher) attaches a
// model identifier to a run, only a provider name, so a model-level
// rollup has nothing to group by.
type ProviderRollup struct {
	Provider         string  `json:"provider"`
	RunCount         int     `json:"run_count"`
	TotalTokens      int     `json:"total_tokens"`
	TotalTokensHuman string  `json:"total_tokens_human"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TotalCostHuman   string  `json:"total_cost_human"`
}

// ResourceSnapshot is the workspace-wide resource view: grand totals
// plus a per-provider breakdown, sorted by total cost descending.
type ResourceSnapshot struct {
	TotalRuns        int              `json:"total_runs"`
	TotalTokens      int              `json:"total_tokens"`
	TotalTokensHuman string           `json:"total_tokens_human"`
	TotalCostUSD     float64          `json:"total_cost_usd"`
	TotalCostHuman   string           `json:"total_cost_human"`
	ByProvider       []ProviderRollup `json:"by_provider"`
}

// BuildResourceSnapshot rolls up run token/cost usage across every
// project and provider in the workspace.
func BuildResourceSnapshot(ws *workspace.Workspace, ix *index.Index) (*ResourceSnapshot, error) {
	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]*ProviderRollup)
	snap := &ResourceSnapshot{}
	for _, projectID := range projectIDs {
		runs, err := ix.ListRuns(projectID)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			snap.TotalRuns++
			snap.TotalTokens += r.TotalTokens
			if r.CostUSD != nil {
				snap.TotalCostUSD += *r.CostUSD
			}

			provider := r.Provider
			if provider == "" {
				provider = "unknown"
			}
			p, ok := byProvider[provider]
			if !ok {
				p = &ProviderRollup{Provider: provider}
				byProvider[provider] = p
			}
			p.RunCount++
			p.TotalTokens += r.TotalTokens
			if r.CostUSD != nil {
				p.TotalCostUSD += *r.CostUSD
			}
		}
	}

	for _, p := range byProvider {
		p.TotalTokensHuman = humanize.Comma(int64(p.TotalTokens))
		p.TotalCostHuman = fmt.Sprintf("$%s", humanize.Commaf(p.TotalCostUSD))
		snap.ByProvider = append(snap.ByProvider, *p)
	}
	sort.Slice(snap.ByProvider, func(i, j int) bool {
		a, b := snap.ByProvider[i], snap.ByProvider[j]
		if a.TotalCostUSD != b.TotalCostUSD {
			return a.TotalCostUSD > b.TotalCostUSD
		}
		return a.Provider < b.Provider
	})
	snap.TotalTokensHuman = humanize.Comma(int64(snap.TotalTokens))
	snap.TotalCostHuman = fmt.Sprintf("$%s", humanize.Commaf(snap.TotalCostUSD))
	return snap, nil
}
