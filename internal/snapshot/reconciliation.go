package snapshot

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// BillingStatement is one externally-imported statement line, read from
// the workspace's reconciliation_statements.json. Nothing in this
// codebase emits these; an operator drops them in after pulling a
// provider's monthly invoice or usage export. total_tokens is a pointer
// because not every provider's statement breaks usage out by token
// count, only by cost.
type BillingStatement struct {
	Provider     string     `json:"provider"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    time.Time  `json:"period_end"`
	TotalTokens  *int       `json:"total_tokens,omitempty"`
	CostUSD      float64    `json:"cost_usd"`
}

// ReconciliationRow compares one provider's internally-recorded rollup
// against an externally-imported statement covering the same period.
type ReconciliationRow struct {
	Provider      string   `json:"provider"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	InternalTokens int     `json:"internal_tokens"`
	InternalCostUSD float64 `json:"internal_cost_usd"`
	StatementTokens *int    `json:"statement_tokens,omitempty"`
	StatementCostUSD float64 `json:"statement_cost_usd"`
	TokenDelta      *int    `json:"token_delta,omitempty"`
	CostDeltaUSD    float64 `json:"cost_delta_usd"`
	CostDeltaPct    float64 `json:"cost_delta_pct"`
}

// BuildReconciliation joins internal per-provider rollups (restricted to
// runs created within [periodStart, periodEnd)) against any imported
// billing statements whose own period overlaps the same window.
func BuildReconciliation(ws *workspace.Workspace, ix *index.Index, periodStart, periodEnd time.Time) ([]ReconciliationRow, error) {
	statements, err := readBillingStatements(ws)
	if err != nil {
		return nil, err
	}

	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	internalByProvider := make(map[string]*ProviderRollup)
	for _, projectID := range projectIDs {
		runs, err := ix.ListRuns(projectID)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			if r.CreatedAt.Before(periodStart) || !r.CreatedAt.Before(periodEnd) {
				continue
			}
			provider := r.Provider
			if provider == "" {
				provider = "unknown"
			}
			p, ok := internalByProvider[provider]
			if !ok {
				p = &ProviderRollup{Provider: provider}
				internalByProvider[provider] = p
			}
			p.RunCount++
			p.TotalTokens += r.TotalTokens
			if r.CostUSD != nil {
				p.TotalCostUSD += *r.CostUSD
			}
		}
	}

	statementsByProvider := make(map[string]*BillingStatement)
	for i := range statements {
		s := &statements[i]
		if s.PeriodEnd.Before(periodStart) || s.PeriodStart.After(periodEnd) {
			continue
		}
		statementsByProvider[s.Provider] = s
	}

	providers := make(map[string]struct{})
	for p := range internalByProvider {
		providers[p] = struct{}{}
	}
	for p := range statementsByProvider {
		providers[p] = struct{}{}
	}

	var rows []ReconciliationRow
	for provider := range providers {
		row := ReconciliationRow{Provider: provider, PeriodStart: periodStart, PeriodEnd: periodEnd}
		if internal, ok := internalByProvider[provider]; ok {
			row.InternalTokens = internal.TotalTokens
			row.InternalCostUSD = internal.TotalCostUSD
		}
		if statement, ok := statementsByProvider[provider]; ok {
			row.StatementTokens = statement.TotalTokens
			row.StatementCostUSD = statement.CostUSD
			if statement.TotalTokens != nil {
				delta := row.InternalTokens - *statement.TotalTokens
				row.TokenDelta = &delta
			}
			row.CostDeltaUSD = row.InternalCostUSD - statement.CostUSD
			if statement.CostUSD != 0 {
				row.CostDeltaPct = 100 * row.CostDeltaUSD / statement.CostUSD
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Provider < rows[j].Provider })
	return rows, nil
}

func readBillingStatements(ws *workspace.Workspace) ([]BillingStatement, error) {
	data, err := os.ReadFile(ws.ReconciliationStatements())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var statements []BillingStatement
	if err := json.Unmarshal(data, &statements); err != nil {
		return nil, err
	}
	return statements, nil
}
