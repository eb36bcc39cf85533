package app

import (
	"fmt"

	"docchat/pkg/domain"
)

// BillingSummary is the usage view: lifetime totals plus recent entries.
type BillingSummary struct {
	Totals domain.UsageTotals `json:"totals"`
	Recent []domain.UsageLog  `json:"recent"`
}

// Billing aggregates the user's usage ledger.
func (a *App) Billing(userID string, recentLimit int) (BillingSummary, error) {
	if recentLimit <= 0 || recentLimit > 500 {
		recentLimit = 100
	}
	totals, err := a.store.UsageTotals(userID)
	if err != nil {
		return BillingSummary{}, fmt.Errorf("usage totals: %w", err)
	}
	recent, err := a.store.ListUsageLogs(userID, recentLimit)
	if err != nil {
		return BillingSummary{}, fmt.Errorf("list usage: %w", err)
	}
	return BillingSummary{Totals: totals, Recent: recent}, nil
}
