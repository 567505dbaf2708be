// Package usecase contains application business logic services: admission
// control, the credit ledger, job lifecycle operations and the pipeline
// runners.
package usecase

import (
	"errors"
	"fmt"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/observability"
)

// CancelRefund is the fixed credit refund on any cancellation, regardless of
// the job's original cost.
const CancelRefund = 1

// ScrapeCost prices a scrape by post limit and time window. Small scrapes
// (limit <= 10) cost a flat 1.
func ScrapeCost(limit int, timeFilter string) int {
	if limit <= 10 {
		return 1
	}
	tier := 4
	switch {
	case limit <= 50:
		tier = 1
	case limit <= 100:
		tier = 2
	case limit <= 200:
		tier = 3
	}
	mult := 1
	switch timeFilter {
	case "month":
		mult = 2
	case "year":
		mult = 3
	case "all":
		mult = 4
	}
	return tier * (mult + 1)
}

// AnalysisCost prices an analysis run. First-time analysis is free.
func AnalysisCost(regenerate bool) int {
	if regenerate {
		return 1
	}
	return 0
}

// RecommendationsCost prices a recommendations run.
func RecommendationsCost(regenerate bool) int {
	if regenerate {
		return 1
	}
	return 2
}

// InsufficientCreditsError carries the amounts for the user-facing response.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Unwrap ties the structured error to the sentinel for errors.Is checks.
func (e *InsufficientCreditsError) Unwrap() error { return domain.ErrInsufficientCredits }

// CreditLedger is the contract over the store's two credit primitives. It
// never reads-then-writes: every debit is the store's compare-and-update.
type CreditLedger struct {
	Users domain.UserRepository
}

// NewCreditLedger constructs a CreditLedger.
func NewCreditLedger(users domain.UserRepository) CreditLedger {
	return CreditLedger{Users: users}
}

// Debit takes cost from the user or fails with InsufficientCreditsError
// carrying the current balance. A zero cost is a plain read.
func (l CreditLedger) Debit(ctx domain.Context, userID string, cost int) (domain.User, error) {
	if cost < 0 {
		return domain.User{}, fmt.Errorf("op=ledger.debit: negative cost %d: %w", cost, domain.ErrInvalidArgument)
	}
	if cost == 0 {
		return l.Users.Find(ctx, userID)
	}
	u, err := l.Users.DebitCredits(ctx, userID, cost)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			cur, ferr := l.Users.Find(ctx, userID)
			if ferr != nil {
				return domain.User{}, ferr
			}
			return domain.User{}, &InsufficientCreditsError{Required: cost, Available: cur.Credits}
		}
		return domain.User{}, err
	}
	observability.CreditsDebitedTotal.Add(float64(cost))
	return u, nil
}

// Refund adds amount back unconditionally and returns the new balance.
func (l CreditLedger) Refund(ctx domain.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("op=ledger.refund: non-positive amount %d: %w", amount, domain.ErrInvalidArgument)
	}
	credits, err := l.Users.CreditCredits(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	observability.CreditsRefundedTotal.Add(float64(amount))
	return credits, nil
}
