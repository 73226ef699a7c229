package quota

import (
	"fmt"
	"time"

	"digestly/pkg/domain"
	"digestly/pkg/store"
)

// Ledger enforces per-account monthly usage limits backed by the store's
// usage counters.
type Ledger struct {
	store store.Store
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Limit   int
	Current int
}

// NewLedger creates a quota ledger.
func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// PeriodKey formats the monthly usage window for a point in time, in UTC so
// the window boundary does not depend on server locale.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Check reports whether the account may consume one more unit of the field
// in the current period. A zero limit always denies, including for usage
// that has never been recorded. Read failures deny rather than letting an
// account run unmetered.
func (l *Ledger) Check(accountID string, tier domain.TierProfile, field string) (Decision, error) {
	limit := tier.LimitFor(field)
	if limit <= 0 {
		return Decision{Allowed: false, Limit: limit}, nil
	}
	current, err := l.store.GetUsage(accountID, PeriodKey(time.Now()), field)
	if err != nil {
		return Decision{Allowed: false, Limit: limit}, fmt.Errorf("read usage: %w", err)
	}
	return Decision{
		Allowed: current < limit,
		Limit:   limit,
		Current: current,
	}, nil
}

// Remaining returns how many units of the field the account can still use
// this period. Used to cap batch submissions before fan-out.
func (l *Ledger) Remaining(accountID string, tier domain.TierProfile, field string) (int, error) {
	limit := tier.LimitFor(field)
	if limit <= 0 {
		return 0, nil
	}
	current, err := l.store.GetUsage(accountID, PeriodKey(time.Now()), field)
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Record consumes one unit of the field for the current period. The store
// increment is a single atomic upsert, so concurrent submissions never lose
// counts.
func (l *Ledger) Record(accountID, field string) error {
	if err := l.store.IncrementUsage(accountID, PeriodKey(time.Now()), field); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}
