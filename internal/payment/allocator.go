package payment

import (
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/ledger"
)

// application is one item-level allocation awaiting persistence.
type application struct {
	item      UnpaidItem
	applied   decimal.Decimal
	newPaid   decimal.Decimal
	newStatus ledger.ItemStatus
}

// allocate walks the items in allocation order and applies
// min(remaining, pending) to each until the amount is exhausted. Pure: the
// caller persists the returned applications. Amounts are already rounded to
// 2 decimal places by the caller.
func allocate(items []UnpaidItem, amount decimal.Decimal) ([]application, decimal.Decimal) {
	SortForAllocation(items)

	remaining := amount
	var applications []application
	for _, item := range items {
		if !remaining.IsPositive() {
			break
		}
		if !item.Pending.IsPositive() {
			continue
		}
		applied := remaining
		if item.Pending.LessThan(applied) {
			applied = item.Pending
		}
		newPaid := item.Paid.Add(applied)
		newStatus := ledger.ItemPartial
		if newPaid.GreaterThanOrEqual(item.Original) {
			newStatus = ledger.ItemPaid
		}
		applications = append(applications, application{
			item:      item,
			applied:   applied,
			newPaid:   newPaid,
			newStatus: newStatus,
		})
		remaining = remaining.Sub(applied)
	}
	return applications, remaining
}
