package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/feeplan"
	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/students"
)

// GenerateItems expands a fee template into line items for one student.
// Components are billed whenever their amount is positive, transport only
// for students who actually use transport. Every generated item is
// mandatory and auto generated; sequence numbers follow emission order
// starting at 1.
func GenerateItems(tpl feeplan.Template, student students.Student, dueDate, today time.Time) []ledger.FeeLineItem {
	var items []ledger.FeeLineItem
	seq := 0
	for _, c := range tpl.Components() {
		if !c.Amount.IsPositive() {
			continue
		}
		if c.Type == ledger.FeeTransport && !student.UsesTransport() {
			continue
		}
		seq++
		original := shared.RoundMoney(c.Amount)
		items = append(items, ledger.FeeLineItem{
			Name:          c.Name,
			Type:          c.Type,
			Original:      original,
			Paid:          decimal.Zero,
			Pending:       original,
			DueDate:       dueDate,
			Mandatory:     true,
			AutoGenerated: true,
			Sequence:      seq,
			Status:        ledger.DeriveItemStatus(decimal.Zero, original, dueDate, today),
		})
	}
	return items
}
