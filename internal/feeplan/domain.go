package feeplan

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/ledger"
)

// Template is the grade fee template keyed by (term, grade). A zero amount
// means the component is absent for that grade.
type Template struct {
	ID          int64
	TermID      int64
	GradeLabel  string
	GradeKey    string
	Tuition     decimal.Decimal
	Basic       decimal.Decimal
	Examination decimal.Decimal
	Transport   decimal.Decimal
	Library     decimal.Decimal
	Sports      decimal.Decimal
	Activity    decimal.Decimal
	Hostel      decimal.Decimal
	Uniform     decimal.Decimal
	Book        decimal.Decimal
	Other       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Component pairs a fee type with its template amount and display name.
type Component struct {
	Type   ledger.FeeType
	Name   string
	Amount decimal.Decimal
}

// Components returns the template's fee components in billing order. The
// order fixes the sequence numbers of generated line items.
func (t Template) Components() []Component {
	return []Component{
		{Type: ledger.FeeTuition, Name: "Tuition Fee", Amount: t.Tuition},
		{Type: ledger.FeeBasic, Name: "Basic Fee", Amount: t.Basic},
		{Type: ledger.FeeExamination, Name: "Examination Fee", Amount: t.Examination},
		{Type: ledger.FeeTransport, Name: "Transport Fee", Amount: t.Transport},
		{Type: ledger.FeeLibrary, Name: "Library Fee", Amount: t.Library},
		{Type: ledger.FeeSports, Name: "Sports Fee", Amount: t.Sports},
		{Type: ledger.FeeActivity, Name: "Activity Fee", Amount: t.Activity},
		{Type: ledger.FeeHostel, Name: "Hostel Fee", Amount: t.Hostel},
		{Type: ledger.FeeUniform, Name: "Uniform Fee", Amount: t.Uniform},
		{Type: ledger.FeeBook, Name: "Book Fee", Amount: t.Book},
		{Type: ledger.FeeOther, Name: "Other Fee", Amount: t.Other},
	}
}

// CreateTemplateInput carries fields for creating a template.
type CreateTemplateInput struct {
	TermID      int64
	GradeLabel  string
	Tuition     decimal.Decimal
	Basic       decimal.Decimal
	Examination decimal.Decimal
	Transport   decimal.Decimal
	Library     decimal.Decimal
	Sports      decimal.Decimal
	Activity    decimal.Decimal
	Hostel      decimal.Decimal
	Uniform     decimal.Decimal
	Book        decimal.Decimal
	Other       decimal.Decimal
}
