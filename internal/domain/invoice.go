package domain

import (
	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/money"
)

// InvoiceStatus mirrors the invoicing module's status field.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// InvoiceKind tells whether the company expects money in or out.
type InvoiceKind string

const (
	Receivable InvoiceKind = "receivable"
	Payable    InvoiceKind = "payable"
)

// Invoice is owned by the invoicing module; the core only reads it and flips
// open invoices to paid when a payment is matched.
type Invoice struct {
	ID            string        `json:"id"`
	CompanyID     string        `json:"company_id"`
	InvoiceNumber string        `json:"invoice_number"`
	ClientName    string        `json:"client_name"`
	Kind          InvoiceKind   `json:"kind"`
	Date          civil.Date    `json:"date"`
	DueDate       civil.Date    `json:"due_date"`
	NetAmount     money.Money   `json:"net_amount"`
	VATRate       string        `json:"vat_rate"`
	VATAmount     money.Money   `json:"vat_amount"`
	TotalAmount   money.Money   `json:"total_amount"`
	Status        InvoiceStatus `json:"status"`
}

// IsOpen reports whether the invoice can still be settled by a payment.
func (i *Invoice) IsOpen() bool {
	return i.Status != InvoicePaid && i.Status != InvoiceCancelled
}

// ExpectedPayment is the signed bank amount that settles the invoice.
func (i *Invoice) ExpectedPayment() money.Money {
	if i.Kind == Payable {
		return i.TotalAmount.Neg()
	}
	return i.TotalAmount
}
