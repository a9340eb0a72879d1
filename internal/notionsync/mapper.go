package notionsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the review database.
const (
	propTitle         = "Transaction"
	propTransactionID = "Transaction ID"
	propCompany       = "Company"
	propAmount        = "Amount"
	propBookingDate   = "Booking Date"
	propCandidates    = "Candidates"
	propTopScore      = "Top Score"
	propStatus        = "Status"
)

// StatusOpen is the status select value of a fresh review page.
const StatusOpen = "Open"

// ReviewItemToNotionProperties converts a manual-review item to the
// properties of one page. The page title is the transaction description;
// the transaction ID property makes syncs idempotent.
func ReviewItemToNotionProperties(companyID string, item domain.ReviewItem) notionapi.Properties {
	title := item.Description
	if title == "" {
		title = item.TransactionID
	}
	props := notionapi.Properties{
		propTitle: notionapi.TitleProperty{
			Title: richText(title),
		},
		propTransactionID: notionapi.RichTextProperty{
			RichText: richText(item.TransactionID),
		},
		propCompany: notionapi.SelectProperty{
			Select: notionapi.Option{Name: companyID},
		},
		propAmount: notionapi.RichTextProperty{
			RichText: richText(item.Amount.String()),
		},
		propCandidates: notionapi.RichTextProperty{
			RichText: richText(formatCandidates(item.Candidates)),
		},
		propStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: StatusOpen},
		},
	}

	if item.BookingDate.IsValid() {
		d := notionapi.Date(item.BookingDate.In(time.UTC))
		props[propBookingDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	if len(item.Candidates) > 0 {
		props[propTopScore] = notionapi.NumberProperty{
			Number: float64(item.Candidates[0].Score) / 100,
		}
	}

	return props
}

// formatCandidates renders one line per candidate, e.g.
// "INV-0042 Muster GmbH (72.50%)".
func formatCandidates(cs []domain.ReviewCandidate) string {
	lines := make([]string, 0, len(cs))
	for _, c := range cs {
		lines = append(lines, fmt.Sprintf("%s %s (%d.%02d%%)", c.InvoiceNumber, c.ClientName, c.Score/100, c.Score%100))
	}
	return strings.Join(lines, "\n")
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// extractTransactionID reads the transaction ID property of a page.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[propTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
