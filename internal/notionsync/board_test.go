package notionsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/money"
	"github.com/jomei/notionapi"
)

// fakeNotion keeps pages in memory and pages query results two at a time.
type fakeNotion struct {
	pages     []notionapi.Page
	created   int
	updated   []string
	archived  []string
	createErr error
	queries   int
}

func (f *fakeNotion) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	txID := props[propTransactionID].(notionapi.RichTextProperty).RichText[0].Text.Content
	page := notionapi.Page{
		ID: notionapi.ObjectID(fmt.Sprintf("page-%d", len(f.pages)+1)),
		Properties: notionapi.Properties{
			propTransactionID: &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
		},
	}
	f.pages = append(f.pages, page)
	return &page, nil
}

func (f *fakeNotion) UpdatePage(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
	f.updated = append(f.updated, pageID)
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.queries++
	start := 0
	if req.StartCursor != "" {
		fmt.Sscanf(string(req.StartCursor), "%d", &start)
	}
	end := min(start+2, len(f.pages))
	resp := &notionapi.DatabaseQueryResponse{Results: f.pages[start:end]}
	if end < len(f.pages) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(fmt.Sprintf("%d", end))
	}
	return resp, nil
}

func (f *fakeNotion) ArchivePage(ctx context.Context, pageID string) error {
	f.archived = append(f.archived, pageID)
	return nil
}

func review(txID string) domain.ReviewItem {
	return domain.ReviewItem{
		TransactionID: txID,
		Amount:        money.New(25000, "EUR"),
		BookingDate:   civil.Date{Year: 2024, Month: 1, Day: 15},
		Description:   "Zahlung " + txID,
		Candidates: []domain.ReviewCandidate{
			{InvoiceID: "inv-1", InvoiceNumber: "INV-0042", ClientName: "Muster GmbH", Score: 7250},
		},
	}
}

func TestSyncReviews_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake := &fakeNotion{}
	board := NewReviewBoard(fake, "db", false)
	items := []domain.ReviewItem{review("tx-1"), review("tx-2"), review("tx-3")}

	stats, err := board.Sync(ctx, "company-1", items)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Created != 3 || stats.Updated != 0 {
		t.Errorf("first sync = %+v", stats)
	}

	stats, err = board.Sync(ctx, "company-1", items)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 0 || stats.Updated != 3 {
		t.Errorf("second sync = %+v, want 3 updates", stats)
	}
	if len(fake.pages) != 3 {
		t.Errorf("pages = %d, want 3", len(fake.pages))
	}
}

func TestSyncReviews_DryRun(t *testing.T) {
	fake := &fakeNotion{}
	stats, err := NewReviewBoard(fake, "db", true).Sync(context.Background(), "company-1", []domain.ReviewItem{review("tx-1")})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 1 || fake.created != 0 {
		t.Errorf("dry run stats = %+v, pages created = %d", stats, fake.created)
	}
}

func TestSyncReviews_PageFailureContinues(t *testing.T) {
	fake := &fakeNotion{createErr: errors.New("rate limited")}
	stats, err := NewReviewBoard(fake, "db", false).Sync(context.Background(), "company-1", []domain.ReviewItem{review("tx-1"), review("tx-2")})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
}

func TestResolveReviews(t *testing.T) {
	ctx := context.Background()
	fake := &fakeNotion{}
	board := NewReviewBoard(fake, "db", false)
	_, _ = board.Sync(ctx, "company-1", []domain.ReviewItem{review("tx-1"), review("tx-2")})

	stats, err := board.ResolveReviews(ctx, []string{"tx-2", "tx-unknown"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Archived != 1 || len(fake.archived) != 1 || fake.archived[0] != "page-2" {
		t.Errorf("stats = %+v, archived = %v", stats, fake.archived)
	}
}

func TestReviewItemToNotionProperties(t *testing.T) {
	props := ReviewItemToNotionProperties("company-1", review("tx-1"))

	cands := props[propCandidates].(notionapi.RichTextProperty).RichText[0].Text.Content
	if cands != "INV-0042 Muster GmbH (72.50%)" {
		t.Errorf("candidates = %q", cands)
	}
	if got := props[propTopScore].(notionapi.NumberProperty).Number; got != 72.5 {
		t.Errorf("top score = %v", got)
	}
	if got := props[propAmount].(notionapi.RichTextProperty).RichText[0].Text.Content; got != "250.00 EUR" {
		t.Errorf("amount = %q", got)
	}
	if _, ok := props[propBookingDate]; !ok {
		t.Error("booking date missing")
	}

	item := review("tx-2")
	item.Description = ""
	item.Candidates = nil
	props = ReviewItemToNotionProperties("company-1", item)
	if title := props[propTitle].(notionapi.TitleProperty).Title[0].Text.Content; title != "tx-2" {
		t.Errorf("title = %q, want transaction ID fallback", title)
	}
	if _, ok := props[propTopScore]; ok {
		t.Error("top score set without candidates")
	}
}
