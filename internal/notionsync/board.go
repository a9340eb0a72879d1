// Package notionsync mirrors reconciliation review items into a Notion
// database so that bookkeepers can work through them.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/jomei/notionapi"
)

// ReviewBoard syncs review items into one Notion database. A page is keyed
// by its transaction ID: re-syncing updates the page instead of adding a
// second one.
type ReviewBoard struct {
	client     NotionService
	databaseID string
	dryRun     bool
}

func NewReviewBoard(client NotionService, databaseID string, dryRun bool) *ReviewBoard {
	return &ReviewBoard{client: client, databaseID: databaseID, dryRun: dryRun}
}

// SyncStats counts what a sync did.
type SyncStats struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// SyncReviews creates or refreshes one page per review item. Failures of
// single pages are logged and counted; the sync goes on.
func (b *ReviewBoard) SyncReviews(ctx context.Context, companyID string, items []domain.ReviewItem) error {
	_, err := b.Sync(ctx, companyID, items)
	return err
}

// Sync is SyncReviews returning the counters.
func (b *ReviewBoard) Sync(ctx context.Context, companyID string, items []domain.ReviewItem) (SyncStats, error) {
	log := logger.FromContext(ctx)
	var stats SyncStats

	existing, err := b.pagesByTransaction(ctx)
	if err != nil {
		return stats, fmt.Errorf("SyncReviews: %w", err)
	}

	for _, item := range items {
		props := ReviewItemToNotionProperties(companyID, item)
		pageID, found := existing[item.TransactionID]

		if b.dryRun {
			log.Info().
				Str("transaction_id", item.TransactionID).
				Bool("update", found).
				Msg("[DRY RUN] Would sync review page")
			if found {
				stats.Updated++
			} else {
				stats.Created++
			}
			continue
		}

		if found {
			if _, err := b.client.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("transaction_id", item.TransactionID).Str("page_id", pageID).Msg("Failed to update review page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}

		page, err := b.client.CreatePage(ctx, b.databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", item.TransactionID).Msg("Failed to create review page")
			stats.Failed++
			continue
		}
		existing[item.TransactionID] = string(page.ID)
		stats.Created++
	}

	log.Info().
		Str("company_id", companyID).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Review sync completed")
	return stats, nil
}

// ResolveReviews archives the pages of transactions that no longer need a
// decision. Unknown transaction IDs are ignored.
func (b *ReviewBoard) ResolveReviews(ctx context.Context, transactionIDs []string) (SyncStats, error) {
	log := logger.FromContext(ctx)
	var stats SyncStats

	existing, err := b.pagesByTransaction(ctx)
	if err != nil {
		return stats, fmt.Errorf("ResolveReviews: %w", err)
	}

	for _, id := range transactionIDs {
		pageID, ok := existing[id]
		if !ok {
			continue
		}
		if b.dryRun {
			log.Info().Str("transaction_id", id).Msg("[DRY RUN] Would archive review page")
			stats.Archived++
			continue
		}
		if err := b.client.ArchivePage(ctx, pageID); err != nil {
			log.Warn().Err(err).Str("transaction_id", id).Str("page_id", pageID).Msg("Failed to archive review page")
			stats.Failed++
			continue
		}
		stats.Archived++
	}
	return stats, nil
}

// pagesByTransaction maps transaction IDs to page IDs over the whole
// database, following pagination.
func (b *ReviewBoard) pagesByTransaction(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := b.client.QueryDatabase(ctx, b.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("querying review database: %w", err)
		}
		for _, page := range resp.Results {
			if id := extractTransactionID(page); id != "" {
				out[id] = string(page.ID)
			}
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return out, nil
}
