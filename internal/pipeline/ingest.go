package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/store"
)

// ContentHash is the idempotency hash of an import: the raw bytes, the
// account and the statement date, NUL separated.
func ContentHash(raw []byte, accountID string, statementDate civil.Date) string {
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte{0})
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(statementDate.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// Ingestor validates parsed statements and persists them exactly once.
type Ingestor struct {
	store     store.StatementStore
	publisher StatementPublisher
	now       func() time.Time
	newID     func() string
}

// NewIngestor creates an Ingestor. publisher may be nil.
func NewIngestor(st store.StatementStore, publisher StatementPublisher) *Ingestor {
	return &Ingestor{
		store:     st,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Ingest persists parsed as a bank statement of companyID. Re-importing the
// same content returns the existing statement without error. A statement
// whose balances do not add up is rejected with *parser.BalanceMismatchError
// and nothing is stored.
func (i *Ingestor) Ingest(ctx context.Context, companyID string, parsed *parser.ParsedStatement, source []byte) (*domain.BankStatement, error) {
	st, _, err := i.ingest(ctx, companyID, parsed, source)
	return st, err
}

// ingest also reports whether the statement already existed.
func (i *Ingestor) ingest(ctx context.Context, companyID string, parsed *parser.ParsedStatement, source []byte) (*domain.BankStatement, bool, error) {
	if companyID == "" {
		return nil, false, fmt.Errorf("Ingest: company ID is required")
	}
	log := logger.FromContext(ctx).With().
		Str("company_id", companyID).
		Str("account_id", parsed.AccountID).
		Str("statement_date", parsed.StatementDate.String()).
		Logger()

	if err := parsed.CheckBalance(); err != nil {
		log.Warn().Err(err).Msg("statement rejected")
		return nil, false, fmt.Errorf("Ingest: %w", err)
	}

	key := domain.StatementKey{
		CompanyID:     companyID,
		AccountID:     parsed.AccountID,
		StatementDate: parsed.StatementDate,
		ContentHash:   ContentHash(source, parsed.AccountID, parsed.StatementDate),
	}

	existing, err := i.store.FindStatementByKey(ctx, key)
	switch {
	case err == nil:
		log.Info().Str("statement_id", existing.ID).Msg("statement already imported")
		return existing, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, fmt.Errorf("Ingest: looking up statement: %w", err)
	}

	st, txs := i.build(companyID, key, parsed)
	if err := i.store.CreateStatement(ctx, st, txs); err != nil {
		if errors.Is(err, store.ErrDuplicateStatement) {
			existing, ferr := i.store.FindStatementByKey(ctx, key)
			if ferr != nil {
				return nil, false, fmt.Errorf("Ingest: loading concurrently imported statement: %w", ferr)
			}
			log.Info().Str("statement_id", existing.ID).Msg("statement imported concurrently")
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("Ingest: storing statement: %w", err)
	}

	log.Info().
		Str("statement_id", st.ID).
		Int("transactions", len(txs)).
		Msg("statement imported")

	if i.publisher != nil {
		if err := i.publisher.StatementIngested(ctx, st); err != nil {
			log.Error().Err(err).Str("statement_id", st.ID).Msg("failed to publish statement ingested event")
		}
	}
	return st, false, nil
}

func (i *Ingestor) build(companyID string, key domain.StatementKey, parsed *parser.ParsedStatement) (*domain.BankStatement, []domain.LedgerTransaction) {
	st := &domain.BankStatement{
		ID:             i.newID(),
		CompanyID:      companyID,
		BankName:       parsed.BankName,
		AccountID:      parsed.AccountID,
		StatementDate:  parsed.StatementDate,
		OpeningBalance: parsed.OpeningBalance,
		ClosingBalance: parsed.ClosingBalance,
		SourceFormat:   string(parsed.Format),
		ContentHash:    key.ContentHash,
		Status:         domain.StatementImported,
		TxCount:        len(parsed.Transactions),
		ImportedAt:     i.now(),
	}

	txs := make([]domain.LedgerTransaction, len(parsed.Transactions))
	for n, raw := range parsed.Transactions {
		txs[n] = domain.LedgerTransaction{
			ID:                    i.newID(),
			StatementID:           st.ID,
			CompanyID:             companyID,
			Index:                 n,
			BookingDate:           raw.BookingDate,
			ValueDate:             raw.ValueDate,
			Amount:                raw.Amount,
			Direction:             raw.Direction,
			Description:           raw.Description,
			CounterpartyName:      raw.CounterpartyName,
			CounterpartyReference: raw.Reference,
			MatchState:            domain.Unmatched,
		}
	}
	return st, txs
}
