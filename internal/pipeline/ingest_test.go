package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dvloznov/taxledger/internal/domain"
	"github.com/dvloznov/taxledger/internal/parser"
	"github.com/dvloznov/taxledger/internal/store/memory"
)

const header = "Konto;Buchungstag;Valuta;Betrag;Verwendungszweck;Referenz;Auftraggeber/Empfänger;Saldo;Währung\n"

const inv0042CSV = header +
	"DE89370400440532013000;15.01.2024;15.01.2024;250,00;Zahlung Rechnung INV-0042;INV-0042;Muster GmbH;1.250,00;EUR\n"

// Second row claims 1.100,00 where 1.200,00 is expected.
const brokenBalanceCSV = header +
	"DE89370400440532013000;15.01.2024;15.01.2024;250,00;Zahlung;;Muster GmbH;1.250,00;EUR\n" +
	"DE89370400440532013000;16.01.2024;16.01.2024;-50,00;Gebühr;;Bank;1.100,00;EUR\n"

// mockPublisher records published statements.
type mockPublisher struct {
	mu        sync.Mutex
	published []string
	onPublish func()
	err       error
}

func (m *mockPublisher) StatementIngested(ctx context.Context, st *domain.BankStatement) error {
	m.mu.Lock()
	m.published = append(m.published, st.ID)
	m.mu.Unlock()
	if m.onPublish != nil {
		m.onPublish()
	}
	return m.err
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func parse(t *testing.T, raw string) *parser.ParsedStatement {
	t.Helper()
	ps, err := parser.NewRegistry(parser.DefaultConfig()).Parse([]byte(raw), "CSV")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return ps
}

func TestIngest_INV0042(t *testing.T) {
	st := memory.New()
	pub := &mockPublisher{}
	ing := NewIngestor(st, pub)

	got, err := ing.Ingest(context.Background(), "company-1", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got.ClosingBalance.Minor != 125000 || got.OpeningBalance.Minor != 100000 {
		t.Errorf("balances = %v / %v, want 1000.00 / 1250.00", got.OpeningBalance, got.ClosingBalance)
	}
	if got.StatementDate.String() != "2024-01-15" {
		t.Errorf("StatementDate = %s, want 2024-01-15", got.StatementDate)
	}

	txs, err := st.ListTransactions(context.Background(), "company-1", got.ID)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("len(txs) = %d, want 1", len(txs))
	}
	tx := txs[0]
	if tx.Amount.Minor != 25000 || tx.Direction != domain.Credit || tx.MatchState != domain.Unmatched {
		t.Errorf("transaction = %+v", tx)
	}
	if tx.CounterpartyReference != "INV-0042" {
		t.Errorf("CounterpartyReference = %q, want INV-0042", tx.CounterpartyReference)
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestIngest_Idempotent(t *testing.T) {
	st := memory.New()
	pub := &mockPublisher{}
	ing := NewIngestor(st, pub)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, "company-1", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	second, err := ing.Ingest(ctx, "company-1", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("re-import returned %s, want existing %s", second.ID, first.ID)
	}

	stmts, _ := st.ListStatements(ctx, "company-1")
	if len(stmts) != 1 {
		t.Errorf("stored %d statements, want 1", len(stmts))
	}
	txs, _ := st.ListTransactions(ctx, "company-1", first.ID)
	if len(txs) != 1 {
		t.Errorf("stored %d transactions, want 1", len(txs))
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestIngest_SameContentOtherCompany(t *testing.T) {
	st := memory.New()
	ing := NewIngestor(st, nil)
	ctx := context.Background()

	a, err := ing.Ingest(ctx, "company-a", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ing.Ingest(ctx, "company-b", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("companies must not share a statement")
	}
}

func TestIngest_BalanceMismatchPersistsNothing(t *testing.T) {
	st := memory.New()
	pub := &mockPublisher{}
	ing := NewIngestor(st, pub)

	_, err := ing.Ingest(context.Background(), "company-1", parse(t, brokenBalanceCSV), []byte(brokenBalanceCSV))
	var mismatch *parser.BalanceMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Ingest() error = %v, want *parser.BalanceMismatchError", err)
	}

	stmts, _ := st.ListStatements(context.Background(), "company-1")
	if len(stmts) != 0 {
		t.Errorf("stored %d statements after rejected import, want 0", len(stmts))
	}
	if pub.count() != 0 {
		t.Errorf("published %d events, want 0", pub.count())
	}
}

func TestIngest_ConcurrentDuplicate(t *testing.T) {
	st := memory.New()
	pub := &mockPublisher{}
	ing := NewIngestor(st, pub)
	ps := parse(t, inv0042CSV)

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := ing.Ingest(context.Background(), "company-1", ps, []byte(inv0042CSV))
			errs[i] = err
			if got != nil {
				ids[i] = got.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got statement %s, want %s", i, ids[i], ids[0])
		}
	}
	stmts, _ := st.ListStatements(context.Background(), "company-1")
	if len(stmts) != 1 {
		t.Errorf("stored %d statements, want 1", len(stmts))
	}
	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestIngest_PublishFailureKeepsStatement(t *testing.T) {
	st := memory.New()
	ing := NewIngestor(st, &mockPublisher{err: errors.New("broker down")})

	got, err := ing.Ingest(context.Background(), "company-1", parse(t, inv0042CSV), []byte(inv0042CSV))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := st.GetStatement(context.Background(), "company-1", got.ID); err != nil {
		t.Errorf("GetStatement() error = %v", err)
	}
}

func TestContentHash(t *testing.T) {
	d := parse(t, inv0042CSV).StatementDate
	h1 := ContentHash([]byte("abc"), "DE1", d)
	h2 := ContentHash([]byte("abc"), "DE2", d)
	h3 := ContentHash([]byte("ab"), "cDE1", d)
	if h1 == h2 || h1 == h3 {
		t.Error("hash must separate raw bytes, account and date")
	}
	if len(h1) != 64 {
		t.Errorf("len(hash) = %d, want 64", len(h1))
	}
}
