package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasal/backend/internal/domain"
	"pasal/backend/internal/store"
)

func fixture() *Store {
	s := New()
	s.PutCompany(
		domain.Company{ID: "c1", Name: "Test Co"},
		domain.FiscalYear{ID: "fy1", CompanyID: "c1", Name: "2081/82", Active: true},
		"tester",
	)
	s.PutItem(domain.CatalogItem{ID: "x", CompanyID: "c1", Name: "X", VATStatus: domain.VATStatusVatable, StockEntries: []domain.StockEntry{
		{UniqueID: "u1", BatchNumber: "B1", Quantity: decimal.NewFromInt(10)},
	}})
	s.PutAccount(domain.Account{ID: "a1", CompanyID: "c1", Name: "Walk-in", Group: domain.AccountGroupCash})
	return s
}

func sale(key string, qty int64) domain.Document {
	return domain.Document{
		Kind:           domain.DocumentCashSale,
		CompanyID:      "c1",
		FiscalYearID:   "fy1",
		AccountID:      "a1",
		IdempotencyKey: key,
		Date:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Lines:          []domain.LineItem{{ItemID: "x", UniqueID: "u1", Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(5)}},
	}
}

func stockOf(t *testing.T, s *Store) decimal.Decimal {
	t.Helper()
	items, err := s.ListItems(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0].StockEntries[0].Quantity
}

func TestCreateDocumentNumbersAndDecrements(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	next, err := s.PeekNextNumber(ctx, "c1", "fy1", domain.DocumentOpenCashSale)
	require.NoError(t, err)
	assert.Equal(t, "CS-0001", next)

	first, err := s.CreateDocument(ctx, sale("k1", 4))
	require.NoError(t, err)
	assert.Equal(t, "CS-0001", first.Number)

	open := sale("k2", 1)
	open.Kind = domain.DocumentOpenCashSale
	second, err := s.CreateDocument(ctx, open)
	require.NoError(t, err)
	assert.Equal(t, "CS-0002", second.Number)

	assert.Equal(t, "5", stockOf(t, s).String())
}

func TestCreateDocumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	first, err := s.CreateDocument(ctx, sale("same", 2))
	require.NoError(t, err)
	again, err := s.CreateDocument(ctx, sale("same", 2))
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "8", stockOf(t, s).String())

	found, err := s.FindDocumentByIdempotency(ctx, "c1", "same")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestCreateDocumentRejectsOversellWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	_, err := s.CreateDocument(ctx, sale("big", 11))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))
	assert.Equal(t, "10", stockOf(t, s).String())

	next, _ := s.PeekNextNumber(ctx, "c1", "fy1", domain.DocumentCashSale)
	assert.Equal(t, "CS-0001", next)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := sale("", 1)
			if _, err := s.CreateDocument(ctx, doc); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.True(t, stockOf(t, s).IsZero())
}

func TestQuotationLeavesStockAndUsesOwnSeries(t *testing.T) {
	ctx := context.Background()
	s := fixture()
	doc := sale("q1", 50)
	doc.Kind = domain.DocumentSalesQuotation

	saved, err := s.CreateDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "SQ-0001", saved.Number)
	assert.Equal(t, "10", stockOf(t, s).String())
}

func TestItemTransactionsFilterByAccountAndKind(t *testing.T) {
	ctx := context.Background()
	s := fixture()
	_, err := s.CreateDocument(ctx, sale("k1", 1))
	require.NoError(t, err)
	q := sale("q1", 3)
	q.Kind = domain.DocumentSalesQuotation
	_, err = s.CreateDocument(ctx, q)
	require.NoError(t, err)

	rows, err := s.ListItemTransactions(ctx, "c1", "x", "a1", store.SalesKinds, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.DocumentCashSale, rows[0].Kind)

	rows, err = s.ListItemTransactions(ctx, "c1", "x", "other", store.SalesKinds, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCompaniesForUser(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	companies, err := s.ListCompaniesForUser(ctx, "tester")
	require.NoError(t, err)
	require.Len(t, companies, 1)

	fy, err := s.CurrentFiscalYear(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "fy1", fy.ID)

	_, err = s.GetCompany(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: "Ram"}))
	err := s.CreateUser(ctx, domain.UserAccount{Username: "ram"})
	assert.True(t, errors.Is(err, store.ErrDuplicate))
}

func TestNewSeededHasLoginableUsers(t *testing.T) {
	s := NewSeeded(nil)
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestGrantCompanyAccess(t *testing.T) {
	ctx := context.Background()
	s := fixture()

	require.NoError(t, s.GrantCompanyAccess(ctx, " NewUser ", "c1"))
	require.NoError(t, s.GrantCompanyAccess(ctx, "newuser", "c1"))
	companies, err := s.ListCompaniesForUser(ctx, "newuser")
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "c1", companies[0].ID)

	err = s.GrantCompanyAccess(ctx, "newuser", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
