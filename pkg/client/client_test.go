package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/cache"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/httpapi"
	"pasal/backend/internal/service"
	"pasal/backend/internal/store/memory"
)

const testPIN = "482913"

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.NewSeeded(zap.NewNop())
	mem := cache.NewMemoryCache(0)
	t.Cleanup(func() { _ = mem.Close() })

	svc := service.New(repo, service.Options{History: mem})
	auth := httpapi.NewAuthManager("client-test-secret", time.Hour, testPIN, repo, mem, zap.NewNop())
	srv := httptest.NewServer(httpapi.New(svc, auth, "*", zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func loggedIn(t *testing.T, srv *httptest.Server, username, password string) *Client {
	t.Helper()
	c := New(srv.URL, NewMemorySessionStore(), srv.Client())
	_, err := c.Login(context.Background(), username, password)
	require.NoError(t, err)
	return c
}

func TestLoginPersistsSession(t *testing.T) {
	srv := newBackend(t)
	store, err := OpenFileSessionStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	c := New(srv.URL, store, srv.Client())
	session, err := c.Login(context.Background(), "cashier", "cashier123")
	require.NoError(t, err)
	require.NotNil(t, session.Company)
	assert.Equal(t, "cmp-ktm", session.Company.ID)

	reopened, err := OpenFileSessionStore(store.path)
	require.NoError(t, err)
	var token string
	ok, err := reopened.Load(KeyToken, &token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	restored, ok, err := New(srv.URL, reopened, srv.Client()).Session()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cashier", restored.User.Username)
	require.NotNil(t, restored.FiscalYear)
	assert.Equal(t, "fy-ktm-8182", restored.FiscalYear.ID)
}

func TestLogoutKeepsPrintPreference(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")
	require.NoError(t, c.SetPrintAfterSave(true))

	require.NoError(t, c.Logout(context.Background()))
	_, ok, err := c.Session()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, c.PrintAfterSave())

	_, err = c.DocumentForm(context.Background(), domain.DocumentCashSale)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestSwitchCompanyUpdatesStoredSession(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "admin", "admin123")

	companies, err := c.UserCompanies(context.Background())
	require.NoError(t, err)
	assert.Len(t, companies.Companies, 2)

	resp, err := c.SwitchCompany(context.Background(), "cmp-ktm")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, httpapi.DashboardPath, resp.RedirectTo)

	session, _, err := c.Session()
	require.NoError(t, err)
	assert.Equal(t, "cmp-ktm", session.Company.ID)

	form, err := c.DocumentForm(context.Background(), domain.DocumentCashSale)
	require.NoError(t, err)
	assert.Equal(t, "cmp-ktm", form.Company.ID)
}

func TestSwitchCompanyFailureCarriesRedirect(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	resp, err := c.SwitchCompany(context.Background(), "cmp-pkr")
	require.Error(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, httpapi.NoAccessPath, resp.RedirectTo)
	assert.NotEmpty(t, resp.Message)

	session, _, err := c.Session()
	require.NoError(t, err)
	assert.Equal(t, "cmp-ktm", session.Company.ID)
}

func TestFormLifecycle(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")
	require.NoError(t, c.SetPrintAfterSave(true))

	form := NewForm(c, domain.DocumentCashSale)
	var transitions []string
	form.OnChange = func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) }

	assert.Equal(t, StateLoading, form.State())
	require.NoError(t, form.Load(context.Background()))
	assert.Equal(t, StateReady, form.State())
	assert.Equal(t, "CS-0001", form.Data().NextNumber)
	assert.True(t, form.Draft().PrintAfterSave)

	require.NoError(t, form.Edit(func(d *domain.DocumentRequest) { d.AccountID = "acc-ktm-ram" }))
	require.NoError(t, form.AddLine("itm-rice", "stk-rice-2", decimal.NewFromInt(2)))
	assert.Equal(t, StateEditing, form.State())
	assert.Equal(t, "1920", form.Draft().Items[0].Amount.String())
	assert.Equal(t, "2169.6", form.Totals().Total.String())

	resp, err := form.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CS-0001", resp.Document.Number)
	assert.Equal(t, "2169.6", resp.Document.Totals.Total.String())
	assert.NotEmpty(t, resp.PrintURL)

	assert.Equal(t, StateReady, form.State())
	assert.Equal(t, "CS-0002", form.Data().NextNumber)
	assert.Empty(t, form.Draft().Items)
	assert.Equal(t, []string{
		"loading>ready",
		"ready>editing",
		"editing>submitting",
		"submitting>success",
		"success>ready",
	}, transitions)

	html, err := c.PrintDocument(context.Background(), resp.PrintURL)
	require.NoError(t, err)
	assert.Contains(t, html, "CS-0001")
}

func TestFormLocalValidationReportsFirstInvalidLine(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	form := NewForm(c, domain.DocumentCashSale)
	require.NoError(t, form.Load(context.Background()))
	require.NoError(t, form.Edit(func(d *domain.DocumentRequest) { d.AccountID = "acc-ktm-ram" }))
	require.NoError(t, form.AddLine("itm-oil", "stk-oil-1", decimal.NewFromInt(1)))
	require.NoError(t, form.AddLine("itm-rice", "stk-rice-2", decimal.NewFromInt(20)))
	require.NoError(t, form.AddLine("itm-rice", "stk-rice-2", decimal.NewFromInt(6)))

	_, err := form.Submit(context.Background())
	var stockErr *billing.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.FirstIndex())
	require.Len(t, stockErr.Lines, 2)
	assert.Equal(t, "Stock: 25 | Rem.: -1", stockErr.Lines[0].Message)
	assert.Equal(t, StateEditing, form.State())

	require.NoError(t, form.RemoveLine(2))
	assert.Empty(t, form.Validate())
}

func TestFormPinsLinesWithoutBatch(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	form := NewForm(c, domain.DocumentCashSale)
	require.NoError(t, form.Load(context.Background()))
	require.NoError(t, form.Edit(func(d *domain.DocumentRequest) { d.AccountID = "acc-ktm-ram" }))
	require.NoError(t, form.AddLine("itm-oil", "", decimal.NewFromInt(100)))

	draft := form.Draft()
	require.Len(t, draft.Items, 1)
	assert.Equal(t, "stk-oil-1", draft.Items[0].UniqueID)
	assert.Equal(t, "OIL-7", draft.Items[0].BatchNumber)

	errs := form.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "Stock: 60 | Rem.: -40", errs[0].Message)

	_, err := form.Submit(context.Background())
	var stockErr *billing.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.FirstIndex())
	assert.Equal(t, StateEditing, form.State(), "the oversold line never reaches the backend")

	err = form.AddLine("itm-rice", "", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, billing.ErrBatchRequired)
	assert.Len(t, form.Draft().Items, 1)

	quote := NewForm(c, domain.DocumentSalesQuotation)
	require.NoError(t, quote.Load(context.Background()))
	require.NoError(t, quote.AddLine("itm-rice", "", decimal.NewFromInt(1)))
	assert.Empty(t, quote.Draft().Items[0].UniqueID)
}

func TestFormBackendRejectionKeepsDraft(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	form := NewForm(c, domain.DocumentCashSale)
	require.NoError(t, form.Load(context.Background()))
	require.NoError(t, form.AddLine("itm-dal", "", decimal.NewFromInt(1)))

	_, err := form.Submit(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, StateFailure, form.State())

	draft := form.Draft()
	require.Len(t, draft.Items, 1)
	key := draft.IdempotencyKey
	assert.NotEmpty(t, key)

	require.NoError(t, form.Edit(func(d *domain.DocumentRequest) { d.AccountID = "acc-ktm-ram" }))
	assert.Equal(t, StateEditing, form.State())
	resp, err := form.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, resp.Document.IdempotencyKey)
}

func TestFormLoadFailureIsExplicit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"cashSale","items":[],"accounts":[],"nextBillNumber":"CS-0001","date":"2025-01-15"}`))
	}))
	defer srv.Close()

	form := NewForm(New(srv.URL, nil, srv.Client()), domain.DocumentCashSale)
	require.Error(t, form.Load(context.Background()))
	assert.Equal(t, StateLoadFailed, form.State())
	assert.Error(t, form.Err())

	_, err := form.Submit(context.Background())
	assert.ErrorIs(t, err, ErrFormNotReady)
	assert.ErrorIs(t, form.Edit(func(*domain.DocumentRequest) {}), ErrFormNotReady)

	require.NoError(t, form.Load(context.Background()))
	assert.Equal(t, StateReady, form.State())
}

func TestFormRefusesConcurrentSubmit(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			once.Do(func() { close(entered) })
			<-release
			_, _ = w.Write([]byte(`{"document":{"number":"CS-0001"},"nextBillNumber":"CS-0002"}`))
			return
		}
		_, _ = w.Write([]byte(`{"kind":"cashSale","items":[],"accounts":[],"nextBillNumber":"CS-0001","date":"2025-01-15"}`))
	}))
	defer srv.Close()

	form := NewForm(New(srv.URL, nil, srv.Client()), domain.DocumentCashSale)
	require.NoError(t, form.Load(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := form.Submit(context.Background())
		done <- err
	}()
	<-entered
	assert.Equal(t, StateSubmitting, form.State())

	_, err := form.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, form.State())
}

func TestStockAdjustmentFormSendsManagerPIN(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	form := NewForm(c, domain.DocumentStockAdjustment)
	require.NoError(t, form.Load(context.Background()))
	require.NoError(t, form.AddLine("itm-salt", "stk-salt-1", decimal.NewFromInt(2)))
	assert.Equal(t, "25", form.Draft().Items[0].Price.String())

	_, err := form.Submit(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	form.SetManagerPIN(testPIN)
	resp, err := form.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SA-0001", resp.Document.Number)

	for _, item := range form.Data().Items {
		if item.ID == "itm-salt" {
			assert.Equal(t, "8", item.StockEntries[0].Quantity.String())
		}
	}
}

func TestFormHistoryIsMemoised(t *testing.T) {
	var lookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/retailer/transactions/itm-rice/all/sales" {
			lookups.Add(1)
			_, _ = w.Write([]byte(`{"transactions":[{"documentId":"doc-1","kind":"cashSale","billNumber":"CS-0001","quantity":"2","price":"950"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"kind":"cashSale","items":[],"accounts":[],"nextBillNumber":"CS-0001"}`))
	}))
	defer srv.Close()

	form := NewForm(New(srv.URL, nil, srv.Client()), domain.DocumentCashSale)
	require.NoError(t, form.Load(context.Background()))

	for i := 0; i < 3; i++ {
		rows, err := form.ItemHistory(context.Background(), "itm-rice", "", "sales")
		require.NoError(t, err)
		require.Len(t, rows, 1)
	}
	assert.Equal(t, int32(1), lookups.Load())
}

func TestFormHistoryTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	form := NewForm(New(srv.URL, nil, srv.Client()), domain.DocumentCashSale)
	form.historyTimeout = 50 * time.Millisecond

	_, err := form.ItemHistory(context.Background(), "itm-rice", "", "sales")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFormSearchFiltersSnapshot(t *testing.T) {
	srv := newBackend(t)
	c := loggedIn(t, srv, "cashier", "cashier123")

	form := NewForm(c, domain.DocumentSalesQuotation)
	require.NoError(t, form.Load(context.Background()))

	hits := form.Search("rice")
	require.Len(t, hits, 1)
	assert.Equal(t, "itm-rice", hits[0].ID)
	assert.Len(t, form.Search("100"), 5)
	assert.Empty(t, form.Search("kerosene"))
}

func TestFormPath(t *testing.T) {
	path, err := FormPath(domain.DocumentOpenCashSale)
	require.NoError(t, err)
	assert.Equal(t, "/api/retailer/cash-sales/open", path)

	_, err = FormPath("purchase")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
