package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"pasal/backend/internal/cache"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/service"
	"pasal/backend/internal/store/memory"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(zap.NewNop())
	mem := cache.NewMemoryCache(0)
	t.Cleanup(func() { _ = mem.Close() })

	svc := service.New(repo, service.Options{History: mem})
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo, mem, zap.NewNop())
	return New(svc, auth, "*", zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username, password string) domain.LoginResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp
}

func riceSale(qty string) domain.DocumentRequest {
	return domain.DocumentRequest{
		Date:        "2025-01-15",
		PaymentMode: domain.PaymentModeCash,
		AccountID:   "acc-ktm-ram",
		Items: []domain.LineItem{{
			ItemID:      "itm-rice",
			BatchNumber: "B-101",
			UniqueID:    "stk-rice-1",
			Quantity:    decimal.RequireFromString(qty),
			Price:       decimal.RequireFromString("950"),
		}},
	}
}

func decodeSubmit(t *testing.T, rec *httptest.ResponseRecorder) domain.SubmitResponse {
	t.Helper()
	var resp domain.SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	h := newTestAPI(t).Handler()

	resp := login(t, h, "cashier", "cashier123")
	require.NotNil(t, resp.Session.Company)
	assert.Equal(t, "cmp-ktm", resp.Session.Company.ID)
	require.NotNil(t, resp.Session.FiscalYear)
	assert.Equal(t, "fy-ktm-8182", resp.Session.FiscalYear.ID)

	rec := doJSON(t, h, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRetailerRoutesRequireAuth(t *testing.T) {
	h := newTestAPI(t).Handler()

	for _, path := range []string{
		"/api/retailer/cash-sales",
		"/api/retailer/sales-quotation",
		"/api/retailer/fetchlatest/accounts",
		"/api/user-companies",
	} {
		rec := doJSON(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/retailer/cash-sales", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashSaleFormAndSubmit(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodGet, "/api/retailer/cash-sales", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var form domain.DocumentForm
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&form))
	assert.Equal(t, "CS-0001", form.NextNumber)
	assert.True(t, form.ReservationByBatch)
	assert.NotEmpty(t, form.Items)

	sale := riceSale("2")
	sale.PrintAfterSave = true
	rec = doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, sale)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeSubmit(t, rec)
	assert.Equal(t, "CS-0001", resp.Document.Number)
	assert.Equal(t, "CS-0002", resp.NextNumber)
	assert.Equal(t, "/api/retailer/cash-sales/"+resp.Document.ID+"/print", resp.PrintURL)
	assert.True(t, resp.Document.Totals.Total.IsPositive())

	rec = doJSON(t, h, http.MethodGet, resp.PrintURL, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "CS-0001")
	assert.Contains(t, rec.Body.String(), "Ram Kirana Pasal")

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/sales-quotation/"+resp.Document.ID+"/print", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenCashSaleSharesCashSaleSeries(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	open := riceSale("1")
	open.AccountID = ""
	open.CashAccount = &domain.CashAccount{Name: "Walk-in Hari", Phone: "9800000000"}
	rec = doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales/open", token, open)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeSubmit(t, rec)
	assert.Equal(t, domain.DocumentOpenCashSale, resp.Document.Kind)
	assert.Equal(t, "CS-0002", resp.Document.Number)

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/get-display-sales-transactions?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Transactions []domain.SalesTransactionSummary `json:"transactions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Transactions, 2)
	assert.Equal(t, "CS-0002", list.Transactions[0].Number)
	assert.Equal(t, "Walk-in Hari", list.Transactions[0].PartyName)
}

func TestOversoldLineReturnsConflictWithLineErrors(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("45"))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var body struct {
		Error             string `json:"error"`
		FirstInvalidIndex int    `json:"firstInvalidIndex"`
		LineErrors        []struct {
			Index   int    `json:"index"`
			Message string `json:"message"`
		} `json:"lineErrors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 0, body.FirstInvalidIndex)
	require.Len(t, body.LineErrors, 1)
	assert.Contains(t, body.LineErrors[0].Message, "Stock: 40")

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/cash-sales", token, nil)
	var form domain.DocumentForm
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&form))
	assert.Equal(t, "CS-0001", form.NextNumber)
}

func TestIdempotencyKeyHeaderReplaysDocument(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	first := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("1"), "Idempotency-Key", "till-1-0001")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("1"), "Idempotency-Key", "till-1-0001")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	a, b := decodeSubmit(t, first), decodeSubmit(t, second)
	assert.Equal(t, a.Document.ID, b.Document.ID)
	assert.True(t, b.Duplicate)
	assert.Equal(t, "CS-0002", b.NextNumber)
}

func TestBadNepaliDateIsRejected(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	sale := riceSale("1")
	sale.NepaliDate = "2081/13/40"
	rec := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, sale)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "nepaliDate")

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/nepali-date?bs=2081/01/01", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conv domain.NepaliDateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conv))
	assert.Equal(t, "2024-04-13", conv.AD)
}

func TestSalesQuotationDoesNotMoveStock(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	quote := riceSale("60")
	quote.Items[0].BatchNumber = ""
	quote.Items[0].UniqueID = ""
	rec := doJSON(t, h, http.MethodPost, "/api/retailer/sales-quotation", token, quote)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeSubmit(t, rec)
	assert.Equal(t, "SQ-0001", resp.Document.Number)

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/sales-quotation/"+resp.Document.ID+"/print", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SQ-0001")

	// the whole 40 of batch B-101 is still there
	rec = doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("40"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestStockAdjustmentNeedsManagerPINForUserRole(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	adjust := domain.DocumentRequest{
		Date:           "2025-01-15",
		AdjustmentType: domain.AdjustmentExcess,
		Note:           "found in back store",
		Items: []domain.LineItem{{
			ItemID:      "itm-salt",
			BatchNumber: "XXX",
			UniqueID:    "stk-salt-1",
			Quantity:    decimal.NewFromInt(5),
		}},
	}

	rec := doJSON(t, h, http.MethodPost, "/api/retailer/stockAdjustments/new", token, adjust)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/retailer/stockAdjustments/new", token, adjust, "X-Manager-PIN", testManagerPIN)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeSubmit(t, rec)
	assert.Equal(t, "SA-0001", resp.Document.Number)
	assert.Empty(t, resp.PrintURL)

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/stockAdjustments/new", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var form domain.DocumentForm
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&form))
	for _, item := range form.Items {
		if item.ID == "itm-salt" {
			assert.Equal(t, "15", item.StockEntries[0].Quantity.String())
		}
	}
}

func TestItemHistoryLookup(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodPost, "/api/retailer/cash-sales", token, riceSale("3"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/transactions/itm-rice/acc-ktm-ram/Sales", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Transactions []domain.ItemTransaction `json:"transactions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Transactions, 1)
	assert.Equal(t, "3", body.Transactions[0].Quantity.String())

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/transactions/itm-rice/acc-ktm-ram/purchase", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSwitchCompany(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := login(t, h, "admin", "admin123")
	require.Equal(t, "cmp-pkr", admin.Session.Company.ID)

	rec := doJSON(t, h, http.MethodGet, "/api/user-companies", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var companies domain.UserCompaniesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&companies))
	assert.Len(t, companies.Companies, 2)
	assert.True(t, companies.CanCreateCompany)

	rec = doJSON(t, h, http.MethodGet, "/api/switch/cmp-ktm", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var switched domain.SwitchCompanyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&switched))
	assert.True(t, switched.Success)
	assert.Equal(t, DashboardPath, switched.RedirectTo)
	require.NotNil(t, switched.Company)
	assert.Equal(t, "cmp-ktm", switched.Company.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", admin.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "previous token must be revoked")

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/cash-sales", switched.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var form domain.DocumentForm
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&form))
	assert.Equal(t, "cmp-ktm", form.Company.ID)
}

func TestSwitchCompanyWithoutAccessRedirects(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodGet, "/api/switch/cmp-pkr", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp domain.SwitchCompanyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, NoAccessPath, resp.RedirectTo)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsersEndpoint(t *testing.T) {
	h := newTestAPI(t).Handler()
	cashier := login(t, h, "cashier", "cashier123").Token
	admin := login(t, h, "admin", "admin123").Token

	rec := doJSON(t, h, http.MethodGet, "/api/users", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/users", admin, domain.UserCreateRequest{
		Username: "counter2",
		Name:     "Second Counter",
		Password: "pass1234",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := login(t, h, "counter2", "pass1234")
	require.NotNil(t, created.Session.Company)
	assert.Equal(t, "cmp-pkr", created.Session.Company.ID)
	assert.Equal(t, domain.RoleUser, created.Session.User.Role)

	rec = doJSON(t, h, http.MethodGet, "/api/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "counter2")
}

func TestStockStatusReportDownload(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123").Token

	rec := doJSON(t, h, http.MethodGet, "/api/retailer/stock-status/report?format=xlsx", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	name, err := f.GetCellValue("Stock Status", "B5")
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/stock-status/report?format=pdf", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = doJSON(t, h, http.MethodGet, "/api/retailer/stock-status/report?format=csv", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
