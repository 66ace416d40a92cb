// Package client is a typed Go client for the pasal backend. It keeps the
// operator's session in a SessionStore and drives document forms through
// their load, edit and submit lifecycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/domain"
)

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrUnknownKind = errors.New("unknown document kind")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status            int                 `json:"-"`
	Message           string              `json:"error"`
	Field             string              `json:"field,omitempty"`
	LineErrors        []billing.LineError `json:"lineErrors,omitempty"`
	FirstInvalidIndex int                 `json:"firstInvalidIndex"`
	RedirectTo        string              `json:"redirectTo,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// StockError returns the per-line stock failures of a 409 response.
func (e *APIError) StockError() (*billing.StockError, bool) {
	if e.Status != http.StatusConflict || len(e.LineErrors) == 0 {
		return nil, false
	}
	return &billing.StockError{Lines: e.LineErrors}, true
}

type Client struct {
	baseURL  string
	http     *http.Client
	sessions SessionStore
}

func New(baseURL string, sessions SessionStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		sessions: sessions,
	}
}

// FormPath is the endpoint serving the form and submit for kind.
func FormPath(kind string) (string, error) {
	switch kind {
	case domain.DocumentCashSale:
		return "/api/retailer/cash-sales", nil
	case domain.DocumentOpenCashSale:
		return "/api/retailer/cash-sales/open", nil
	case domain.DocumentSalesQuotation:
		return "/api/retailer/sales-quotation", nil
	case domain.DocumentStockAdjustment:
		return "/api/retailer/stockAdjustments/new", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (domain.Session, error) {
	var resp domain.LoginResponse
	req := domain.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp, nil); err != nil {
		return domain.Session{}, err
	}
	if err := saveSession(c.sessions, resp.Token, resp.Session); err != nil {
		return domain.Session{}, err
	}
	return resp.Session, nil
}

// Logout revokes the token server-side and clears the stored session. The
// printAfterSave preference survives.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		err = nil
	}
	if clearErr := clearSession(c.sessions); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// Session returns the stored session, if any.
func (c *Client) Session() (domain.Session, bool, error) {
	return loadSession(c.sessions)
}

func (c *Client) UserCompanies(ctx context.Context) (domain.UserCompaniesResponse, error) {
	var resp domain.UserCompaniesResponse
	err := c.do(ctx, http.MethodGet, "/api/user-companies", nil, &resp, nil)
	return resp, err
}

// SwitchCompany moves the session to companyID. On success the new token,
// company and fiscal year are stored. On failure the returned response
// carries the message and redirect target.
func (c *Client) SwitchCompany(ctx context.Context, companyID string) (domain.SwitchCompanyResponse, error) {
	var resp domain.SwitchCompanyResponse
	err := c.do(ctx, http.MethodGet, "/api/switch/"+url.PathEscape(companyID), nil, &resp, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return domain.SwitchCompanyResponse{Success: false, Message: apiErr.Message, RedirectTo: apiErr.RedirectTo}, err
		}
		return domain.SwitchCompanyResponse{Success: false, Message: err.Error()}, err
	}

	session, _, err := loadSession(c.sessions)
	if err != nil {
		return resp, err
	}
	session.Company = resp.Company
	session.FiscalYear = resp.FiscalYear
	if err := saveSession(c.sessions, resp.Token, session); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) DocumentForm(ctx context.Context, kind string) (domain.DocumentForm, error) {
	path, err := FormPath(kind)
	if err != nil {
		return domain.DocumentForm{}, err
	}
	var form domain.DocumentForm
	err = c.do(ctx, http.MethodGet, path, nil, &form, nil)
	return form, err
}

// SubmitDocument posts req. managerPIN is sent only when non-empty.
func (c *Client) SubmitDocument(ctx context.Context, kind string, req domain.DocumentRequest, managerPIN string) (domain.SubmitResponse, error) {
	path, err := FormPath(kind)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	if managerPIN != "" {
		headers["X-Manager-PIN"] = managerPIN
	}
	var resp domain.SubmitResponse
	err = c.do(ctx, http.MethodPost, path, req, &resp, headers)
	return resp, err
}

func (c *Client) ItemHistory(ctx context.Context, itemID, accountID, historyType string) ([]domain.ItemTransaction, error) {
	if accountID == "" {
		accountID = "all"
	}
	path := fmt.Sprintf("/api/retailer/transactions/%s/%s/%s",
		url.PathEscape(itemID), url.PathEscape(accountID), url.PathEscape(historyType))
	var resp struct {
		Transactions []domain.ItemTransaction `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp, nil)
	return resp.Transactions, err
}

func (c *Client) SalesTransactions(ctx context.Context, limit int) ([]domain.SalesTransactionSummary, error) {
	path := "/api/retailer/get-display-sales-transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Transactions []domain.SalesTransactionSummary `json:"transactions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp, nil)
	return resp.Transactions, err
}

func (c *Client) LatestAccounts(ctx context.Context) ([]domain.Account, error) {
	var resp struct {
		Accounts []domain.Account `json:"accounts"`
	}
	err := c.do(ctx, http.MethodGet, "/api/retailer/fetchlatest/accounts", nil, &resp, nil)
	return resp.Accounts, err
}

// NepaliDate converts ad or bs (exactly one may be set; neither means today).
func (c *Client) NepaliDate(ctx context.Context, ad, bs string) (domain.NepaliDateResponse, error) {
	q := url.Values{}
	if ad != "" {
		q.Set("ad", ad)
	}
	if bs != "" {
		q.Set("bs", bs)
	}
	path := "/api/retailer/nepali-date"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp domain.NepaliDateResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp, nil)
	return resp, err
}

// PrintDocument fetches the printable HTML at printURL, as returned in a
// SubmitResponse.
func (c *Client) PrintDocument(ctx context.Context, printURL string) (string, error) {
	body, _, err := c.raw(ctx, printURL)
	return string(body), err
}

// StockStatusReport downloads the report in format ("pdf" or "xlsx").
func (c *Client) StockStatusReport(ctx context.Context, format string) ([]byte, string, error) {
	return c.raw(ctx, "/api/retailer/stock-status/report?format="+url.QueryEscape(format))
}

func (c *Client) PrintAfterSave() bool {
	var on bool
	if ok, err := c.sessions.Load(KeyPrintAfterSave, &on); err != nil || !ok {
		return false
	}
	return on
}

func (c *Client) SetPrintAfterSave(on bool) error {
	return c.sessions.Save(KeyPrintAfterSave, on)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	var token string
	if _, err := c.sessions.Load(KeyToken, &token); err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, headers map[string]string) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) raw(ctx context.Context, path string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return nil, "", decodeAPIError(res)
	}
	body, err := io.ReadAll(res.Body)
	return body, res.Header.Get("Content-Type"), err
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode, FirstInvalidIndex: -1}
	var body struct {
		APIError
		Message string `json:"message"`
	}
	body.FirstInvalidIndex = -1
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
		*apiErr = body.APIError
		apiErr.Status = res.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
