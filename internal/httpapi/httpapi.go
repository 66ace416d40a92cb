package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/nepalidate"
	"pasal/backend/internal/report"
	"pasal/backend/internal/service"
	"pasal/backend/internal/store"
)

const (
	DashboardPath = "/retailerDashboard/indexv1"
	NoAccessPath  = "/no-access"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *keyedLimiter
	pinLimiter    *keyedLimiter
	log           *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newKeyedLimiter(5, time.Minute),
		pinLimiter:    newKeyedLimiter(8, time.Minute),
		log:           log.Named("http"),
	}
}

// keyedLimiter hands out one token bucket per client key. Buckets unused
// for idleAfter are dropped.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	entries   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(max int, window time.Duration) *keyedLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &keyedLimiter{
		limit:     rate.Every(window / time.Duration(max)),
		burst:     max,
		idleAfter: 10 * window,
		entries:   make(map[string]*limiterEntry),
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleAfter {
			delete(l.entries, k)
		}
	}
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/auth/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("/api/auth/me", a.requireAuth(a.handleMe))

	mux.HandleFunc("/api/user-companies", a.requireAuth(a.handleUserCompanies))
	mux.HandleFunc("/api/switch/{companyId}", a.requireAuth(a.handleSwitchCompany))
	mux.HandleFunc("/api/users", a.requireAuth(a.handleUsers, domain.RoleAdmin, domain.RoleSupervisor))

	mux.HandleFunc("/api/retailer/cash-sales", a.requireAuth(a.handleDocument(domain.DocumentCashSale)))
	mux.HandleFunc("/api/retailer/cash-sales/open", a.requireAuth(a.handleDocument(domain.DocumentOpenCashSale)))
	mux.HandleFunc("/api/retailer/cash-sales/{id}/print", a.requireAuth(a.handlePrint(store.SalesKinds...)))
	mux.HandleFunc("/api/retailer/sales-quotation", a.requireAuth(a.handleDocument(domain.DocumentSalesQuotation)))
	mux.HandleFunc("/api/retailer/sales-quotation/{id}/print", a.requireAuth(a.handlePrint(domain.DocumentSalesQuotation)))
	mux.HandleFunc("/api/retailer/stockAdjustments/new", a.requireAuth(a.handleDocument(domain.DocumentStockAdjustment)))

	mux.HandleFunc("/api/retailer/transactions/{itemId}/{accountId}/{type}", a.requireAuth(a.handleItemHistory))
	mux.HandleFunc("/api/retailer/get-display-sales-transactions", a.requireAuth(a.handleSalesTransactions))
	mux.HandleFunc("/api/retailer/fetchlatest/accounts", a.requireAuth(a.handleLatestAccounts))
	mux.HandleFunc("/api/retailer/stock-status/report", a.requireAuth(a.handleStockStatusReport))
	mux.HandleFunc("/api/retailer/nepali-date", a.requireAuth(a.handleNepaliDate))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		claims, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrRevocationCheck) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(claims.User.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		session, err := a.service.ResolveSession(r.Context(), claims.User, claims.CompanyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		session.TokenID = claims.TokenID
		session.ExpiresAt = claims.ExpiresAt

		next(w, r.WithContext(service.WithSession(r.Context(), session)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.Authenticate(r.Context(), req)
	if err != nil {
		a.log.Info("login rejected", zap.String("username", req.Username), zap.String("client", clientKey(r)))
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	session, err := a.service.StartSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	token, session, err := a.auth.Issue(session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		Token:     token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		Session:   session,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	session, _ := service.SessionFromContext(r.Context())
	if err := a.auth.Revoke(r.Context(), session.TokenID, session.ExpiresAt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	session, _ := service.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"session":             session,
		"isAdminOrSupervisor": service.CanCreateCompany(session.User.Role),
	})
}

func (a *API) handleUserCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	resp, err := a.service.ListUserCompanies(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSwitchCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	current, _ := service.SessionFromContext(r.Context())

	next, err := a.service.SwitchCompany(r.Context(), r.PathValue("companyId"))
	if err != nil {
		status := statusFor(err)
		resp := domain.SwitchCompanyResponse{Success: false, Message: err.Error()}
		if status >= 500 {
			a.log.Error("switch company failed", zap.Error(err))
			resp.Message = "internal server error"
		}
		if errors.Is(err, store.ErrForbidden) || errors.Is(err, store.ErrNotFound) {
			resp.RedirectTo = NoAccessPath
		}
		writeJSON(w, status, resp)
		return
	}

	token, next, err := a.auth.Issue(next)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.auth.Revoke(r.Context(), current.TokenID, current.ExpiresAt); err != nil {
		a.log.Warn("revoke previous token failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, domain.SwitchCompanyResponse{
		Success:    true,
		Message:    "switched to " + next.Company.Name,
		Token:      token,
		Company:    next.Company,
		FiscalYear: next.FiscalYear,
		RedirectTo: DashboardPath,
	})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrDuplicate) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		if err := a.service.ShareCurrentCompany(r.Context(), user.Username); err != nil && !errors.Is(err, service.ErrNoCompany) {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleDocument serves a form's blank data on GET and submits it on POST.
func (a *API) handleDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			form, err := a.service.NewDocumentForm(r.Context(), kind)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, form)
		case http.MethodPost:
			if kind == domain.DocumentStockAdjustment && !a.checkManagerPIN(w, r) {
				return
			}

			var req domain.DocumentRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
				req.IdempotencyKey = key
			}

			resp, err := a.service.SubmitDocument(r.Context(), kind, req)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			status := http.StatusCreated
			if resp.Duplicate {
				status = http.StatusOK
			}
			writeJSON(w, status, resp)
		default:
			writeMethodNotAllowed(w)
		}
	}
}

// checkManagerPIN requires operators in the plain user role to present the
// manager PIN before adjusting stock.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request) bool {
	session, _ := service.SessionFromContext(r.Context())
	if session.User.Role != domain.RoleUser {
		return true
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get("X-Manager-PIN")) {
		writeError(w, http.StatusForbidden, errors.New("manager PIN required"))
		return false
	}
	return true
}

func (a *API) handlePrint(kinds ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		printable, err := a.service.GetPrintable(r.Context(), r.PathValue("id"), kinds...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		page, err := report.DocumentHTML(printable)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(page))
	}
}

func (a *API) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	accountID := r.PathValue("accountId")
	if accountID == "all" || accountID == "-" {
		accountID = ""
	}
	rows, err := a.service.ItemHistory(r.Context(), r.PathValue("itemId"), accountID, r.PathValue("type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

func (a *API) handleSalesTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	rows, err := a.service.DisplaySalesTransactions(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

func (a *API) handleLatestAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	accounts, err := a.service.LatestAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (a *API) handleStockStatusReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = report.FormatPDF
	}
	contentType, ok := report.ContentType(format)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}

	status, err := a.service.StockStatus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteStockStatus(&buf, format, status); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("stock-status-%s.%s", status.GeneratedAt.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleNepaliDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	resp, err := a.service.ConvertDate(q.Get("ad"), q.Get("bs"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(startedAt)),
		)
	})
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	var stockErr *billing.StockError
	var dateErr *nepalidate.ParseError
	switch {
	case errors.As(err, &stockErr), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &dateErr), errors.Is(err, store.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNoCompany):
		return http.StatusPreconditionRequired
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Stock failures carry
// every offending line so the form can mark them and focus the first one.
func writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *billing.StockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             stockErr.Error(),
			"lineErrors":        stockErr.Lines,
			"firstInvalidIndex": stockErr.FirstIndex(),
		})
		return
	}
	var dateErr *nepalidate.ParseError
	if errors.As(err, &dateErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": dateErr.Error(),
			"field": "nepaliDate",
		})
		return
	}
	writeError(w, statusFor(err), err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
