package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pasal/backend/internal/domain"
	"pasal/backend/internal/store"
	"pasal/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	companies       map[string]domain.Company
	fiscalYears     map[string]domain.FiscalYear
	companiesByUser map[string][]string
	items           map[string]map[string]domain.CatalogItem
	accounts        map[string]map[string]domain.Account
	documentsByID   map[string]*domain.Document
	documentsByIdem map[string]string
	lastSequence    map[string]int64
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. These credentials are
// never used in production (the backend uses PostgreSQL when a database URL
// is configured).
func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrator", adminPwd, domain.RoleAdmin},
		{"cashier", "Front Counter", cashierPwd, domain.RoleUser},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			ID:        "usr-" + u.username,
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		companies:       make(map[string]domain.Company),
		fiscalYears:     make(map[string]domain.FiscalYear),
		companiesByUser: make(map[string][]string),
		items:           make(map[string]map[string]domain.CatalogItem),
		accounts:        make(map[string]map[string]domain.Account),
		documentsByID:   make(map[string]*domain.Document),
		documentsByIdem: make(map[string]string),
		lastSequence:    make(map[string]int64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(log)

	fyStart := time.Date(2024, time.July, 16, 0, 0, 0, 0, time.UTC)
	fyEnd := time.Date(2025, time.July, 16, 0, 0, 0, 0, time.UTC)
	for _, c := range []domain.Company{
		{ID: "cmp-ktm", Name: "Pasal Traders Kathmandu", Address: "New Road, Kathmandu", PAN: "301234567", DateFormat: "nepali", VATEnabled: true, CurrentFYID: "fy-ktm-8182"},
		{ID: "cmp-pkr", Name: "Lakeside Mart Pokhara", Address: "Lakeside, Pokhara", PAN: "609876543", DateFormat: "english", VATEnabled: true, CurrentFYID: "fy-pkr-8182"},
	} {
		s.companies[c.ID] = c
		s.fiscalYears[c.CurrentFYID] = domain.FiscalYear{
			ID: c.CurrentFYID, CompanyID: c.ID, Name: "2081/82", StartDate: fyStart, EndDate: fyEnd, Active: true,
		}
		s.items[c.ID] = make(map[string]domain.CatalogItem)
		s.accounts[c.ID] = make(map[string]domain.Account)
	}
	s.companiesByUser["admin"] = []string{"cmp-ktm", "cmp-pkr"}
	s.companiesByUser["cashier"] = []string{"cmp-ktm"}

	expiry := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	seedItems := []domain.CatalogItem{
		{ID: "itm-rice", CompanyID: "cmp-ktm", Code: "1001", Name: "Basmati Rice 5kg", Unit: "bag", VATStatus: domain.VATStatusVatable, StockEntries: []domain.StockEntry{
			entry("stk-rice-1", "B-101", "40", "820", "950", &expiry),
			entry("stk-rice-2", "B-102", "25", "840", "960", &expiry),
		}},
		{ID: "itm-oil", CompanyID: "cmp-ktm", Code: "1002", Name: "Sunflower Oil 1L", Unit: "btl", VATStatus: domain.VATStatusVatable, StockEntries: []domain.StockEntry{
			entry("stk-oil-1", "OIL-7", "60", "255", "290", &expiry),
		}},
		{ID: "itm-dal", CompanyID: "cmp-ktm", Code: "1003", Name: "Masoor Dal 1kg", Unit: "kg", VATStatus: domain.VATStatusExempt, StockEntries: []domain.StockEntry{
			entry("stk-dal-1", "XXX", "100", "150", "175", nil),
		}},
		{ID: "itm-salt", CompanyID: "cmp-ktm", Code: "1004", Name: "Iodised Salt 1kg", Unit: "pkt", VATStatus: domain.VATStatusExempt, StockEntries: []domain.StockEntry{
			entry("stk-salt-1", "XXX", "10", "25", "30", nil),
		}},
		{ID: "itm-noodle", CompanyID: "cmp-ktm", Code: "1005", Name: "Instant Noodles", Unit: "pcs", VATStatus: domain.VATStatusVatable, StockEntries: []domain.StockEntry{
			entry("stk-noodle-1", "N-1", "200", "18", "25", &expiry),
		}},
		{ID: "itm-tea", CompanyID: "cmp-pkr", Code: "2001", Name: "Ilam Tea 500g", Unit: "pkt", VATStatus: domain.VATStatusVatable, StockEntries: []domain.StockEntry{
			entry("stk-tea-1", "T-1", "30", "380", "450", &expiry),
		}},
	}
	for _, item := range seedItems {
		s.items[item.CompanyID][item.ID] = item
	}

	for _, a := range []domain.Account{
		{ID: "acc-ktm-cash", CompanyID: "cmp-ktm", Name: "Cash in Hand", Group: domain.AccountGroupCash},
		{ID: "acc-ktm-ram", CompanyID: "cmp-ktm", Name: "Ram Kirana Pasal", Group: domain.AccountGroupDebtor, Address: "Baneshwor", PAN: "112233445", Phone: "9841000001"},
		{ID: "acc-ktm-sita", CompanyID: "cmp-ktm", Name: "Sita Suppliers", Group: domain.AccountGroupCreditor, Address: "Kalimati"},
		{ID: "acc-pkr-cash", CompanyID: "cmp-pkr", Name: "Cash in Hand", Group: domain.AccountGroupCash},
	} {
		s.accounts[a.CompanyID][a.ID] = a
	}

	return s
}

func entry(uniqueID, batch, qty, purchase, sale string, expiry *time.Time) domain.StockEntry {
	pu := decimal.RequireFromString(purchase)
	sp := decimal.RequireFromString(sale)
	return domain.StockEntry{
		UniqueID:         uniqueID,
		BatchNumber:      batch,
		ExpiryDate:       expiry,
		Quantity:         decimal.RequireFromString(qty),
		PurchasePrice:    pu,
		NetPurchasePrice: pu,
		SalePrice:        sp,
		Margin:           sp.Sub(pu).Div(pu).Mul(decimal.NewFromInt(100)).Round(2),
		MRP:              sp,
		Currency:         "NPR",
	}
}

// PutCompany registers a company, its current fiscal year and user access.
// It is used to set up fixtures.
func (s *Store) PutCompany(company domain.Company, fy domain.FiscalYear, usernames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	company.CurrentFYID = fy.ID
	s.companies[company.ID] = company
	s.fiscalYears[fy.ID] = fy
	if _, ok := s.items[company.ID]; !ok {
		s.items[company.ID] = make(map[string]domain.CatalogItem)
		s.accounts[company.ID] = make(map[string]domain.Account)
	}
	for _, username := range usernames {
		if !slices.Contains(s.companiesByUser[username], company.ID) {
			s.companiesByUser[username] = append(s.companiesByUser[username], company.ID)
		}
	}
}

func (s *Store) PutItem(item domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.CompanyID]; !ok {
		s.items[item.CompanyID] = make(map[string]domain.CatalogItem)
	}
	s.items[item.CompanyID][item.ID] = cloneItem(item)
}

func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.CompanyID]; !ok {
		s.accounts[account.CompanyID] = make(map[string]domain.Account)
	}
	s.accounts[account.CompanyID][account.ID] = account
}

func (s *Store) ListItems(_ context.Context, companyID string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(companyID), nil
}

func (s *Store) snapshot(companyID string) []domain.CatalogItem {
	items := s.items[companyID]
	result := make([]domain.CatalogItem, 0, len(items))
	for _, item := range items {
		result = append(result, cloneItem(item))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

func (s *Store) ListAccounts(_ context.Context, companyID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Account, 0, len(s.accounts[companyID]))
	for _, account := range s.accounts[companyID] {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) GetAccount(_ context.Context, companyID string, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[companyID][accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) GetCompany(_ context.Context, companyID string) (*domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	company, ok := s.companies[companyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &company, nil
}

func (s *Store) ListCompaniesForUser(_ context.Context, username string) ([]domain.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.companiesByUser[strings.ToLower(strings.TrimSpace(username))]
	result := make([]domain.Company, 0, len(ids))
	for _, id := range ids {
		if company, ok := s.companies[id]; ok {
			result = append(result, company)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) GrantCompanyAccess(_ context.Context, username string, companyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[companyID]; !ok {
		return store.ErrNotFound
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if !slices.Contains(s.companiesByUser[username], companyID) {
		s.companiesByUser[username] = append(s.companiesByUser[username], companyID)
	}
	return nil
}

func (s *Store) CurrentFiscalYear(_ context.Context, companyID string) (*domain.FiscalYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	company, ok := s.companies[companyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if fy, ok := s.fiscalYears[company.CurrentFYID]; ok {
		return &fy, nil
	}
	for _, fy := range s.fiscalYears {
		if fy.CompanyID == companyID && fy.Active {
			return &fy, nil
		}
	}
	return nil, store.ErrNotFound
}

func sequenceKey(companyID, fiscalYearID, kind string) string {
	return strings.Join([]string{companyID, fiscalYearID, store.Series(kind)}, "|")
}

func (s *Store) PeekNextNumber(_ context.Context, companyID string, fiscalYearID string, kind string) (string, error) {
	if store.Series(kind) == "" {
		return "", fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, kind)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.FormatNumber(kind, s.lastSequence[sequenceKey(companyID, fiscalYearID, kind)]+1), nil
}

func idemKey(companyID, key string) string {
	return companyID + "|" + key
}

func (s *Store) CreateDocument(_ context.Context, doc domain.Document) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.IdempotencyKey != "" {
		if id, ok := s.documentsByIdem[idemKey(doc.CompanyID, doc.IdempotencyKey)]; ok {
			return cloneDocument(s.documentsByID[id]), nil
		}
	}

	if _, ok := s.companies[doc.CompanyID]; !ok {
		return nil, fmt.Errorf("%w: unknown company %s", store.ErrInvalidDocument, doc.CompanyID)
	}
	if fy, ok := s.fiscalYears[doc.FiscalYearID]; !ok || fy.CompanyID != doc.CompanyID {
		return nil, fmt.Errorf("%w: unknown fiscal year %s", store.ErrInvalidDocument, doc.FiscalYearID)
	}
	if store.Series(doc.Kind) == "" {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, doc.Kind)
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidDocument)
	}

	moves, err := store.PlanStockMoves(s.snapshot(doc.CompanyID), doc, func() string { return xid.New("stk") })
	if err != nil {
		return nil, err
	}
	items := s.items[doc.CompanyID]
	for _, move := range moves {
		item := items[move.ItemID]
		if move.NewEntry != nil {
			item.StockEntries = append(item.StockEntries, *move.NewEntry)
			items[move.ItemID] = item
			continue
		}
		for i := range item.StockEntries {
			if item.StockEntries[i].UniqueID == move.UniqueID {
				item.StockEntries[i].Quantity = item.StockEntries[i].Quantity.Add(move.Delta)
			}
		}
	}

	key := sequenceKey(doc.CompanyID, doc.FiscalYearID, doc.Kind)
	s.lastSequence[key]++
	doc.Sequence = s.lastSequence[key]
	doc.Number = store.FormatNumber(doc.Kind, doc.Sequence)
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	saved := cloneDocument(&doc)
	s.documentsByID[doc.ID] = saved
	if doc.IdempotencyKey != "" {
		s.documentsByIdem[idemKey(doc.CompanyID, doc.IdempotencyKey)] = doc.ID
	}
	return cloneDocument(saved), nil
}

func (s *Store) FindDocumentByIdempotency(_ context.Context, companyID string, key string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.documentsByIdem[idemKey(companyID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDocument(s.documentsByID[id]), nil
}

func (s *Store) GetDocument(_ context.Context, companyID string, documentID string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documentsByID[documentID]
	if !ok || doc.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// newestFirst returns the company's documents of the given kinds, latest
// first.
func (s *Store) newestFirst(companyID string, kinds []string) []*domain.Document {
	result := make([]*domain.Document, 0)
	for _, doc := range s.documentsByID {
		if doc.CompanyID != companyID {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, doc.Kind) {
			continue
		}
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].Sequence > result[j].Sequence
	})
	return result
}

func (s *Store) ListDocuments(_ context.Context, companyID string, kinds []string, limit int) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.newestFirst(companyID, kinds)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	result := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		result = append(result, *cloneDocument(doc))
	}
	return result, nil
}

func (s *Store) ListItemTransactions(_ context.Context, companyID string, itemID string, accountID string, kinds []string, limit int) ([]domain.ItemTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.ItemTransaction, 0)
	for _, doc := range s.newestFirst(companyID, kinds) {
		if accountID != "" && doc.AccountID != accountID {
			continue
		}
		for _, line := range doc.Lines {
			if line.ItemID != itemID {
				continue
			}
			result = append(result, domain.ItemTransaction{
				DocumentID: doc.ID,
				Kind:       doc.Kind,
				Number:     doc.Number,
				Date:       doc.Date,
				Quantity:   line.Quantity,
				Price:      line.Price,
				Unit:       line.Unit,
			})
			if limit > 0 && len(result) >= limit {
				return result, nil
			}
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username %s", store.ErrDuplicate, username)
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneItem(item domain.CatalogItem) domain.CatalogItem {
	item.StockEntries = slices.Clone(item.StockEntries)
	return item
}

func cloneDocument(doc *domain.Document) *domain.Document {
	if doc == nil {
		return nil
	}
	cloned := *doc
	cloned.Lines = slices.Clone(doc.Lines)
	if doc.CashAccount != nil {
		cashAccount := *doc.CashAccount
		cloned.CashAccount = &cashAccount
	}
	return &cloned
}
