package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = billing.ErrInsufficientStock
	ErrInvalidDocument   = errors.New("invalid document")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicate         = errors.New("duplicate")
)

type Repository interface {
	ListItems(ctx context.Context, companyID string) ([]domain.CatalogItem, error)
	ListAccounts(ctx context.Context, companyID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, companyID string, accountID string) (*domain.Account, error)

	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
	ListCompaniesForUser(ctx context.Context, username string) ([]domain.Company, error)
	GrantCompanyAccess(ctx context.Context, username string, companyID string) error
	CurrentFiscalYear(ctx context.Context, companyID string) (*domain.FiscalYear, error)

	// PeekNextNumber returns the number the next document of kind would get
	// without reserving it.
	PeekNextNumber(ctx context.Context, companyID string, fiscalYearID string, kind string) (string, error)
	// CreateDocument checks stock, applies the document's stock effect,
	// allocates its number and persists it in one atomic step. A repeated
	// idempotency key returns the document stored the first time.
	CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error)
	FindDocumentByIdempotency(ctx context.Context, companyID string, key string) (*domain.Document, error)
	GetDocument(ctx context.Context, companyID string, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, companyID string, kinds []string, limit int) ([]domain.Document, error)
	ListItemTransactions(ctx context.Context, companyID string, itemID string, accountID string, kinds []string, limit int) ([]domain.ItemTransaction, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Series groups document kinds that share one numbering sequence.
func Series(kind string) string {
	switch kind {
	case domain.DocumentCashSale, domain.DocumentOpenCashSale:
		return "CS"
	case domain.DocumentSalesQuotation:
		return "SQ"
	case domain.DocumentStockAdjustment:
		return "SA"
	default:
		return ""
	}
}

func FormatNumber(kind string, sequence int64) string {
	return fmt.Sprintf("%s-%04d", Series(kind), sequence)
}

// StockDirection is -1 when a document consumes stock, +1 when it adds
// stock, and 0 when it leaves stock untouched.
func StockDirection(doc domain.Document) int {
	switch doc.Kind {
	case domain.DocumentCashSale, domain.DocumentOpenCashSale:
		return -1
	case domain.DocumentStockAdjustment:
		if doc.AdjustmentType == domain.AdjustmentExcess {
			return 1
		}
		return -1
	default:
		return 0
	}
}

// SalesKinds are the kinds that appear in the sales transaction list.
var SalesKinds = []string{domain.DocumentCashSale, domain.DocumentOpenCashSale}

// HistoryKinds maps the history type segment of a lookup URL to document
// kinds. Matching is case-insensitive.
func HistoryKinds(historyType string) ([]string, bool) {
	switch strings.ToLower(strings.TrimSpace(historyType)) {
	case "sales", "cashsale", "opencashsale":
		return SalesKinds, true
	case "salesquotation", "quotation":
		return []string{domain.DocumentSalesQuotation}, true
	case "stockadjustment":
		return []string{domain.DocumentStockAdjustment}, true
	default:
		return nil, false
	}
}

// PartyName is the counterparty label shown in lists and history.
func PartyName(doc domain.Document, account *domain.Account) string {
	if doc.CashAccount != nil && doc.CashAccount.Name != "" {
		return doc.CashAccount.Name
	}
	if account != nil {
		return account.Name
	}
	return ""
}
