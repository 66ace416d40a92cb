package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	VATStatusVatable = "vatable"
	VATStatusExempt  = "vatExempt"
)

const (
	DocumentCashSale        = "cashSale"
	DocumentOpenCashSale    = "openCashSale"
	DocumentSalesQuotation  = "salesQuotation"
	DocumentStockAdjustment = "stockAdjustment"
)

// VAT exemption modes applied to a whole document.
const (
	VATModeAll     = "all"
	VATModeVatable = "vatable"
	VATModeExempt  = "exempt"
)

const (
	DiscountBasisPercent = "percent"
	DiscountBasisAmount  = "amount"
)

const (
	AdjustmentExcess   = "xcess"
	AdjustmentShortage = "short"
)

const (
	PaymentModeCash   = "cash"
	PaymentModeOnline = "online"
	PaymentModeCredit = "credit"
)

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleUser       = "user"
)

const (
	AccountGroupCash     = "cash"
	AccountGroupDebtor   = "sundryDebtors"
	AccountGroupCreditor = "sundryCreditors"
)

type StockEntry struct {
	UniqueID         string          `json:"uniqueUuId"`
	BatchNumber      string          `json:"batchNumber"`
	ExpiryDate       *time.Time      `json:"expiryDate,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	PurchasePrice    decimal.Decimal `json:"puPrice"`
	NetPurchasePrice decimal.Decimal `json:"netPuPrice"`
	SalePrice        decimal.Decimal `json:"price"`
	Margin           decimal.Decimal `json:"marginPercentage"`
	MRP              decimal.Decimal `json:"mrp"`
	Currency         string          `json:"currency"`
}

type CatalogItem struct {
	ID           string       `json:"id"`
	CompanyID    string       `json:"companyId"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Unit         string       `json:"unit"`
	VATStatus    string       `json:"vatStatus"`
	StockEntries []StockEntry `json:"stockEntries"`
}

type Account struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Group     string `json:"group"`
	Address   string `json:"address,omitempty"`
	PAN       string `json:"pan,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type LineItem struct {
	ItemID      string          `json:"itemId"`
	ItemName    string          `json:"itemName,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	BatchNumber string          `json:"batchNumber,omitempty"`
	UniqueID    string          `json:"uniqueUuId,omitempty"`
	ExpiryDate  *time.Time      `json:"expiryDate,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	VATStatus   string          `json:"vatStatus,omitempty"`
}

// CashAccount is the walk-in customer typed on an open cash sale.
type CashAccount struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	PAN     string `json:"pan,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type Totals struct {
	Subtotal        decimal.Decimal `json:"subTotal"`
	Taxable         decimal.Decimal `json:"taxableAmount"`
	NonTaxable      decimal.Decimal `json:"nonTaxableAmount"`
	DiscountPercent decimal.Decimal `json:"discountPercentage"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	VATAmount       decimal.Decimal `json:"vatAmount"`
	RoundOff        decimal.Decimal `json:"roundOffAmount"`
	Total           decimal.Decimal `json:"totalAmount"`
}

type Document struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	CompanyID       string          `json:"companyId"`
	FiscalYearID    string          `json:"fiscalYearId"`
	Number          string          `json:"billNumber"`
	Sequence        int64           `json:"sequence"`
	Date            time.Time       `json:"date"`
	NepaliDate      string          `json:"nepaliDate"`
	PaymentMode     string          `json:"paymentMode,omitempty"`
	VATExemptMode   string          `json:"isVatExempt"`
	VATPercent      decimal.Decimal `json:"vatPercentage"`
	DiscountPercent decimal.Decimal `json:"discountPercentage"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	DiscountBasis   string          `json:"discountBasis"`
	RoundOff        decimal.Decimal `json:"roundOffAmount"`
	AccountID       string          `json:"accountId,omitempty"`
	CashAccount     *CashAccount    `json:"cashAccount,omitempty"`
	AdjustmentType  string          `json:"adjustmentType,omitempty"`
	Note            string          `json:"note,omitempty"`
	Lines           []LineItem      `json:"items"`
	Totals          Totals          `json:"totals"`
	AmountInWords   string          `json:"amountInWords"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// DocumentRequest is the payload a form posts on submit.
type DocumentRequest struct {
	IdempotencyKey  string           `json:"idempotencyKey"`
	Date            string           `json:"date"`
	NepaliDate      string           `json:"nepaliDate"`
	PaymentMode     string           `json:"paymentMode"`
	VATExemptMode   string           `json:"isVatExempt"`
	// VATPercent is nil when the form did not send a rate; an explicit 0 is kept.
	VATPercent      *decimal.Decimal `json:"vatPercentage,omitempty"`
	DiscountPercent decimal.Decimal  `json:"discountPercentage"`
	DiscountAmount  decimal.Decimal  `json:"discountAmount"`
	DiscountBasis   string           `json:"discountBasis"`
	RoundOff        decimal.Decimal  `json:"roundOffAmount"`
	AccountID       string           `json:"accountId,omitempty"`
	CashAccount     *CashAccount     `json:"cashAccount,omitempty"`
	AdjustmentType  string           `json:"adjustmentType,omitempty"`
	Note            string           `json:"note"`
	Items           []LineItem       `json:"items"`
	PrintAfterSave  bool             `json:"printAfterSave"`
}

// DocumentForm is everything a blank form needs to render.
type DocumentForm struct {
	Kind               string          `json:"kind"`
	Items              []CatalogItem   `json:"items"`
	Accounts           []Account       `json:"accounts"`
	NextNumber         string          `json:"nextBillNumber"`
	Date               string          `json:"date"`
	NepaliDate         string          `json:"nepaliDate"`
	VATPercent         decimal.Decimal `json:"vatPercentage"`
	Company            Company         `json:"company"`
	FiscalYear         FiscalYear      `json:"fiscalYear"`
	ReservationByBatch bool            `json:"reservationByBatch"`
}

type SubmitResponse struct {
	Document   Document `json:"document"`
	NextNumber string   `json:"nextBillNumber"`
	PrintURL   string   `json:"printUrl,omitempty"`
	Duplicate  bool     `json:"duplicate"`
}

type ItemTransaction struct {
	DocumentID string          `json:"documentId"`
	Kind       string          `json:"kind"`
	Number     string          `json:"billNumber"`
	Date       time.Time       `json:"date"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit,omitempty"`
}

type SalesTransactionSummary struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Number      string          `json:"billNumber"`
	Date        time.Time       `json:"date"`
	NepaliDate  string          `json:"nepaliDate"`
	PartyName   string          `json:"partyName"`
	PaymentMode string          `json:"paymentMode"`
	Total       decimal.Decimal `json:"totalAmount"`
	ItemCount   int             `json:"itemCount"`
}

type StockStatusRow struct {
	ItemID     string          `json:"itemId"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Unit       string          `json:"unit"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgCost    decimal.Decimal `json:"avgPuPrice"`
	StockValue decimal.Decimal `json:"stockValue"`
	NearExpiry int             `json:"nearExpiryBatches"`
	BatchCount int             `json:"batchCount"`
	VATStatus  string          `json:"vatStatus"`
}

type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	PAN         string `json:"pan,omitempty"`
	DateFormat  string `json:"dateFormat"`
	VATEnabled  bool   `json:"vatEnabled"`
	RenewalDate string `json:"renewalDate,omitempty"`
	CurrentFYID string `json:"currentFiscalYearId,omitempty"`
}

type FiscalYear struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Active    bool      `json:"isActive"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Session is the explicit per-request context: who is acting and for which
// company and fiscal year.
type Session struct {
	User       User        `json:"user"`
	Company    *Company    `json:"currentCompany,omitempty"`
	FiscalYear *FiscalYear `json:"currentFiscalYear,omitempty"`
	TokenID    string      `json:"-"`
	ExpiresAt  time.Time   `json:"-"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Name      string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expiresAt"`
	Session   Session `json:"session"`
}

type UserCompaniesResponse struct {
	Companies        []Company `json:"companies"`
	CanCreateCompany bool      `json:"isAdminOrSupervisor"`
}

type SwitchCompanyResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Token      string      `json:"token,omitempty"`
	Company    *Company    `json:"currentCompany,omitempty"`
	FiscalYear *FiscalYear `json:"currentFiscalYear,omitempty"`
	RedirectTo string      `json:"redirectTo,omitempty"`
}

type NepaliDateResponse struct {
	AD string `json:"ad"`
	BS string `json:"bs"`
}

// PrintableDocument is a saved document with the header data a printed
// bill or quotation shows.
type PrintableDocument struct {
	Document   Document   `json:"document"`
	Company    Company    `json:"company"`
	FiscalYear FiscalYear `json:"fiscalYear"`
	Party      *Account   `json:"party,omitempty"`
}

type StockStatusReport struct {
	Company     Company          `json:"company"`
	FiscalYear  FiscalYear       `json:"fiscalYear"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Rows        []StockStatusRow `json:"rows"`
	TotalValue  decimal.Decimal  `json:"totalStockValue"`
}
