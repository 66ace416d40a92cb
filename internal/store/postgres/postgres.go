package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pasal/backend/internal/domain"
	"pasal/backend/internal/store"
	"pasal/backend/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type itemRow struct {
	ID        string `db:"id"`
	CompanyID string `db:"company_id"`
	Code      string `db:"code"`
	Name      string `db:"name"`
	Unit      string `db:"unit"`
	VATStatus string `db:"vat_status"`
}

type stockRow struct {
	ItemID           string          `db:"item_id"`
	UniqueID         string          `db:"unique_id"`
	BatchNumber      string          `db:"batch_number"`
	ExpiryDate       sql.NullTime    `db:"expiry_date"`
	Quantity         decimal.Decimal `db:"quantity"`
	PurchasePrice    decimal.Decimal `db:"purchase_price"`
	NetPurchasePrice decimal.Decimal `db:"net_purchase_price"`
	SalePrice        decimal.Decimal `db:"sale_price"`
	Margin           decimal.Decimal `db:"margin"`
	MRP              decimal.Decimal `db:"mrp"`
	Currency         string          `db:"currency"`
}

const stockColumns = `se.item_id, se.unique_id, se.batch_number, se.expiry_date, se.quantity,
	se.purchase_price, se.net_purchase_price, se.sale_price, se.margin, se.mrp, se.currency`

func (r stockRow) toDomain() domain.StockEntry {
	entry := domain.StockEntry{
		UniqueID:         r.UniqueID,
		BatchNumber:      r.BatchNumber,
		Quantity:         r.Quantity,
		PurchasePrice:    r.PurchasePrice,
		NetPurchasePrice: r.NetPurchasePrice,
		SalePrice:        r.SalePrice,
		Margin:           r.Margin,
		MRP:              r.MRP,
		Currency:         r.Currency,
	}
	if r.ExpiryDate.Valid {
		expiry := r.ExpiryDate.Time.UTC()
		entry.ExpiryDate = &expiry
	}
	return entry
}

func (s *Store) ListItems(ctx context.Context, companyID string) ([]domain.CatalogItem, error) {
	return loadCatalog(ctx, s.db, companyID, nil, false)
}

// loadCatalog reads items and their stock entries. When itemIDs is non-nil
// only those items are read; forUpdate locks the stock rows until the
// surrounding transaction ends.
func loadCatalog(ctx context.Context, q sqlx.QueryerContext, companyID string, itemIDs []string, forUpdate bool) ([]domain.CatalogItem, error) {
	itemQuery := `SELECT id, company_id, code, name, unit, vat_status FROM items WHERE company_id = $1`
	args := []any{companyID}
	if itemIDs != nil {
		itemQuery += ` AND id = ANY($2)`
		args = append(args, itemIDs)
	}
	itemQuery += ` ORDER BY name, id`

	var items []itemRow
	if err := sqlx.SelectContext(ctx, q, &items, itemQuery, args...); err != nil {
		return nil, fmt.Errorf("postgres.loadCatalog items: %w", err)
	}

	stockQuery := `SELECT ` + stockColumns + `
		FROM stock_entries se
		JOIN items i ON i.id = se.item_id
		WHERE i.company_id = $1`
	if itemIDs != nil {
		stockQuery += ` AND se.item_id = ANY($2)`
	}
	stockQuery += ` ORDER BY se.item_id, se.expiry_date ASC NULLS LAST, se.created_at ASC`
	if forUpdate {
		stockQuery += ` FOR UPDATE OF se`
	}

	var stock []stockRow
	if err := sqlx.SelectContext(ctx, q, &stock, stockQuery, args...); err != nil {
		return nil, fmt.Errorf("postgres.loadCatalog stock: %w", err)
	}
	entries := make(map[string][]domain.StockEntry, len(items))
	for _, row := range stock {
		entries[row.ItemID] = append(entries[row.ItemID], row.toDomain())
	}

	catalog := make([]domain.CatalogItem, 0, len(items))
	for _, row := range items {
		catalog = append(catalog, domain.CatalogItem{
			ID:           row.ID,
			CompanyID:    row.CompanyID,
			Code:         row.Code,
			Name:         row.Name,
			Unit:         row.Unit,
			VATStatus:    row.VATStatus,
			StockEntries: entries[row.ID],
		})
	}
	return catalog, nil
}

type accountRow struct {
	ID        string `db:"id"`
	CompanyID string `db:"company_id"`
	Name      string `db:"name"`
	Group     string `db:"account_group"`
	Address   string `db:"address"`
	PAN       string `db:"pan"`
	Phone     string `db:"phone"`
}

func (r accountRow) toDomain() domain.Account {
	return domain.Account{ID: r.ID, CompanyID: r.CompanyID, Name: r.Name, Group: r.Group, Address: r.Address, PAN: r.PAN, Phone: r.Phone}
}

func (s *Store) ListAccounts(ctx context.Context, companyID string) ([]domain.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, company_id, name, account_group, address, pan, phone
		FROM accounts
		WHERE company_id = $1
		ORDER BY name, id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListAccounts: %w", err)
	}
	accounts := make([]domain.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

func (s *Store) GetAccount(ctx context.Context, companyID string, accountID string) (*domain.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, company_id, name, account_group, address, pan, phone
		FROM accounts
		WHERE company_id = $1 AND id = $2
	`, companyID, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.GetAccount: %w", err)
	}
	account := row.toDomain()
	return &account, nil
}

type companyRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Address     string         `db:"address"`
	PAN         string         `db:"pan"`
	DateFormat  string         `db:"date_format"`
	VATEnabled  bool           `db:"vat_enabled"`
	RenewalDate string         `db:"renewal_date"`
	CurrentFYID sql.NullString `db:"current_fiscal_year_id"`
}

const companyColumns = `c.id, c.name, c.address, c.pan, c.date_format, c.vat_enabled, c.renewal_date, c.current_fiscal_year_id`

func (r companyRow) toDomain() domain.Company {
	return domain.Company{
		ID:          r.ID,
		Name:        r.Name,
		Address:     r.Address,
		PAN:         r.PAN,
		DateFormat:  r.DateFormat,
		VATEnabled:  r.VATEnabled,
		RenewalDate: r.RenewalDate,
		CurrentFYID: r.CurrentFYID.String,
	}
}

func (s *Store) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	var row companyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+companyColumns+` FROM companies c WHERE c.id = $1`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.GetCompany: %w", err)
	}
	company := row.toDomain()
	return &company, nil
}

func (s *Store) ListCompaniesForUser(ctx context.Context, username string) ([]domain.Company, error) {
	var rows []companyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+companyColumns+`
		FROM companies c
		JOIN user_companies uc ON uc.company_id = c.id
		WHERE uc.username = $1
		ORDER BY c.name
	`, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return nil, fmt.Errorf("postgres.ListCompaniesForUser: %w", err)
	}
	companies := make([]domain.Company, 0, len(rows))
	for _, row := range rows {
		companies = append(companies, row.toDomain())
	}
	return companies, nil
}

func (s *Store) GrantCompanyAccess(ctx context.Context, username string, companyID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_companies (username, company_id)
		VALUES ($1, $2)
		ON CONFLICT (username, company_id) DO NOTHING
	`, strings.ToLower(strings.TrimSpace(username)), companyID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("postgres.GrantCompanyAccess: %w", err)
	}
	return nil
}

type fiscalYearRow struct {
	ID        string    `db:"id"`
	CompanyID string    `db:"company_id"`
	Name      string    `db:"name"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
	Active    bool      `db:"active"`
}

func (s *Store) CurrentFiscalYear(ctx context.Context, companyID string) (*domain.FiscalYear, error) {
	var row fiscalYearRow
	err := s.db.GetContext(ctx, &row, `
		SELECT fy.id, fy.company_id, fy.name, fy.start_date, fy.end_date, fy.active
		FROM fiscal_years fy
		JOIN companies c ON c.id = fy.company_id
		WHERE fy.company_id = $1
		ORDER BY (fy.id = c.current_fiscal_year_id) DESC, fy.active DESC, fy.start_date DESC
		LIMIT 1
	`, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres.CurrentFiscalYear: %w", err)
	}
	return &domain.FiscalYear{
		ID:        row.ID,
		CompanyID: row.CompanyID,
		Name:      row.Name,
		StartDate: row.StartDate.UTC(),
		EndDate:   row.EndDate.UTC(),
		Active:    row.Active,
	}, nil
}

func (s *Store) PeekNextNumber(ctx context.Context, companyID string, fiscalYearID string, kind string) (string, error) {
	series := store.Series(kind)
	if series == "" {
		return "", fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, kind)
	}
	var last int64
	err := s.db.GetContext(ctx, &last, `
		SELECT COALESCE(MAX(last_value), 0)
		FROM document_sequences
		WHERE company_id = $1 AND fiscal_year_id = $2 AND series = $3
	`, companyID, fiscalYearID, series)
	if err != nil {
		return "", fmt.Errorf("postgres.PeekNextNumber: %w", err)
	}
	return store.FormatNumber(kind, last+1), nil
}

func (s *Store) CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	if doc.IdempotencyKey != "" {
		existing, err := s.FindDocumentByIdempotency(ctx, doc.CompanyID, doc.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if store.Series(doc.Kind) == "" {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, doc.Kind)
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidDocument)
	}

	for attempt := 1; ; attempt++ {
		saved, err := s.createDocumentTx(ctx, doc)
		if err != nil && isSerializationFailure(err) && attempt < maxSerializableAttempts {
			continue
		}
		return saved, err
	}
}

const maxSerializableAttempts = 3

func (s *Store) createDocumentTx(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	pgTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var fyCount int
	if err := pgTx.GetContext(ctx, &fyCount, `
		SELECT COUNT(*) FROM fiscal_years WHERE id = $1 AND company_id = $2
	`, doc.FiscalYearID, doc.CompanyID); err != nil {
		return nil, err
	}
	if fyCount == 0 {
		return nil, fmt.Errorf("%w: unknown fiscal year %s", store.ErrInvalidDocument, doc.FiscalYearID)
	}

	catalog, err := loadCatalog(ctx, pgTx, doc.CompanyID, lineItemIDs(doc.Lines), true)
	if err != nil {
		return nil, err
	}
	moves, err := store.PlanStockMoves(catalog, doc, func() string { return xid.New("stk") })
	if err != nil {
		return nil, err
	}
	for _, move := range moves {
		if move.NewEntry != nil {
			e := move.NewEntry
			_, err = pgTx.ExecContext(ctx, `
				INSERT INTO stock_entries (
					unique_id, item_id, batch_number, expiry_date, quantity,
					purchase_price, net_purchase_price, sale_price, margin, mrp, currency, created_at
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
			`, e.UniqueID, move.ItemID, e.BatchNumber, nullDate(e.ExpiryDate), e.Quantity,
				e.PurchasePrice, e.NetPurchasePrice, e.SalePrice, e.Margin, e.MRP, e.Currency)
		} else {
			_, err = pgTx.ExecContext(ctx, `
				UPDATE stock_entries SET quantity = quantity + $1 WHERE unique_id = $2
			`, move.Delta, move.UniqueID)
		}
		if err != nil {
			return nil, fmt.Errorf("postgres.CreateDocument stock: %w", err)
		}
	}

	var sequence int64
	err = pgTx.GetContext(ctx, &sequence, `
		INSERT INTO document_sequences (company_id, fiscal_year_id, series, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, fiscal_year_id, series)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value
	`, doc.CompanyID, doc.FiscalYearID, store.Series(doc.Kind))
	if err != nil {
		return nil, fmt.Errorf("postgres.CreateDocument sequence: %w", err)
	}
	doc.Sequence = sequence
	doc.Number = store.FormatNumber(doc.Kind, sequence)
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	totals, err := json.Marshal(doc.Totals)
	if err != nil {
		return nil, err
	}
	var cashAccount any
	if doc.CashAccount != nil {
		raw, err := json.Marshal(doc.CashAccount)
		if err != nil {
			return nil, err
		}
		cashAccount = raw
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO documents (
			id, kind, company_id, fiscal_year_id, number, sequence, doc_date, nepali_date,
			payment_mode, vat_exempt_mode, vat_percent, discount_percent, discount_amount,
			discount_basis, round_off, account_id, cash_account, adjustment_type, note,
			totals, amount_in_words, idempotency_key, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`, doc.ID, doc.Kind, doc.CompanyID, doc.FiscalYearID, doc.Number, doc.Sequence, nowDateUTC(doc.Date), doc.NepaliDate,
		doc.PaymentMode, doc.VATExemptMode, doc.VATPercent, doc.DiscountPercent, doc.DiscountAmount,
		doc.DiscountBasis, doc.RoundOff, nullIfEmpty(doc.AccountID), cashAccount, doc.AdjustmentType, doc.Note,
		totals, doc.AmountInWords, nullIfEmpty(doc.IdempotencyKey), doc.CreatedBy, doc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && doc.IdempotencyKey != "" {
			_ = pgTx.Rollback()
			return s.FindDocumentByIdempotency(ctx, doc.CompanyID, doc.IdempotencyKey)
		}
		return nil, fmt.Errorf("postgres.CreateDocument insert: %w", err)
	}

	for i, line := range doc.Lines {
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO document_lines (
				document_id, line_no, item_id, item_name, unit, batch_number, unique_id,
				expiry_date, quantity, price, amount, vat_status
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, doc.ID, i+1, line.ItemID, line.ItemName, line.Unit, line.BatchNumber, line.UniqueID,
			nullDate(line.ExpiryDate), line.Quantity, line.Price, line.Amount, line.VATStatus)
		if err != nil {
			return nil, fmt.Errorf("postgres.CreateDocument line %d: %w", i+1, err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &doc, nil
}

type documentRow struct {
	ID              string          `db:"id"`
	Kind            string          `db:"kind"`
	CompanyID       string          `db:"company_id"`
	FiscalYearID    string          `db:"fiscal_year_id"`
	Number          string          `db:"number"`
	Sequence        int64           `db:"sequence"`
	Date            time.Time       `db:"doc_date"`
	NepaliDate      string          `db:"nepali_date"`
	PaymentMode     string          `db:"payment_mode"`
	VATExemptMode   string          `db:"vat_exempt_mode"`
	VATPercent      decimal.Decimal `db:"vat_percent"`
	DiscountPercent decimal.Decimal `db:"discount_percent"`
	DiscountAmount  decimal.Decimal `db:"discount_amount"`
	DiscountBasis   string          `db:"discount_basis"`
	RoundOff        decimal.Decimal `db:"round_off"`
	AccountID       sql.NullString  `db:"account_id"`
	CashAccount     []byte          `db:"cash_account"`
	AdjustmentType  string          `db:"adjustment_type"`
	Note            string          `db:"note"`
	Totals          []byte          `db:"totals"`
	AmountInWords   string          `db:"amount_in_words"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key"`
	CreatedBy       string          `db:"created_by"`
	CreatedAt       time.Time       `db:"created_at"`
}

const documentColumns = `d.id, d.kind, d.company_id, d.fiscal_year_id, d.number, d.sequence, d.doc_date,
	d.nepali_date, d.payment_mode, d.vat_exempt_mode, d.vat_percent, d.discount_percent,
	d.discount_amount, d.discount_basis, d.round_off, d.account_id, d.cash_account,
	d.adjustment_type, d.note, d.totals, d.amount_in_words, d.idempotency_key,
	d.created_by, d.created_at`

func (r documentRow) toDomain() (domain.Document, error) {
	doc := domain.Document{
		ID:              r.ID,
		Kind:            r.Kind,
		CompanyID:       r.CompanyID,
		FiscalYearID:    r.FiscalYearID,
		Number:          r.Number,
		Sequence:        r.Sequence,
		Date:            r.Date.UTC(),
		NepaliDate:      r.NepaliDate,
		PaymentMode:     r.PaymentMode,
		VATExemptMode:   r.VATExemptMode,
		VATPercent:      r.VATPercent,
		DiscountPercent: r.DiscountPercent,
		DiscountAmount:  r.DiscountAmount,
		DiscountBasis:   r.DiscountBasis,
		RoundOff:        r.RoundOff,
		AccountID:       r.AccountID.String,
		AdjustmentType:  r.AdjustmentType,
		Note:            r.Note,
		AmountInWords:   r.AmountInWords,
		IdempotencyKey:  r.IdempotencyKey.String,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Totals, &doc.Totals); err != nil {
		return domain.Document{}, fmt.Errorf("decode totals of %s: %w", r.ID, err)
	}
	if len(r.CashAccount) > 0 {
		var cashAccount domain.CashAccount
		if err := json.Unmarshal(r.CashAccount, &cashAccount); err != nil {
			return domain.Document{}, fmt.Errorf("decode cash account of %s: %w", r.ID, err)
		}
		doc.CashAccount = &cashAccount
	}
	return doc, nil
}

type lineRow struct {
	DocumentID  string          `db:"document_id"`
	LineNo      int             `db:"line_no"`
	ItemID      string          `db:"item_id"`
	ItemName    string          `db:"item_name"`
	Unit        string          `db:"unit"`
	BatchNumber string          `db:"batch_number"`
	UniqueID    string          `db:"unique_id"`
	ExpiryDate  sql.NullTime    `db:"expiry_date"`
	Quantity    decimal.Decimal `db:"quantity"`
	Price       decimal.Decimal `db:"price"`
	Amount      decimal.Decimal `db:"amount"`
	VATStatus   string          `db:"vat_status"`
}

func (r lineRow) toDomain() domain.LineItem {
	line := domain.LineItem{
		ItemID:      r.ItemID,
		ItemName:    r.ItemName,
		Unit:        r.Unit,
		BatchNumber: r.BatchNumber,
		UniqueID:    r.UniqueID,
		Quantity:    r.Quantity,
		Price:       r.Price,
		Amount:      r.Amount,
		VATStatus:   r.VATStatus,
	}
	if r.ExpiryDate.Valid {
		expiry := r.ExpiryDate.Time.UTC()
		line.ExpiryDate = &expiry
	}
	return line
}

// hydrate converts document rows and attaches their lines in line order.
func (s *Store) hydrate(ctx context.Context, rows []documentRow) ([]domain.Document, error) {
	if len(rows) == 0 {
		return []domain.Document{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var lines []lineRow
	err := s.db.SelectContext(ctx, &lines, `
		SELECT document_id, line_no, item_id, item_name, unit, batch_number, unique_id,
			expiry_date, quantity, price, amount, vat_status
		FROM document_lines
		WHERE document_id = ANY($1)
		ORDER BY document_id, line_no
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres.hydrate lines: %w", err)
	}
	byDoc := make(map[string][]domain.LineItem, len(rows))
	for _, line := range lines {
		byDoc[line.DocumentID] = append(byDoc[line.DocumentID], line.toDomain())
	}

	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		doc.Lines = byDoc[row.ID]
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) findDocument(ctx context.Context, where string, args ...any) (*domain.Document, error) {
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+documentColumns+` FROM documents d WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("postgres.findDocument: %w", err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	docs, err := s.hydrate(ctx, rows[:1])
	if err != nil {
		return nil, err
	}
	return &docs[0], nil
}

func (s *Store) FindDocumentByIdempotency(ctx context.Context, companyID string, key string) (*domain.Document, error) {
	return s.findDocument(ctx, `d.company_id = $1 AND d.idempotency_key = $2`, companyID, key)
}

func (s *Store) GetDocument(ctx context.Context, companyID string, documentID string) (*domain.Document, error) {
	return s.findDocument(ctx, `d.company_id = $1 AND d.id = $2`, companyID, documentID)
}

func (s *Store) ListDocuments(ctx context.Context, companyID string, kinds []string, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.company_id = $1 AND (COALESCE(cardinality($2::text[]), 0) = 0 OR d.kind = ANY($2))
		ORDER BY d.created_at DESC, d.sequence DESC
		LIMIT $3
	`, companyID, kinds, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListDocuments: %w", err)
	}
	return s.hydrate(ctx, rows)
}

type itemTransactionRow struct {
	DocumentID string          `db:"document_id"`
	Kind       string          `db:"kind"`
	Number     string          `db:"number"`
	Date       time.Time       `db:"doc_date"`
	Quantity   decimal.Decimal `db:"quantity"`
	Price      decimal.Decimal `db:"price"`
	Unit       string          `db:"unit"`
}

func (s *Store) ListItemTransactions(ctx context.Context, companyID string, itemID string, accountID string, kinds []string, limit int) ([]domain.ItemTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []itemTransactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT d.id AS document_id, d.kind, d.number, d.doc_date, l.quantity, l.price, l.unit
		FROM document_lines l
		JOIN documents d ON d.id = l.document_id
		WHERE d.company_id = $1
			AND l.item_id = $2
			AND ($3::text = '' OR d.account_id = $3)
			AND d.kind = ANY($4)
		ORDER BY d.created_at DESC, d.sequence DESC, l.line_no
		LIMIT $5
	`, companyID, itemID, accountID, kinds, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListItemTransactions: %w", err)
	}
	result := make([]domain.ItemTransaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.ItemTransaction{
			DocumentID: row.DocumentID,
			Kind:       row.Kind,
			Number:     row.Number,
			Date:       row.Date.UTC(),
			Quantity:   row.Quantity,
			Price:      row.Price,
			Unit:       row.Unit,
		})
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidDocument
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, name, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.ID, user.Username, user.Name, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s", store.ErrDuplicate, user.Username)
		}
		return err
	}
	return nil
}

type userRow struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Name      string    `db:"name"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, username, name, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			ID:        row.ID,
			Username:  row.Username,
			Name:      row.Name,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidDocument
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func lineItemIDs(lines []domain.LineItem) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}
