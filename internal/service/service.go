package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/cache"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/nepalidate"
	"pasal/backend/internal/store"
	"pasal/backend/internal/xid"
)

const (
	DefaultHistoryTTL     = 5 * time.Minute
	DefaultHistoryTimeout = 3 * time.Second
	historyLimit          = 20
	nearExpiryWindow      = 90 * 24 * time.Hour
)

type Options struct {
	History        cache.HistoryCache
	HistoryTTL     time.Duration
	HistoryTimeout time.Duration
	Location       *time.Location
	Logger         *zap.Logger
}

type Service struct {
	repo           store.Repository
	history        cache.HistoryCache
	historyTTL     time.Duration
	historyTimeout time.Duration
	loc            *time.Location
	log            *zap.Logger
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.History == nil {
		opts.History = cache.NoopHistoryCache{}
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = DefaultHistoryTTL
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = DefaultHistoryTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		repo:           repo,
		history:        opts.History,
		historyTTL:     opts.HistoryTTL,
		historyTimeout: opts.HistoryTimeout,
		loc:            opts.Location,
		log:            opts.Logger.Named("service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// NewDocumentForm returns what a blank form of kind needs: the catalog
// snapshot, accounts, the next number and today's date in both calendars.
func (s *Service) NewDocumentForm(ctx context.Context, kind string) (domain.DocumentForm, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return domain.DocumentForm{}, err
	}
	if store.Series(kind) == "" {
		return domain.DocumentForm{}, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, kind)
	}

	items, err := s.repo.ListItems(ctx, session.Company.ID)
	if err != nil {
		return domain.DocumentForm{}, err
	}
	accounts, err := s.repo.ListAccounts(ctx, session.Company.ID)
	if err != nil {
		return domain.DocumentForm{}, err
	}
	next, err := s.repo.PeekNextNumber(ctx, session.Company.ID, session.FiscalYear.ID, kind)
	if err != nil {
		return domain.DocumentForm{}, err
	}

	today := s.now().In(s.loc)
	form := domain.DocumentForm{
		Kind:               kind,
		Items:              items,
		Accounts:           accounts,
		NextNumber:         next,
		Date:               today.Format(time.DateOnly),
		VATPercent:         billing.DefaultVATPercent,
		Company:            *session.Company,
		FiscalYear:         *session.FiscalYear,
		ReservationByBatch: billing.StrategyFor(kind) == billing.ByBatch,
	}
	if bs, err := nepalidate.FromAD(today); err == nil {
		form.NepaliDate = bs.String()
	} else {
		s.log.Warn("today is outside the nepali calendar table", zap.Error(err))
	}
	return form, nil
}

// SubmitDocument normalises and re-validates req, then hands the document
// to the store, which commits stock, number and document atomically.
func (s *Service) SubmitDocument(ctx context.Context, kind string, req domain.DocumentRequest) (domain.SubmitResponse, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	if store.Series(kind) == "" {
		return domain.SubmitResponse{}, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidDocument, kind)
	}
	companyID := session.Company.ID

	if req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey); req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if existing, err := s.repo.FindDocumentByIdempotency(ctx, companyID, req.IdempotencyKey); err == nil {
		if err := checkReplayKind(*existing, kind); err != nil {
			return domain.SubmitResponse{}, err
		}
		return s.submitResponse(ctx, *existing, true, req.PrintAfterSave)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SubmitResponse{}, err
	}

	doc := domain.Document{
		ID:              xid.New("doc"),
		Kind:            kind,
		CompanyID:       companyID,
		FiscalYearID:    session.FiscalYear.ID,
		PaymentMode:     strings.TrimSpace(req.PaymentMode),
		VATExemptMode:   defaultString(strings.TrimSpace(req.VATExemptMode), domain.VATModeAll),
		VATPercent:      billing.DefaultVATPercent,
		DiscountPercent: req.DiscountPercent,
		DiscountAmount:  req.DiscountAmount,
		DiscountBasis:   defaultString(strings.TrimSpace(req.DiscountBasis), domain.DiscountBasisPercent),
		RoundOff:        req.RoundOff,
		AccountID:       strings.TrimSpace(req.AccountID),
		AdjustmentType:  strings.TrimSpace(req.AdjustmentType),
		Note:            strings.TrimSpace(req.Note),
		IdempotencyKey:  req.IdempotencyKey,
		CreatedBy:       session.User.Username,
		CreatedAt:       s.now(),
	}
	if req.VATPercent != nil {
		doc.VATPercent = *req.VATPercent
	}
	if err := s.resolveDates(&doc, req); err != nil {
		return domain.SubmitResponse{}, err
	}
	if err := s.checkParty(ctx, &doc, req); err != nil {
		return domain.SubmitResponse{}, err
	}
	if err := checkHeader(&doc); err != nil {
		return domain.SubmitResponse{}, err
	}

	catalog, err := s.repo.ListItems(ctx, companyID)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	lines, err := normalizeLines(catalog, doc, req.Items)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	if _, dropped := billing.FilterByVATMode(lines, doc.VATExemptMode); len(dropped) > 0 {
		return domain.SubmitResponse{}, fmt.Errorf("%w: line %d is not allowed on a %q document", store.ErrInvalidDocument, dropped[0]+1, doc.VATExemptMode)
	}
	doc.Lines = lines

	header := billing.Header{
		VATExemptMode:   doc.VATExemptMode,
		VATPercent:      doc.VATPercent,
		DiscountPercent: doc.DiscountPercent,
		DiscountAmount:  doc.DiscountAmount,
		DiscountBasis:   doc.DiscountBasis,
		RoundOff:        doc.RoundOff,
	}
	subtotal := billing.Subtotal(lines)
	if header.DiscountBasis == domain.DiscountBasisAmount && header.DiscountAmount.GreaterThan(subtotal) {
		return domain.SubmitResponse{}, fmt.Errorf("%w: discount exceeds subtotal", store.ErrInvalidDocument)
	}
	doc.Totals = billing.ComputeTotals(lines, header)
	doc.DiscountPercent = doc.Totals.DiscountPercent
	doc.DiscountAmount = doc.Totals.DiscountAmount
	doc.AmountInWords = billing.AmountInWords(doc.Totals.Total)

	if store.StockDirection(doc) < 0 || kind == domain.DocumentSalesQuotation {
		if err := billing.NewLedger(catalog, billing.StrategyFor(kind)).Check(lines); err != nil {
			return domain.SubmitResponse{}, err
		}
	}

	saved, err := s.repo.CreateDocument(ctx, doc)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	duplicate := saved.ID != doc.ID
	if duplicate {
		if err := checkReplayKind(*saved, kind); err != nil {
			return domain.SubmitResponse{}, err
		}
	} else {
		s.log.Info("document saved",
			zap.String("kind", saved.Kind),
			zap.String("number", saved.Number),
			zap.String("company_id", saved.CompanyID),
			zap.String("created_by", saved.CreatedBy),
			zap.Stringer("total", saved.Totals.Total),
		)
	}
	return s.submitResponse(ctx, *saved, duplicate, req.PrintAfterSave)
}

// checkReplayKind rejects an idempotency key reused for a different kind of
// document.
func checkReplayKind(existing domain.Document, kind string) error {
	if existing.Kind != kind {
		return fmt.Errorf("%w: idempotency key already used for %s %s", store.ErrDuplicate, existing.Kind, existing.Number)
	}
	return nil
}

func (s *Service) submitResponse(ctx context.Context, doc domain.Document, duplicate bool, printAfterSave bool) (domain.SubmitResponse, error) {
	next, err := s.repo.PeekNextNumber(ctx, doc.CompanyID, doc.FiscalYearID, doc.Kind)
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	resp := domain.SubmitResponse{Document: doc, NextNumber: next, Duplicate: duplicate}
	if printAfterSave {
		resp.PrintURL = PrintPath(doc)
	}
	return resp, nil
}

// PrintPath is the printable view of doc, or "" for kinds without one.
func PrintPath(doc domain.Document) string {
	switch doc.Kind {
	case domain.DocumentCashSale, domain.DocumentOpenCashSale:
		return "/api/retailer/cash-sales/" + doc.ID + "/print"
	case domain.DocumentSalesQuotation:
		return "/api/retailer/sales-quotation/" + doc.ID + "/print"
	default:
		return ""
	}
}

// resolveDates fills the AD and BS dates. A BS date typed by the operator
// wins and the AD date is derived from it; otherwise the AD date (default
// today) is converted.
func (s *Service) resolveDates(doc *domain.Document, req domain.DocumentRequest) error {
	if strings.TrimSpace(req.NepaliDate) != "" {
		bs, err := nepalidate.Parse(req.NepaliDate)
		if err != nil {
			return err
		}
		ad, err := bs.ToAD()
		if err != nil {
			return &nepalidate.ParseError{Input: req.NepaliDate, Reason: err.Error(), Err: err}
		}
		doc.Date = ad
		doc.NepaliDate = bs.String()
		return nil
	}

	ad := s.now().In(s.loc)
	if raw := strings.TrimSpace(req.Date); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidDocument)
		}
		ad = parsed
	}
	doc.Date = time.Date(ad.Year(), ad.Month(), ad.Day(), 0, 0, 0, 0, time.UTC)
	if bs, err := nepalidate.FromAD(doc.Date); err == nil {
		doc.NepaliDate = bs.String()
	} else {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return nil
}

// checkParty enforces who a document is for: cash sales need a ledger
// account, open cash sales a typed walk-in name, quotations either.
func (s *Service) checkParty(ctx context.Context, doc *domain.Document, req domain.DocumentRequest) error {
	switch doc.Kind {
	case domain.DocumentOpenCashSale:
		if req.CashAccount == nil || strings.TrimSpace(req.CashAccount.Name) == "" {
			return fmt.Errorf("%w: customer name is required", store.ErrInvalidDocument)
		}
		doc.CashAccount = &domain.CashAccount{
			Name:    strings.TrimSpace(req.CashAccount.Name),
			Address: strings.TrimSpace(req.CashAccount.Address),
			PAN:     strings.TrimSpace(req.CashAccount.PAN),
			Phone:   strings.TrimSpace(req.CashAccount.Phone),
		}
		doc.AccountID = ""
		return nil
	case domain.DocumentCashSale:
		if doc.AccountID == "" {
			return fmt.Errorf("%w: account is required", store.ErrInvalidDocument)
		}
	case domain.DocumentSalesQuotation:
		if doc.AccountID == "" {
			if req.CashAccount != nil && strings.TrimSpace(req.CashAccount.Name) != "" {
				doc.CashAccount = &domain.CashAccount{
					Name:    strings.TrimSpace(req.CashAccount.Name),
					Address: strings.TrimSpace(req.CashAccount.Address),
					PAN:     strings.TrimSpace(req.CashAccount.PAN),
					Phone:   strings.TrimSpace(req.CashAccount.Phone),
				}
				return nil
			}
			return fmt.Errorf("%w: account or customer name is required", store.ErrInvalidDocument)
		}
	case domain.DocumentStockAdjustment:
		doc.AccountID = ""
		return nil
	}

	if _, err := s.repo.GetAccount(ctx, doc.CompanyID, doc.AccountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown account %s", store.ErrInvalidDocument, doc.AccountID)
		}
		return err
	}
	return nil
}

func checkHeader(doc *domain.Document) error {
	switch doc.VATExemptMode {
	case domain.VATModeAll, domain.VATModeVatable, domain.VATModeExempt:
	default:
		return fmt.Errorf("%w: unknown VAT mode %q", store.ErrInvalidDocument, doc.VATExemptMode)
	}
	switch doc.DiscountBasis {
	case domain.DiscountBasisPercent, domain.DiscountBasisAmount:
	default:
		return fmt.Errorf("%w: unknown discount basis %q", store.ErrInvalidDocument, doc.DiscountBasis)
	}

	hundred := decimal.NewFromInt(100)
	if doc.VATPercent.IsNegative() || doc.VATPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: VAT percentage out of range", store.ErrInvalidDocument)
	}
	if doc.DiscountPercent.IsNegative() || doc.DiscountPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount percentage out of range", store.ErrInvalidDocument)
	}
	if doc.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: discount amount must not be negative", store.ErrInvalidDocument)
	}

	switch doc.Kind {
	case domain.DocumentCashSale, domain.DocumentOpenCashSale:
		doc.PaymentMode = defaultString(doc.PaymentMode, domain.PaymentModeCash)
		if doc.PaymentMode != domain.PaymentModeCash && doc.PaymentMode != domain.PaymentModeOnline {
			return fmt.Errorf("%w: cash sales are paid by cash or online", store.ErrInvalidDocument)
		}
	case domain.DocumentStockAdjustment:
		if doc.AdjustmentType != domain.AdjustmentExcess && doc.AdjustmentType != domain.AdjustmentShortage {
			return fmt.Errorf("%w: adjustment type must be %q or %q", store.ErrInvalidDocument, domain.AdjustmentExcess, domain.AdjustmentShortage)
		}
		// Adjustments move stock at cost and carry no tax or discount.
		doc.PaymentMode = ""
		doc.VATExemptMode = domain.VATModeAll
		doc.VATPercent = decimal.Zero
		doc.DiscountBasis = domain.DiscountBasisPercent
		doc.DiscountPercent = decimal.Zero
		doc.DiscountAmount = decimal.Zero
		doc.RoundOff = decimal.Zero
	default:
		doc.PaymentMode = ""
	}
	if doc.Kind != domain.DocumentStockAdjustment {
		doc.AdjustmentType = ""
	}
	return nil
}

// normalizeLines rebuilds each submitted line from the catalog: names,
// units and VAT status come from the item, amount is quantity × price, and
// lines drawn from a batch are pinned to one stock entry.
func normalizeLines(catalog []domain.CatalogItem, doc domain.Document, raw []domain.LineItem) ([]domain.LineItem, error) {
	byID := make(map[string]domain.CatalogItem, len(catalog))
	for _, item := range catalog {
		byID[item.ID] = item
	}

	lines := make([]domain.LineItem, 0, len(raw))
	for i, in := range raw {
		if strings.TrimSpace(in.ItemID) == "" {
			continue
		}
		item, ok := byID[in.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: line %d: unknown item %s", store.ErrInvalidDocument, i+1, in.ItemID)
		}
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive", store.ErrInvalidDocument, i+1)
		}
		if in.Price.IsNegative() {
			return nil, fmt.Errorf("%w: line %d: price must not be negative", store.ErrInvalidDocument, i+1)
		}

		line := domain.LineItem{
			ItemID:      item.ID,
			ItemName:    item.Name,
			Unit:        item.Unit,
			VATStatus:   item.VATStatus,
			BatchNumber: strings.TrimSpace(in.BatchNumber),
			UniqueID:    strings.TrimSpace(in.UniqueID),
			ExpiryDate:  in.ExpiryDate,
			Quantity:    in.Quantity,
			Price:       in.Price,
		}

		if billing.PinsBatch(doc.Kind, doc.AdjustmentType) {
			entry, err := billing.PickEntry(item, line)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", store.ErrInvalidDocument, i+1, err)
			}
			line.BatchNumber = entry.BatchNumber
			line.UniqueID = entry.UniqueID
			line.ExpiryDate = entry.ExpiryDate
			if line.Price.IsZero() {
				line.Price = entry.SalePrice
				if doc.Kind == domain.DocumentStockAdjustment {
					line.Price = entry.PurchasePrice
				}
			}
		} else if line.Price.IsZero() && len(item.StockEntries) > 0 {
			line.Price = item.StockEntries[0].SalePrice
			if doc.Kind == domain.DocumentStockAdjustment {
				line.Price = item.StockEntries[0].PurchasePrice
			}
		}
		line.Amount = billing.LineAmount(line.Quantity, line.Price)
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", store.ErrInvalidDocument)
	}
	return lines, nil
}

// GetPrintable loads a saved document of one of kinds with the header data
// its printed copy needs.
func (s *Service) GetPrintable(ctx context.Context, documentID string, kinds ...string) (domain.PrintableDocument, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return domain.PrintableDocument{}, err
	}
	doc, err := s.repo.GetDocument(ctx, session.Company.ID, documentID)
	if err != nil {
		return domain.PrintableDocument{}, err
	}
	if len(kinds) > 0 && !containsString(kinds, doc.Kind) {
		return domain.PrintableDocument{}, store.ErrNotFound
	}

	printable := domain.PrintableDocument{
		Document:   *doc,
		Company:    *session.Company,
		FiscalYear: *session.FiscalYear,
	}
	switch {
	case doc.CashAccount != nil:
		printable.Party = &domain.Account{
			Name:    doc.CashAccount.Name,
			Address: doc.CashAccount.Address,
			PAN:     doc.CashAccount.PAN,
			Phone:   doc.CashAccount.Phone,
		}
	case doc.AccountID != "":
		account, err := s.repo.GetAccount(ctx, session.Company.ID, doc.AccountID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.PrintableDocument{}, err
		}
		printable.Party = account
	}
	return printable, nil
}

// ItemHistory returns the recent transactions of an item for an account.
// Lookups are bounded by the history timeout and memoised in the history
// cache for the configured TTL.
func (s *Service) ItemHistory(ctx context.Context, itemID string, accountID string, historyType string) ([]domain.ItemTransaction, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return nil, err
	}
	kinds, ok := store.HistoryKinds(historyType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown history type %q", store.ErrInvalidDocument, historyType)
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, fmt.Errorf("%w: item is required", store.ErrInvalidDocument)
	}

	key := cache.HistoryKey(session.Company.ID, itemID, accountID, strings.ToLower(historyType))
	if cached, hit, err := s.history.Get(ctx, key); err != nil {
		s.log.Warn("history cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.historyTimeout)
	defer cancel()
	rows, err := s.repo.ListItemTransactions(lookupCtx, session.Company.ID, itemID, accountID, kinds, historyLimit)
	if err != nil {
		return nil, err
	}
	if err := s.history.Set(ctx, key, rows, s.historyTTL); err != nil {
		s.log.Warn("history cache write failed", zap.String("key", key), zap.Error(err))
	}
	return rows, nil
}

func (s *Service) DisplaySalesTransactions(ctx context.Context, limit int) ([]domain.SalesTransactionSummary, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.ListDocuments(ctx, session.Company.ID, store.SalesKinds, limit)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accountsByID(ctx, session.Company.ID)
	if err != nil {
		return nil, err
	}

	result := make([]domain.SalesTransactionSummary, 0, len(docs))
	for _, doc := range docs {
		var account *domain.Account
		if a, ok := accounts[doc.AccountID]; ok {
			account = &a
		}
		result = append(result, domain.SalesTransactionSummary{
			ID:          doc.ID,
			Kind:        doc.Kind,
			Number:      doc.Number,
			Date:        doc.Date,
			NepaliDate:  doc.NepaliDate,
			PartyName:   store.PartyName(doc, account),
			PaymentMode: doc.PaymentMode,
			Total:       doc.Totals.Total,
			ItemCount:   len(doc.Lines),
		})
	}
	return result, nil
}

func (s *Service) accountsByID(ctx context.Context, companyID string) (map[string]domain.Account, error) {
	accounts, err := s.repo.ListAccounts(ctx, companyID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Account, len(accounts))
	for _, account := range accounts {
		byID[account.ID] = account
	}
	return byID, nil
}

func (s *Service) LatestAccounts(ctx context.Context) ([]domain.Account, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAccounts(ctx, session.Company.ID)
}

// StockStatus summarises on-hand quantity and value per item at purchase
// cost. Batches expiring within 90 days that still hold stock are counted
// as near expiry.
func (s *Service) StockStatus(ctx context.Context) (domain.StockStatusReport, error) {
	session, err := requireCompany(ctx)
	if err != nil {
		return domain.StockStatusReport{}, err
	}
	items, err := s.repo.ListItems(ctx, session.Company.ID)
	if err != nil {
		return domain.StockStatusReport{}, err
	}

	now := s.now()
	report := domain.StockStatusReport{
		Company:     *session.Company,
		FiscalYear:  *session.FiscalYear,
		GeneratedAt: now,
		Rows:        make([]domain.StockStatusRow, 0, len(items)),
		TotalValue:  decimal.Zero,
	}
	for _, item := range items {
		row := domain.StockStatusRow{
			ItemID:     item.ID,
			Code:       item.Code,
			Name:       item.Name,
			Unit:       item.Unit,
			VATStatus:  item.VATStatus,
			BatchCount: len(item.StockEntries),
			Quantity:   decimal.Zero,
			StockValue: decimal.Zero,
			AvgCost:    decimal.Zero,
		}
		for _, entry := range item.StockEntries {
			row.Quantity = row.Quantity.Add(entry.Quantity)
			row.StockValue = row.StockValue.Add(entry.Quantity.Mul(entry.PurchasePrice))
			if entry.ExpiryDate != nil && entry.Quantity.IsPositive() && entry.ExpiryDate.Sub(now) <= nearExpiryWindow {
				row.NearExpiry++
			}
		}
		row.StockValue = row.StockValue.Round(2)
		if row.Quantity.IsPositive() {
			row.AvgCost = row.StockValue.Div(row.Quantity).Round(2)
		}
		report.TotalValue = report.TotalValue.Add(row.StockValue)
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

// ConvertDate converts exactly one of ad or bs to the other calendar.
func (s *Service) ConvertDate(ad string, bs string) (domain.NepaliDateResponse, error) {
	ad = strings.TrimSpace(ad)
	bs = strings.TrimSpace(bs)
	switch {
	case ad != "" && bs != "":
		return domain.NepaliDateResponse{}, fmt.Errorf("%w: pass either ad or bs, not both", store.ErrInvalidDocument)
	case bs != "":
		date, err := nepalidate.Parse(bs)
		if err != nil {
			return domain.NepaliDateResponse{}, err
		}
		converted, err := date.ToAD()
		if err != nil {
			return domain.NepaliDateResponse{}, &nepalidate.ParseError{Input: bs, Reason: err.Error(), Err: err}
		}
		return domain.NepaliDateResponse{AD: converted.Format(time.DateOnly), BS: date.String()}, nil
	default:
		day := s.now().In(s.loc)
		if ad != "" {
			parsed, err := time.Parse(time.DateOnly, ad)
			if err != nil {
				return domain.NepaliDateResponse{}, fmt.Errorf("%w: ad must be YYYY-MM-DD", store.ErrInvalidDocument)
			}
			day = parsed
		}
		date, err := nepalidate.FromAD(day)
		if err != nil {
			return domain.NepaliDateResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
		}
		return domain.NepaliDateResponse{AD: day.Format(time.DateOnly), BS: date.String()}, nil
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
