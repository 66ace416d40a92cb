package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/domain"
	"pasal/backend/internal/xid"
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateEditing
	StateSubmitting
	StateSuccess
	StateFailure
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateEditing:
		return "editing"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateLoadFailed:
		return "loadFailed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrSubmitInProgress = errors.New("submit already in progress")
	ErrFormNotReady     = errors.New("form is not loaded")
)

// DefaultHistoryTimeout bounds one history lookup.
const DefaultHistoryTimeout = 3 * time.Second

// Form is one open document form. It holds the catalog snapshot it was
// loaded with, the operator's draft, and a memo of history lookups that
// lives as long as the form.
type Form struct {
	mu             sync.Mutex
	client         *Client
	kind           string
	state          State
	data           domain.DocumentForm
	ledger         *billing.Ledger
	draft          domain.DocumentRequest
	lastErr        error
	last           *domain.SubmitResponse
	managerPIN     string
	history        map[string][]domain.ItemTransaction
	historyTimeout time.Duration

	// OnChange, when set, is called after every state transition.
	OnChange func(from, to State)
}

func NewForm(c *Client, kind string) *Form {
	return &Form{
		client:         c,
		kind:           kind,
		state:          StateLoading,
		history:        make(map[string][]domain.ItemTransaction),
		historyTimeout: DefaultHistoryTimeout,
	}
}

func (f *Form) setState(to State) {
	from := f.state
	f.state = to
	if f.OnChange != nil && from != to {
		f.OnChange(from, to)
	}
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err is the last load or submit failure.
func (f *Form) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Form) Data() domain.DocumentForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func (f *Form) Draft() domain.DocumentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft := f.draft
	draft.Items = append([]domain.LineItem(nil), f.draft.Items...)
	return draft
}

// LastResult is the response of the last successful submit.
func (f *Form) LastResult() *domain.SubmitResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Load fetches the form data and starts a blank draft. A failure leaves the
// form in StateLoadFailed; calling Load again retries.
func (f *Form) Load(ctx context.Context) error {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return ErrSubmitInProgress
	}
	f.setState(StateLoading)
	f.mu.Unlock()

	data, err := f.client.DocumentForm(ctx, f.kind)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err
		f.setState(StateLoadFailed)
		return err
	}
	f.reset(data)
	f.setState(StateReady)
	return nil
}

func (f *Form) reset(data domain.DocumentForm) {
	f.data = data
	f.ledger = billing.NewLedger(data.Items, billing.StrategyFor(f.kind))
	f.draft = domain.DocumentRequest{
		Date:           data.Date,
		VATPercent:     decimalPtr(data.VATPercent),
		VATExemptMode:  domain.VATModeAll,
		DiscountBasis:  domain.DiscountBasisPercent,
		PaymentMode:    domain.PaymentModeCash,
		PrintAfterSave: f.client.PrintAfterSave(),
	}
	if f.kind == domain.DocumentStockAdjustment {
		f.draft.PaymentMode = ""
		f.draft.AdjustmentType = domain.AdjustmentShortage
	}
	f.lastErr = nil
}

// Edit applies fn to a copy of the draft. Lines without a batch are pinned to
// their stock entry the way the backend pins them, and line amounts and VAT
// status are refreshed from the snapshot. When a line cannot be pinned the
// draft is left unchanged.
func (f *Form) Edit(fn func(draft *domain.DocumentRequest)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateReady, StateEditing, StateFailure, StateSuccess:
	case StateSubmitting:
		return ErrSubmitInProgress
	default:
		return ErrFormNotReady
	}
	next := f.draft
	next.Items = append([]domain.LineItem(nil), f.draft.Items...)
	fn(&next)
	pin := billing.PinsBatch(f.kind, next.AdjustmentType)
	for i := range next.Items {
		line := &next.Items[i]
		item, ok := f.item(line.ItemID)
		if !ok {
			line.Amount = billing.LineAmount(line.Quantity, line.Price)
			continue
		}
		if pin {
			entry, err := billing.PickEntry(item, *line)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			line.BatchNumber = entry.BatchNumber
			line.UniqueID = entry.UniqueID
			line.ExpiryDate = entry.ExpiryDate
		}
		line.VATStatus = item.VATStatus
		line.Unit = item.Unit
		line.ItemName = item.Name
		line.Amount = billing.LineAmount(line.Quantity, line.Price)
	}
	f.draft = next
	f.setState(StateEditing)
	return nil
}

// AddLine appends a line for itemID drawing from the given stock entry,
// priced at the entry's sale price. With an empty uniqueID the line draws
// from the item as a whole on quotations; on other forms it is pinned to the
// item's only entry, and an item with several entries is refused with
// billing.ErrBatchRequired.
func (f *Form) AddLine(itemID, uniqueID string, qty decimal.Decimal) error {
	f.mu.Lock()
	item, ok := f.item(itemID)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("item %s is not in the catalog", itemID)
	}

	line := domain.LineItem{ItemID: item.ID, Quantity: qty}
	for _, entry := range item.StockEntries {
		if uniqueID == "" || entry.UniqueID == uniqueID {
			line.Price = entry.SalePrice
			if f.kind == domain.DocumentStockAdjustment {
				line.Price = entry.PurchasePrice
			}
			if uniqueID != "" {
				line.UniqueID = entry.UniqueID
				line.BatchNumber = entry.BatchNumber
				line.ExpiryDate = entry.ExpiryDate
			}
			break
		}
	}
	return f.Edit(func(d *domain.DocumentRequest) { d.Items = append(d.Items, line) })
}

func (f *Form) RemoveLine(i int) error {
	return f.Edit(func(d *domain.DocumentRequest) {
		if i >= 0 && i < len(d.Items) {
			d.Items = append(d.Items[:i], d.Items[i+1:]...)
		}
	})
}

// SetManagerPIN sets the PIN sent with stock adjustment submits.
func (f *Form) SetManagerPIN(pin string) {
	f.mu.Lock()
	f.managerPIN = strings.TrimSpace(pin)
	f.mu.Unlock()
}

func (f *Form) item(itemID string) (domain.CatalogItem, bool) {
	for _, item := range f.data.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return domain.CatalogItem{}, false
}

// Search filters the snapshot by code or name, case-insensitively.
func (f *Form) Search(query string) []domain.CatalogItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.CatalogItem, 0)
	for _, item := range f.data.Items {
		if q == "" || strings.Contains(strings.ToLower(item.Name), q) || strings.HasPrefix(strings.ToLower(item.Code), q) {
			result = append(result, item)
		}
	}
	return result
}

// Totals computes the draft's totals the way the backend will.
func (f *Form) Totals() domain.Totals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return billing.ComputeTotals(f.draft.Items, billing.Header{
		VATExemptMode:   f.draft.VATExemptMode,
		VATPercent:      vatPercent(f.draft.VATPercent, f.data.VATPercent),
		DiscountPercent: f.draft.DiscountPercent,
		DiscountAmount:  f.draft.DiscountAmount,
		DiscountBasis:   f.draft.DiscountBasis,
		RoundOff:        f.draft.RoundOff,
	})
}

// Validate checks every draft line against the snapshot. Excess stock
// adjustments add stock and are never flagged.
func (f *Form) Validate() []billing.LineError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validate()
}

func (f *Form) validate() []billing.LineError {
	if f.ledger == nil || (f.kind == domain.DocumentStockAdjustment && f.draft.AdjustmentType == domain.AdjustmentExcess) {
		return nil
	}
	return f.ledger.ValidateAll(f.draft.Items)
}

// Submit validates locally and posts the draft. Local stock failures come
// back as *billing.StockError whose FirstIndex is the line to focus. A
// backend rejection keeps the draft and its idempotency key so a retry
// cannot double-post. On success the form reloads a fresh snapshot.
func (f *Form) Submit(ctx context.Context) (domain.SubmitResponse, error) {
	f.mu.Lock()
	switch f.state {
	case StateSubmitting:
		f.mu.Unlock()
		return domain.SubmitResponse{}, ErrSubmitInProgress
	case StateLoading, StateLoadFailed:
		f.mu.Unlock()
		return domain.SubmitResponse{}, ErrFormNotReady
	}
	if errs := f.validate(); len(errs) > 0 {
		f.mu.Unlock()
		return domain.SubmitResponse{}, &billing.StockError{Lines: errs}
	}
	if f.draft.IdempotencyKey == "" {
		f.draft.IdempotencyKey = xid.New("idem")
	}
	req := f.draft
	req.Items = append([]domain.LineItem(nil), f.draft.Items...)
	pin := f.managerPIN
	f.setState(StateSubmitting)
	f.mu.Unlock()

	resp, err := f.client.SubmitDocument(ctx, f.kind, req, pin)

	f.mu.Lock()
	if err != nil {
		f.lastErr = err
		f.setState(StateFailure)
		f.mu.Unlock()
		return domain.SubmitResponse{}, err
	}
	f.last = &resp
	f.lastErr = nil
	f.setState(StateSuccess)
	f.mu.Unlock()

	data, loadErr := f.client.DocumentForm(ctx, f.kind)

	f.mu.Lock()
	defer f.mu.Unlock()
	if loadErr != nil {
		f.lastErr = loadErr
		f.setState(StateLoadFailed)
		return resp, nil
	}
	f.reset(data)
	f.setState(StateReady)
	return resp, nil
}

// ItemHistory looks up recent transactions, memoised for the life of the
// form. Each backend lookup is bounded by the history timeout.
func (f *Form) ItemHistory(ctx context.Context, itemID, accountID, historyType string) ([]domain.ItemTransaction, error) {
	key := strings.Join([]string{itemID, accountID, strings.ToLower(historyType)}, "|")

	f.mu.Lock()
	if rows, ok := f.history[key]; ok {
		f.mu.Unlock()
		return rows, nil
	}
	timeout := f.historyTimeout
	f.mu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rows, err := f.client.ItemHistory(lookupCtx, itemID, accountID, historyType)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.history[key] = rows
	f.mu.Unlock()
	return rows, nil
}

func decimalPtr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

// vatPercent is the draft's rate, or the form default when the draft has none.
func vatPercent(rate *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if rate == nil {
		return fallback
	}
	return *rate
}
