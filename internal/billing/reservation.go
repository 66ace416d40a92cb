// Package billing holds the document arithmetic shared by every sales and
// stock form: stock reservation checks, totals, and amount-in-words.
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pasal/backend/internal/domain"
)

// ErrInsufficientStock is returned (wrapped in *StockError) when lines on a
// document ask for more than the catalog snapshot holds.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrBatchRequired is returned by PickEntry when an item has several stock
// entries and the line names none of them.
var ErrBatchRequired = errors.New("select a batch")

// KeyStrategy decides which stock entries a line draws from.
type KeyStrategy int

const (
	// ByItem pools every stock entry of a catalog item.
	ByItem KeyStrategy = iota
	// ByBatch reserves against the single entry matching item, batch and unique id.
	ByBatch
)

func (s KeyStrategy) String() string {
	if s == ByBatch {
		return "batch"
	}
	return "item"
}

// ReservationKey returns the bookkeeping key for a line under strategy s.
func ReservationKey(line domain.LineItem, s KeyStrategy) string {
	if s == ByBatch {
		return batchKey(line.ItemID, line.BatchNumber, line.UniqueID)
	}
	return line.ItemID
}

func batchKey(itemID, batch, uniqueID string) string {
	return strings.Join([]string{itemID, batch, uniqueID}, "|")
}

// LineError describes one line that would oversell its reservation key.
type LineError struct {
	Index     int             `json:"index"`
	ItemID    string          `json:"itemId"`
	Key       string          `json:"key"`
	Available decimal.Decimal `json:"available"`
	Used      decimal.Decimal `json:"used"`
	Message   string          `json:"message"`
}

// StockError is the submit-time gate failure carrying every offending line.
type StockError struct {
	Lines []LineError
}

func (e *StockError) Error() string {
	if len(e.Lines) == 0 {
		return ErrInsufficientStock.Error()
	}
	first := e.Lines[0]
	return fmt.Sprintf("%s: line %d (%s)", ErrInsufficientStock.Error(), first.Index+1, first.Message)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// FirstIndex is the line an operator should be sent back to.
func (e *StockError) FirstIndex() int {
	if len(e.Lines) == 0 {
		return -1
	}
	return e.Lines[0].Index
}

// Ledger holds available quantity per reservation key for one catalog
// snapshot. It is rebuilt whenever the snapshot changes and never mutated by
// validation.
type Ledger struct {
	strategy  KeyStrategy
	available map[string]decimal.Decimal
}

func NewLedger(catalog []domain.CatalogItem, strategy KeyStrategy) *Ledger {
	available := make(map[string]decimal.Decimal, len(catalog))
	for _, item := range catalog {
		for _, entry := range item.StockEntries {
			key := item.ID
			if strategy == ByBatch {
				key = batchKey(item.ID, entry.BatchNumber, entry.UniqueID)
			}
			available[key] = available[key].Add(entry.Quantity)
		}
		if strategy == ByItem {
			if _, ok := available[item.ID]; !ok {
				// Known item with no stock entries has zero available.
				available[item.ID] = decimal.Zero
			}
		}
	}
	return &Ledger{strategy: strategy, available: available}
}

func (l *Ledger) Strategy() KeyStrategy {
	return l.strategy
}

// Available returns the quantity on hand for key, and false when the
// snapshot has no data for it.
func (l *Ledger) Available(key string) (decimal.Decimal, bool) {
	qty, ok := l.available[key]
	return qty, ok
}

// UsedQuantity sums quantities of lines whose key under s equals key.
func UsedQuantity(key string, lines []domain.LineItem, s KeyStrategy) decimal.Decimal {
	used := decimal.Zero
	for _, line := range lines {
		if ReservationKey(line, s) == key {
			used = used.Add(line.Quantity)
		}
	}
	return used
}

// IsLineValid reports whether lines[i] fits in its key's available stock.
// Lines whose key is missing from the snapshot are treated as valid.
func (l *Ledger) IsLineValid(i int, lines []domain.LineItem) bool {
	if i < 0 || i >= len(lines) {
		return false
	}
	key := ReservationKey(lines[i], l.strategy)
	available, ok := l.available[key]
	if !ok {
		return true
	}
	return UsedQuantity(key, lines, l.strategy).LessThanOrEqual(available)
}

// ValidateAll returns every line whose key is oversold, in line order.
func (l *Ledger) ValidateAll(lines []domain.LineItem) []LineError {
	used := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		key := ReservationKey(line, l.strategy)
		used[key] = used[key].Add(line.Quantity)
	}

	var errs []LineError
	for i, line := range lines {
		key := ReservationKey(line, l.strategy)
		available, ok := l.available[key]
		if !ok {
			continue
		}
		if used[key].LessThanOrEqual(available) {
			continue
		}
		remaining := available.Sub(used[key])
		errs = append(errs, LineError{
			Index:     i,
			ItemID:    line.ItemID,
			Key:       key,
			Available: available,
			Used:      used[key],
			Message:   fmt.Sprintf("Stock: %s | Rem.: %s", available.String(), remaining.String()),
		})
	}
	return errs
}

// Check is ValidateAll as an error, for use as a submit gate.
func (l *Ledger) Check(lines []domain.LineItem) error {
	if errs := l.ValidateAll(lines); len(errs) > 0 {
		return &StockError{Lines: errs}
	}
	return nil
}

// StrategyFor maps a document kind to the reservation strategy its form uses.
func StrategyFor(kind string) KeyStrategy {
	if kind == domain.DocumentSalesQuotation {
		return ByItem
	}
	return ByBatch
}

// PickEntry finds the stock entry a line draws from: by unique id, then by
// batch number, then the only entry when the item has exactly one.
func PickEntry(item domain.CatalogItem, line domain.LineItem) (domain.StockEntry, error) {
	if line.UniqueID != "" {
		for _, entry := range item.StockEntries {
			if entry.UniqueID == line.UniqueID {
				return entry, nil
			}
		}
		return domain.StockEntry{}, fmt.Errorf("batch %s not found for %s", line.UniqueID, item.Name)
	}
	if line.BatchNumber != "" {
		for _, entry := range item.StockEntries {
			if entry.BatchNumber == line.BatchNumber {
				return entry, nil
			}
		}
		return domain.StockEntry{}, fmt.Errorf("batch %s not found for %s", line.BatchNumber, item.Name)
	}
	switch len(item.StockEntries) {
	case 1:
		return item.StockEntries[0], nil
	case 0:
		return domain.StockEntry{}, fmt.Errorf("%s has no stock", item.Name)
	}
	return domain.StockEntry{}, fmt.Errorf("%w for %s", ErrBatchRequired, item.Name)
}

// PinsBatch reports whether lines of kind draw from one stock entry. Excess
// adjustments add stock and quotations reserve per item, so neither pins.
func PinsBatch(kind, adjustmentType string) bool {
	return kind != domain.DocumentSalesQuotation && adjustmentType != domain.AdjustmentExcess
}
