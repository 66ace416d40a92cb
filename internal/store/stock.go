package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"pasal/backend/internal/billing"
	"pasal/backend/internal/domain"
)

// StockMove is one change to a stock entry. NewEntry is set when an excess
// adjustment introduces a batch the catalog did not have.
type StockMove struct {
	ItemID   string
	UniqueID string
	Delta    decimal.Decimal
	NewEntry *domain.StockEntry
}

// PlanStockMoves checks doc against a locked catalog snapshot and returns
// the moves that apply its stock effect. Consuming documents are checked
// per batch and fail with *billing.StockError when any batch would go
// negative. Nothing is returned for documents that do not move stock.
func PlanStockMoves(catalog []domain.CatalogItem, doc domain.Document, newID func() string) ([]StockMove, error) {
	byID := make(map[string]domain.CatalogItem, len(catalog))
	for _, item := range catalog {
		byID[item.ID] = item
	}

	for i, line := range doc.Lines {
		if _, ok := byID[line.ItemID]; !ok {
			return nil, fmt.Errorf("%w: line %d: unknown item %s", ErrInvalidDocument, i+1, line.ItemID)
		}
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d: quantity must be positive", ErrInvalidDocument, i+1)
		}
	}

	direction := StockDirection(doc)
	if direction == 0 {
		return nil, nil
	}

	moves := make([]StockMove, 0, len(doc.Lines))
	if direction > 0 {
		for _, line := range doc.Lines {
			if line.UniqueID != "" && findEntry(byID[line.ItemID], line.UniqueID) >= 0 {
				moves = append(moves, StockMove{ItemID: line.ItemID, UniqueID: line.UniqueID, Delta: line.Quantity})
				continue
			}
			entry := domain.StockEntry{
				UniqueID:         newID(),
				BatchNumber:      line.BatchNumber,
				ExpiryDate:       line.ExpiryDate,
				Quantity:         line.Quantity,
				PurchasePrice:    line.Price,
				NetPurchasePrice: line.Price,
				SalePrice:        line.Price,
				Currency:         "NPR",
			}
			if entry.BatchNumber == "" {
				entry.BatchNumber = "XXX"
			}
			moves = append(moves, StockMove{ItemID: line.ItemID, UniqueID: entry.UniqueID, Delta: line.Quantity, NewEntry: &entry})
		}
		return moves, nil
	}

	lines := make([]domain.LineItem, len(doc.Lines))
	for i, line := range doc.Lines {
		item := byID[line.ItemID]
		idx := -1
		if line.UniqueID != "" {
			idx = findEntry(item, line.UniqueID)
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: line %d: batch %q of %s not found", ErrInvalidDocument, i+1, line.BatchNumber, line.ItemID)
		}
		line.BatchNumber = item.StockEntries[idx].BatchNumber
		lines[i] = line
	}
	if err := billing.NewLedger(catalog, billing.ByBatch).Check(lines); err != nil {
		return nil, err
	}
	for _, line := range lines {
		moves = append(moves, StockMove{ItemID: line.ItemID, UniqueID: line.UniqueID, Delta: line.Quantity.Neg()})
	}
	return moves, nil
}

func findEntry(item domain.CatalogItem, uniqueID string) int {
	for i, entry := range item.StockEntries {
		if entry.UniqueID == uniqueID {
			return i
		}
	}
	return -1
}
