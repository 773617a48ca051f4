package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Product is the payload shape for the "products" collection.
type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Quantity          int       `json:"quantity"`
	Price             float64   `json:"price,omitempty"`
	LowStockThreshold int       `json:"low_stock_threshold,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// SaleItem is a single line item inside a Sale payload.
//
// Line items carry their own client-generated ids: a sale is denormalized
// into one payload before enqueue, and every nested row needs a stable id so
// a retried insert cannot duplicate it.
type SaleItem struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Sale is the payload shape for the "sales" collection.
type Sale struct {
	ID            string     `json:"id"`
	Total         float64    `json:"total"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Items         []SaleItem `json:"items,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
}

// FinancialRecord is the payload shape for the "financial-records" collection.
type FinancialRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // income or expense
	Amount      float64   `json:"amount"`
	Description string    `json:"description,omitempty"`
	RecordedAt  time.Time `json:"recorded_at,omitempty"`
}

// DecodePayload decodes a raw payload into its typed per-collection variant.
//
// The queue itself treats payloads as opaque documents; this is for callers
// that want the typed view (display, optimistic UI state).
func DecodePayload(collection string, payload json.RawMessage) (any, error) {
	switch collection {
	case CollectionSales:
		var s Sale
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("failed to decode sale payload: %w", err)
		}
		return &s, nil

	case CollectionProducts:
		var p Product
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode product payload: %w", err)
		}
		return &p, nil

	case CollectionFinancialRecords:
		var f FinancialRecord
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, fmt.Errorf("failed to decode financial record payload: %w", err)
		}
		return &f, nil
	}

	return nil, fmt.Errorf("unknown collection %q", collection)
}
