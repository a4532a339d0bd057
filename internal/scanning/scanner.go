package scanning

import (
	"github.com/shopspring/decimal"
)

// Suggestion is a best-effort guess of the receipt-level fields. It is shown
// to the user for confirmation and never stored on its own.
type Suggestion struct {
	Shop          string              `json:"shop"`
	PurchaseDate  string              `json:"purchase_date"` // canonical 2006-Jan-02 form
	Documentation string              `json:"documentation"`
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and guesses its metadata
	ScanReceipt(imageData []byte, contentType string) (*Suggestion, error)
	// Close closes the scanner and releases resources
	Close() error
}
