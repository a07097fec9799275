// Package pricing computes authoritative order totals. Client-submitted
// amounts are never trusted: every charge is recomputed here from the
// server's own line-item snapshot before anything is persisted or sent to
// the payment processor.
package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionRate is the fixed platform commission applied on top of the
// line-item subtotal.
var CommissionRate = decimal.RequireFromString("0.10")

// Sentinel errors for quote validation.
var (
	ErrEmptyItems = fmt.Errorf("line items required")
)

// InvalidLineError indicates a line item that cannot be priced: a missing or
// non-positive unit price, or a non-positive quantity.
type InvalidLineError struct {
	Index  int
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("invalid line item %d: %s", e.Index, e.Reason)
}

// Line is the canonical priced line item. All pricing and persistence
// operates on this shape; raw client payloads must pass through
// NormalizeLines first.
type Line struct {
	ProductRef  string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Quote holds the computed totals for a set of lines.
type Quote struct {
	Subtotal   decimal.Decimal
	Commission decimal.Decimal
	Total      decimal.Decimal
}

// LineSubtotal returns the price of one line (unit price times quantity),
// rounded to cents.
func (l Line) LineSubtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// LineCommission returns the platform commission attributable to one line,
// rounded to cents.
func (l Line) LineCommission() decimal.Decimal {
	return l.LineSubtotal().Mul(CommissionRate).Round(2)
}

// Compute returns the quote for the given lines: subtotal as the exact sum
// of unit price times quantity, commission as the subtotal times the fixed
// rate rounded to cents, and total as their sum. It rejects an empty list,
// non-positive unit prices, and non-positive quantities.
func Compute(lines []Line) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyItems
	}

	subtotal := decimal.Zero
	for i, l := range lines {
		if !l.UnitPrice.IsPositive() {
			return Quote{}, &InvalidLineError{Index: i, Reason: "unit price must be greater than 0"}
		}
		if l.Quantity <= 0 {
			return Quote{}, &InvalidLineError{Index: i, Reason: "quantity must be greater than 0"}
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	subtotal = subtotal.Round(2)
	commission := subtotal.Mul(CommissionRate).Round(2)

	return Quote{
		Subtotal:   subtotal,
		Commission: commission,
		Total:      subtotal.Add(commission),
	}, nil
}

// RawLine is a line item as submitted by a client. Historical client
// versions used different field names for the same values, so every known
// alias is accepted and resolved by NormalizeLines.
type RawLine struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`

	Name        string `json:"name"`
	ProductName string `json:"product_name"`

	PriceEUR     *decimal.Decimal `json:"price_eur"`
	UnitPriceEUR *decimal.Decimal `json:"unit_price_eur"`
	BasePriceEUR *decimal.Decimal `json:"base_price_eur"`
	Price        *decimal.Decimal `json:"price"`

	Quantity int `json:"quantity"`
	Qty      int `json:"qty"`
}

var _ json.Unmarshaler = (*RawLine)(nil)

// UnmarshalJSON accepts both string and number forms for the price fields,
// which decimal.Decimal already handles, but guards against clients sending
// quantity as a float.
func (r *RawLine) UnmarshalJSON(data []byte) error {
	type alias RawLine
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RawLine(a)
	return nil
}

// NormalizeLines maps raw client line items onto the canonical Line shape.
// The unit price is resolved from the first present alias in priority order
// (price_eur, unit_price_eur, base_price_eur, price); a line with no
// recognized price key is rejected rather than silently priced at zero.
func NormalizeLines(raw []RawLine) ([]Line, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyItems
	}

	lines := make([]Line, len(raw))
	for i, r := range raw {
		price, ok := resolvePrice(r)
		if !ok {
			return nil, &InvalidLineError{Index: i, Reason: "no recognized unit price field"}
		}
		if !price.IsPositive() {
			return nil, &InvalidLineError{Index: i, Reason: "unit price must be greater than 0"}
		}

		qty := r.Quantity
		if qty == 0 {
			qty = r.Qty
		}
		if qty <= 0 {
			return nil, &InvalidLineError{Index: i, Reason: "quantity must be greater than 0"}
		}

		ref := r.ProductID
		if ref == "" {
			ref = r.ID
		}
		name := r.Name
		if name == "" {
			name = r.ProductName
		}

		lines[i] = Line{
			ProductRef:  ref,
			ProductName: name,
			UnitPrice:   price,
			Quantity:    qty,
		}
	}
	return lines, nil
}

func resolvePrice(r RawLine) (decimal.Decimal, bool) {
	for _, p := range []*decimal.Decimal{r.PriceEUR, r.UnitPriceEUR, r.BasePriceEUR, r.Price} {
		if p != nil {
			return *p, true
		}
	}
	return decimal.Decimal{}, false
}
