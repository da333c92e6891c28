// Package domain defines the insider trading records exchanged between the
// vendor client, the aggregation step and the stores.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Date layouts used on the wire and on disk.
const (
	VendorDateLayout = "2006-01-02"
	FileDateLayout   = "20060102"
)

// Date is a calendar date decoded from the vendor's yyyy-MM-dd strings. A
// JSON null or empty string decodes to the zero Date.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(VendorDateLayout, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(VendorDateLayout))
}

// String returns the date as yyyy-MM-dd, or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(VendorDateLayout)
}

// Transaction is one insider trade as reported by the vendor. Numeric
// fields the vendor omits (or sends as null) keep Valid == false.
type Transaction struct {
	Date                 Date                `json:"Date"`
	Ticker               *string             `json:"Ticker"`
	Name                 *string             `json:"Name"`
	Shares               decimal.NullDecimal `json:"Shares"`
	PricePerShare        decimal.NullDecimal `json:"PricePerShare"`
	SharesOwnedFollowing decimal.NullDecimal `json:"SharesOwnedFollowing"`
}

// UnmarshalJSON implements json.Unmarshaler. Numeric fields sent as empty
// strings decode to no value, the same as null.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	var raw struct {
		Date                 Date        `json:"Date"`
		Ticker               *string     `json:"Ticker"`
		Name                 *string     `json:"Name"`
		Shares               nullDecimal `json:"Shares"`
		PricePerShare        nullDecimal `json:"PricePerShare"`
		SharesOwnedFollowing nullDecimal `json:"SharesOwnedFollowing"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Transaction{
		Date:                 raw.Date,
		Ticker:               raw.Ticker,
		Name:                 raw.Name,
		Shares:               raw.Shares.NullDecimal,
		PricePerShare:        raw.PricePerShare.NullDecimal,
		SharesOwnedFollowing: raw.SharesOwnedFollowing.NullDecimal,
	}
	return nil
}

// nullDecimal decodes null, "" and blank strings to an invalid
// decimal.NullDecimal and defers everything else to it.
type nullDecimal struct {
	decimal.NullDecimal
}

func (d *nullDecimal) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			d.NullDecimal = decimal.NullDecimal{}
			return nil
		}
	}
	return d.NullDecimal.UnmarshalJSON(b)
}

// TickerValue returns the raw ticker, or "" when the vendor sent none.
func (t Transaction) TickerValue() string {
	if t.Ticker == nil {
		return ""
	}
	return *t.Ticker
}

// NameValue returns the raw insider name, or "" when the vendor sent none.
func (t Transaction) NameValue() string {
	if t.Name == nil {
		return ""
	}
	return *t.Name
}

// NormalizeTicker strips an exchange prefix ("NYSE:ABC" -> "ABC"), removes
// quote characters, upper-cases and trims the symbol.
func NormalizeTicker(raw string) string {
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.ReplaceAll(raw, `"`, "")
	return strings.TrimSpace(strings.ToUpper(raw))
}

// FormatDecimal renders a nullable decimal for CSV output: empty when the
// value is absent, otherwise at the scale it was parsed with ("12.50" stays
// "12.50").
func FormatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	if exp := d.Decimal.Exponent(); exp < 0 {
		return d.Decimal.StringFixed(-exp)
	}
	return d.Decimal.String()
}

// ParseDecimal is the inverse of FormatDecimal.
func ParseDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
