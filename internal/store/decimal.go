package store

import (
	"github.com/shopspring/decimal"

	"insidertrading/internal/domain"
)

func decimalPtr(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := domain.FormatDecimal(d)
	return &s
}

func parseDecimalPtr(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	return domain.ParseDecimal(*s)
}
