package quiver

import (
	"encoding/json"
	"errors"
	"fmt"

	"insidertrading/internal/domain"
)

// ErrParse is returned when a response body cannot be decoded.
var ErrParse = errors.New("decode insider trading response")

// ParseTransactions decodes the JSON array returned by the insider feed.
// A decode failure anywhere in the body fails the whole body.
func ParseTransactions(body string) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	if err := json.Unmarshal([]byte(body), &txs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return txs, nil
}
