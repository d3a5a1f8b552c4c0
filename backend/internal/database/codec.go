package database

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUserExists is returned when a username or email is already taken.
var ErrUserExists = errors.New("user already exists")

func encodePositions(p map[string]decimal.Decimal) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode positions: %w", err)
	}
	return string(b), nil
}

func decodePositions(raw string) (map[string]decimal.Decimal, error) {
	p := make(map[string]decimal.Decimal)
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return p, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return d, nil
}
