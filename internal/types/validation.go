package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constraint constants.
const (
	MinTickerLength = 1
	MaxTickerLength = 10
	MaxListLimit    = 100
	DefaultListLimit = 20
)

// tickerPattern matches exchange symbols: uppercase letters with optional
// class/share suffixes (BRK.B, BF-B).
var tickerPattern = regexp.MustCompile(`^[A-Z]{1,6}([.-][A-Z]{1,3})?$`)

// NormalizeTicker uppercases and trims a raw ticker string.
func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateTicker checks a normalized ticker against the symbol grammar.
// Returns an AppError with a validation_ code on failure.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return NewAppError(ErrCodeValidationMissingTicker, "ticker is required", nil)
	}
	if len(ticker) > MaxTickerLength || !tickerPattern.MatchString(ticker) {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidTicker,
			fmt.Sprintf("'%s' is not a valid ticker symbol", ticker), nil,
			map[string]any{"ticker": ticker})
	}
	return nil
}

// ClampListLimit normalizes a requested page size into [1, MaxListLimit],
// substituting the default for zero or negative values.
func ClampListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
