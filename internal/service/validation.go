package service

import (
	"net/mail"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"erplite/backend/internal/store"
)

// Violations maps a request field to the rule it broke.
type Violations map[string]string

// ValidationError reports every rejected field of a request at once.
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for field := range e.Violations {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e.Violations[field])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

func (v Violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Violations: v}
}

func (v Violations) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func (v Violations) maxLen(field, value string, n int) {
	if utf8.RuneCountInString(value) > n {
		v[field] = "too_long"
	}
}

func (v Violations) positiveInt(field string, value int) {
	if value < 1 {
		v[field] = "must_be_positive"
	}
}

// MaxQuantity bounds every quantity a request may carry so ledger sums stay
// well inside the storage column range.
const MaxQuantity = 1_000_000

func (v Violations) maxInt(field string, value int, n int) {
	if value > n {
		v[field] = "too_large"
	}
}

func (v Violations) nonNegativeInt(field string, value int) {
	if value < 0 {
		v[field] = "must_not_be_negative"
	}
}

func (v Violations) positiveMoney(field string, value decimal.Decimal) {
	if !value.IsPositive() {
		v[field] = "must_be_positive"
		return
	}
	v.scale(field, value)
}

func (v Violations) nonNegativeMoney(field string, value decimal.Decimal) {
	if value.IsNegative() {
		v[field] = "must_not_be_negative"
		return
	}
	v.scale(field, value)
}

func (v Violations) scale(field string, value decimal.Decimal) {
	if !value.Equal(value.Round(2)) {
		v[field] = "too_many_decimals"
	}
}

func (v Violations) rangeDecimal(field string, value, minVal, maxVal decimal.Decimal) {
	if value.LessThan(minVal) || value.GreaterThan(maxVal) {
		v[field] = "out_of_range"
	}
}

func (v Violations) oneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v[field] = "unsupported_value"
	}
}

func (v Violations) email(field, value string) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v[field] = "invalid_email"
	}
}

// parseDate accepts YYYY-MM-DD or RFC3339 and defaults to now when empty.
func (v Violations) parseDate(field, value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	v[field] = "invalid_date"
	return time.Time{}
}
