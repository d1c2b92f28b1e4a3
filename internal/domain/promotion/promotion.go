// Package promotion resolves promotion codes to percentage discounts.
package promotion

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCode is returned when a code is not in the table.
	ErrUnknownCode = errors.New("promo code not recognised")
	// ErrExpired is returned when a code exists but is outside its validity window.
	ErrExpired = errors.New("promo code has expired")
)

// Rule maps a code to the percentage it takes off the subtotal.
type Rule struct {
	Code        string
	Percent     decimal.Decimal
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// Active returns ErrExpired when now falls outside the rule's window.
func (r *Rule) Active(now time.Time) error {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrExpired
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return ErrExpired
	}
	return nil
}

// Table looks up promotion rules by code. Codes passed to Lookup are
// normalized by the caller.
type Table interface {
	Lookup(ctx context.Context, code string) (*Rule, error)
}

// Normalize trims and upper cases a code as typed by the customer.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// StaticTable is an immutable in-memory Table.
type StaticTable struct {
	rules map[string]Rule
	now   func() time.Time
}

var _ Table = (*StaticTable)(nil)

// NewStaticTable builds a table from rules. Later rules replace earlier
// rules with the same normalized code.
func NewStaticTable(rules ...Rule) *StaticTable {
	t := &StaticTable{rules: make(map[string]Rule, len(rules)), now: time.Now}
	for _, r := range rules {
		r.Code = Normalize(r.Code)
		t.rules[r.Code] = r
	}
	return t
}

// DemoRules returns the built-in demo codes.
func DemoRules() []Rule {
	return []Rule{
		{Code: "SAVE10", Percent: decimal.NewFromInt(10), Description: "10% off your order"},
		{Code: "WELCOME15", Percent: decimal.NewFromInt(15), Description: "Welcome offer: 15% off"},
		{Code: "SUMMER20", Percent: decimal.NewFromInt(20), Description: "Summer sale: 20% off"},
		{Code: "HALF50", Percent: decimal.NewFromInt(50), Description: "Half price"},
	}
}

// DemoTable returns a table of the demo codes.
func DemoTable() *StaticTable {
	return NewStaticTable(DemoRules()...)
}

// Lookup returns a copy of the rule for code.
func (t *StaticTable) Lookup(_ context.Context, code string) (*Rule, error) {
	r, ok := t.rules[Normalize(code)]
	if !ok {
		return nil, ErrUnknownCode
	}
	if err := r.Active(t.now()); err != nil {
		return nil, err
	}
	return &r, nil
}

// Codes returns the known codes in lexical order.
func (t *StaticTable) Codes() []string {
	out := make([]string, 0, len(t.rules))
	for c := range t.rules {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
