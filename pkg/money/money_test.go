package money

import (
	"errors"
	"testing"
)

func TestAddSub(t *testing.T) {
	a := INR(5000000)
	b := INR(1250050)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Amount != 6250050 || sum.Currency != CurrencyINR {
		t.Fatalf("unexpected sum %+v", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.Amount != 3749950 {
		t.Fatalf("unexpected diff %d", diff.Amount)
	}
}

func TestCurrencyMismatch(t *testing.T) {
	_, err := INR(100).Add(New(100, "usd"))
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	_, err = INR(100).Sub(New(100, "USD"))
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Money
		want error
	}{
		{"ok", INR(0), nil},
		{"negative", INR(-1), ErrNegativeAmount},
		{"short currency", Money{Amount: 1, Currency: "IN"}, ErrInvalidCurrency},
		{"lowercase raw", Money{Amount: 1, Currency: "inr"}, ErrInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := INR(5000000).String(); got != "INR 50000.00" {
		t.Fatalf("got %q", got)
	}
	if got := INR(-105).String(); got != "INR -1.05" {
		t.Fatalf("got %q", got)
	}
}
