package money

import (
	"errors"
	"fmt"
	"strings"
)

// CurrencyINR 默认币种
const CurrencyINR = "INR"

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativeAmount   = errors.New("negative amount")
	ErrInvalidCurrency  = errors.New("invalid currency code")
)

// Money 定点金额，Amount 为最小货币单位（paise），全程整数运算
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

func INR(amount int64) Money {
	return New(amount, CurrencyINR)
}

func Zero(currency string) Money {
	return New(0, currency)
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) IsNegative() bool {
	return m.Amount < 0
}

func (m Money) IsPositive() bool {
	return m.Amount > 0
}

func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

func (m Money) Equal(o Money) bool {
	return m.SameCurrency(o) && m.Amount == o.Amount
}

func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

func (m Money) Sub(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}, nil
}

// Validate 校验可持久化的余额：币种为三位字母，金额非负
func (m Money) Validate() error {
	if !ValidCurrency(m.Currency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, m.Currency)
	}
	if m.Amount < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// String 形如 "INR 500.00"
func (m Money) String() string {
	sign := ""
	amount := m.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", m.Currency, sign, amount/100, amount%100)
}
