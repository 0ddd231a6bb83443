package commission

import (
	"fmt"

	"escrowsystem/internal/config"

	"github.com/shopspring/decimal"
)

// NewTableFromConfig 从配置构建费率表，费率为十进制字符串
func NewTableFromConfig(currency string, cfg *config.CommissionConfig) (*Table, error) {
	tdsRate, err := parseRate(cfg.TDS.Rate)
	if err != nil {
		return nil, fmt.Errorf("tds.rate: %w", err)
	}

	table := NewTable(currency, cfg.MicrotaskEscrowFee, TDSRule{})
	if err := table.SetTDS(TDSRule{Threshold: cfg.TDS.Threshold, Rate: tdsRate}); err != nil {
		return nil, err
	}

	for i, rc := range cfg.Rates {
		commissionRate, err := parseRate(rc.CommissionRate)
		if err != nil {
			return nil, fmt.Errorf("rates[%d].commission_rate: %w", i, err)
		}
		escrowFeeRate, err := parseRate(rc.EscrowFeeRate)
		if err != nil {
			return nil, fmt.Errorf("rates[%d].escrow_fee_rate: %w", i, err)
		}
		key := RateKey{
			Role:             Role(rc.Role),
			VerificationTier: rc.VerificationTier,
			SubscriptionTier: rc.SubscriptionTier,
		}
		if err := table.Set(key, Rate{CommissionRate: commissionRate, EscrowFeeRate: escrowFeeRate}); err != nil {
			return nil, fmt.Errorf("rates[%d]: %w", i, err)
		}
	}
	return table, nil
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	return d, nil
}
