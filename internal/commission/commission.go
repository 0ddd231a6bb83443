package commission

import (
	"errors"
	"fmt"

	"escrowsystem/pkg/money"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 佣金与 TDS 计算
// ============================================================================
//
// 客户侧：client_pays     = job_price + escrow_fee + client_commission
// 工作者侧：worker_receives = job_price - worker_commission - tds
//
// 所有费用按银行家舍入到最小货币单位，worker_receives 用减法得出，
// 因此 worker_receives + worker_commission + tds 恒等于 job_price。
// ============================================================================

type Role string

const (
	RoleClient Role = "client"
	RoleWorker Role = "worker"
)

// Wildcard 费率表中匹配任意等级
const Wildcard = "*"

var (
	ErrNonPositivePrice = errors.New("job price must be positive")
	ErrUnknownRate      = errors.New("no commission rate for key")
	ErrInvalidRate      = errors.New("invalid commission rate")
	ErrUnknownRole      = errors.New("unknown role")
)

// RateKey 费率表主键
type RateKey struct {
	Role             Role
	VerificationTier string
	SubscriptionTier string
}

// Rate 单条费率
type Rate struct {
	CommissionRate decimal.Decimal
	EscrowFeeRate  decimal.Decimal
}

// TDSRule 代扣税规则：超过阈值才扣
type TDSRule struct {
	Threshold int64
	Rate      decimal.Decimal
}

type Table struct {
	rates         map[RateKey]Rate
	microtaskFlat int64
	tds           TDSRule
	currency      string
}

func NewTable(currency string, microtaskFlatFee int64, tds TDSRule) *Table {
	return &Table{
		rates:         make(map[RateKey]Rate),
		microtaskFlat: microtaskFlatFee,
		tds:           tds,
		currency:      currency,
	}
}

// Set 写入一条费率，费率必须在 [0, 1) 区间
func (t *Table) Set(key RateKey, rate Rate) error {
	if key.Role != RoleClient && key.Role != RoleWorker {
		return fmt.Errorf("%w: %q", ErrUnknownRole, key.Role)
	}
	if !validFraction(rate.CommissionRate) || !validFraction(rate.EscrowFeeRate) {
		return fmt.Errorf("%w: %+v", ErrInvalidRate, key)
	}
	if key.VerificationTier == "" {
		key.VerificationTier = Wildcard
	}
	if key.SubscriptionTier == "" {
		key.SubscriptionTier = Wildcard
	}
	t.rates[key] = rate
	return nil
}

func (t *Table) SetTDS(rule TDSRule) error {
	if !validFraction(rule.Rate) || rule.Threshold < 0 {
		return fmt.Errorf("%w: tds", ErrInvalidRate)
	}
	t.tds = rule
	return nil
}

func (t *Table) Currency() string {
	return t.currency
}

// Lookup 精确匹配优先，其次逐级放宽为通配
func (t *Table) Lookup(role Role, verificationTier, subscriptionTier string) (Rate, error) {
	candidates := []RateKey{
		{role, verificationTier, subscriptionTier},
		{role, verificationTier, Wildcard},
		{role, Wildcard, subscriptionTier},
		{role, Wildcard, Wildcard},
	}
	for _, k := range candidates {
		if r, ok := t.rates[k]; ok {
			return r, nil
		}
	}
	return Rate{}, fmt.Errorf("%w: role=%s verification=%s subscription=%s",
		ErrUnknownRate, role, verificationTier, subscriptionTier)
}

type Input struct {
	JobPrice    money.Money
	Role        Role
	WorkerTier  string // 工作者认证等级
	ClientTier  string // 客户订阅等级
	IsMicrotask bool
}

// Breakdown 派生值，每次交易重新计算，不持久化为可变状态
type Breakdown struct {
	Role             Role        `json:"role"`
	JobPrice         money.Money `json:"job_price"`
	EscrowFee        money.Money `json:"escrow_fee"`
	ClientCommission money.Money `json:"client_commission"`
	WorkerCommission money.Money `json:"worker_commission"`
	TDSWithholding   money.Money `json:"tds_withholding"`
	WorkerReceives   money.Money `json:"worker_receives"`
	ClientPays       money.Money `json:"client_pays"`
}

// Deductions 从 job_price 中扣除的部分
func (b Breakdown) Deductions() int64 {
	return b.WorkerCommission.Amount + b.TDSWithholding.Amount
}

// PlatformRevenue 平台收入（不含代扣税）
func (b Breakdown) PlatformRevenue() int64 {
	return b.EscrowFee.Amount + b.ClientCommission.Amount + b.WorkerCommission.Amount
}

// Net 报价方视角的净额
func (b Breakdown) Net() money.Money {
	if b.Role == RoleClient {
		return b.ClientPays
	}
	return b.WorkerReceives
}

func (t *Table) Calculate(in Input) (Breakdown, error) {
	if in.Role != RoleClient && in.Role != RoleWorker {
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownRole, in.Role)
	}
	if !in.JobPrice.IsPositive() {
		return Breakdown{}, ErrNonPositivePrice
	}
	if err := in.JobPrice.Validate(); err != nil {
		return Breakdown{}, err
	}
	// 阈值和定额费都以表的币种计价
	if in.JobPrice.Currency != t.currency {
		return Breakdown{}, fmt.Errorf("%w: rate table is %s, price is %s", money.ErrCurrencyMismatch, t.currency, in.JobPrice.Currency)
	}

	clientRate, err := t.Lookup(RoleClient, in.WorkerTier, in.ClientTier)
	if err != nil {
		return Breakdown{}, err
	}
	workerRate, err := t.Lookup(RoleWorker, in.WorkerTier, in.ClientTier)
	if err != nil {
		return Breakdown{}, err
	}

	price := in.JobPrice.Amount
	cur := in.JobPrice.Currency

	escrowFee := applyRate(price, clientRate.EscrowFeeRate)
	if in.IsMicrotask && t.microtaskFlat > 0 {
		escrowFee = t.microtaskFlat
	}
	clientCommission := applyRate(price, clientRate.CommissionRate)

	workerCommission := applyRate(price, workerRate.CommissionRate)
	var tds int64
	if price > t.tds.Threshold && t.tds.Rate.IsPositive() {
		tds = applyRate(price-workerCommission, t.tds.Rate)
	}

	return Breakdown{
		Role:             in.Role,
		JobPrice:         in.JobPrice,
		EscrowFee:        money.New(escrowFee, cur),
		ClientCommission: money.New(clientCommission, cur),
		WorkerCommission: money.New(workerCommission, cur),
		TDSWithholding:   money.New(tds, cur),
		WorkerReceives:   money.New(price-workerCommission-tds, cur),
		ClientPays:       money.New(price+escrowFee+clientCommission, cur),
	}, nil
}

// applyRate amount*rate 按银行家舍入到整数最小单位
func applyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).RoundBank(0).IntPart()
}

func validFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThan(decimal.NewFromInt(1))
}
