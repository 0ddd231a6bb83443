package commission

import (
	"errors"
	"math/rand"
	"testing"

	"escrowsystem/internal/config"
	"escrowsystem/pkg/money"

	"github.com/shopspring/decimal"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTableFromConfig("INR", &config.CommissionConfig{
		MicrotaskEscrowFee: 2000,
		TDS:                config.TDSConfig{Threshold: 3000000, Rate: "0.01"},
		Rates: []config.RateConfig{
			{Role: "client", SubscriptionTier: "free", CommissionRate: "0.03", EscrowFeeRate: "0.02"},
			{Role: "client", SubscriptionTier: "business", CommissionRate: "0", EscrowFeeRate: "0.015"},
			{Role: "client", CommissionRate: "0.05", EscrowFeeRate: "0.02"},
			{Role: "worker", VerificationTier: "verified", CommissionRate: "0.08"},
			{Role: "worker", CommissionRate: "0.10"},
		},
	})
	if err != nil {
		t.Fatalf("NewTableFromConfig: %v", err)
	}
	return table
}

func TestCalculateFullBreakdown(t *testing.T) {
	table := testTable(t)

	b, err := table.Calculate(Input{
		JobPrice:   money.INR(5000000),
		Role:       RoleWorker,
		WorkerTier: "verified",
		ClientTier: "free",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]int64{
		"escrow_fee":        100000,
		"client_commission": 150000,
		"worker_commission": 400000,
		"tds":               46000,
		"worker_receives":   4554000,
		"client_pays":       5250000,
	}
	got := map[string]int64{
		"escrow_fee":        b.EscrowFee.Amount,
		"client_commission": b.ClientCommission.Amount,
		"worker_commission": b.WorkerCommission.Amount,
		"tds":               b.TDSWithholding.Amount,
		"worker_receives":   b.WorkerReceives.Amount,
		"client_pays":       b.ClientPays.Amount,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
	if b.Net() != b.WorkerReceives {
		t.Errorf("worker quote Net() = %v", b.Net())
	}
}

func TestCalculateBelowTDSThreshold(t *testing.T) {
	b, err := testTable(t).Calculate(Input{JobPrice: money.INR(3000000), Role: RoleClient, WorkerTier: "verified", ClientTier: "free"})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !b.TDSWithholding.IsZero() {
		t.Fatalf("tds applied at threshold: %v", b.TDSWithholding)
	}
	if b.Net() != b.ClientPays {
		t.Fatalf("client quote Net() = %v", b.Net())
	}
}

func TestCalculateMicrotaskFlatFee(t *testing.T) {
	b, err := testTable(t).Calculate(Input{JobPrice: money.INR(50000), Role: RoleClient, ClientTier: "free", IsMicrotask: true})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if b.EscrowFee.Amount != 2000 {
		t.Fatalf("escrow fee = %d, want flat 2000", b.EscrowFee.Amount)
	}
	if b.ClientPays.Amount != 50000+2000+1500 {
		t.Fatalf("client pays = %d", b.ClientPays.Amount)
	}
}

func TestCalculateWildcardFallback(t *testing.T) {
	b, err := testTable(t).Calculate(Input{JobPrice: money.INR(100000), Role: RoleWorker, WorkerTier: "unknown-tier", ClientTier: "business"})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if b.WorkerCommission.Amount != 10000 {
		t.Fatalf("wildcard worker commission = %d, want 10000", b.WorkerCommission.Amount)
	}
	if b.ClientCommission.Amount != 0 || b.EscrowFee.Amount != 1500 {
		t.Fatalf("business client fees = %d/%d", b.ClientCommission.Amount, b.EscrowFee.Amount)
	}
}

func TestBankersRounding(t *testing.T) {
	table := NewTable("INR", 0, TDSRule{})
	if err := table.Set(RateKey{Role: RoleClient}, Rate{}); err != nil {
		t.Fatal(err)
	}
	if err := table.Set(RateKey{Role: RoleWorker}, Rate{CommissionRate: decimal.RequireFromString("0.01")}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		price int64
		want  int64
	}{
		{250, 2}, // 2.5 -> 2
		{350, 4}, // 3.5 -> 4
		{249, 2},
		{251, 3},
	}
	for _, tt := range tests {
		b, err := table.Calculate(Input{JobPrice: money.INR(tt.price), Role: RoleWorker})
		if err != nil {
			t.Fatalf("Calculate(%d): %v", tt.price, err)
		}
		if b.WorkerCommission.Amount != tt.want {
			t.Errorf("commission(%d) = %d, want %d", tt.price, b.WorkerCommission.Amount, tt.want)
		}
	}
}

func TestRoundTripNoLeakage(t *testing.T) {
	table := testTable(t)
	rng := rand.New(rand.NewSource(42))

	prices := []int64{1, 2, 3, 49, 50, 51, 99, 101, 2999999, 3000000, 3000001}
	for i := 0; i < 2000; i++ {
		prices = append(prices, rng.Int63n(100000000)+1)
	}

	tiers := []struct{ worker, client string }{
		{"verified", "free"},
		{"unverified", "business"},
		{"", ""},
	}
	for _, price := range prices {
		for _, tier := range tiers {
			for _, micro := range []bool{false, true} {
				in := Input{JobPrice: money.INR(price), Role: RoleWorker, WorkerTier: tier.worker, ClientTier: tier.client, IsMicrotask: micro}
				b, err := table.Calculate(in)
				if err != nil {
					t.Fatalf("Calculate(%+v): %v", in, err)
				}
				if b.WorkerReceives.Amount+b.Deductions() != price {
					t.Fatalf("leakage at price %d: %+v", price, b)
				}
				if b.ClientPays.Amount != price+b.EscrowFee.Amount+b.ClientCommission.Amount {
					t.Fatalf("client side mismatch at price %d: %+v", price, b)
				}
				if b.WorkerReceives.IsNegative() {
					t.Fatalf("negative payout at price %d", price)
				}
			}
		}
	}
}

func TestCalculateErrors(t *testing.T) {
	table := testTable(t)

	if _, err := table.Calculate(Input{JobPrice: money.INR(0), Role: RoleClient}); !errors.Is(err, ErrNonPositivePrice) {
		t.Errorf("zero price: %v", err)
	}
	if _, err := table.Calculate(Input{JobPrice: money.INR(100), Role: "admin"}); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("bad role: %v", err)
	}
	// 阈值以 paise 计，不能套用到其他币种
	if _, err := table.Calculate(Input{JobPrice: money.New(5000000, "USD"), Role: RoleWorker}); !errors.Is(err, money.ErrCurrencyMismatch) {
		t.Errorf("foreign currency: %v", err)
	}

	empty := NewTable("INR", 0, TDSRule{})
	if _, err := empty.Calculate(Input{JobPrice: money.INR(100), Role: RoleClient}); !errors.Is(err, ErrUnknownRate) {
		t.Errorf("empty table: %v", err)
	}
	if err := empty.Set(RateKey{Role: RoleWorker}, Rate{CommissionRate: decimal.NewFromInt(1)}); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("rate of 1 accepted: %v", err)
	}
	if _, err := NewTableFromConfig("INR", &config.CommissionConfig{Rates: []config.RateConfig{{Role: "client", CommissionRate: "abc"}}}); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("unparsable rate: %v", err)
	}
}
