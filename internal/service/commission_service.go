package service

import (
	"fmt"

	"escrowsystem/internal/commission"
	"escrowsystem/internal/model"
	"escrowsystem/pkg/money"
)

type CommissionService struct {
	table *commission.Table
}

func NewCommissionService(table *commission.Table) *CommissionService {
	return &CommissionService{table: table}
}

type QuoteRequest struct {
	JobPrice    int64  `json:"job_price" binding:"required,gt=0"`
	Currency    string `json:"currency"`
	Role        string `json:"role" binding:"required,oneof=client worker"`
	WorkerTier  string `json:"worker_tier"`
	ClientTier  string `json:"client_tier"`
	IsMicrotask bool   `json:"is_microtask"`
}

// Calculate 报价只计算不落库
func (s *CommissionService) Calculate(req *QuoteRequest) (*commission.Breakdown, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.table.Currency()
	}
	if currency != s.table.Currency() {
		return nil, fmt.Errorf("%w: no rate table for currency %s", model.ErrInvalidRequest, currency)
	}

	b, err := s.table.Calculate(commission.Input{
		JobPrice:    money.New(req.JobPrice, currency),
		Role:        commission.Role(req.Role),
		WorkerTier:  req.WorkerTier,
		ClientTier:  req.ClientTier,
		IsMicrotask: req.IsMicrotask,
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}
