package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowsystem/internal/config"
	"escrowsystem/internal/infrastructure/database"
	"escrowsystem/internal/model"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", LogLevel: "silent"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedEscrow(t *testing.T, db *gorm.DB, id string, amounts ...int64) (*model.EscrowAccount, []*model.Milestone) {
	t.Helper()
	ctx := context.Background()

	var total int64
	var milestones []*model.Milestone
	for i, amt := range amounts {
		total += amt
		milestones = append(milestones, &model.Milestone{
			ID:       id + "-MS" + string(rune('A'+i)),
			EscrowID: id,
			Position: i,
			Title:    "milestone",
			Amount:   amt,
			Currency: "INR",
			Status:   model.MilestoneStatusPending,
		})
	}
	escrow := &model.EscrowAccount{
		ID:           id,
		RequestID:    "req-" + id,
		ContractID:   "C-" + id,
		ClientID:     "client",
		WorkerID:     "worker",
		Currency:     "INR",
		TotalAmount:  total,
		Status:       model.EscrowStatusPending,
		MaxRevisions: 2,
	}

	if err := NewEscrowRepository(db).Create(ctx, nil, escrow); err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := NewMilestoneRepository(db).CreateBatch(ctx, nil, milestones); err != nil {
		t.Fatalf("create milestones: %v", err)
	}
	return escrow, milestones
}

func TestEscrowRepositoryCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()

	seedEscrow(t, db, "ESC1", 100, 200)

	got, err := repo.GetByID(ctx, nil, "ESC1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalAmount != 300 || got.Status != model.EscrowStatusPending {
		t.Fatalf("got %+v", got)
	}

	if _, err := repo.GetByID(ctx, nil, "missing"); !errors.Is(err, model.ErrEscrowNotFound) {
		t.Fatalf("missing escrow: got %v", err)
	}

	byReq, err := repo.GetByRequestID(ctx, "req-ESC1")
	if err != nil || byReq == nil || byReq.ID != "ESC1" {
		t.Fatalf("GetByRequestID = %v, %v", byReq, err)
	}
	none, err := repo.GetByRequestID(ctx, "req-none")
	if err != nil || none != nil {
		t.Fatalf("unknown request id = %v, %v", none, err)
	}
}

func TestEscrowRepositoryDuplicateRequest(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscrowRepository(db)
	seedEscrow(t, db, "ESC1", 100)

	dup := &model.EscrowAccount{
		ID: "ESC2", RequestID: "req-ESC1", ContractID: "C", ClientID: "c", WorkerID: "w",
		Currency: "INR", TotalAmount: 100, Status: model.EscrowStatusPending,
	}
	if err := repo.Create(context.Background(), nil, dup); err == nil {
		t.Fatal("duplicate request id accepted")
	}
}

func TestEscrowRepositorySaveOptimisticLock(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()
	seedEscrow(t, db, "ESC1", 500)

	first, _ := repo.GetByID(ctx, nil, "ESC1")
	stale, _ := repo.GetByID(ctx, nil, "ESC1")

	now := time.Now()
	first.Status = model.EscrowStatusFunded
	first.FundedAmount = 500
	first.FundedAt = &now
	if err := repo.Save(ctx, db, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("version = %d, want 1", first.Version)
	}

	stale.Status = model.EscrowStatusCancelled
	if err := repo.Save(ctx, db, stale); !errors.Is(err, ErrOptimisticLock) {
		t.Fatalf("stale save: got %v, want ErrOptimisticLock", err)
	}

	got, _ := repo.GetByID(ctx, nil, "ESC1")
	if got.Status != model.EscrowStatusFunded || got.FundedAmount != 500 || got.Version != 1 {
		t.Fatalf("persisted %+v", got)
	}
}

func TestEscrowRepositoryForUpdateInTransaction(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()
	seedEscrow(t, db, "ESC1", 500)

	err := db.Transaction(func(tx *gorm.DB) error {
		e, err := repo.GetForUpdate(ctx, tx, "ESC1")
		if err != nil {
			return err
		}
		e.Status = model.EscrowStatusCancelled
		return repo.Save(ctx, tx, e)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.GetForUpdate(ctx, tx, "nope")
		return err
	})
	if !errors.Is(err, model.ErrEscrowNotFound) {
		t.Fatalf("got %v, want ErrEscrowNotFound", err)
	}
}

func TestEscrowRepositoryListPendingBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscrowRepository(db)
	ctx := context.Background()
	seedEscrow(t, db, "OLD", 100)
	seedEscrow(t, db, "NEW", 100)

	old := time.Now().Add(-100 * time.Hour)
	if err := db.Model(&model.EscrowAccount{}).Where("id = ?", "OLD").UpdateColumn("created_at", old).Error; err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListPendingBefore(ctx, time.Now().Add(-72*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "OLD" {
		t.Fatalf("got %d escrows", len(got))
	}
}

func TestMilestoneRepositoryUpdateFrom(t *testing.T) {
	db := newTestDB(t)
	repo := NewMilestoneRepository(db)
	ctx := context.Background()
	_, ms := seedEscrow(t, db, "ESC1", 100, 200)

	listed, err := repo.ListByEscrow(ctx, nil, "ESC1")
	if err != nil || len(listed) != 2 || listed[0].Position != 0 {
		t.Fatalf("ListByEscrow = %v, %v", listed, err)
	}

	m := ms[0]
	m.Status = model.MilestoneStatusInProgress
	if err := repo.UpdateFrom(ctx, db, m, model.MilestoneStatusPending); err != nil {
		t.Fatalf("UpdateFrom: %v", err)
	}
	// 第二次以旧状态写入必须失败
	if err := repo.UpdateFrom(ctx, db, m, model.MilestoneStatusPending); !errors.Is(err, ErrMilestoneStatusConflict) {
		t.Fatalf("got %v, want ErrMilestoneStatusConflict", err)
	}
}

func TestTransactionRepositorySumAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	entries := []*model.EscrowTransaction{
		{TransactionNo: "T1", EscrowID: "ESC1", EventID: "e1", Type: model.TransactionTypeFund, Amount: 300, Currency: "INR", ActorID: "c"},
		{TransactionNo: "T2", EscrowID: "ESC1", EventID: "e2", Type: model.TransactionTypeRelease, Amount: 100, Currency: "INR", ActorID: "c"},
		{TransactionNo: "T3", EscrowID: "ESC1", EventID: "e3", Type: model.TransactionTypeRefund, Amount: 200, Currency: "INR", ActorID: "admin"},
		{TransactionNo: "T4", EscrowID: "ESC2", EventID: "e4", Type: model.TransactionTypeFund, Amount: 999, Currency: "INR", ActorID: "c"},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, nil, e); err != nil {
			t.Fatal(err)
		}
	}

	totals, err := repo.SumByEscrow(ctx, "ESC1")
	if err != nil {
		t.Fatal(err)
	}
	if totals != (LedgerTotals{Funded: 300, Released: 100, Refunded: 200}) {
		t.Fatalf("totals = %+v", totals)
	}

	list, total, err := repo.ListByEscrow(ctx, "ESC1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 2 || list[0].TransactionNo != "T1" {
		t.Fatalf("list = %d/%d first=%s", len(list), total, list[0].TransactionNo)
	}
	if list[1].TransactionNo != "T2" || list[1].Amount != 100 {
		t.Fatalf("second entry = %+v", list[1])
	}
}

func TestOutboxRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2"} {
		msg := &model.OutboxMessage{EventID: id, MessageKey: "ESC1", Topic: "escrow.settlement", Payload: "{}", Status: model.OutboxStatusPending}
		if err := repo.Create(ctx, nil, msg); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	if err != nil || len(pending) != 2 || pending[0].EventID != "e1" {
		t.Fatalf("pending = %v, %v", pending, err)
	}

	if err := repo.UpdateStatus(ctx, pending[0].ID, model.OutboxStatusSent); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkAsFailed(ctx, pending[1].ID); err != nil {
		t.Fatal(err)
	}

	all, err := repo.ListByEscrow(ctx, "ESC1")
	if err != nil || len(all) != 2 {
		t.Fatalf("messages = %v, %v", all, err)
	}
	if all[0].Status != model.OutboxStatusSent {
		t.Fatalf("first status = %s", all[0].Status)
	}
	if all[1].Status != model.OutboxStatusFailed || all[1].RetryCount != 1 {
		t.Fatalf("second message = %+v", all[1])
	}
	pending, _ = repo.GetPendingMessages(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("pending left = %d", len(pending))
	}
}
