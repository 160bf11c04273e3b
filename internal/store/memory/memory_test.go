package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func saleCommit(id string, lines []domain.CartLine, total decimal.Decimal, drawer *domain.DrawerEntry) store.SaleCommit {
	return store.SaleCommit{
		Transaction: domain.Transaction{
			ID:            id,
			CreatedAt:     time.Now().UTC(),
			Lines:         lines,
			Subtotal:      total,
			Total:         total,
			PaymentMethod: domain.PaymentMethodCash,
			CashierID:     "cashier",
		},
		DrawerEntry: drawer,
	}
}

func TestCommitSaleDecrementsInventoryAndLogsMovement(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-COLA-01", UnitPrice: dec(t, "1.50"), Qty: 3}}
	if _, err := s.CommitSale(ctx, saleCommit("tx-1", lines, dec(t, "4.50"), nil)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	inv, err := s.GetInventory(ctx, "SKU-COLA-01")
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv.Quantity != 97 {
		t.Fatalf("expected quantity 97, got %d", inv.Quantity)
	}

	movements, err := s.ListStockMovements(ctx, "SKU-COLA-01", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListStockMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	m := movements[0]
	if m.Delta != -3 || m.PriorQty != 100 || m.NewQty != 97 || m.Reason != "sale" || m.ReferenceID != "tx-1" {
		t.Fatalf("unexpected movement: %+v", m)
	}
}

func TestCommitSaleRejectsUnknownSKUWithoutMutation(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{
		{SKU: "SKU-COLA-01", UnitPrice: dec(t, "1.50"), Qty: 1},
		{SKU: "SKU-NOPE", UnitPrice: dec(t, "9.99"), Qty: 1},
	}
	_, err := s.CommitSale(ctx, saleCommit("tx-bad", lines, dec(t, "11.49"), nil))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	inv, _ := s.GetInventory(ctx, "SKU-COLA-01")
	if inv.Quantity != 100 {
		t.Fatalf("failed commit mutated inventory: got %d", inv.Quantity)
	}
	if _, err := s.GetTransactionByID(ctx, "tx-bad"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed commit stored a transaction: %v", err)
	}
}

func TestCommitSaleDuplicateID(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-WATER-01", UnitPrice: dec(t, "0.90"), Qty: 1}}
	if _, err := s.CommitSale(ctx, saleCommit("tx-dup", lines, dec(t, "0.90"), nil)); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	_, err := s.CommitSale(ctx, saleCommit("tx-dup", lines, dec(t, "0.90"), nil))
	if !errors.Is(err, store.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestConcurrentCommitsNeverLoseDecrements(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			lines := []domain.CartLine{{SKU: "SKU-CHIPS-01", UnitPrice: dec(t, "2.20"), Qty: 1}}
			id := fmt.Sprintf("tx-conc-%02d", n)
			if _, err := s.CommitSale(ctx, saleCommit(id, lines, dec(t, "2.20"), nil)); err != nil {
				t.Errorf("CommitSale %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	inv, _ := s.GetInventory(ctx, "SKU-CHIPS-01")
	if inv.Quantity != 100-workers {
		t.Fatalf("lost update: expected %d, got %d", 100-workers, inv.Quantity)
	}
}

func TestCashSaleCreditsDrawer(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-MILK-01", UnitPrice: dec(t, "1.90"), Qty: 2}}
	entry := &domain.DrawerEntry{
		Type:        domain.DrawerEntrySale,
		Amount:      dec(t, "3.80"),
		ReferenceID: "tx-cash",
		Actor:       "cashier",
	}
	if _, err := s.CommitSale(ctx, saleCommit("tx-cash", lines, dec(t, "3.80"), entry)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	balance, err := s.GetDrawerBalance(ctx)
	if err != nil {
		t.Fatalf("GetDrawerBalance: %v", err)
	}
	if !balance.Equal(dec(t, "3.80")) {
		t.Fatalf("expected drawer 3.80, got %s", balance)
	}
	entries, _ := s.ListDrawerEntries(ctx, time.Time{}, time.Time{}, 0)
	if len(entries) != 1 || entries[0].Type != domain.DrawerEntrySale {
		t.Fatalf("unexpected drawer entries: %+v", entries)
	}
}

func TestCommitReturnRestocksAndBlocksOverReturn(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-BREAD-01", UnitPrice: dec(t, "2.50"), Qty: 2}}
	if _, err := s.CommitSale(ctx, saleCommit("tx-ret", lines, dec(t, "5.00"), nil)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	first := store.ReturnCommit{Return: domain.Return{
		ID:            "ret-1",
		TransactionID: "tx-ret",
		Lines:         []domain.ReturnLine{{SKU: "SKU-BREAD-01", UnitPrice: dec(t, "2.50"), Qty: 1}},
		TotalRefund:   dec(t, "2.50"),
		Status:        domain.ReturnStatusCompleted,
		ProcessedBy:   "manager",
		CreatedAt:     time.Now().UTC(),
	}}
	if _, err := s.CommitReturn(ctx, first); err != nil {
		t.Fatalf("CommitReturn: %v", err)
	}

	inv, _ := s.GetInventory(ctx, "SKU-BREAD-01")
	if inv.Quantity != 99 {
		t.Fatalf("expected restock to 99, got %d", inv.Quantity)
	}

	over := store.ReturnCommit{Return: domain.Return{
		ID:            "ret-2",
		TransactionID: "tx-ret",
		Lines:         []domain.ReturnLine{{SKU: "SKU-BREAD-01", UnitPrice: dec(t, "2.50"), Qty: 2}},
		Status:        domain.ReturnStatusCompleted,
		ProcessedBy:   "manager",
		CreatedAt:     time.Now().UTC(),
	}}
	if _, err := s.CommitReturn(ctx, over); !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}
}

func TestCompleteReturnIsIdempotent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-EGGS-01", UnitPrice: dec(t, "3.40"), Qty: 1}}
	if _, err := s.CommitSale(ctx, saleCommit("tx-pend", lines, dec(t, "3.40"), nil)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	pending := store.ReturnCommit{Return: domain.Return{
		ID:            "ret-pend",
		TransactionID: "tx-pend",
		Lines:         []domain.ReturnLine{{SKU: "SKU-EGGS-01", UnitPrice: dec(t, "3.40"), Qty: 1}},
		TotalRefund:   dec(t, "3.40"),
		RefundMethod:  domain.PaymentMethodCash,
		Status:        domain.ReturnStatusPending,
		ProcessedBy:   "cashier",
		CreatedAt:     time.Now().UTC(),
	}}
	if _, err := s.CommitReturn(ctx, pending); err != nil {
		t.Fatalf("CommitReturn: %v", err)
	}

	debit := &domain.DrawerEntry{
		Type:        domain.DrawerEntryRefund,
		Amount:      dec(t, "-3.40"),
		ReferenceID: "ret-pend",
		Actor:       "manager",
	}
	completed, err := s.CompleteReturn(ctx, "ret-pend", time.Now().UTC(), debit)
	if err != nil {
		t.Fatalf("CompleteReturn: %v", err)
	}
	if completed.Status != domain.ReturnStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("return not completed: %+v", completed)
	}

	balance, _ := s.GetDrawerBalance(ctx)
	if !balance.Equal(dec(t, "-3.40")) {
		t.Fatalf("expected drawer -3.40, got %s", balance)
	}

	// Second completion must not debit the drawer again.
	if _, err := s.CompleteReturn(ctx, "ret-pend", time.Now().UTC(), debit); err != nil {
		t.Fatalf("second CompleteReturn: %v", err)
	}
	balance, _ = s.GetDrawerBalance(ctx)
	if !balance.Equal(dec(t, "-3.40")) {
		t.Fatalf("idempotent completion double-debited drawer: %s", balance)
	}
}

func TestShiftLifecycle(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	shift, err := s.CreateShift(ctx, domain.ShiftSession{UserID: "cashier", StartingCash: dec(t, "100.00")})
	if err != nil {
		t.Fatalf("CreateShift: %v", err)
	}
	if shift.Status != domain.ShiftStatusActive {
		t.Fatalf("expected active shift, got %s", shift.Status)
	}

	if _, err := s.CreateShift(ctx, domain.ShiftSession{UserID: "cashier", StartingCash: dec(t, "50.00")}); !errors.Is(err, store.ErrShiftAlreadyActive) {
		t.Fatalf("expected ErrShiftAlreadyActive, got %v", err)
	}

	lines := []domain.CartLine{{SKU: "SKU-RICE-01", UnitPrice: dec(t, "3.10"), Qty: 1}}
	entry := &domain.DrawerEntry{
		Type:        domain.DrawerEntrySale,
		Amount:      dec(t, "3.10"),
		ReferenceID: "tx-shift",
		Actor:       "cashier",
		ShiftID:     shift.ID,
	}
	if _, err := s.CommitSale(ctx, saleCommit("tx-shift", lines, dec(t, "3.10"), entry)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	closed, err := s.CloseActiveShift(ctx, "cashier", time.Now().UTC())
	if err != nil {
		t.Fatalf("CloseActiveShift: %v", err)
	}
	if closed.Status != domain.ShiftStatusCompleted || closed.EndTime == nil {
		t.Fatalf("shift not closed: %+v", closed)
	}
	if !closed.EndingCash.Equal(dec(t, "103.10")) {
		t.Fatalf("expected ending cash 103.10, got %s", closed.EndingCash)
	}

	if _, err := s.GetActiveShiftByUser(ctx, "cashier"); !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift after close, got %v", err)
	}
	if _, err := s.CloseActiveShift(ctx, "cashier", time.Now().UTC()); !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift on second close, got %v", err)
	}
}

func TestAdjustInventoryLogsActorAndReason(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	newQty, err := s.AdjustInventory(ctx, "SKU-SOAP-01", -5, "damaged stock", "manager", "")
	if err != nil {
		t.Fatalf("AdjustInventory: %v", err)
	}
	if newQty != 95 {
		t.Fatalf("expected 95, got %d", newQty)
	}

	if _, err := s.AdjustInventory(ctx, "SKU-MISSING", 1, "x", "manager", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.AdjustInventory(ctx, "SKU-SOAP-01", 0, "noop", "manager", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero delta, got %v", err)
	}
}

func TestProductCRUD(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU:      "SKU-TEA-01",
		Name:     "Green Tea 20pk",
		Category: "beverage",
		Price:    dec(t, "4.20"),
		Cost:     dec(t, "2.80"),
	}, 40, 0)
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !created.Active {
		t.Fatal("new product should be active")
	}

	inv, _ := s.GetInventory(ctx, "SKU-TEA-01")
	if inv.Quantity != 40 || inv.ReorderPoint != defaultReorderPoint {
		t.Fatalf("unexpected inventory record: %+v", inv)
	}

	if _, err := s.CreateProduct(ctx, *created, 0, 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate SKU, got %v", err)
	}

	created.Price = dec(t, "4.50")
	updated, err := s.UpdateProduct(ctx, *created)
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if !updated.Price.Equal(dec(t, "4.50")) {
		t.Fatalf("price not updated: %s", updated.Price)
	}
}

func TestCloneOnReadKeepsStoreIsolated(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	lines := []domain.CartLine{{SKU: "SKU-CHOC-01", UnitPrice: dec(t, "1.80"), Qty: 1}}
	if _, err := s.CommitSale(ctx, saleCommit("tx-clone", lines, dec(t, "1.80"), nil)); err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	tx, err := s.GetTransactionByID(ctx, "tx-clone")
	if err != nil {
		t.Fatalf("GetTransactionByID: %v", err)
	}
	tx.Lines[0].Qty = 999

	again, _ := s.GetTransactionByID(ctx, "tx-clone")
	if again.Lines[0].Qty != 1 {
		t.Fatalf("caller mutation leaked into store: qty %d", again.Lines[0].Qty)
	}
}
