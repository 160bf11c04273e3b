package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/store"
	"tillpoint/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.NewSeeded(), cache.NoopQuoteCache{}, dec(t, "0.08"), 2)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func managerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: "manager"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

// seedProduct registers a product with a known price so tests do not depend
// on the seeded catalog.
func seedProduct(t *testing.T, svc *Service, sku string, priceStr string, stock int) {
	t.Helper()
	_, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		SKU:          sku,
		Name:         "Test " + sku,
		Category:     "test",
		Price:        dec(t, priceStr),
		Cost:         dec(t, priceStr),
		InitialStock: stock,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", sku, err)
	}
}

func TestPriceCartMatchesLedgerExample(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-EX-01", "10.00", 50)

	quote, err := svc.PriceCart(cashierCtx(), domain.PriceCartRequest{
		Lines: []domain.CartLine{{SKU: "SKU-EX-01", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("PriceCart: %v", err)
	}
	if !quote.Subtotal.Equal(dec(t, "30.00")) {
		t.Fatalf("subtotal: got %s, want 30.00", quote.Subtotal)
	}
	if !quote.Tax.Equal(dec(t, "2.40")) {
		t.Fatalf("tax: got %s, want 2.40", quote.Tax)
	}
	if !quote.Total.Equal(dec(t, "32.40")) {
		t.Fatalf("total: got %s, want 32.40", quote.Total)
	}
}

func TestPriceCartRejectsUnknownSKU(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.PriceCart(cashierCtx(), domain.PriceCartRequest{
		Lines: []domain.CartLine{{SKU: "SKU-GHOST", Qty: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitSaleCashHappyPath(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-EX-02", "10.00", 50)

	tx, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-EX-02", Qty: 3}},
		Payment: domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "40.00")},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if !tx.Total.Equal(dec(t, "32.40")) {
		t.Fatalf("total: got %s, want 32.40", tx.Total)
	}
	if !tx.Change.Equal(dec(t, "7.60")) {
		t.Fatalf("change: got %s, want 7.60", tx.Change)
	}
	if tx.CashierID != "cashier" {
		t.Fatalf("cashier id: got %s", tx.CashierID)
	}
	if len(tx.ID) == 0 {
		t.Fatal("expected non-empty transaction id")
	}

	inv, err := svc.GetInventory(cashierCtx(), "SKU-EX-02")
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv.Quantity != 47 {
		t.Fatalf("inventory: got %d, want 47", inv.Quantity)
	}
}

func TestCommitSaleInsufficientCash(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-EX-03", "10.00", 50)

	_, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-EX-03", Qty: 3}},
		Payment: domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "30.00")},
	})
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}

	inv, _ := svc.GetInventory(cashierCtx(), "SKU-EX-03")
	if inv.Quantity != 50 {
		t.Fatalf("failed sale must not touch inventory: got %d", inv.Quantity)
	}
}

func TestCommitSaleElectronicSettlesExactly(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-EX-04", "10.00", 50)

	tx, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-EX-04", Qty: 1}},
		Payment: domain.Payment{Method: domain.PaymentMethodCredit},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if !tx.AmountTendered.Equal(tx.Total) || !tx.Change.IsZero() {
		t.Fatalf("electronic payment should settle exactly: tendered=%s change=%s", tx.AmountTendered, tx.Change)
	}
}

func TestCashSaleWithActiveShiftAttributesDrawerEntry(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-EX-05", "10.00", 50)
	ctx := cashierCtx()

	shift, err := svc.StartShift(ctx, domain.StartShiftRequest{StartingCash: dec(t, "200.00")})
	if err != nil {
		t.Fatalf("StartShift: %v", err)
	}

	tx, err := svc.CommitSale(ctx, domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-EX-05", Qty: 1}},
		Payment: domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "20.00")},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if tx.ShiftID != shift.ID {
		t.Fatalf("sale not attributed to shift: got %q, want %q", tx.ShiftID, shift.ID)
	}

	status, err := svc.DrawerStatus(managerCtx())
	if err != nil {
		t.Fatalf("DrawerStatus: %v", err)
	}
	if !status.Balance.Equal(dec(t, "10.80")) {
		t.Fatalf("drawer balance: got %s, want 10.80", status.Balance)
	}
	if !status.BalanceConsistent {
		t.Fatal("drawer balance inconsistent with entry log")
	}

	closed, err := svc.EndShift(ctx)
	if err != nil {
		t.Fatalf("EndShift: %v", err)
	}
	if !closed.EndingCash.Equal(dec(t, "210.80")) {
		t.Fatalf("ending cash: got %s, want 210.80", closed.EndingCash)
	}
}

func TestReturnRefundsProportionalTax(t *testing.T) {
	svc := New(memory.NewSeeded(), cache.NoopQuoteCache{}, dec(t, "0.10"), 2)
	seedProduct(t, svc, "SKU-RET-01", "5.00", 50)
	ctx := cashierCtx()

	if _, err := svc.StartShift(ctx, domain.StartShiftRequest{StartingCash: dec(t, "100.00")}); err != nil {
		t.Fatalf("StartShift: %v", err)
	}

	tx, err := svc.CommitSale(ctx, domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-RET-01", Qty: 3}},
		Payment: domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "20.00")},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	// 15.00 subtotal, 1.50 tax, 16.50 total at 10%.
	if !tx.Total.Equal(dec(t, "16.50")) {
		t.Fatalf("total: got %s, want 16.50", tx.Total)
	}

	ret, err := svc.CommitReturn(ctx, domain.CommitReturnRequest{
		TransactionID: tx.ID,
		Lines:         []domain.ReturnLineRequest{{SKU: "SKU-RET-01", Qty: 1}},
		Reason:        "changed mind",
	})
	if err != nil {
		t.Fatalf("CommitReturn: %v", err)
	}
	if !ret.RefundSubtotal.Equal(dec(t, "5.00")) {
		t.Fatalf("refund subtotal: got %s, want 5.00", ret.RefundSubtotal)
	}
	if !ret.TaxRefund.Equal(dec(t, "0.50")) {
		t.Fatalf("tax refund: got %s, want 0.50", ret.TaxRefund)
	}
	if !ret.TotalRefund.Equal(dec(t, "5.50")) {
		t.Fatalf("total refund: got %s, want 5.50", ret.TotalRefund)
	}
	if ret.Status != domain.ReturnStatusCompleted {
		t.Fatalf("cash return with active shift should complete, got %s", ret.Status)
	}

	inv, _ := svc.GetInventory(ctx, "SKU-RET-01")
	if inv.Quantity != 48 {
		t.Fatalf("expected restock to 48, got %d", inv.Quantity)
	}
}

func TestReturnOverSoldQuantityRejected(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-RET-02", "5.00", 50)
	ctx := cashierCtx()

	tx, err := svc.CommitSale(ctx, domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-RET-02", Qty: 2}},
		Payment: domain.Payment{Method: domain.PaymentMethodCredit},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}

	if _, err := svc.CommitReturn(ctx, domain.CommitReturnRequest{
		TransactionID: tx.ID,
		Lines:         []domain.ReturnLineRequest{{SKU: "SKU-RET-02", Qty: 1}},
	}); err != nil {
		t.Fatalf("first return: %v", err)
	}

	_, err = svc.CommitReturn(ctx, domain.CommitReturnRequest{
		TransactionID: tx.ID,
		Lines:         []domain.ReturnLineRequest{{SKU: "SKU-RET-02", Qty: 2}},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}
}

func TestCashReturnWithoutShiftIsPendingUntilManagerCompletes(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-RET-03", "10.00", 50)
	ctx := cashierCtx()

	if _, err := svc.StartShift(ctx, domain.StartShiftRequest{StartingCash: dec(t, "100.00")}); err != nil {
		t.Fatalf("StartShift: %v", err)
	}
	tx, err := svc.CommitSale(ctx, domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-RET-03", Qty: 1}},
		Payment: domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "11.00")},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if _, err := svc.EndShift(ctx); err != nil {
		t.Fatalf("EndShift: %v", err)
	}

	ret, err := svc.CommitReturn(ctx, domain.CommitReturnRequest{
		TransactionID: tx.ID,
		Lines:         []domain.ReturnLineRequest{{SKU: "SKU-RET-03", Qty: 1}},
		Reason:        "defective",
	})
	if err != nil {
		t.Fatalf("CommitReturn: %v", err)
	}
	if ret.Status != domain.ReturnStatusPending {
		t.Fatalf("cash return without shift should be Pending, got %s", ret.Status)
	}

	balanceBefore, _ := svc.DrawerStatus(managerCtx())

	// Cashier cannot complete a pending return.
	if _, err := svc.CompleteReturn(ctx, ret.ID); err == nil {
		t.Fatal("expected role error for cashier completing return")
	}

	completed, err := svc.CompleteReturn(managerCtx(), ret.ID)
	if err != nil {
		t.Fatalf("CompleteReturn: %v", err)
	}
	if completed.Status != domain.ReturnStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("return not completed: %+v", completed)
	}

	balanceAfter, _ := svc.DrawerStatus(managerCtx())
	wantDelta := completed.TotalRefund.Neg()
	gotDelta := balanceAfter.Balance.Sub(balanceBefore.Balance)
	if !gotDelta.Equal(wantDelta) {
		t.Fatalf("drawer delta: got %s, want %s", gotDelta, wantDelta)
	}

	// Completing again must not debit twice.
	again, err := svc.CompleteReturn(managerCtx(), ret.ID)
	if err != nil {
		t.Fatalf("second CompleteReturn: %v", err)
	}
	if again.Status != domain.ReturnStatusCompleted {
		t.Fatalf("unexpected status: %s", again.Status)
	}
	balanceFinal, _ := svc.DrawerStatus(managerCtx())
	if !balanceFinal.Balance.Equal(balanceAfter.Balance) {
		t.Fatalf("idempotent completion moved the drawer: %s vs %s", balanceFinal.Balance, balanceAfter.Balance)
	}
}

func TestStartShiftTwiceRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	if _, err := svc.StartShift(ctx, domain.StartShiftRequest{StartingCash: dec(t, "50.00")}); err != nil {
		t.Fatalf("StartShift: %v", err)
	}
	_, err := svc.StartShift(ctx, domain.StartShiftRequest{StartingCash: dec(t, "50.00")})
	if !errors.Is(err, store.ErrShiftAlreadyActive) {
		t.Fatalf("expected ErrShiftAlreadyActive, got %v", err)
	}
}

func TestEndShiftWithoutActiveShift(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.EndShift(cashierCtx())
	if !errors.Is(err, store.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}

func TestDiscountAppliedOnCommit(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-DISC-01", "10.00", 50)

	discount, err := svc.CreateDiscount(managerCtx(), domain.DiscountCreateRequest{
		Name:      "Ten percent",
		Kind:      domain.DiscountKindPercentage,
		Value:     dec(t, "10"),
		Scope:     domain.DiscountScopeAll,
		StartDate: time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		EndDate:   time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
	})
	if err != nil {
		t.Fatalf("CreateDiscount: %v", err)
	}

	tx, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
		Lines:      []domain.CartLine{{SKU: "SKU-DISC-01", Qty: 3}},
		DiscountID: discount.ID,
		Payment:    domain.Payment{Method: domain.PaymentMethodCash, AmountTendered: dec(t, "40.00")},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	// 30.00 + 2.40 tax, minus 10% of 32.40 = 3.24.
	if !tx.DiscountAmount.Equal(dec(t, "3.24")) {
		t.Fatalf("discount: got %s, want 3.24", tx.DiscountAmount)
	}
	if !tx.Total.Equal(dec(t, "29.16")) {
		t.Fatalf("total: got %s, want 29.16", tx.Total)
	}
}

func TestBogoOfferAppliedOnCommit(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-BOGO-01", "10.00", 50)

	_, err := svc.CreateOffer(managerCtx(), domain.OfferCreateRequest{
		Name:      "Buy 2 get 1",
		Kind:      domain.OfferKindBOGO,
		BuyQty:    2,
		GetQty:    1,
		SKUs:      []string{"SKU-BOGO-01"},
		StartDate: time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"),
		EndDate:   time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"),
	})
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	tx, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-BOGO-01", Qty: 5}},
		Payment: domain.Payment{Method: domain.PaymentMethodCredit},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	// floor(5/2) complete groups, 1 free unit each: 20.00 in savings.
	if !tx.OfferSavings.Equal(dec(t, "20.00")) {
		t.Fatalf("offer savings: got %s, want 20.00", tx.OfferSavings)
	}
}

func TestCatalogManagementRequiresRole(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		SKU: "SKU-NOPE", Name: "Nope", Category: "test", Price: dec(t, "1.00"),
	})
	if err == nil {
		t.Fatal("expected role error for cashier creating product")
	}

	_, err = svc.AdjustInventory(cashierCtx(), domain.AdjustInventoryRequest{SKU: "SKU-COLA-01", Delta: 1, Reason: "x"})
	if err == nil {
		t.Fatal("expected role error for cashier adjusting inventory")
	}
}

func TestConcurrentSalesDoNotLoseInventory(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-CONC-01", "1.00", 100)

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.CommitSale(cashierCtx(), domain.CommitSaleRequest{
				Lines:   []domain.CartLine{{SKU: "SKU-CONC-01", Qty: 1}},
				Payment: domain.Payment{Method: domain.PaymentMethodCredit},
			})
			if err != nil {
				t.Errorf("CommitSale: %v", err)
			}
		}()
	}
	wg.Wait()

	inv, _ := svc.GetInventory(cashierCtx(), "SKU-CONC-01")
	if inv.Quantity != 100-workers {
		t.Fatalf("lost update: got %d, want %d", inv.Quantity, 100-workers)
	}
}

func TestDailySummaryAggregatesLedger(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-SUM-01", "10.00", 50)
	ctx := cashierCtx()

	tx, err := svc.CommitSale(ctx, domain.CommitSaleRequest{
		Lines:   []domain.CartLine{{SKU: "SKU-SUM-01", Qty: 2}},
		Payment: domain.Payment{Method: domain.PaymentMethodCredit},
	})
	if err != nil {
		t.Fatalf("CommitSale: %v", err)
	}
	if _, err := svc.CommitReturn(ctx, domain.CommitReturnRequest{
		TransactionID: tx.ID,
		Lines:         []domain.ReturnLineRequest{{SKU: "SKU-SUM-01", Qty: 1}},
	}); err != nil {
		t.Fatalf("CommitReturn: %v", err)
	}

	summary, err := svc.DailySummary(ctx, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if summary.Transactions != 1 || summary.Returns != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if !summary.GrossSales.Equal(dec(t, "20.00")) {
		t.Fatalf("gross sales: got %s, want 20.00", summary.GrossSales)
	}
	if !summary.TotalRefunded.Equal(dec(t, "10.80")) {
		t.Fatalf("total refunded: got %s, want 10.80", summary.TotalRefunded)
	}
}

func TestPriceCartIsPure(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-PURE-01", "10.00", 50)

	req := domain.PriceCartRequest{Lines: []domain.CartLine{{SKU: "SKU-PURE-01", Qty: 2}}}
	first, err := svc.PriceCart(cashierCtx(), req)
	if err != nil {
		t.Fatalf("PriceCart: %v", err)
	}
	second, err := svc.PriceCart(cashierCtx(), req)
	if err != nil {
		t.Fatalf("PriceCart: %v", err)
	}
	if !first.Total.Equal(second.Total) {
		t.Fatalf("pricing not idempotent: %s vs %s", first.Total, second.Total)
	}

	inv, _ := svc.GetInventory(cashierCtx(), "SKU-PURE-01")
	if inv.Quantity != 50 {
		t.Fatalf("PriceCart mutated inventory: %d", inv.Quantity)
	}
}

func TestLowStockReportFlagsItemsBelowReorderPoint(t *testing.T) {
	svc := newTestService(t)
	seedProduct(t, svc, "SKU-LOW-01", "4.00", 3)
	seedProduct(t, svc, "SKU-FULL-01", "4.00", 80)

	items, err := svc.LowStockReport(managerCtx())
	if err != nil {
		t.Fatalf("LowStockReport: %v", err)
	}

	var found bool
	for _, item := range items {
		if item.SKU == "SKU-FULL-01" {
			t.Fatalf("fully stocked product should not be flagged")
		}
		if item.SKU == "SKU-LOW-01" {
			found = true
			if item.Quantity != 3 || item.ReorderPoint != 10 {
				t.Fatalf("unexpected row: %+v", item)
			}
		}
	}
	if !found {
		t.Fatalf("expected SKU-LOW-01 in low stock report, got %v", items)
	}

	if _, err := svc.LowStockReport(cashierCtx()); err == nil {
		t.Fatalf("expected cashier to be denied the low stock report")
	}
}
