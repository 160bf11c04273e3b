package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/cache"
	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/pricing"
	"tillpoint/backend/internal/shortid"
	"tillpoint/backend/internal/store"
)

const (
	idRetryBudget = 5
	quoteCacheTTL = 5 * time.Minute
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates the catalog, pricing pipeline, ledger, shift sessions
// and cash drawer over a single Repository. It owns validation and role
// checks; the repository owns atomicity.
type Service struct {
	repo      store.Repository
	quotes    cache.QuoteCache
	taxRate   decimal.Decimal
	precision int32
}

func New(repo store.Repository, quotes cache.QuoteCache, taxRate decimal.Decimal, precision int32) *Service {
	if quotes == nil {
		quotes = cache.NoopQuoteCache{}
	}
	if precision <= 0 {
		precision = 2
	}

	return &Service{
		repo:      repo,
		quotes:    quotes,
		taxRate:   taxRate,
		precision: precision,
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%s role required", strings.Join(roles, " or "))
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	product, err := s.repo.GetProductBySKU(ctx, strings.ToUpper(strings.TrimSpace(sku)))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, "admin", "manager")
	if err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Price.IsNegative() || req.Cost.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		SKU:         req.SKU,
		Name:        req.Name,
		Category:    req.Category,
		Subcategory: strings.TrimSpace(req.Subcategory),
		Price:       req.Price,
		Cost:        req.Cost,
		Active:      true,
	}

	created, err := s.repo.CreateProduct(ctx, product, req.InitialStock, req.ReorderPoint)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%s,stock=%d,by=%s", created.Name, created.Price, req.InitialStock, actor.Username))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = category
	}
	if req.Subcategory != nil {
		updated.Subcategory = strings.TrimSpace(*req.Subcategory)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Price = *req.Price
	}
	if req.Cost != nil {
		if req.Cost.IsNegative() {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Cost = *req.Cost
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.SKU, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price))
	return *saved, nil
}

func (s *Service) GetInventory(ctx context.Context, sku string) (domain.InventoryRecord, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if _, err := s.repo.GetProductBySKU(ctx, sku); err != nil {
		return domain.InventoryRecord{}, err
	}
	return s.repo.GetInventory(ctx, sku)
}

func (s *Service) AdjustInventory(ctx context.Context, req domain.AdjustInventoryRequest) (domain.InventoryRecord, error) {
	actor, err := requireRole(ctx, "admin", "manager")
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.SKU == "" || req.Delta == 0 || req.Reason == "" {
		return domain.InventoryRecord{}, store.ErrInvalidInput
	}

	newQty, err := s.repo.AdjustInventory(ctx, req.SKU, req.Delta, req.Reason, actor.Username, "")
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, "inventory_adjust", "inventory", req.SKU, fmt.Sprintf("delta=%d,new_qty=%d,reason=%s", req.Delta, newQty, req.Reason))
	record, err := s.repo.GetInventory(ctx, req.SKU)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return record, nil
}

func (s *Service) ListStockMovements(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, strings.ToUpper(strings.TrimSpace(sku)), from, to, limit)
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	actor, err := requireRole(ctx, "admin", "manager")
	if err != nil {
		return domain.Discount{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Discount{}, store.ErrInvalidInput
	}

	switch req.Kind {
	case domain.DiscountKindPercentage:
		if !req.Value.IsPositive() || req.Value.GreaterThan(decimal.NewFromInt(100)) {
			return domain.Discount{}, store.ErrInvalidInput
		}
	case domain.DiscountKindFixed:
		if !req.Value.IsPositive() {
			return domain.Discount{}, store.ErrInvalidInput
		}
	default:
		return domain.Discount{}, store.ErrInvalidInput
	}

	switch req.Scope {
	case domain.DiscountScopeAll:
	case domain.DiscountScopeCategories:
		if len(req.Categories) == 0 {
			return domain.Discount{}, store.ErrInvalidInput
		}
	case domain.DiscountScopeProducts:
		if len(req.SKUs) == 0 {
			return domain.Discount{}, store.ErrInvalidInput
		}
	default:
		return domain.Discount{}, store.ErrInvalidInput
	}

	start, end, err := parseDateWindow(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Discount{}, err
	}

	discount := domain.Discount{
		Name:       req.Name,
		Kind:       req.Kind,
		Value:      req.Value,
		Scope:      req.Scope,
		Categories: req.Categories,
		SKUs:       upperAll(req.SKUs),
		Active:     true,
		StartDate:  start,
		EndDate:    end,
		CreatedBy:  actor.Username,
		CreatedAt:  time.Now().UTC(),
	}

	saved, err := s.repo.CreateDiscount(ctx, discount)
	if err != nil {
		return domain.Discount{}, err
	}

	s.logAudit(ctx, "discount_create", "discount", saved.ID, fmt.Sprintf("kind=%s,value=%s,scope=%s", saved.Kind, saved.Value, saved.Scope))
	return *saved, nil
}

func (s *Service) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	return s.repo.ListDiscounts(ctx)
}

func (s *Service) SetDiscountActive(ctx context.Context, id string, active bool) (domain.Discount, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return domain.Discount{}, err
	}

	saved, err := s.repo.SetDiscountActive(ctx, id, active)
	if err != nil {
		return domain.Discount{}, err
	}

	s.logAudit(ctx, "discount_toggle", "discount", id, fmt.Sprintf("active=%t", active))
	return *saved, nil
}

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (domain.Offer, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return domain.Offer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Offer{}, store.ErrInvalidInput
	}

	start, end, err := parseDateWindow(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Offer{}, err
	}

	offer := domain.Offer{
		Name:         req.Name,
		Kind:         req.Kind,
		Active:       true,
		StartDate:    start,
		EndDate:      end,
		CreatedAt:    time.Now().UTC(),
		BuyQty:       req.BuyQty,
		GetQty:       req.GetQty,
		SKUs:         upperAll(req.SKUs),
		BundlePrice:  req.BundlePrice,
		SKU:          strings.ToUpper(strings.TrimSpace(req.SKU)),
		SpecialPrice: req.SpecialPrice,
	}

	saved, err := s.repo.CreateOffer(ctx, offer)
	if err != nil {
		return domain.Offer{}, err
	}

	s.logAudit(ctx, "offer_create", "offer", saved.ID, fmt.Sprintf("kind=%s,name=%s", saved.Kind, saved.Name))
	return *saved, nil
}

func (s *Service) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.repo.ListOffers(ctx)
}

func (s *Service) SetOfferActive(ctx context.Context, id string, active bool) (domain.Offer, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return domain.Offer{}, err
	}

	saved, err := s.repo.SetOfferActive(ctx, id, active)
	if err != nil {
		return domain.Offer{}, err
	}

	s.logAudit(ctx, "offer_toggle", "offer", id, fmt.Sprintf("active=%t", active))
	return *saved, nil
}

// PriceCart prices a cart without committing anything. Results are memoized
// in the quote cache keyed by the pricing digest.
func (s *Service) PriceCart(ctx context.Context, req domain.PriceCartRequest) (domain.Quote, error) {
	input, err := s.buildPricingInput(ctx, req.Lines, req.DiscountID, time.Now().UTC())
	if err != nil {
		return domain.Quote{}, err
	}

	key := "quote:" + pricing.Digest(input)
	if cached, hit, err := s.quotes.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: quote cache get failed: %v", err)
	} else if hit {
		return *cached, nil
	}

	quote := pricing.Price(input)
	if err := s.quotes.Set(ctx, key, &quote, quoteCacheTTL); err != nil {
		log.Printf("[service] WARN: quote cache set failed: %v", err)
	}
	return quote, nil
}

// buildPricingInput resolves and validates cart lines against the catalog and
// assembles everything the pure pricing pipeline needs. Lines with a zero
// unit price are snapshotted from the current catalog price.
func (s *Service) buildPricingInput(ctx context.Context, lines []domain.CartLine, discountID string, at time.Time) (pricing.Input, error) {
	if len(lines) == 0 {
		return pricing.Input{At: at, TaxRate: s.taxRate, Precision: s.precision}, nil
	}

	skus := make([]string, 0, len(lines))
	for i := range lines {
		lines[i].SKU = strings.ToUpper(strings.TrimSpace(lines[i].SKU))
		if lines[i].SKU == "" || lines[i].Qty < 1 {
			return pricing.Input{}, store.ErrInvalidInput
		}
		skus = append(skus, lines[i].SKU)
	}

	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return pricing.Input{}, err
	}

	categories := make(map[string]string, len(products))
	resolved := make([]domain.CartLine, len(lines))
	for i, line := range lines {
		product, ok := products[line.SKU]
		if !ok {
			return pricing.Input{}, fmt.Errorf("%w: sku %s", store.ErrNotFound, line.SKU)
		}
		if !product.Active {
			return pricing.Input{}, fmt.Errorf("%w: sku %s is inactive", store.ErrInvalidInput, line.SKU)
		}
		if line.UnitPrice.IsZero() {
			line.UnitPrice = product.Price
		}
		if line.UnitPrice.IsNegative() {
			return pricing.Input{}, store.ErrInvalidInput
		}
		categories[line.SKU] = product.Category
		resolved[i] = line
	}

	var discount *domain.Discount
	if discountID != "" {
		d, err := s.repo.GetDiscountByID(ctx, discountID)
		if err != nil {
			return pricing.Input{}, err
		}
		discount = d
	}

	offers, err := s.repo.ListOffers(ctx)
	if err != nil {
		return pricing.Input{}, err
	}

	return pricing.Input{
		Lines:      resolved,
		At:         at,
		Discount:   discount,
		Offers:     offers,
		TaxRate:    s.taxRate,
		Precision:  s.precision,
		Categories: categories,
	}, nil
}

// CommitSale prices the cart, validates payment, and writes the transaction,
// inventory decrements and drawer credit as one atomic commit. Short ids are
// retried on collision up to a fixed budget.
func (s *Service) CommitSale(ctx context.Context, req domain.CommitSaleRequest) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("authenticated cashier required")
	}

	if len(req.Lines) == 0 {
		return domain.Transaction{}, store.ErrInvalidInput
	}

	now := time.Now().UTC()
	input, err := s.buildPricingInput(ctx, req.Lines, req.DiscountID, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	quote := pricing.Price(input)

	change := decimal.Zero
	tendered := req.Payment.AmountTendered
	switch req.Payment.Method {
	case domain.PaymentMethodCash:
		if tendered.LessThan(quote.Total) {
			return domain.Transaction{}, store.ErrInsufficientPayment
		}
		change = tendered.Sub(quote.Total).Round(s.precision)
	case domain.PaymentMethodCredit, domain.PaymentMethodDebit, domain.PaymentMethodMobile:
		// Electronic payments settle exactly.
		tendered = quote.Total
	default:
		return domain.Transaction{}, fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidInput, req.Payment.Method)
	}

	shiftID := ""
	if shift, err := s.repo.GetActiveShiftByUser(ctx, actor.Username); err == nil {
		shiftID = shift.ID
	} else if !errors.Is(err, store.ErrNoActiveShift) {
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		CreatedAt:      now,
		Lines:          input.Lines,
		Subtotal:       quote.Subtotal,
		Tax:            quote.Tax,
		DiscountAmount: quote.DiscountAmount,
		OfferSavings:   quote.OfferSavings,
		Total:          quote.Total,
		PaymentMethod:  req.Payment.Method,
		AmountTendered: tendered,
		Change:         change,
		CashierID:      actor.Username,
		ShiftID:        shiftID,
	}

	var committed *domain.Transaction
	for attempt := 0; attempt < idRetryBudget; attempt++ {
		tx.ID = shortid.NewPrefixed("tx")

		commit := store.SaleCommit{Transaction: tx}
		if req.Payment.Method == domain.PaymentMethodCash {
			commit.DrawerEntry = &domain.DrawerEntry{
				Type:        domain.DrawerEntrySale,
				Amount:      quote.Total,
				CreatedAt:   now,
				ReferenceID: tx.ID,
				Actor:       actor.Username,
				ShiftID:     shiftID,
			}
		}

		committed, err = s.repo.CommitSale(ctx, commit)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return domain.Transaction{}, err
		}
		break
	}
	if committed == nil {
		return domain.Transaction{}, store.ErrIDGenerationExhausted
	}

	s.logAudit(ctx, "sale_commit", "transaction", committed.ID, fmt.Sprintf("total=%s,method=%s,lines=%d", committed.Total, committed.PaymentMethod, len(committed.Lines)))
	return *committed, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.GetTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// CommitReturn refunds line quantities out of a committed sale at their
// snapshot unit prices, plus the proportional share of the tax actually paid.
// Cash refunds settle immediately only when the processing user has an
// active shift; otherwise the return is left Pending for a manager.
func (s *Service) CommitReturn(ctx context.Context, req domain.CommitReturnRequest) (domain.Return, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Return{}, fmt.Errorf("authenticated user required")
	}

	if req.TransactionID == "" || len(req.Lines) == 0 {
		return domain.Return{}, store.ErrInvalidInput
	}

	tx, err := s.repo.GetTransactionByID(ctx, req.TransactionID)
	if err != nil {
		return domain.Return{}, err
	}

	soldBySKU := make(map[string]int, len(tx.Lines))
	priceBySKU := make(map[string]decimal.Decimal, len(tx.Lines))
	for _, line := range tx.Lines {
		soldBySKU[line.SKU] += line.Qty
		priceBySKU[line.SKU] = line.UnitPrice
	}

	alreadyReturned, err := s.repo.GetReturnedQtyByTransaction(ctx, tx.ID)
	if err != nil {
		return domain.Return{}, err
	}

	refundSubtotal := decimal.Zero
	lines := make([]domain.ReturnLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Qty < 1 {
			return domain.Return{}, store.ErrInvalidInput
		}
		sold, wasSold := soldBySKU[sku]
		if !wasSold {
			return domain.Return{}, fmt.Errorf("%w: sku %s not on transaction %s", store.ErrInvalidInput, sku, tx.ID)
		}
		if alreadyReturned[sku]+line.Qty > sold {
			return domain.Return{}, store.ErrOverReturn
		}
		unitPrice := priceBySKU[sku]
		refundSubtotal = refundSubtotal.Add(unitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
		lines = append(lines, domain.ReturnLine{SKU: sku, UnitPrice: unitPrice, Qty: line.Qty})
	}
	refundSubtotal = refundSubtotal.Round(s.precision)

	// Refund the share of tax the customer actually paid on these units,
	// not tax at the current rate.
	taxRatio := decimal.Zero
	if tx.Subtotal.IsPositive() {
		taxRatio = tx.Tax.Div(tx.Subtotal)
	}
	taxRefund := refundSubtotal.Mul(taxRatio).Round(s.precision)
	totalRefund := refundSubtotal.Add(taxRefund).Round(s.precision)

	now := time.Now().UTC()
	shiftID := ""
	if shift, err := s.repo.GetActiveShiftByUser(ctx, actor.Username); err == nil {
		shiftID = shift.ID
	} else if !errors.Is(err, store.ErrNoActiveShift) {
		return domain.Return{}, err
	}

	ret := domain.Return{
		TransactionID:  tx.ID,
		Lines:          lines,
		RefundSubtotal: refundSubtotal,
		TaxRefund:      taxRefund,
		TotalRefund:    totalRefund,
		Reason:         strings.TrimSpace(req.Reason),
		ProcessedBy:    actor.Username,
		ShiftID:        shiftID,
		RefundMethod:   tx.PaymentMethod,
		Status:         domain.ReturnStatusCompleted,
		CreatedAt:      now,
	}

	var drawer *domain.DrawerEntry
	if tx.PaymentMethod == domain.PaymentMethodCash {
		if shiftID == "" {
			// No open drawer to pay out of. A manager settles it later.
			ret.Status = domain.ReturnStatusPending
		} else {
			drawer = &domain.DrawerEntry{
				Type:      domain.DrawerEntryRefund,
				Amount:    totalRefund.Neg(),
				CreatedAt: now,
				Actor:     actor.Username,
				ShiftID:   shiftID,
			}
		}
	}
	if ret.Status == domain.ReturnStatusCompleted {
		completedAt := now
		ret.CompletedAt = &completedAt
	}

	var committed *domain.Return
	for attempt := 0; attempt < idRetryBudget; attempt++ {
		ret.ID = shortid.NewPrefixed("ret")
		commit := store.ReturnCommit{Return: ret}
		if drawer != nil {
			entry := *drawer
			entry.ReferenceID = ret.ID
			commit.DrawerEntry = &entry
		}

		committed, err = s.repo.CommitReturn(ctx, commit)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return domain.Return{}, err
		}
		break
	}
	if committed == nil {
		return domain.Return{}, store.ErrIDGenerationExhausted
	}

	s.logAudit(ctx, "return_commit", "return", committed.ID, fmt.Sprintf("tx=%s,refund=%s,status=%s", committed.TransactionID, committed.TotalRefund, committed.Status))
	return *committed, nil
}

// CompleteReturn settles a Pending cash return: a manager pays the refund out
// of the drawer. Completing an already-Completed return is a no-op.
func (s *Service) CompleteReturn(ctx context.Context, returnID string) (domain.Return, error) {
	actor, err := requireRole(ctx, "admin", "manager")
	if err != nil {
		return domain.Return{}, err
	}

	existing, err := s.repo.GetReturnByID(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}
	if existing.Status == domain.ReturnStatusCompleted {
		return *existing, nil
	}

	now := time.Now().UTC()
	shiftID := ""
	if shift, err := s.repo.GetActiveShiftByUser(ctx, actor.Username); err == nil {
		shiftID = shift.ID
	} else if !errors.Is(err, store.ErrNoActiveShift) {
		return domain.Return{}, err
	}

	drawer := &domain.DrawerEntry{
		Type:        domain.DrawerEntryRefund,
		Amount:      existing.TotalRefund.Neg(),
		CreatedAt:   now,
		ReferenceID: existing.ID,
		Actor:       actor.Username,
		ShiftID:     shiftID,
	}

	completed, err := s.repo.CompleteReturn(ctx, returnID, now, drawer)
	if err != nil {
		return domain.Return{}, err
	}

	s.logAudit(ctx, "return_complete", "return", completed.ID, fmt.Sprintf("refund=%s", completed.TotalRefund))
	return *completed, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	ret, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return domain.Return{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.Return, error) {
	return s.repo.ListReturns(ctx, filter)
}

func (s *Service) StartShift(ctx context.Context, req domain.StartShiftRequest) (domain.ShiftSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftSession{}, fmt.Errorf("authenticated user required")
	}
	if req.StartingCash.IsNegative() {
		return domain.ShiftSession{}, store.ErrInvalidInput
	}

	shift, err := s.repo.CreateShift(ctx, domain.ShiftSession{
		UserID:       actor.Username,
		StartTime:    time.Now().UTC(),
		StartingCash: req.StartingCash.Round(s.precision),
	})
	if err != nil {
		return domain.ShiftSession{}, err
	}

	s.logAudit(ctx, "shift_start", "shift", shift.ID, fmt.Sprintf("starting_cash=%s", shift.StartingCash))
	return *shift, nil
}

// EndShift closes the caller's active shift. Ending cash is reconciled by the
// repository from the drawer entries attributed to the shift.
func (s *Service) EndShift(ctx context.Context) (domain.ShiftSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftSession{}, fmt.Errorf("authenticated user required")
	}

	shift, err := s.repo.CloseActiveShift(ctx, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.ShiftSession{}, err
	}

	s.logAudit(ctx, "shift_end", "shift", shift.ID, fmt.Sprintf("ending_cash=%s", shift.EndingCash))
	return *shift, nil
}

func (s *Service) GetActiveShift(ctx context.Context) (domain.ShiftSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftSession{}, fmt.Errorf("authenticated user required")
	}
	shift, err := s.repo.GetActiveShiftByUser(ctx, actor.Username)
	if err != nil {
		return domain.ShiftSession{}, err
	}
	return *shift, nil
}

// HasActiveShift reports whether the calling user currently has an open
// shift. Absence is not an error here, unlike GetActiveShift.
func (s *Service) HasActiveShift(ctx context.Context) (bool, error) {
	_, err := s.GetActiveShift(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveShift) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) ListShifts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ShiftSession, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return nil, err
	}
	return s.repo.ListShifts(ctx, from, to, limit)
}

// DrawerStatus reports the running balance beside a fold over the entry log,
// so an auditor can see at a glance whether they agree.
func (s *Service) DrawerStatus(ctx context.Context) (domain.DrawerStatus, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return domain.DrawerStatus{}, err
	}

	balance, err := s.repo.GetDrawerBalance(ctx)
	if err != nil {
		return domain.DrawerStatus{}, err
	}
	entries, err := s.repo.ListDrawerEntries(ctx, time.Time{}, time.Time{}, 0)
	if err != nil {
		return domain.DrawerStatus{}, err
	}

	fold := decimal.Zero
	for _, entry := range entries {
		fold = fold.Add(entry.Amount)
	}

	return domain.DrawerStatus{
		Balance:           balance,
		RecomputedFold:    fold,
		EntryCount:        len(entries),
		BalanceConsistent: balance.Equal(fold),
	}, nil
}

func (s *Service) ListDrawerEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.DrawerEntry, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return nil, err
	}
	return s.repo.ListDrawerEntries(ctx, from, to, limit)
}

// LowStockReport lists active products whose on-hand quantity is below the
// reorder point.
func (s *Service) LowStockReport(ctx context.Context) ([]domain.LowStockItem, error) {
	if _, err := requireRole(ctx, "admin", "manager"); err != nil {
		return nil, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LowStockItem, 0)
	for _, product := range products {
		if !product.Active {
			continue
		}
		record, err := s.repo.GetInventory(ctx, product.SKU)
		if err != nil {
			return nil, err
		}
		if record.Quantity < record.ReorderPoint {
			items = append(items, domain.LowStockItem{
				SKU:          product.SKU,
				Name:         product.Name,
				Quantity:     record.Quantity,
				ReorderPoint: record.ReorderPoint,
			})
		}
	}
	return items, nil
}

// DailySummary aggregates the ledger for one UTC calendar day.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	from := day.UTC()
	to := from.Add(24 * time.Hour)

	transactions, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{From: from, To: to})
	if err != nil {
		return domain.DailySummary{}, err
	}
	returns, err := s.repo.ListReturns(ctx, domain.ReturnFilter{From: from, To: to})
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{
		Date:          date,
		GrossSales:    decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalSavings:  decimal.Zero,
		TotalTax:      decimal.Zero,
		NetSales:      decimal.Zero,
		TotalRefunded: decimal.Zero,
	}
	for _, tx := range transactions {
		summary.Transactions++
		summary.GrossSales = summary.GrossSales.Add(tx.Subtotal)
		summary.TotalDiscount = summary.TotalDiscount.Add(tx.DiscountAmount)
		summary.TotalSavings = summary.TotalSavings.Add(tx.OfferSavings)
		summary.TotalTax = summary.TotalTax.Add(tx.Tax)
		summary.NetSales = summary.NetSales.Add(tx.Total)
	}
	for _, ret := range returns {
		summary.Returns++
		summary.TotalRefunded = summary.TotalRefunded.Add(ret.TotalRefund)
	}
	return summary, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Printf("[audit] action=%s entity=%s/%s actor=%s(%s) %s", action, entityType, entityID, actor.Username, actor.Role, detail)
}

func parseDateWindow(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date before start_date", store.ErrInvalidInput)
	}
	return start.UTC(), end.UTC(), nil
}

func upperAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
