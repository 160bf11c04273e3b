package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/shortid"
	"tillpoint/backend/internal/store"
)

const defaultReorderPoint = 10

// Store keeps every collection behind one RWMutex. Global serialization is
// enough for a single-terminal deployment and makes the ledger commits
// trivially all-or-nothing: every commit validates first and mutates only
// after nothing can fail.
type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	inventory         map[string]int
	reorderPoints     map[string]int
	movements         []domain.StockMovement
	discountsByID     map[string]domain.Discount
	offersByID        map[string]domain.Offer
	transactionsByID  map[string]*domain.Transaction
	returnsByID       map[string]domain.Return
	shiftsByID        map[string]domain.ShiftSession
	activeShiftByUser map[string]string
	drawerBalance     decimal.Decimal
	drawerEntries     []domain.DrawerEntry
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; hardcoded dev defaults are used otherwise with a
// warning. Production deployments use PostgreSQL (DATABASE_URL set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"manager", managerPwd, "manager"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "SKU-COLA-01", Name: "Cola 330ml", Category: "beverage", Subcategory: "soda", Price: price("1.50"), Cost: price("0.90"), Active: true},
		{SKU: "SKU-WATER-01", Name: "Still Water 600ml", Category: "beverage", Subcategory: "water", Price: price("0.90"), Cost: price("0.40"), Active: true},
		{SKU: "SKU-CHIPS-01", Name: "Salted Chips", Category: "snack", Subcategory: "crisps", Price: price("2.20"), Cost: price("1.30"), Active: true},
		{SKU: "SKU-CHOC-01", Name: "Chocolate Bar", Category: "snack", Subcategory: "candy", Price: price("1.80"), Cost: price("1.00"), Active: true},
		{SKU: "SKU-BREAD-01", Name: "White Bread Loaf", Category: "bakery", Subcategory: "bread", Price: price("2.50"), Cost: price("1.40"), Active: true},
		{SKU: "SKU-MILK-01", Name: "Whole Milk 1L", Category: "dairy", Subcategory: "milk", Price: price("1.90"), Cost: price("1.10"), Active: true},
		{SKU: "SKU-EGGS-01", Name: "Eggs 10pk", Category: "dairy", Subcategory: "eggs", Price: price("3.40"), Cost: price("2.30"), Active: true},
		{SKU: "SKU-COFFEE-01", Name: "Ground Coffee 250g", Category: "beverage", Subcategory: "coffee", Price: price("6.50"), Cost: price("4.20"), Active: true},
		{SKU: "SKU-SOAP-01", Name: "Bath Soap", Category: "household", Subcategory: "bathroom", Price: price("1.20"), Cost: price("0.60"), Active: true},
		{SKU: "SKU-RICE-01", Name: "Rice 1kg", Category: "grocery", Subcategory: "staple", Price: price("3.10"), Cost: price("2.10"), Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	inventory := make(map[string]int, len(products))
	reorderPoints := make(map[string]int, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
		inventory[p.SKU] = 100
		reorderPoints[p.SKU] = defaultReorderPoint
	}

	return &Store{
		products:          productMap,
		inventory:         inventory,
		reorderPoints:     reorderPoints,
		movements:         make([]domain.StockMovement, 0, 128),
		discountsByID:     make(map[string]domain.Discount),
		offersByID:        make(map[string]domain.Offer),
		transactionsByID:  make(map[string]*domain.Transaction),
		returnsByID:       make(map[string]domain.Return),
		shiftsByID:        make(map[string]domain.ShiftSession),
		activeShiftByUser: make(map[string]string),
		drawerBalance:     decimal.Zero,
		drawerEntries:     make([]domain.DrawerEntry, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock int, reorderPoint int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.Cost.IsNegative() || initialStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidInput
	}

	product.Active = true
	s.products[product.SKU] = product
	if reorderPoint > 0 {
		s.reorderPoints[product.SKU] = reorderPoint
	} else {
		s.reorderPoints[product.SKU] = defaultReorderPoint
	}
	if initialStock > 0 {
		s.inventory[product.SKU] = initialStock
		s.appendMovementLocked(product.SKU, initialStock, 0, "initial stock", "system", "")
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.Cost.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) GetInventory(_ context.Context, sku string) (domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.inventoryRecordLocked(sku), nil
}

func (s *Store) inventoryRecordLocked(sku string) domain.InventoryRecord {
	record := domain.InventoryRecord{SKU: sku, Quantity: s.inventory[sku], ReorderPoint: defaultReorderPoint}
	if point, ok := s.reorderPoints[sku]; ok {
		record.ReorderPoint = point
	}
	return record
}

func (s *Store) AdjustInventory(_ context.Context, sku string, delta int, reason string, actor string, referenceID string) (int, error) {
	if sku == "" || delta == 0 {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[sku]; !exists {
		return 0, store.ErrNotFound
	}
	prior := s.inventory[sku]
	s.inventory[sku] = prior + delta
	s.appendMovementLocked(sku, delta, prior, reason, actor, referenceID)
	return prior + delta, nil
}

func (s *Store) appendMovementLocked(sku string, delta int, prior int, reason string, actor string, referenceID string) {
	s.movements = append(s.movements, domain.StockMovement{
		ID:          shortid.NewPrefixed("mov"),
		SKU:         sku,
		Delta:       delta,
		PriorQty:    prior,
		NewQty:      prior + delta,
		Reason:      reason,
		Actor:       actor,
		ReferenceID: referenceID,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *Store) ListStockMovements(_ context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 64)
	for _, m := range s.movements {
		if sku != "" && m.SKU != sku {
			continue
		}
		if !from.IsZero() && m.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !m.CreatedAt.Before(to) {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateDiscount(_ context.Context, discount domain.Discount) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if discount.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if discount.Kind != domain.DiscountKindPercentage && discount.Kind != domain.DiscountKindFixed {
		return nil, store.ErrInvalidInput
	}
	if discount.ID == "" {
		discount.ID = shortid.NewPrefixed("disc")
	}
	if discount.CreatedAt.IsZero() {
		discount.CreatedAt = time.Now().UTC()
	}
	s.discountsByID[discount.ID] = cloneDiscount(discount)
	created := cloneDiscount(discount)
	return &created, nil
}

func (s *Store) GetDiscountByID(_ context.Context, id string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, exists := s.discountsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyDiscount := cloneDiscount(discount)
	return &copyDiscount, nil
}

func (s *Store) ListDiscounts(_ context.Context) ([]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discounts := make([]domain.Discount, 0, len(s.discountsByID))
	for _, d := range s.discountsByID {
		discounts = append(discounts, cloneDiscount(d))
	}
	slices.SortFunc(discounts, compareByCreatedAtThenID)
	return discounts, nil
}

func (s *Store) SetDiscountActive(_ context.Context, id string, active bool) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discount, exists := s.discountsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	discount.Active = active
	s.discountsByID[id] = discount
	copyDiscount := cloneDiscount(discount)
	return &copyDiscount, nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.Offer) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	switch offer.Kind {
	case domain.OfferKindBOGO:
		if offer.BuyQty < 1 || offer.GetQty < 1 || len(offer.SKUs) == 0 {
			return nil, store.ErrInvalidInput
		}
	case domain.OfferKindBundle:
		if len(offer.SKUs) < 2 || !offer.BundlePrice.IsPositive() {
			return nil, store.ErrInvalidInput
		}
	case domain.OfferKindSpecialPrice:
		if offer.SKU == "" || offer.SpecialPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	default:
		return nil, store.ErrInvalidInput
	}

	if offer.ID == "" {
		offer.ID = shortid.NewPrefixed("offer")
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	s.offersByID[offer.ID] = cloneOffer(offer)
	created := cloneOffer(offer)
	return &created, nil
}

func (s *Store) ListOffers(_ context.Context) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]domain.Offer, 0, len(s.offersByID))
	for _, o := range s.offersByID {
		offers = append(offers, cloneOffer(o))
	}
	slices.SortFunc(offers, func(a, b domain.Offer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return offers, nil
}

func (s *Store) SetOfferActive(_ context.Context, id string, active bool) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, exists := s.offersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	offer.Active = active
	s.offersByID[id] = offer
	copyOffer := cloneOffer(offer)
	return &copyOffer, nil
}

// CommitSale is all-or-nothing: everything that can fail is checked before
// the first mutation, so concurrent commits never observe partial state.
func (s *Store) CommitSale(_ context.Context, commit store.SaleCommit) (*domain.Transaction, error) {
	tx := commit.Transaction

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" || len(tx.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, store.ErrDuplicateID
	}
	for _, line := range tx.Lines {
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		if _, exists := s.products[line.SKU]; !exists {
			return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, line.SKU)
		}
	}

	// Oversell is tracked, not blocked: quantities may go negative.
	for _, line := range tx.Lines {
		prior := s.inventory[line.SKU]
		s.inventory[line.SKU] = prior - line.Qty
		s.appendMovementLocked(line.SKU, -line.Qty, prior, "sale", tx.CashierID, tx.ID)
	}

	if commit.DrawerEntry != nil {
		s.applyDrawerEntryLocked(*commit.DrawerEntry)
	}

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy
	return cloneTransaction(txCopy), nil
}

func (s *Store) GetTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
			continue
		}
		if filter.CashierID != "" && tx.CashierID != filter.CashierID {
			continue
		}
		if filter.SKU != "" && !transactionHasSKU(tx, filter.SKU) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetReturnedQtyByTransaction(_ context.Context, transactionID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedQtyLocked(transactionID), nil
}

func (s *Store) returnedQtyLocked(transactionID string) map[string]int {
	result := make(map[string]int)
	for _, ret := range s.returnsByID {
		if ret.TransactionID != transactionID {
			continue
		}
		for _, line := range ret.Lines {
			result[line.SKU] += line.Qty
		}
	}
	return result
}

// CommitReturn re-validates the cumulative returned quantity under the lock:
// two concurrent returns against the same transaction must not jointly
// exceed the sold quantity.
func (s *Store) CommitReturn(_ context.Context, commit store.ReturnCommit) (*domain.Return, error) {
	ret := commit.Return

	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ID == "" || len(ret.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.returnsByID[ret.ID]; exists {
		return nil, store.ErrDuplicateID
	}
	tx, exists := s.transactionsByID[ret.TransactionID]
	if !exists {
		return nil, store.ErrNotFound
	}

	soldBySKU := make(map[string]int, len(tx.Lines))
	for _, line := range tx.Lines {
		soldBySKU[line.SKU] += line.Qty
	}
	alreadyReturned := s.returnedQtyLocked(ret.TransactionID)
	for _, line := range ret.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		if alreadyReturned[line.SKU]+line.Qty > soldBySKU[line.SKU] {
			return nil, store.ErrOverReturn
		}
	}

	for _, line := range ret.Lines {
		prior := s.inventory[line.SKU]
		s.inventory[line.SKU] = prior + line.Qty
		s.appendMovementLocked(line.SKU, line.Qty, prior, "return", ret.ProcessedBy, ret.ID)
	}

	if commit.DrawerEntry != nil {
		s.applyDrawerEntryLocked(*commit.DrawerEntry)
	}

	s.returnsByID[ret.ID] = cloneReturn(ret)
	created := cloneReturn(ret)
	return &created, nil
}

func (s *Store) GetReturnByID(_ context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, exists := s.returnsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyReturn := cloneReturn(ret)
	return &copyReturn, nil
}

func (s *Store) ListReturns(_ context.Context, filter domain.ReturnFilter) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Return, 0, 32)
	for _, ret := range s.returnsByID {
		if !filter.From.IsZero() && ret.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !ret.CreatedAt.Before(filter.To) {
			continue
		}
		if filter.Status != "" && ret.Status != filter.Status {
			continue
		}
		result = append(result, cloneReturn(ret))
	}
	slices.SortFunc(result, func(a, b domain.Return) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CompleteReturn is idempotent: completing an already-Completed return is a
// no-op that returns the record unchanged.
func (s *Store) CompleteReturn(_ context.Context, returnID string, completedAt time.Time, drawerEntry *domain.DrawerEntry) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, exists := s.returnsByID[returnID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ret.Status == domain.ReturnStatusCompleted {
		copyReturn := cloneReturn(ret)
		return &copyReturn, nil
	}

	if drawerEntry != nil {
		s.applyDrawerEntryLocked(*drawerEntry)
	}
	ret.Status = domain.ReturnStatusCompleted
	ret.CompletedAt = &completedAt
	s.returnsByID[returnID] = ret
	copyReturn := cloneReturn(ret)
	return &copyReturn, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.ShiftSession) (*domain.ShiftSession, error) {
	if strings.TrimSpace(shift.UserID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeShiftByUser[shift.UserID]; exists {
		return nil, store.ErrShiftAlreadyActive
	}
	if shift.ID == "" {
		shift.ID = shortid.New()
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil
	shift.EndingCash = decimal.Zero

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByUser[shift.UserID] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShiftByUser(_ context.Context, userID string) (*domain.ShiftSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByUser[userID]
	if !exists {
		return nil, store.ErrNoActiveShift
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrNoActiveShift
	}
	copyShift := shift
	return &copyShift, nil
}

// CloseActiveShift reconciles ending cash as starting cash plus the fold of
// drawer entries attributed to the shift.
func (s *Store) CloseActiveShift(_ context.Context, userID string, endedAt time.Time) (*domain.ShiftSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shiftID, exists := s.activeShiftByUser[userID]
	if !exists {
		return nil, store.ErrNoActiveShift
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrNoActiveShift
	}
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	shift.Status = domain.ShiftStatusCompleted
	shift.EndTime = &endedAt
	shift.EndingCash = shift.StartingCash.Add(s.sumDrawerByShiftLocked(shiftID))

	delete(s.activeShiftByUser, userID)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) ListShifts(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.ShiftSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ShiftSession, 0, len(s.shiftsByID))
	for _, shift := range s.shiftsByID {
		if !from.IsZero() && shift.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && !shift.StartTime.Before(to) {
			continue
		}
		result = append(result, shift)
	}
	slices.SortFunc(result, func(a, b domain.ShiftSession) int {
		if a.StartTime.Equal(b.StartTime) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.StartTime.After(b.StartTime) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) applyDrawerEntryLocked(entry domain.DrawerEntry) {
	if entry.ID == "" {
		entry.ID = shortid.NewPrefixed("drw")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.drawerBalance = s.drawerBalance.Add(entry.Amount)
	s.drawerEntries = append(s.drawerEntries, entry)
}

func (s *Store) GetDrawerBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.drawerBalance, nil
}

func (s *Store) ListDrawerEntries(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.DrawerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DrawerEntry, 0, 64)
	for _, entry := range s.drawerEntries {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (s *Store) SumDrawerEntriesByShift(_ context.Context, shiftID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sumDrawerByShiftLocked(shiftID), nil
}

func (s *Store) sumDrawerByShiftLocked(shiftID string) decimal.Decimal {
	sum := decimal.Zero
	for _, entry := range s.drawerEntries {
		if entry.ShiftID == shiftID {
			sum = sum.Add(entry.Amount)
		}
	}
	return sum
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func transactionHasSKU(tx *domain.Transaction, sku string) bool {
	for _, line := range tx.Lines {
		if line.SKU == sku {
			return true
		}
	}
	return false
}

func compareByCreatedAtThenID(a domain.Discount, b domain.Discount) int {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return strings.Compare(a.ID, b.ID)
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.CartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneReturn(src domain.Return) domain.Return {
	dup := src
	lines := make([]domain.ReturnLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.CompletedAt != nil {
		at := *src.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

func cloneDiscount(src domain.Discount) domain.Discount {
	dup := src
	dup.Categories = slices.Clone(src.Categories)
	dup.SKUs = slices.Clone(src.SKUs)
	return dup
}

func cloneOffer(src domain.Offer) domain.Offer {
	dup := src
	dup.SKUs = slices.Clone(src.SKUs)
	return dup
}
