package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrOverReturn            = errors.New("return quantity exceeds sold quantity")
	ErrShiftAlreadyActive    = errors.New("shift already active")
	ErrNoActiveShift         = errors.New("no active shift")
	ErrDuplicateID           = errors.New("duplicate id")
	ErrIDGenerationExhausted = errors.New("id generation retry budget exhausted")
	ErrStorageFailure        = errors.New("storage failure")
)

// SaleCommit is everything a sale writes in one atomic unit: the transaction
// record, the per-line inventory decrements (with their movement log entries)
// and, for cash payments, the drawer credit. Repositories apply it
// all-or-nothing and return ErrDuplicateID when the transaction id is taken.
type SaleCommit struct {
	Transaction domain.Transaction
	DrawerEntry *domain.DrawerEntry
}

// ReturnCommit mirrors SaleCommit for returns: the return record, the
// inventory increments and, when the refund is settled immediately, the
// drawer debit.
type ReturnCommit struct {
	Return      domain.Return
	DrawerEntry *domain.DrawerEntry
}

type Repository interface {
	// Catalog.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, initialStock int, reorderPoint int) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)

	// Inventory. AdjustInventory is the only read-modify-write entry point
	// outside ledger commits; it is serialized internally.
	GetInventory(ctx context.Context, sku string) (domain.InventoryRecord, error)
	AdjustInventory(ctx context.Context, sku string, delta int, reason string, actor string, referenceID string) (int, error)
	ListStockMovements(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error)

	// Promotions.
	CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error)
	GetDiscountByID(ctx context.Context, id string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context) ([]domain.Discount, error)
	SetDiscountActive(ctx context.Context, id string, active bool) (*domain.Discount, error)
	CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error)
	ListOffers(ctx context.Context) ([]domain.Offer, error)
	SetOfferActive(ctx context.Context, id string, active bool) (*domain.Offer, error)

	// Ledger.
	CommitSale(ctx context.Context, commit SaleCommit) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	GetReturnedQtyByTransaction(ctx context.Context, transactionID string) (map[string]int, error)
	CommitReturn(ctx context.Context, commit ReturnCommit) (*domain.Return, error)
	GetReturnByID(ctx context.Context, id string) (*domain.Return, error)
	ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.Return, error)
	CompleteReturn(ctx context.Context, returnID string, completedAt time.Time, drawerEntry *domain.DrawerEntry) (*domain.Return, error)

	// Shift sessions.
	CreateShift(ctx context.Context, shift domain.ShiftSession) (*domain.ShiftSession, error)
	GetActiveShiftByUser(ctx context.Context, userID string) (*domain.ShiftSession, error)
	CloseActiveShift(ctx context.Context, userID string, endedAt time.Time) (*domain.ShiftSession, error)
	ListShifts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ShiftSession, error)

	// Cash drawer.
	GetDrawerBalance(ctx context.Context) (decimal.Decimal, error)
	ListDrawerEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.DrawerEntry, error)
	SumDrawerEntriesByShift(ctx context.Context, shiftID string) (decimal.Decimal, error)

	// Users (auth plumbing).
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
