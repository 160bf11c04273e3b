package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
	"tillpoint/backend/internal/shortid"
	"tillpoint/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema applies the embedded DDL. Every statement is idempotent, so it
// runs unconditionally at startup.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, subcategory, price, cost, active
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.Subcategory, &p.Price, &p.Cost, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock int, reorderPoint int) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.Cost.IsNegative() || initialStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if reorderPoint <= 0 {
		reorderPoint = 10
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product.Active = true
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, subcategory, price, cost, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, product.SKU, product.Name, product.Category, product.Subcategory, product.Price, product.Cost, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (sku, qty, reorder_point) VALUES ($1,$2,$3)
	`, product.SKU, initialStock, reorderPoint)
	if err != nil {
		return nil, err
	}
	if initialStock > 0 {
		if err := insertMovement(ctx, tx, product.SKU, initialStock, 0, "initial stock", "system", ""); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, name, category, subcategory, price, cost, active
		FROM products
		WHERE sku = $1
	`, sku).Scan(&p.SKU, &p.Name, &p.Category, &p.Subcategory, &p.Price, &p.Cost, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price.IsNegative() || product.Cost.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, subcategory = $4, price = $5, cost = $6, active = $7, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.Subcategory, product.Price, product.Cost, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	if len(skus) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, category, subcategory, price, cost, active
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(skus))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Category, &p.Subcategory, &p.Price, &p.Cost, &p.Active); err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	return result, rows.Err()
}

func (s *Store) GetInventory(ctx context.Context, sku string) (domain.InventoryRecord, error) {
	record := domain.InventoryRecord{SKU: sku, ReorderPoint: 10}
	err := s.db.QueryRowContext(ctx, `
		SELECT qty, reorder_point FROM inventory WHERE sku = $1
	`, sku).Scan(&record.Quantity, &record.ReorderPoint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, err
	}
	return record, nil
}

func (s *Store) AdjustInventory(ctx context.Context, sku string, delta int, reason string, actor string, referenceID string) (int, error) {
	if sku == "" || delta == 0 {
		return 0, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT true FROM products WHERE sku = $1`, sku).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}

	var prior int
	err = tx.QueryRowContext(ctx, `SELECT qty FROM inventory WHERE sku = $1 FOR UPDATE`, sku).Scan(&prior)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO inventory (sku, qty) VALUES ($1, 0)`, sku); err != nil {
			return 0, err
		}
		prior = 0
	} else if err != nil {
		return 0, err
	}

	newQty := prior + delta
	if _, err := tx.ExecContext(ctx, `UPDATE inventory SET qty = $2 WHERE sku = $1`, sku, newQty); err != nil {
		return 0, err
	}
	if err := insertMovement(ctx, tx, sku, delta, prior, reason, actor, referenceID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newQty, nil
}

func (s *Store) ListStockMovements(ctx context.Context, sku string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, delta, prior_qty, new_qty, reason, actor, reference_id, created_at
		FROM stock_movements
		WHERE ($1 = '' OR sku = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, sku, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.SKU, &m.Delta, &m.PriorQty, &m.NewQty, &m.Reason, &m.Actor, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error) {
	if discount.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if discount.ID == "" {
		discount.ID = shortid.NewPrefixed("disc")
	}
	if discount.CreatedAt.IsZero() {
		discount.CreatedAt = time.Now().UTC()
	}

	categories, err := json.Marshal(emptySlice(discount.Categories))
	if err != nil {
		return nil, err
	}
	skus, err := json.Marshal(emptySlice(discount.SKUs))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discounts (id, name, kind, value, scope, categories, skus, active, start_date, end_date, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, discount.ID, discount.Name, discount.Kind, discount.Value, discount.Scope, categories, skus,
		discount.Active, discount.StartDate, discount.EndDate, discount.CreatedBy, discount.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateID
		}
		return nil, err
	}
	created := discount
	return &created, nil
}

func (s *Store) GetDiscountByID(ctx context.Context, id string) (*domain.Discount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, value, scope, categories, skus, active, start_date, end_date, created_by, created_at
		FROM discounts WHERE id = $1
	`, id)
	discount, err := scanDiscount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return discount, nil
}

func (s *Store) ListDiscounts(ctx context.Context) ([]domain.Discount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, value, scope, categories, skus, active, start_date, end_date, created_by, created_at
		FROM discounts ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 32)
	for rows.Next() {
		discount, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, *discount)
	}
	return discounts, rows.Err()
}

func (s *Store) SetDiscountActive(ctx context.Context, id string, active bool) (*domain.Discount, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE discounts SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return nil, err
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetDiscountByID(ctx, id)
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error) {
	if offer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if offer.ID == "" {
		offer.ID = shortid.NewPrefixed("offer")
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}

	skus, err := json.Marshal(emptySlice(offer.SKUs))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offers (id, name, kind, active, start_date, end_date, created_at, buy_qty, get_qty, skus, bundle_price, sku, special_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, offer.ID, offer.Name, offer.Kind, offer.Active, offer.StartDate, offer.EndDate, offer.CreatedAt,
		offer.BuyQty, offer.GetQty, skus, offer.BundlePrice, offer.SKU, offer.SpecialPrice)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateID
		}
		return nil, err
	}
	created := offer
	return &created, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, active, start_date, end_date, created_at, buy_qty, get_qty, skus, bundle_price, sku, special_price
		FROM offers ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0, 32)
	for rows.Next() {
		var o domain.Offer
		var skus []byte
		if err := rows.Scan(&o.ID, &o.Name, &o.Kind, &o.Active, &o.StartDate, &o.EndDate, &o.CreatedAt,
			&o.BuyQty, &o.GetQty, &skus, &o.BundlePrice, &o.SKU, &o.SpecialPrice); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(skus, &o.SKUs); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *Store) SetOfferActive(ctx context.Context, id string, active bool) (*domain.Offer, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE offers SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return nil, err
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrNotFound
	}

	offers, err := s.ListOffers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range offers {
		if offers[i].ID == id {
			return &offers[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CommitSale(ctx context.Context, commit store.SaleCommit) (*domain.Transaction, error) {
	tx := commit.Transaction
	if tx.ID == "" || len(tx.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, line := range tx.Lines {
		if line.Qty < 1 || line.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}

		var prior int
		err := pgTx.QueryRowContext(ctx, `SELECT qty FROM inventory WHERE sku = $1 FOR UPDATE`, line.SKU).Scan(&prior)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, line.SKU)
		}
		if err != nil {
			return nil, err
		}

		newQty := prior - line.Qty
		if _, err := pgTx.ExecContext(ctx, `UPDATE inventory SET qty = $2 WHERE sku = $1`, line.SKU, newQty); err != nil {
			return nil, err
		}
		if err := insertMovement(ctx, pgTx, line.SKU, -line.Qty, prior, "sale", tx.CashierID, tx.ID); err != nil {
			return nil, err
		}
	}

	lines, err := json.Marshal(tx.Lines)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, created_at, lines, subtotal, tax, discount_amount, offer_savings, total, payment_method, amount_tendered, change, cashier_id, shift_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, tx.ID, tx.CreatedAt, lines, tx.Subtotal, tx.Tax, tx.DiscountAmount, tx.OfferSavings, tx.Total,
		tx.PaymentMethod, tx.AmountTendered, tx.Change, tx.CashierID, tx.ShiftID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateID
		}
		return nil, err
	}

	if commit.DrawerEntry != nil {
		if err := insertDrawerEntry(ctx, pgTx, *commit.DrawerEntry); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	committed := tx
	return &committed, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, lines, subtotal, tax, discount_amount, offer_savings, total, payment_method, amount_tendered, change, cashier_id, shift_id
		FROM transactions WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, lines, subtotal, tax, discount_amount, offer_savings, total, payment_method, amount_tendered, change, cashier_id, shift_id
		FROM transactions
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		  AND ($3 = '' OR cashier_id = $3)
		  AND ($4 = '' OR lines @> jsonb_build_array(jsonb_build_object('sku', $4::text)))
		ORDER BY created_at DESC, id DESC
		LIMIT $5
	`, nullTime(filter.From), nullTime(filter.To), filter.CashierID, filter.SKU, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func (s *Store) GetReturnedQtyByTransaction(ctx context.Context, transactionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line->>'sku', (line->>'qty')::int
		FROM returns, jsonb_array_elements(lines) AS line
		WHERE transaction_id = $1
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		result[sku] += qty
	}
	return result, rows.Err()
}

func (s *Store) CommitReturn(ctx context.Context, commit store.ReturnCommit) (*domain.Return, error) {
	ret := commit.Return
	if ret.ID == "" || len(ret.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock the sale row so two concurrent returns against it serialize.
	var soldLines []byte
	err = pgTx.QueryRowContext(ctx, `
		SELECT lines FROM transactions WHERE id = $1 FOR UPDATE
	`, ret.TransactionID).Scan(&soldLines)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var txLines []domain.CartLine
	if err := json.Unmarshal(soldLines, &txLines); err != nil {
		return nil, err
	}
	soldBySKU := make(map[string]int, len(txLines))
	for _, line := range txLines {
		soldBySKU[line.SKU] += line.Qty
	}

	returnedRows, err := pgTx.QueryContext(ctx, `
		SELECT line->>'sku', (line->>'qty')::int
		FROM returns, jsonb_array_elements(lines) AS line
		WHERE transaction_id = $1
	`, ret.TransactionID)
	if err != nil {
		return nil, err
	}
	alreadyReturned := make(map[string]int)
	for returnedRows.Next() {
		var sku string
		var qty int
		if err := returnedRows.Scan(&sku, &qty); err != nil {
			_ = returnedRows.Close()
			return nil, err
		}
		alreadyReturned[sku] += qty
	}
	if err := returnedRows.Err(); err != nil {
		_ = returnedRows.Close()
		return nil, err
	}
	_ = returnedRows.Close()

	for _, line := range ret.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		if alreadyReturned[line.SKU]+line.Qty > soldBySKU[line.SKU] {
			return nil, store.ErrOverReturn
		}
	}

	for _, line := range ret.Lines {
		var prior int
		err := pgTx.QueryRowContext(ctx, `SELECT qty FROM inventory WHERE sku = $1 FOR UPDATE`, line.SKU).Scan(&prior)
		if err != nil {
			return nil, err
		}
		if _, err := pgTx.ExecContext(ctx, `UPDATE inventory SET qty = $2 WHERE sku = $1`, line.SKU, prior+line.Qty); err != nil {
			return nil, err
		}
		if err := insertMovement(ctx, pgTx, line.SKU, line.Qty, prior, "return", ret.ProcessedBy, ret.ID); err != nil {
			return nil, err
		}
	}

	lines, err := json.Marshal(ret.Lines)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO returns (id, transaction_id, lines, refund_subtotal, tax_refund, total_refund, reason, processed_by, shift_id, refund_method, status, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ret.ID, ret.TransactionID, lines, ret.RefundSubtotal, ret.TaxRefund, ret.TotalRefund,
		ret.Reason, ret.ProcessedBy, ret.ShiftID, ret.RefundMethod, ret.Status, ret.CreatedAt, ret.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateID
		}
		return nil, err
	}

	if commit.DrawerEntry != nil {
		if err := insertDrawerEntry(ctx, pgTx, *commit.DrawerEntry); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageFailure, err)
	}
	committed := ret
	return &committed, nil
}

func (s *Store) GetReturnByID(ctx context.Context, id string) (*domain.Return, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, lines, refund_subtotal, tax_refund, total_refund, reason, processed_by, shift_id, refund_method, status, created_at, completed_at
		FROM returns WHERE id = $1
	`, id)
	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return ret, nil
}

func (s *Store) ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.Return, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, lines, refund_subtotal, tax_refund, total_refund, reason, processed_by, shift_id, refund_method, status, created_at, completed_at
		FROM returns
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, nullTime(filter.From), nullTime(filter.To), filter.Status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, limit)
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		returns = append(returns, *ret)
	}
	return returns, rows.Err()
}

func (s *Store) CompleteReturn(ctx context.Context, returnID string, completedAt time.Time, drawerEntry *domain.DrawerEntry) (*domain.Return, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status string
	err = pgTx.QueryRowContext(ctx, `SELECT status FROM returns WHERE id = $1 FOR UPDATE`, returnID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if status != domain.ReturnStatusCompleted {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE returns SET status = $2, completed_at = $3 WHERE id = $1
		`, returnID, domain.ReturnStatusCompleted, completedAt)
		if err != nil {
			return nil, err
		}
		if drawerEntry != nil {
			if err := insertDrawerEntry(ctx, pgTx, *drawerEntry); err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReturnByID(ctx, returnID)
}

func (s *Store) CreateShift(ctx context.Context, shift domain.ShiftSession) (*domain.ShiftSession, error) {
	if strings.TrimSpace(shift.UserID) == "" {
		return nil, store.ErrInvalidInput
	}
	if shift.ID == "" {
		shift.ID = shortid.New()
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (id, user_id, start_time, starting_cash, ending_cash, status)
		VALUES ($1,$2,$3,$4,0,$5)
	`, shift.ID, shift.UserID, shift.StartTime, shift.StartingCash, shift.Status)
	if err != nil {
		// The partial unique index on (user_id) WHERE status='active'
		// enforces one active shift per user.
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyActive
		}
		return nil, err
	}
	created := shift
	return &created, nil
}

func (s *Store) GetActiveShiftByUser(ctx context.Context, userID string) (*domain.ShiftSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, start_time, end_time, starting_cash, ending_cash, status
		FROM shifts WHERE user_id = $1 AND status = $2
	`, userID, domain.ShiftStatusActive)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveShift
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, userID string, endedAt time.Time) (*domain.ShiftSession, error) {
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT id, user_id, start_time, end_time, starting_cash, ending_cash, status
		FROM shifts WHERE user_id = $1 AND status = $2
		FOR UPDATE
	`, userID, domain.ShiftStatusActive)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveShift
		}
		return nil, err
	}

	var drawerSum decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM drawer_entries WHERE shift_id = $1
	`, shift.ID).Scan(&drawerSum)
	if err != nil {
		return nil, err
	}

	shift.Status = domain.ShiftStatusCompleted
	shift.EndTime = &endedAt
	shift.EndingCash = shift.StartingCash.Add(drawerSum)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE shifts SET status = $2, end_time = $3, ending_cash = $4 WHERE id = $1
	`, shift.ID, shift.Status, endedAt, shift.EndingCash)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return shift, nil
}

func (s *Store) ListShifts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ShiftSession, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, start_time, end_time, starting_cash, ending_cash, status
		FROM shifts
		WHERE ($1::timestamptz IS NULL OR start_time >= $1)
		  AND ($2::timestamptz IS NULL OR start_time < $2)
		ORDER BY start_time DESC, id DESC
		LIMIT $3
	`, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.ShiftSession, 0, limit)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *shift)
	}
	return shifts, rows.Err()
}

func (s *Store) GetDrawerBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM drawer_entries`).Scan(&balance)
	return balance, err
}

func (s *Store) ListDrawerEntries(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.DrawerEntry, error) {
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, amount, created_at, reference_id, actor, shift_id
		FROM drawer_entries
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at, id
		LIMIT $3
	`, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DrawerEntry, 0, limit)
	for rows.Next() {
		var e domain.DrawerEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Amount, &e.CreatedAt, &e.ReferenceID, &e.Actor, &e.ShiftID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) SumDrawerEntriesByShift(ctx context.Context, shiftID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM drawer_entries WHERE shift_id = $1
	`, shiftID).Scan(&sum)
	return sum, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMovement(ctx context.Context, tx execer, sku string, delta int, prior int, reason string, actor string, referenceID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, sku, delta, prior_qty, new_qty, reason, actor, reference_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shortid.NewPrefixed("mov"), sku, delta, prior, prior+delta, reason, actor, referenceID, time.Now().UTC())
	return err
}

func insertDrawerEntry(ctx context.Context, tx execer, entry domain.DrawerEntry) error {
	if entry.ID == "" {
		entry.ID = shortid.NewPrefixed("drw")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO drawer_entries (id, type, amount, created_at, reference_id, actor, shift_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Type, entry.Amount, entry.CreatedAt, entry.ReferenceID, entry.Actor, entry.ShiftID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscount(row rowScanner) (*domain.Discount, error) {
	var d domain.Discount
	var categories, skus []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Kind, &d.Value, &d.Scope, &categories, &skus,
		&d.Active, &d.StartDate, &d.EndDate, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(categories, &d.Categories); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(skus, &d.SKUs); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var lines []byte
	if err := row.Scan(&tx.ID, &tx.CreatedAt, &lines, &tx.Subtotal, &tx.Tax, &tx.DiscountAmount,
		&tx.OfferSavings, &tx.Total, &tx.PaymentMethod, &tx.AmountTendered, &tx.Change, &tx.CashierID, &tx.ShiftID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &tx.Lines); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanReturn(row rowScanner) (*domain.Return, error) {
	var ret domain.Return
	var lines []byte
	var completedAt sql.NullTime
	if err := row.Scan(&ret.ID, &ret.TransactionID, &lines, &ret.RefundSubtotal, &ret.TaxRefund, &ret.TotalRefund,
		&ret.Reason, &ret.ProcessedBy, &ret.ShiftID, &ret.RefundMethod, &ret.Status, &ret.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &ret.Lines); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		ret.CompletedAt = &at
	}
	return &ret, nil
}

func scanShift(row rowScanner) (*domain.ShiftSession, error) {
	var shift domain.ShiftSession
	var endTime sql.NullTime
	if err := row.Scan(&shift.ID, &shift.UserID, &shift.StartTime, &endTime,
		&shift.StartingCash, &shift.EndingCash, &shift.Status); err != nil {
		return nil, err
	}
	if endTime.Valid {
		at := endTime.Time.UTC()
		shift.EndTime = &at
	}
	return &shift, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func emptySlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
