package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"berezcashier/backend/internal/domain"
	"berezcashier/backend/internal/store"
)

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

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, type, price_cents, cost_cents, stock_qty, active, created_at
		FROM products
		WHERE tenant_id = $1 AND active = true
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		var stock sql.NullInt64
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Type, &p.PriceCents, &p.CostCents, &stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if stock.Valid {
			qty := int(stock.Int64)
			p.StockQty = &qty
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.TenantID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	var stock sql.NullInt64
	if product.StockQty != nil {
		stock = sql.NullInt64{Int64: int64(*product.StockQty), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, type, price_cents, cost_cents, stock_qty, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, product.ID, product.TenantID, product.Name, product.Type, product.PriceCents, product.CostCents, stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	var p domain.Product
	var stock sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, type, price_cents, cost_cents, stock_qty, active, created_at
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.Name, &p.Type, &p.PriceCents, &p.CostCents, &stock, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if stock.Valid {
		qty := int(stock.Int64)
		p.StockQty = &qty
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, tenantID string, productIDs []string) (map[string]domain.Product, error) {
	if len(productIDs) == 0 {
		return map[string]domain.Product{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, type, price_cents, cost_cents, stock_qty, active, created_at
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
	`, tenantID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Product, len(productIDs))
	for rows.Next() {
		var p domain.Product
		var stock sql.NullInt64
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &p.Type, &p.PriceCents, &p.CostCents, &stock, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if stock.Valid {
			qty := int(stock.Int64)
			p.StockQty = &qty
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// RestockProduct serializes concurrent restocks of the same product with a
// row lock: stock += qty and the cost basis is overwritten with the latest
// unit cost inside one transaction.
func (s *Store) RestockProduct(ctx context.Context, tenantID string, productID string, qty int, unitCostCents int64) (int, error) {
	if qty < 1 || unitCostCents < 1 {
		return 0, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var productType string
	var stock sql.NullInt64
	err = pgTx.QueryRowContext(ctx, `
		SELECT type, stock_qty
		FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, productID).Scan(&productType, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	if productType != domain.ProductTypeTangible {
		return 0, fmt.Errorf("%w: product %s is not a tangible good", store.ErrInvalidInput, productID)
	}

	current := 0
	if stock.Valid {
		current = int(stock.Int64)
	}
	updated := current + qty

	_, err = pgTx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = $1, cost_cents = $2, updated_at = now()
		WHERE tenant_id = $3 AND id = $4
	`, updated, unitCostCents, tenantID, productID)
	if err != nil {
		return 0, err
	}

	if err := pgTx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *Store) FindAccounts(ctx context.Context, tenantID string, category string, namePrefix string) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, code, name, category
		FROM ledger_accounts
		WHERE tenant_id = $1
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR lower(name) LIKE lower($3) || '%')
		ORDER BY code
	`, tenantID, category, namePrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, 32)
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Category); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (s *Store) GetAccount(ctx context.Context, tenantID string, accountID string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, code, name, category
		FROM ledger_accounts
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, accountID).Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	if account.ID == "" || account.TenantID == "" || account.Name == "" {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_accounts (id, tenant_id, code, name, category)
		VALUES ($1,$2,$3,$4,$5)
	`, account.ID, account.TenantID, account.Code, account.Name, account.Category)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := account
	return &created, nil
}

// applyStockDeltas locks the affected product rows and applies the signed
// deltas, failing the whole transaction if any product is missing, not a
// tangible good, or would go negative. Caller owns commit/rollback.
func applyStockDeltas(ctx context.Context, pgTx *sql.Tx, tenantID string, deltas []domain.StockAdjustment) error {
	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, 0, len(deltas))
	for _, delta := range deltas {
		ids = append(ids, delta.ProductID)
	}

	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, type, stock_qty
		FROM products
		WHERE tenant_id = $1 AND id = ANY($2)
		FOR UPDATE
	`, tenantID, ids)
	if err != nil {
		return err
	}

	type productState struct {
		productType string
		stock       sql.NullInt64
	}
	states := make(map[string]productState, len(ids))
	for rows.Next() {
		var id string
		var state productState
		if err := rows.Scan(&id, &state.productType, &state.stock); err != nil {
			_ = rows.Close()
			return err
		}
		states[id] = state
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, delta := range deltas {
		state, exists := states[delta.ProductID]
		if !exists {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, delta.ProductID)
		}
		if state.productType != domain.ProductTypeTangible || !state.stock.Valid {
			return fmt.Errorf("%w: product %s has no stock", store.ErrInvalidInput, delta.ProductID)
		}
		updated := int(state.stock.Int64) + delta.Qty
		if updated < 0 {
			return fmt.Errorf("%w: insufficient stock for %s", store.ErrInvalidInput, delta.ProductID)
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock_qty = $1, updated_at = now()
			WHERE tenant_id = $2 AND id = $3
		`, updated, tenantID, delta.ProductID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error) {
	if tx.ID == "" || tx.TenantID == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	itemsJSON, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	linesJSON, err := json.Marshal(tx.Lines)
	if err != nil {
		return nil, err
	}
	accountsJSON, err := json.Marshal(tx.Accounts)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := applyStockDeltas(ctx, pgTx, tx.TenantID, deltas); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, tenant_id, branch_id, warehouse_id, number, type, status, payment_status,
			subtotal_cents, discount_cents, tax_cents, service_fee_cents, total_cents, paid_cents,
			customer_id, customer_name, payment_method, is_taxable_entity,
			items, lines, accounts, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)
	`, tx.ID, tx.TenantID, tx.BranchID, tx.WarehouseID, tx.Number, tx.Type, tx.Status, tx.PaymentStatus,
		tx.SubtotalCents, tx.DiscountCents, tx.TaxCents, tx.ServiceFeeCents, tx.TotalCents, tx.PaidCents,
		tx.CustomerID, tx.CustomerName, tx.PaymentMethod, tx.IsTaxableEntity,
		itemsJSON, linesJSON, accountsJSON, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) SettleTransaction(ctx context.Context, tx domain.Transaction, deltas []domain.StockAdjustment) (*domain.Transaction, error) {
	if tx.ID == "" || tx.TenantID == "" {
		return nil, store.ErrInvalidInput
	}

	itemsJSON, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	linesJSON, err := json.Marshal(tx.Lines)
	if err != nil {
		return nil, err
	}
	accountsJSON, err := json.Marshal(tx.Accounts)
	if err != nil {
		return nil, err
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var paymentStatus string
	err = pgTx.QueryRowContext(ctx, `
		SELECT payment_status
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tx.TenantID, tx.ID).Scan(&paymentStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paymentStatus != domain.PaymentPending && paymentStatus != domain.PaymentFailed {
		return nil, store.ErrNotSettleable
	}

	if err := applyStockDeltas(ctx, pgTx, tx.TenantID, deltas); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $1, payment_method = $2, is_taxable_entity = $3,
		    subtotal_cents = $4, discount_cents = $5, tax_cents = $6, service_fee_cents = $7,
		    total_cents = $8, paid_cents = $9,
		    items = $10, lines = $11, accounts = $12, updated_at = $13
		WHERE tenant_id = $14 AND id = $15
	`, tx.PaymentStatus, tx.PaymentMethod, tx.IsTaxableEntity,
		tx.SubtotalCents, tx.DiscountCents, tx.TaxCents, tx.ServiceFeeCents,
		tx.TotalCents, tx.PaidCents,
		itemsJSON, linesJSON, accountsJSON, tx.UpdatedAt,
		tx.TenantID, tx.ID)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := tx
	return &saved, nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var itemsJSON, linesJSON, accountsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, branch_id, warehouse_id, number, type, status, payment_status,
		       subtotal_cents, discount_cents, tax_cents, service_fee_cents, total_cents, paid_cents,
		       customer_id, customer_name, payment_method, is_taxable_entity,
		       items, lines, accounts, created_at, updated_at
		FROM transactions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(
		&tx.ID, &tx.TenantID, &tx.BranchID, &tx.WarehouseID, &tx.Number, &tx.Type, &tx.Status, &tx.PaymentStatus,
		&tx.SubtotalCents, &tx.DiscountCents, &tx.TaxCents, &tx.ServiceFeeCents, &tx.TotalCents, &tx.PaidCents,
		&tx.CustomerID, &tx.CustomerName, &tx.PaymentMethod, &tx.IsTaxableEntity,
		&itemsJSON, &linesJSON, &accountsJSON, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &tx.Lines); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(accountsJSON, &tx.Accounts); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, paymentStatus string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, branch_id, warehouse_id, number, type, status, payment_status,
		       subtotal_cents, discount_cents, tax_cents, service_fee_cents, total_cents, paid_cents,
		       customer_id, customer_name, payment_method, is_taxable_entity,
		       items, lines, accounts, created_at, updated_at
		FROM transactions
		WHERE tenant_id = $1 AND ($2 = '' OR payment_status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, paymentStatus, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		var tx domain.Transaction
		var itemsJSON, linesJSON, accountsJSON []byte
		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.BranchID, &tx.WarehouseID, &tx.Number, &tx.Type, &tx.Status, &tx.PaymentStatus,
			&tx.SubtotalCents, &tx.DiscountCents, &tx.TaxCents, &tx.ServiceFeeCents, &tx.TotalCents, &tx.PaidCents,
			&tx.CustomerID, &tx.CustomerName, &tx.PaymentMethod, &tx.IsTaxableEntity,
			&itemsJSON, &linesJSON, &accountsJSON, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(linesJSON, &tx.Lines); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(accountsJSON, &tx.Accounts); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return transactions, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, tenant_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.TenantID, user.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, tenant_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.TenantID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $1 WHERE username = $2
	`, password, username)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
