package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
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

func (s *Store) CreateStore(ctx context.Context, st domain.Store, manager *domain.User) (*domain.Store, error) {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return nil, fmt.Errorf("store name required: %w", store.ErrInvalidInput)
	}
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stores (id, name, address, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, st.ID, st.Name, st.Address, st.Phone, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if manager != nil {
		email := strings.ToLower(strings.TrimSpace(manager.Email))
		if email == "" || manager.PasswordHash == "" {
			return nil, fmt.Errorf("manager credentials required: %w", store.ErrInvalidInput)
		}
		managerID := manager.ID
		if managerID == "" {
			managerID = xid.New("user")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, name, email, password_hash, role, store_id, active, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,true,$7)
		`, managerID, manager.Name, email, manager.PasswordHash, domain.RoleManager, st.ID, st.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := st
	return &created, nil
}

func (s *Store) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, created_at
		FROM stores
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, phone, created_at
		FROM stores
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Phone, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.CreatedAt = st.CreatedAt.UTC()
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" || !domain.ValidRole(user.Role) {
		return nil, fmt.Errorf("invalid user: %w", store.ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, nullIfEmpty(user.StoreID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	var storeID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, store_id, active, created_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &storeID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if storeID.Valid {
		user.StoreID = storeID.String
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, storeID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, password_hash, role, store_id, active, created_at
		FROM users
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY email ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 32)
	for rows.Next() {
		var user domain.User
		var sid sql.NullString
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &sid, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		if sid.Valid {
			user.StoreID = sid.String
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (*domain.User, error) {
	var user domain.User
	var storeID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET active = $2
		WHERE id = $1
		RETURNING id, name, email, password_hash, role, store_id, active, created_at
	`, id, active).Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&user.Role, &storeID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if storeID.Valid {
		user.StoreID = storeID.String
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("empty password hash: %w", store.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.StoreID == "" || product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}
	if product.Quantity < 0 || product.MinStock < 0 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, store_id, name, sku, barcode, category, price_cents, cost_cents,
			quantity, min_stock, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, product.ID, product.StoreID, product.Name, product.SKU, nullIfEmpty(product.Barcode),
		product.Category, product.PriceCents, product.CostCents, product.Quantity,
		product.MinStock, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, productSelect+` WHERE id = $1`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, productSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = *product
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 1 || product.MinStock < 0 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}

	// SKU, store and stock level stay untouched; stock moves through
	// AdjustStock, sales and returns.
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, barcode = $3, category = $4, price_cents = $5,
			cost_cents = $6, min_stock = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns, product.ID, product.Name, nullIfEmpty(product.Barcode),
		product.Category, product.PriceCents, product.CostCents, product.MinStock)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, productSelect+`
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY category, name
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING `+productColumns, productID, delta)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetProduct(ctx, productID); errors.Is(getErr, store.ErrNotFound) {
				return nil, store.ErrNotFound
			}
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	if len(ids) == 0 {
		return nil, store.ErrEmptyCart
	}

	// Lock the product rows so concurrent sales serialize per product and
	// stock can never dip below zero.
	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, quantity
		FROM products
		WHERE store_id = $1 AND id = ANY($2)
		FOR UPDATE
	`, sale.StoreID, ids)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[string]int, len(ids))
	for stockRows.Next() {
		var id string
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrEmptyCart
		}
		qty, exists := stockMap[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("product %s unavailable: %w", item.ProductID, store.ErrNotFound)
		}
		if qty < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
		stockMap[item.ProductID] = qty - item.Quantity
	}

	for _, item := range sale.Items {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
	}

	number, err := nextNumber(ctx, pgTx, store.SaleCounter)
	if err != nil {
		return nil, err
	}
	sale.Number = store.FormatSaleNumber(number)
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, store_id, cashier_id, customer_name, customer_phone,
			payment_method, status, subtotal_cents, tax_cents, fee_cents,
			total_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.Number, sale.StoreID, sale.CashierID, nullIfEmpty(sale.CustomerName),
		nullIfEmpty(sale.CustomerPhone), sale.PaymentMethod, sale.Status,
		sale.SubtotalCents, sale.TaxCents, sale.FeeCents, sale.TotalCents, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range sale.Items {
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("sitem")
		}
		item := sale.Items[i]
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, name, sku, quantity, price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, item.ID, sale.ID, item.ProductID, item.Name, item.SKU, item.Quantity, item.PriceCents, item.TotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerName, customerPhone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, store_id, cashier_id, customer_name, customer_phone,
			payment_method, status, subtotal_cents, tax_cents, fee_cents,
			total_cents, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.Number, &sale.StoreID, &sale.CashierID, &customerName,
		&customerPhone, &sale.PaymentMethod, &sale.Status, &sale.SubtotalCents,
		&sale.TaxCents, &sale.FeeCents, &sale.TotalCents, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerName.Valid {
		sale.CustomerName = customerName.String
	}
	if customerPhone.Valid {
		sale.CustomerPhone = customerPhone.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	items, err := s.saleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, store_id, cashier_id, customer_name, customer_phone,
			payment_method, status, subtotal_cents, tax_cents, fee_cents,
			total_cents, created_at
		FROM sales
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC, number DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	saleIDs := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerName, customerPhone sql.NullString
		if err := rows.Scan(
			&sale.ID, &sale.Number, &sale.StoreID, &sale.CashierID, &customerName,
			&customerPhone, &sale.PaymentMethod, &sale.Status, &sale.SubtotalCents,
			&sale.TaxCents, &sale.FeeCents, &sale.TotalCents, &sale.CreatedAt,
		); err != nil {
			return nil, err
		}
		if customerName.Valid {
			sale.CustomerName = customerName.String
		}
		if customerPhone.Valid {
			sale.CustomerPhone = customerPhone.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
		saleIDs = append(saleIDs, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.saleItems(ctx, saleIDs)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, id, product_id, name, sku, quantity, price_cents, total_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ID, &item.ProductID, &item.Name, &item.SKU, &item.Quantity, &item.PriceCents, &item.TotalCents); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	if len(ret.Items) == 0 {
		return nil, store.ErrInvalidReturn
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var saleID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM sales WHERE id = $1 FOR UPDATE
	`, ret.SaleID).Scan(&saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	soldRows, err := pgTx.QueryContext(ctx, `
		SELECT id, quantity FROM sale_items WHERE sale_id = $1
	`, ret.SaleID)
	if err != nil {
		return nil, err
	}
	sold := make(map[string]int, 8)
	for soldRows.Next() {
		var itemID string
		var qty int
		if err := soldRows.Scan(&itemID, &qty); err != nil {
			_ = soldRows.Close()
			return nil, err
		}
		sold[itemID] = qty
	}
	if err := soldRows.Err(); err != nil {
		_ = soldRows.Close()
		return nil, err
	}
	_ = soldRows.Close()

	// Sum what earlier returns already took, inside the same transaction,
	// so concurrent returns cannot jointly over-return.
	returned := make(map[string]int, len(sold))
	retRows, err := pgTx.QueryContext(ctx, `
		SELECT ri.sale_item_id, COALESCE(SUM(ri.quantity), 0)::int
		FROM returns r
		JOIN return_items ri ON ri.return_id = r.id
		WHERE r.sale_id = $1
		GROUP BY ri.sale_item_id
	`, ret.SaleID)
	if err != nil {
		return nil, err
	}
	for retRows.Next() {
		var itemID string
		var qty int
		if err := retRows.Scan(&itemID, &qty); err != nil {
			_ = retRows.Close()
			return nil, err
		}
		returned[itemID] = qty
	}
	if err := retRows.Err(); err != nil {
		_ = retRows.Close()
		return nil, err
	}
	_ = retRows.Close()

	for _, line := range ret.Items {
		soldQty, ok := sold[line.SaleItemID]
		if !ok || line.Quantity < 1 {
			return nil, store.ErrInvalidReturn
		}
		if returned[line.SaleItemID]+line.Quantity > soldQty {
			return nil, store.ErrQuantityExceeded
		}
	}

	// Decide the sale's new status inside the transaction, from the same
	// sold and returned maps the quantity check used, so two concurrent
	// partial returns cannot jointly exhaust the sale yet leave it marked
	// PARTIAL_RETURN.
	saleStatus := domain.SaleStatusPartialReturn
	allReturned := true
	for itemID, soldQty := range sold {
		after := returned[itemID]
		for _, line := range ret.Items {
			if line.SaleItemID == itemID {
				after += line.Quantity
			}
		}
		if after < soldQty {
			allReturned = false
			break
		}
	}
	if allReturned {
		saleStatus = domain.SaleStatusReturned
	}

	number, err := nextNumber(ctx, pgTx, store.ReturnCounter)
	if err != nil {
		return nil, err
	}
	ret.Number = store.FormatReturnNumber(number)
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO returns (
			id, number, sale_id, store_id, processed_by, reason,
			refund_cents, restock_fee_cents, net_refund_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ret.ID, ret.Number, ret.SaleID, ret.StoreID, ret.ProcessedBy, ret.Reason,
		ret.RefundCents, ret.RestockFeeCents, ret.NetRefundCents, ret.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range ret.Items {
		if ret.Items[i].ID == "" {
			ret.Items[i].ID = xid.New("ritem")
		}
		item := ret.Items[i]
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO return_items (id, return_id, sale_item_id, product_id, quantity, refund_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, ret.ID, item.SaleItemID, item.ProductID, item.Quantity, item.RefundCents)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales SET status = $2 WHERE id = $1
	`, ret.SaleID, saleStatus)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	ret.SaleStatus = saleStatus
	return &ret, nil
}

func (s *Store) ListReturns(ctx context.Context, storeID string, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, sale_id, store_id, processed_by, reason,
			refund_cents, restock_fee_cents, net_refund_cents, created_at
		FROM returns
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC, number DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, limit)
	returnIDs := make([]string, 0, limit)
	for rows.Next() {
		var ret domain.Return
		if err := rows.Scan(
			&ret.ID, &ret.Number, &ret.SaleID, &ret.StoreID, &ret.ProcessedBy,
			&ret.Reason, &ret.RefundCents, &ret.RestockFeeCents, &ret.NetRefundCents,
			&ret.CreatedAt,
		); err != nil {
			return nil, err
		}
		ret.CreatedAt = ret.CreatedAt.UTC()
		returns = append(returns, ret)
		returnIDs = append(returnIDs, ret.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(returnIDs) == 0 {
		return returns, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT return_id, id, sale_item_id, product_id, quantity, refund_cents
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY id ASC
	`, returnIDs)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	byReturn := make(map[string][]domain.ReturnItem, len(returnIDs))
	for itemRows.Next() {
		var returnID string
		var item domain.ReturnItem
		if err := itemRows.Scan(&returnID, &item.ID, &item.SaleItemID, &item.ProductID, &item.Quantity, &item.RefundCents); err != nil {
			return nil, err
		}
		byReturn[returnID] = append(byReturn[returnID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	for i := range returns {
		returns[i].Items = byReturn[returns[i].ID]
	}
	return returns, nil
}

func (s *Store) ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error) {
	result := make(map[string]int)
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.sale_item_id, COALESCE(SUM(ri.quantity), 0)::int
		FROM returns r
		JOIN return_items ri ON ri.return_id = r.id
		WHERE r.sale_id = $1
		GROUP BY ri.sale_item_id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetOrCreateSettings(ctx context.Context, defaults domain.Settings) (*domain.Settings, error) {
	if defaults.ID == "" {
		defaults.ID = "default"
	}
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now().UTC()
	}

	// Insert-if-absent keeps first use idempotent under concurrency.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, store_name, tax_rate_bp, fee_cents, currency, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, defaults.ID, defaults.StoreName, defaults.TaxRateBP, defaults.FeeCents, defaults.Currency, defaults.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var settings domain.Settings
	err = s.db.QueryRowContext(ctx, `
		SELECT id, store_name, tax_rate_bp, fee_cents, currency, updated_at
		FROM settings
		WHERE id = $1
	`, defaults.ID).Scan(&settings.ID, &settings.StoreName, &settings.TaxRateBP, &settings.FeeCents, &settings.Currency, &settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.ID == "" {
		settings.ID = "default"
	}
	var updated domain.Settings
	err := s.db.QueryRowContext(ctx, `
		UPDATE settings
		SET store_name = $2, tax_rate_bp = $3, fee_cents = $4, currency = $5, updated_at = now()
		WHERE id = $1
		RETURNING id, store_name, tax_rate_bp, fee_cents, currency, updated_at
	`, settings.ID, settings.StoreName, settings.TaxRateBP, settings.FeeCents, settings.Currency).Scan(
		&updated.ID, &updated.StoreName, &updated.TaxRateBP, &updated.FeeCents, &updated.Currency, &updated.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	updated.UpdatedAt = updated.UpdatedAt.UTC()
	return &updated, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullIfEmpty(entry.StoreID), entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(store_id,''), actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// nextNumber bumps a named counter inside the caller's transaction and
// returns the new value.
func nextNumber(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var value int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}

const productColumns = `id, store_id, name, sku, barcode, category, price_cents, cost_cents, quantity, min_stock, created_at`

const productSelect = `
	SELECT ` + productColumns + `
	FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var barcode sql.NullString
	if err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.SKU, &barcode, &p.Category, &p.PriceCents, &p.CostCents, &p.Quantity, &p.MinStock, &p.CreatedAt); err != nil {
		return nil, err
	}
	if barcode.Valid {
		p.Barcode = barcode.String
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
