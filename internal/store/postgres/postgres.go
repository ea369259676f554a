package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dukalink/backend/internal/domain"
	"dukalink/backend/internal/store"
	"dukalink/backend/internal/xid"
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

func (s *Store) CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	if strings.TrimSpace(st.Name) == "" || strings.TrimSpace(st.Region) == "" {
		return nil, store.ErrInvalidRequest
	}
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, region, contact, hq, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, st.ID, st.Name, st.Region, nullIfEmpty(st.Contact), st.HQ, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := st
	return &created, nil
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	var contact sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, region, contact, hq, created_at
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&st.ID, &st.Name, &st.Region, &contact, &st.HQ, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if contact.Valid {
		st.Contact = contact.String
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, region, contact, hq, created_at
		FROM stores
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		var contact sql.NullString
		if err := rows.Scan(&st.ID, &st.Name, &st.Region, &contact, &st.HQ, &st.CreatedAt); err != nil {
			return nil, err
		}
		if contact.Valid {
			st.Contact = contact.String
		}
		st.CreatedAt = st.CreatedAt.UTC()
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) AddStock(ctx context.Context, req domain.AddStockRequest) (*domain.StockRecord, error) {
	if req.StoreID == "" || req.ProductID == "" || req.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rec domain.StockRecord
	var costPrice sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO stock_records (store_id, product_id, quantity, cost_price_cents, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET
			quantity = stock_records.quantity + EXCLUDED.quantity,
			cost_price_cents = COALESCE(EXCLUDED.cost_price_cents, stock_records.cost_price_cents),
			updated_at = now()
		RETURNING store_id, product_id, quantity, cost_price_cents, updated_at
	`, req.StoreID, req.ProductID, req.Quantity, nullIfZero(req.CostPriceCents)).Scan(
		&rec.StoreID, &rec.ProductID, &rec.Quantity, &costPrice, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if costPrice.Valid {
		rec.CostPriceCents = costPrice.Int64
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	for _, serial := range req.SerialNumbers {
		serial = strings.TrimSpace(serial)
		if serial == "" {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_serials (store_id, product_id, serial_number)
			VALUES ($1,$2,$3)
			ON CONFLICT DO NOTHING
		`, req.StoreID, req.ProductID, serial)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec.SerialNumbers, err = s.listSerials(ctx, req.StoreID, req.ProductID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetStock(ctx context.Context, storeID string, productID string) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	var costPrice sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, product_id, quantity, cost_price_cents, updated_at
		FROM stock_records
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID).Scan(&rec.StoreID, &rec.ProductID, &rec.Quantity, &costPrice, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if costPrice.Valid {
		rec.CostPriceCents = costPrice.Int64
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	rec.SerialNumbers, err = s.listSerials(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) listSerials(ctx context.Context, storeID string, productID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial_number
		FROM stock_serials
		WHERE store_id = $1 AND product_id = $2
		ORDER BY serial_number ASC
	`, storeID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	serials := make([]string, 0, 8)
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		serials = append(serials, serial)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		return nil, nil
	}
	return serials, nil
}

func (s *Store) ListStockByStore(ctx context.Context, storeID string) ([]domain.StockRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, product_id, quantity, cost_price_cents, updated_at
		FROM stock_records
		WHERE store_id = $1
		ORDER BY product_id ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.StockRecord, 0, 64)
	for rows.Next() {
		var rec domain.StockRecord
		var costPrice sql.NullInt64
		if err := rows.Scan(&rec.StoreID, &rec.ProductID, &rec.Quantity, &costPrice, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if costPrice.Valid {
			rec.CostPriceCents = costPrice.Int64
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	if transfer.ProductID == "" || transfer.FromStore == "" || transfer.ToStore == "" || transfer.InitiatedBy == "" {
		return nil, store.ErrInvalidRequest
	}
	if transfer.Quantity < 1 || transfer.FromStore == transfer.ToStore {
		return nil, store.ErrInvalidRequest
	}
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.Status == "" {
		transfer.Status = domain.TransferStatusPending
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.UpdatedAt = transfer.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (id, product_id, from_store, to_store, quantity, status, initiated_by, approved_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8,$9)
	`, transfer.ID, transfer.ProductID, transfer.FromStore, transfer.ToStore, transfer.Quantity,
		transfer.Status, transfer.InitiatedBy, transfer.CreatedAt, transfer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := transfer
	return &created, nil
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	transfer, err := scanTransfer(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, from_store, to_store, quantity, status, initiated_by, approved_by, created_at, updated_at
		FROM transfers
		WHERE id = $1
	`, transferID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// ApproveTransfer runs the whole approval as one transaction: the transfer row
// and the source stock row are locked, the source is deducted, the destination
// is credited through an upsert, and the status flips to approved. Any failure
// rolls all three writes back.
func (s *Store) ApproveTransfer(ctx context.Context, transferID string, approverID string) (*domain.Transfer, error) {
	if approverID == "" {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	transfer, err := scanTransfer(tx.QueryRowContext(ctx, `
		SELECT id, product_id, from_store, to_store, quantity, status, initiated_by, approved_by, created_at, updated_at
		FROM transfers
		WHERE id = $1
		FOR UPDATE
	`, transferID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if transfer.Status != domain.TransferStatusPending {
		return nil, store.ErrInvalidState
	}

	var sourceQty int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock_records
		WHERE store_id = $1 AND product_id = $2
		FOR UPDATE
	`, transfer.FromStore, transfer.ProductID).Scan(&sourceQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.InsufficientStockError{ProductID: transfer.ProductID, Available: 0}
		}
		return nil, err
	}
	if sourceQty < transfer.Quantity {
		return nil, &store.InsufficientStockError{ProductID: transfer.ProductID, Available: sourceQty}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = quantity - $1, updated_at = now()
		WHERE store_id = $2 AND product_id = $3
	`, transfer.Quantity, transfer.FromStore, transfer.ProductID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_records (store_id, product_id, quantity, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET quantity = stock_records.quantity + EXCLUDED.quantity, updated_at = now()
	`, transfer.ToStore, transfer.ProductID, transfer.Quantity)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, approved_by = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, transferID, domain.TransferStatusApproved, approverID, now, domain.TransferStatusPending)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	transfer.Status = domain.TransferStatusApproved
	transfer.ApprovedBy = approverID
	transfer.UpdatedAt = now
	return transfer, nil
}

func (s *Store) RejectTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	transfer, err := scanTransfer(tx.QueryRowContext(ctx, `
		SELECT id, product_id, from_store, to_store, quantity, status, initiated_by, approved_by, created_at, updated_at
		FROM transfers
		WHERE id = $1
		FOR UPDATE
	`, transferID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if transfer.Status != domain.TransferStatusPending {
		return nil, store.ErrInvalidState
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE transfers
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, transferID, domain.TransferStatusRejected, now, domain.TransferStatusPending)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	transfer.Status = domain.TransferStatusRejected
	transfer.UpdatedAt = now
	return transfer, nil
}

func (s *Store) ListTransfers(ctx context.Context, storeID string, direction string, status string, limit int) ([]domain.Transfer, error) {
	var column string
	switch direction {
	case domain.DirectionIncoming:
		column = "to_store"
	case domain.DirectionOutgoing:
		column = "from_store"
	default:
		return nil, store.ErrInvalidRequest
	}
	if status == "" {
		status = domain.TransferStatusPending
	}
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, from_store, to_store, quantity, status, initiated_by, approved_by, created_at, updated_at
		FROM transfers
		WHERE `+column+` = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0, limit)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *Store) CountPendingTransfers(ctx context.Context, storeID string) (domain.TransferCounts, error) {
	counts := domain.TransferCounts{StoreID: storeID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE to_store = $1),
			COUNT(*) FILTER (WHERE from_store = $1)
		FROM transfers
		WHERE status = $2 AND (to_store = $1 OR from_store = $1)
	`, storeID, domain.TransferStatusPending).Scan(&counts.Incoming, &counts.Outgoing)
	if err != nil {
		return domain.TransferCounts{}, err
	}
	return counts, nil
}

// CreateSale is one unit of work spanning the customer upsert, the sale row,
// its lines and payments, and a locked read-then-write deduction per line in
// the order the lines were supplied. The first line that cannot be covered
// aborts everything; nothing partial is ever visible.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, customer domain.CustomerRef) (*domain.Sale, *domain.Customer, error) {
	if sale.StoreID == "" || sale.ServedBy == "" || len(sale.Lines) == 0 || len(sale.Payments) == 0 {
		return nil, nil, store.ErrInvalidRequest
	}
	if strings.TrimSpace(customer.Phone) == "" {
		return nil, nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	resolved, err := resolveCustomerTx(ctx, tx, customer, sale.ServedBy)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range sale.Lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return nil, nil, store.ErrInvalidRequest
		}

		var quantity int
		err = tx.QueryRowContext(ctx, `
			SELECT quantity
			FROM stock_records
			WHERE store_id = $1 AND product_id = $2
			FOR UPDATE
		`, sale.StoreID, line.ProductID).Scan(&quantity)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, &store.InsufficientStockError{ProductID: line.ProductID, Available: 0}
			}
			return nil, nil, err
		}
		if quantity < line.Quantity {
			return nil, nil, &store.InsufficientStockError{ProductID: line.ProductID, Available: quantity}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE stock_records
			SET quantity = quantity - $1, updated_at = now()
			WHERE store_id = $2 AND product_id = $3
		`, line.Quantity, sale.StoreID, line.ProductID)
		if err != nil {
			return nil, nil, err
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.CustomerID = resolved.ID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, customer_id, store_id, served_by, total_cents, paid_cents, discount_cents, payment_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sale.ID, sale.CustomerID, sale.StoreID, sale.ServedBy, sale.TotalCents, sale.PaidCents,
		sale.DiscountCents, sale.PaymentStatus, sale.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, price_cents, serial_number)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, line.ProductID, line.Quantity, line.PriceCents, nullIfEmpty(line.SerialNumber))
		if err != nil {
			return nil, nil, err
		}
	}

	for _, payment := range sale.Payments {
		paidAt := payment.PaidAt
		if paidAt.IsZero() {
			paidAt = sale.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, method, amount_cents, reference, description, bank_name, channel, paid_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference),
			nullIfEmpty(payment.Description), nullIfEmpty(payment.BankName), nullIfEmpty(payment.Channel), paidAt)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	created := sale
	return &created, resolved, nil
}

// resolveCustomerTx looks the customer up by phone inside the sale's
// transaction and creates the record when absent. Demographic fields of an
// existing customer are left untouched; a concurrent insert on the same phone
// surfaces as ErrConflict and the caller should retry the whole sale.
func resolveCustomerTx(ctx context.Context, tx *sql.Tx, ref domain.CustomerRef, servedBy string) (*domain.Customer, error) {
	existing, err := scanCustomer(tx.QueryRowContext(ctx, `
		SELECT id, name, phone, region, district, ward, street, served_by, created_at
		FROM customers
		WHERE phone = $1
	`, ref.Phone))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	customer := domain.Customer{
		ID:        xid.New("cus"),
		Name:      ref.Name,
		Phone:     ref.Phone,
		Region:    ref.Region,
		District:  ref.District,
		Ward:      ref.Ward,
		Street:    ref.Street,
		ServedBy:  servedBy,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, region, district, ward, street, served_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.Name, customer.Phone, customer.Region, nullIfEmpty(customer.District),
		nullIfEmpty(customer.Ward), nullIfEmpty(customer.Street), nullIfEmpty(customer.ServedBy), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, store_id, served_by, total_cents, paid_cents, discount_cents, payment_status, created_at
		FROM sales
		WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.CustomerID, &sale.StoreID, &sale.ServedBy, &sale.TotalCents,
		&sale.PaidCents, &sale.DiscountCents, &sale.PaymentStatus, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, price_cents, serial_number
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var line domain.SaleLine
		var serial sql.NullString
		if err := lineRows.Scan(&line.ProductID, &line.Quantity, &line.PriceCents, &serial); err != nil {
			return nil, err
		}
		if serial.Valid {
			line.SerialNumber = serial.String
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount_cents, reference, description, bank_name, channel, paid_at
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()

	for paymentRows.Next() {
		var payment domain.Payment
		var reference, description, bankName, channel sql.NullString
		if err := paymentRows.Scan(&payment.Method, &payment.AmountCents, &reference, &description, &bankName, &channel, &payment.PaidAt); err != nil {
			return nil, err
		}
		if reference.Valid {
			payment.Reference = reference.String
		}
		if description.Valid {
			payment.Description = description.String
		}
		if bankName.Valid {
			payment.BankName = bankName.String
		}
		if channel.Valid {
			payment.Channel = channel.String
		}
		payment.PaidAt = payment.PaidAt.UTC()
		sale.Payments = append(sale.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" || strings.TrimSpace(customer.Phone) == "" {
		return nil, store.ErrInvalidRequest
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, region, district, ward, street, served_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, customer.ID, customer.Name, customer.Phone, customer.Region, nullIfEmpty(customer.District),
		nullIfEmpty(customer.Ward), nullIfEmpty(customer.Street), nullIfEmpty(customer.ServedBy), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, region, district, ward, street, served_by, created_at
		FROM customers
		WHERE phone = $1
	`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return customer, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var transfer domain.Transfer
	var approvedBy sql.NullString
	err := row.Scan(&transfer.ID, &transfer.ProductID, &transfer.FromStore, &transfer.ToStore,
		&transfer.Quantity, &transfer.Status, &transfer.InitiatedBy, &approvedBy,
		&transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if approvedBy.Valid {
		transfer.ApprovedBy = approvedBy.String
	}
	transfer.CreatedAt = transfer.CreatedAt.UTC()
	transfer.UpdatedAt = transfer.UpdatedAt.UTC()
	return &transfer, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var customer domain.Customer
	var district, ward, street, servedBy sql.NullString
	err := row.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Region,
		&district, &ward, &street, &servedBy, &customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	if district.Valid {
		customer.District = district.String
	}
	if ward.Valid {
		customer.Ward = ward.String
	}
	if street.Valid {
		customer.Street = street.String
	}
	if servedBy.Valid {
		customer.ServedBy = servedBy.String
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
