package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dukalink/backend/internal/domain"
	"dukalink/backend/internal/store"
	"dukalink/backend/internal/xid"
)

type stockKey struct {
	storeID   string
	productID string
}

type Store struct {
	mu               sync.RWMutex
	stores           map[string]domain.Store
	stock            map[stockKey]*domain.StockRecord
	transfersByID    map[string]*domain.Transfer
	salesByID        map[string]*domain.Sale
	customersByPhone map[string]*domain.Customer
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
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

func New() *Store {
	return &Store{
		stores:           make(map[string]domain.Store),
		stock:            make(map[stockKey]*domain.StockRecord),
		transfersByID:    make(map[string]*domain.Transfer),
		salesByID:        make(map[string]*domain.Sale),
		customersByPhone: make(map[string]*domain.Customer),
		usersByUsername:  seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a headquarters, two branches and
// opening stock so the backend is usable out of the box in dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	stores := []domain.Store{
		{ID: "store-hq", Name: "HQ Warehouse", Region: "Dar es Salaam", Contact: "0712000001", HQ: true, CreatedAt: now},
		{ID: "store-mbezi", Name: "Mbezi Branch", Region: "Dar es Salaam", Contact: "0712000002", CreatedAt: now},
		{ID: "store-arusha", Name: "Arusha Branch", Region: "Arusha", Contact: "0712000003", CreatedAt: now},
	}
	for _, st := range stores {
		s.stores[st.ID] = st
	}

	seedStock := []domain.StockRecord{
		{StoreID: "store-hq", ProductID: "prod-phone-a12", Quantity: 120, CostPriceCents: 28500000},
		{StoreID: "store-hq", ProductID: "prod-radio-fm1", Quantity: 80, CostPriceCents: 4200000},
		{StoreID: "store-hq", ProductID: "prod-solar-kit", Quantity: 45, CostPriceCents: 9500000},
		{StoreID: "store-mbezi", ProductID: "prod-phone-a12", Quantity: 15, CostPriceCents: 28500000},
		{StoreID: "store-mbezi", ProductID: "prod-radio-fm1", Quantity: 10, CostPriceCents: 4200000},
		{StoreID: "store-arusha", ProductID: "prod-phone-a12", Quantity: 8, CostPriceCents: 28500000},
	}
	for _, rec := range seedStock {
		rec.UpdatedAt = now
		copyRec := rec
		s.stock[stockKey{rec.StoreID, rec.ProductID}] = &copyRec
	}

	return s
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Name == "" || st.Region == "" {
		return nil, store.ErrInvalidRequest
	}
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.stores[st.ID]; exists {
		return nil, store.ErrConflict
	}

	s.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stores[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySt := st
	return &copySt, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	slices.SortFunc(stores, func(a, b domain.Store) int {
		return strings.Compare(a.Name, b.Name)
	})
	return stores, nil
}

func (s *Store) AddStock(_ context.Context, req domain.AddStockRequest) (*domain.StockRecord, error) {
	if req.StoreID == "" || req.ProductID == "" || req.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{req.StoreID, req.ProductID}
	rec, exists := s.stock[key]
	if !exists {
		rec = &domain.StockRecord{StoreID: req.StoreID, ProductID: req.ProductID}
		s.stock[key] = rec
	}
	rec.Quantity += req.Quantity
	if req.CostPriceCents > 0 {
		rec.CostPriceCents = req.CostPriceCents
	}
	if len(req.SerialNumbers) > 0 {
		rec.SerialNumbers = append(rec.SerialNumbers, req.SerialNumbers...)
	}
	rec.UpdatedAt = time.Now().UTC()

	return copyRecord(rec), nil
}

func (s *Store) GetStock(_ context.Context, storeID string, productID string) (*domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.stock[stockKey{storeID, productID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Store) ListStockByStore(_ context.Context, storeID string) ([]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.StockRecord, 0, 16)
	for key, rec := range s.stock {
		if key.storeID != storeID {
			continue
		}
		records = append(records, *copyRecord(rec))
	}
	slices.SortFunc(records, func(a, b domain.StockRecord) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return records, nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.Transfer) (*domain.Transfer, error) {
	if transfer.ProductID == "" || transfer.FromStore == "" || transfer.ToStore == "" || transfer.InitiatedBy == "" {
		return nil, store.ErrInvalidRequest
	}
	if transfer.Quantity < 1 || transfer.FromStore == transfer.ToStore {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.Status == "" {
		transfer.Status = domain.TransferStatusPending
	}
	now := time.Now().UTC()
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = now
	}
	transfer.UpdatedAt = now

	stored := transfer
	s.transfersByID[transfer.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetTransfer(_ context.Context, transferID string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, exists := s.transfersByID[transferID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyTransfer := *transfer
	return &copyTransfer, nil
}

func (s *Store) ApproveTransfer(_ context.Context, transferID string, approverID string) (*domain.Transfer, error) {
	if approverID == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, exists := s.transfersByID[transferID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferStatusPending {
		return nil, store.ErrInvalidState
	}

	source, exists := s.stock[stockKey{transfer.FromStore, transfer.ProductID}]
	if !exists || source.Quantity < transfer.Quantity {
		available := 0
		if exists {
			available = source.Quantity
		}
		return nil, &store.InsufficientStockError{ProductID: transfer.ProductID, Available: available}
	}

	now := time.Now().UTC()
	source.Quantity -= transfer.Quantity
	source.UpdatedAt = now

	destKey := stockKey{transfer.ToStore, transfer.ProductID}
	dest, exists := s.stock[destKey]
	if !exists {
		dest = &domain.StockRecord{StoreID: transfer.ToStore, ProductID: transfer.ProductID}
		s.stock[destKey] = dest
	}
	dest.Quantity += transfer.Quantity
	dest.UpdatedAt = now

	transfer.Status = domain.TransferStatusApproved
	transfer.ApprovedBy = approverID
	transfer.UpdatedAt = now

	copyTransfer := *transfer
	return &copyTransfer, nil
}

func (s *Store) RejectTransfer(_ context.Context, transferID string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, exists := s.transfersByID[transferID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferStatusPending {
		return nil, store.ErrInvalidState
	}

	transfer.Status = domain.TransferStatusRejected
	transfer.UpdatedAt = time.Now().UTC()

	copyTransfer := *transfer
	return &copyTransfer, nil
}

func (s *Store) ListTransfers(_ context.Context, storeID string, direction string, status string, limit int) ([]domain.Transfer, error) {
	if direction != domain.DirectionIncoming && direction != domain.DirectionOutgoing {
		return nil, store.ErrInvalidRequest
	}
	if status == "" {
		status = domain.TransferStatusPending
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	transfers := make([]domain.Transfer, 0, limit)
	for _, transfer := range s.transfersByID {
		if transfer.Status != status {
			continue
		}
		if direction == domain.DirectionIncoming && transfer.ToStore != storeID {
			continue
		}
		if direction == domain.DirectionOutgoing && transfer.FromStore != storeID {
			continue
		}
		transfers = append(transfers, *transfer)
	}
	slices.SortFunc(transfers, func(a, b domain.Transfer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

func (s *Store) CountPendingTransfers(_ context.Context, storeID string) (domain.TransferCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := domain.TransferCounts{StoreID: storeID}
	for _, transfer := range s.transfersByID {
		if transfer.Status != domain.TransferStatusPending {
			continue
		}
		if transfer.ToStore == storeID {
			counts.Incoming++
		}
		if transfer.FromStore == storeID {
			counts.Outgoing++
		}
	}
	return counts, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, customer domain.CustomerRef) (*domain.Sale, *domain.Customer, error) {
	if sale.StoreID == "" || sale.ServedBy == "" || len(sale.Lines) == 0 || len(sale.Payments) == 0 {
		return nil, nil, store.ErrInvalidRequest
	}
	if customer.Phone == "" {
		return nil, nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every line in order against a working view first so nothing is
	// mutated when a later line fails. The first short line aborts the sale.
	pendingDeduction := make(map[stockKey]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity < 1 {
			return nil, nil, store.ErrInvalidRequest
		}
		key := stockKey{sale.StoreID, line.ProductID}
		available := 0
		if rec, exists := s.stock[key]; exists {
			available = rec.Quantity
		}
		available -= pendingDeduction[key]
		if available < line.Quantity {
			return nil, nil, &store.InsufficientStockError{ProductID: line.ProductID, Available: available}
		}
		pendingDeduction[key] += line.Quantity
	}

	now := time.Now().UTC()

	resolved, exists := s.customersByPhone[customer.Phone]
	if !exists {
		resolved = &domain.Customer{
			ID:        xid.New("cus"),
			Name:      customer.Name,
			Phone:     customer.Phone,
			Region:    customer.Region,
			District:  customer.District,
			Ward:      customer.Ward,
			Street:    customer.Street,
			ServedBy:  sale.ServedBy,
			CreatedAt: now,
		}
		s.customersByPhone[customer.Phone] = resolved
	}

	for key, qty := range pendingDeduction {
		rec := s.stock[key]
		rec.Quantity -= qty
		rec.UpdatedAt = now
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.CustomerID = resolved.ID

	stored := sale
	stored.Lines = slices.Clone(sale.Lines)
	stored.Payments = slices.Clone(sale.Payments)
	s.salesByID[sale.ID] = &stored

	createdSale := stored
	createdCustomer := *resolved
	return &createdSale, &createdCustomer, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := *sale
	copySale.Lines = slices.Clone(sale.Lines)
	copySale.Payments = slices.Clone(sale.Payments)
	return &copySale, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByPhone[customer.Phone]; exists {
		return nil, store.ErrConflict
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	stored := customer
	s.customersByPhone[customer.Phone] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByPhone[phone]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := *customer
	return &copyCustomer, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
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
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func copyRecord(rec *domain.StockRecord) *domain.StockRecord {
	copyRec := *rec
	copyRec.SerialNumbers = slices.Clone(rec.SerialNumbers)
	return &copyRec
}
