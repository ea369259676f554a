package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dukalink/backend/internal/cache"
	"dukalink/backend/internal/domain"
	"dukalink/backend/internal/notify"
	"dukalink/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	counts    cache.TransferCountsCache
	notifier  notify.Notifier
	countsTTL time.Duration
}

func New(repo store.Repository, counts cache.TransferCountsCache, notifier notify.Notifier, countsTTL time.Duration) *Service {
	if counts == nil {
		counts = cache.NoopTransferCountsCache{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if countsTTL <= 0 {
		countsTTL = 15 * time.Second
	}

	return &Service{
		repo:      repo,
		counts:    counts,
		notifier:  notifier,
		countsTTL: countsTTL,
	}
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Store{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Region = strings.TrimSpace(req.Region)
	if req.Name == "" || req.Region == "" {
		return domain.Store{}, fmt.Errorf("%w: store name and region are required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateStore(ctx, domain.Store{
		Name:    req.Name,
		Region:  req.Region,
		Contact: strings.TrimSpace(req.Contact),
		HQ:      req.HQ,
	})
	if err != nil {
		return domain.Store{}, err
	}
	return *created, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

// AddStock is the HQ replenishment path: only an admin may call it, and only
// the store flagged as headquarters may receive stock directly. Branch stores
// are stocked through approved transfers.
func (s *Service) AddStock(ctx context.Context, req domain.AddStockRequest) (domain.StockRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.StockRecord{}, fmt.Errorf("admin role required")
	}

	req.StoreID = strings.TrimSpace(req.StoreID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.StoreID == "" || req.ProductID == "" {
		return domain.StockRecord{}, fmt.Errorf("%w: store_id and product_id are required", store.ErrInvalidRequest)
	}
	if req.Quantity < 1 {
		return domain.StockRecord{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidRequest)
	}

	target, err := s.repo.GetStore(ctx, req.StoreID)
	if err != nil {
		return domain.StockRecord{}, err
	}
	if !target.HQ {
		return domain.StockRecord{}, fmt.Errorf("%w: only the headquarters store can receive direct stock", store.ErrInvalidRequest)
	}

	rec, err := s.repo.AddStock(ctx, req)
	if err != nil {
		return domain.StockRecord{}, err
	}
	return *rec, nil
}

func (s *Service) GetStock(ctx context.Context, storeID string, productID string) (domain.StockRecord, error) {
	if storeID == "" || productID == "" {
		return domain.StockRecord{}, fmt.Errorf("%w: store_id and product_id are required", store.ErrInvalidRequest)
	}
	rec, err := s.repo.GetStock(ctx, storeID, productID)
	if err != nil {
		return domain.StockRecord{}, err
	}
	return *rec, nil
}

// ListStock returns a store's stock. The special store id "all" aggregates
// every store and is restricted to admins.
func (s *Service) ListStock(ctx context.Context, storeID string) ([]domain.StockRecord, error) {
	if storeID == "" {
		return nil, fmt.Errorf("%w: store_id is required", store.ErrInvalidRequest)
	}

	if storeID == "all" {
		actor, ok := ActorFromContext(ctx)
		if !ok || actor.Role != "admin" {
			return nil, fmt.Errorf("admin role required")
		}
		stores, err := s.repo.ListStores(ctx)
		if err != nil {
			return nil, err
		}
		records := make([]domain.StockRecord, 0, 64)
		for _, st := range stores {
			storeRecords, err := s.repo.ListStockByStore(ctx, st.ID)
			if err != nil {
				return nil, err
			}
			records = append(records, storeRecords...)
		}
		return records, nil
	}

	return s.repo.ListStockByStore(ctx, storeID)
}

func (s *Service) RequestTransfer(ctx context.Context, req domain.TransferRequest) (domain.Transfer, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.FromStore = strings.TrimSpace(req.FromStore)
	req.ToStore = strings.TrimSpace(req.ToStore)
	req.InitiatedBy = strings.TrimSpace(req.InitiatedBy)

	if req.ProductID == "" || req.FromStore == "" || req.ToStore == "" || req.InitiatedBy == "" {
		return domain.Transfer{}, fmt.Errorf("%w: product, stores and initiator are required", store.ErrInvalidRequest)
	}
	if req.FromStore == req.ToStore {
		return domain.Transfer{}, fmt.Errorf("%w: source and destination stores must differ", store.ErrInvalidRequest)
	}
	if req.Quantity < 1 {
		return domain.Transfer{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateTransfer(ctx, domain.Transfer{
		ProductID:   req.ProductID,
		FromStore:   req.FromStore,
		ToStore:     req.ToStore,
		Quantity:    req.Quantity,
		InitiatedBy: req.InitiatedBy,
		Status:      domain.TransferStatusPending,
	})
	if err != nil {
		return domain.Transfer{}, err
	}

	s.invalidateCounts(ctx, created.FromStore, created.ToStore)

	return *created, nil
}

func (s *Service) ApproveTransfer(ctx context.Context, transferID string, approverID string) (domain.Transfer, error) {
	transferID = strings.TrimSpace(transferID)
	approverID = strings.TrimSpace(approverID)
	if transferID == "" || approverID == "" {
		return domain.Transfer{}, fmt.Errorf("%w: transfer id and approver id are required", store.ErrInvalidRequest)
	}

	approved, err := s.repo.ApproveTransfer(ctx, transferID, approverID)
	if err != nil {
		return domain.Transfer{}, err
	}

	s.invalidateCounts(ctx, approved.FromStore, approved.ToStore)

	return *approved, nil
}

func (s *Service) RejectTransfer(ctx context.Context, transferID string) (domain.Transfer, error) {
	transferID = strings.TrimSpace(transferID)
	if transferID == "" {
		return domain.Transfer{}, fmt.Errorf("%w: transfer id is required", store.ErrInvalidRequest)
	}

	rejected, err := s.repo.RejectTransfer(ctx, transferID)
	if err != nil {
		return domain.Transfer{}, err
	}

	s.invalidateCounts(ctx, rejected.FromStore, rejected.ToStore)

	return *rejected, nil
}

func (s *Service) ListTransfers(ctx context.Context, storeID string, direction string, status string) (domain.TransferListResponse, error) {
	if storeID == "" {
		return domain.TransferListResponse{}, fmt.Errorf("%w: store_id is required", store.ErrInvalidRequest)
	}
	if direction != domain.DirectionIncoming && direction != domain.DirectionOutgoing {
		return domain.TransferListResponse{}, fmt.Errorf("%w: specify exactly one of incoming or outgoing", store.ErrInvalidRequest)
	}
	if status == "" {
		status = domain.TransferStatusPending
	}
	switch status {
	case domain.TransferStatusPending, domain.TransferStatusApproved, domain.TransferStatusRejected:
	default:
		return domain.TransferListResponse{}, fmt.Errorf("%w: unknown transfer status %q", store.ErrInvalidRequest, status)
	}

	transfers, err := s.repo.ListTransfers(ctx, storeID, direction, status, 10)
	if err != nil {
		return domain.TransferListResponse{}, err
	}

	return domain.TransferListResponse{
		StoreID:   storeID,
		Direction: direction,
		Status:    status,
		Transfers: transfers,
	}, nil
}

func (s *Service) TransferCounts(ctx context.Context, storeID string) (domain.TransferCounts, error) {
	if storeID == "" {
		return domain.TransferCounts{}, fmt.Errorf("%w: store_id is required", store.ErrInvalidRequest)
	}

	if cached, found, err := s.counts.Get(ctx, storeID); err == nil && found {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: transfer counts cache get store=%s: %v", storeID, err)
	}

	counts, err := s.repo.CountPendingTransfers(ctx, storeID)
	if err != nil {
		return domain.TransferCounts{}, err
	}

	if err := s.counts.Set(ctx, storeID, counts, s.countsTTL); err != nil {
		log.Printf("[service] WARN: transfer counts cache set store=%s: %v", storeID, err)
	}

	return counts, nil
}

func (s *Service) invalidateCounts(ctx context.Context, storeIDs ...string) {
	if err := s.counts.Invalidate(ctx, storeIDs...); err != nil {
		log.Printf("[service] WARN: transfer counts cache invalidate: %v", err)
	}
}

// CreateSale validates the request up front, then hands the whole thing to
// the repository as one unit of work: customer resolution, the sale row and
// every line deduction commit together or not at all. The SMS receipt goes
// out only after the commit and never affects the result.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.ServedBy = strings.TrimSpace(req.ServedBy)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)

	if req.StoreID == "" || req.ServedBy == "" || len(req.Lines) == 0 || len(req.Payments) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: missing required sale data", store.ErrInvalidRequest)
	}
	if req.Customer.Phone == "" {
		return domain.Sale{}, fmt.Errorf("%w: customer phone is required", store.ErrInvalidRequest)
	}
	if req.DiscountCents < 0 {
		return domain.Sale{}, fmt.Errorf("%w: discount cannot be negative", store.ErrInvalidRequest)
	}

	totalCents := int64(0)
	for _, line := range req.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.Sale{}, fmt.Errorf("%w: sale line is missing product_id", store.ErrInvalidRequest)
		}
		if line.Quantity < 1 {
			return domain.Sale{}, fmt.Errorf("%w: sale line quantity must be positive", store.ErrInvalidRequest)
		}
		if line.PriceCents < 0 {
			return domain.Sale{}, fmt.Errorf("%w: sale line price cannot be negative", store.ErrInvalidRequest)
		}
		totalCents += line.PriceCents * int64(line.Quantity)
	}

	paidCents := int64(0)
	for i, payment := range req.Payments {
		if err := validatePayment(payment); err != nil {
			return domain.Sale{}, err
		}
		paidCents += payment.AmountCents
		if payment.PaidAt.IsZero() {
			req.Payments[i].PaidAt = time.Now().UTC()
		}
	}

	sale := domain.Sale{
		StoreID:       req.StoreID,
		ServedBy:      req.ServedBy,
		Lines:         req.Lines,
		Payments:      req.Payments,
		TotalCents:    totalCents,
		PaidCents:     paidCents,
		DiscountCents: req.DiscountCents,
		PaymentStatus: derivePaymentStatus(totalCents, paidCents),
	}

	created, customer, err := s.repo.CreateSale(ctx, sale, req.Customer)
	if err != nil {
		return domain.Sale{}, err
	}

	go s.sendSaleReceipt(*created, *customer)

	return *created, nil
}

func (s *Service) sendSaleReceipt(sale domain.Sale, customer domain.Customer) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	message := fmt.Sprintf("Dear %s, your purchase of TZS %d.%02d has been recorded. Thank you for shopping with us.",
		customer.Name, sale.TotalCents/100, sale.TotalCents%100)
	if err := s.notifier.Send(ctx, message, []string{customer.Phone}); err != nil {
		log.Printf("[service] WARN: sale receipt sms sale=%s: %v", sale.ID, err)
	}
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	if saleID == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidRequest)
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) SearchCustomer(ctx context.Context, phone string) (domain.Customer, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer phone is required", store.ErrInvalidRequest)
	}
	customer, err := s.repo.GetCustomerByPhone(ctx, phone)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" || req.Phone == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name and phone are required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:     req.Name,
		Phone:    req.Phone,
		Region:   strings.TrimSpace(req.Region),
		District: strings.TrimSpace(req.District),
		Ward:     strings.TrimSpace(req.Ward),
		Street:   strings.TrimSpace(req.Street),
		ServedBy: strings.TrimSpace(req.ServedBy),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Customer{}, fmt.Errorf("%w: customer with this phone already exists", store.ErrConflict)
		}
		return domain.Customer{}, err
	}
	return *created, nil
}

func validatePayment(payment domain.Payment) error {
	if payment.AmountCents < 1 {
		return fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidRequest)
	}
	switch payment.Method {
	case domain.PaymentMethodCash:
	case domain.PaymentMethodBank:
		if payment.BankName != domain.BankNMB && payment.BankName != domain.BankCRDB {
			return fmt.Errorf("%w: bank payments require bank_name NMB or CRDB", store.ErrInvalidRequest)
		}
	case domain.PaymentMethodMobile:
		if payment.Channel != domain.ChannelLipaNamba && payment.Channel != domain.ChannelMpesa {
			return fmt.Errorf("%w: mobile payments require a channel", store.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidRequest, payment.Method)
	}
	return nil
}

// derivePaymentStatus applies the threshold rule: paid when covered in full,
// partial when anything at all was paid, unpaid otherwise.
func derivePaymentStatus(totalCents int64, paidCents int64) string {
	switch {
	case paidCents >= totalCents:
		return domain.PaymentStatusPaid
	case paidCents > 0:
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusUnpaid
	}
}
