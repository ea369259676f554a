package domain

import "time"

type Store struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	Contact   string    `json:"contact,omitempty"`
	HQ        bool      `json:"hq"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreCreateRequest struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Contact string `json:"contact"`
	HQ      bool   `json:"hq"`
}

// StockRecord is the per-(store, product) quantity row. It is created lazily
// on first stock addition and never deleted; quantity may reach zero but
// never goes negative.
type StockRecord struct {
	StoreID        string    `json:"store_id"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	CostPriceCents int64     `json:"cost_price_cents,omitempty"`
	SerialNumbers  []string  `json:"serial_numbers,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AddStockRequest struct {
	StoreID        string   `json:"store_id"`
	ProductID      string   `json:"product_id"`
	Quantity       int      `json:"quantity"`
	CostPriceCents int64    `json:"cost_price_cents,omitempty"`
	SerialNumbers  []string `json:"serial_numbers,omitempty"`
}

type StockListResponse struct {
	StoreID string        `json:"store_id"`
	Records []StockRecord `json:"records"`
}

type Transfer struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	FromStore   string    `json:"from_store"`
	ToStore     string    `json:"to_store"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	InitiatedBy string    `json:"initiated_by"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TransferRequest struct {
	ProductID   string `json:"product_id"`
	FromStore   string `json:"from_store"`
	ToStore     string `json:"to_store"`
	Quantity    int    `json:"quantity"`
	InitiatedBy string `json:"initiated_by"`
}

type TransferListResponse struct {
	StoreID   string     `json:"store_id"`
	Direction string     `json:"direction"`
	Status    string     `json:"status"`
	Transfers []Transfer `json:"transfers"`
}

type TransferCounts struct {
	StoreID  string `json:"store_id"`
	Incoming int    `json:"incoming"`
	Outgoing int    `json:"outgoing"`
}

type SaleLine struct {
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	PriceCents   int64  `json:"price_cents"`
	SerialNumber string `json:"serial_number,omitempty"`
}

type Payment struct {
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	BankName    string    `json:"bank_name,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	PaidAt      time.Time `json:"paid_at"`
}

type Sale struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	StoreID       string     `json:"store_id"`
	ServedBy      string     `json:"served_by"`
	Lines         []SaleLine `json:"lines"`
	Payments      []Payment  `json:"payments"`
	TotalCents    int64      `json:"total_cents"`
	PaidCents     int64      `json:"paid_cents"`
	DiscountCents int64      `json:"discount_cents"`
	PaymentStatus string     `json:"payment_status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CustomerRef carries the customer identity and demographic fields supplied
// on a sale request. Only phone identifies the customer; the remaining fields
// are used when the phone is unknown and a record has to be created.
type CustomerRef struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Region   string `json:"region"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
	Street   string `json:"street,omitempty"`
}

type SaleCreateRequest struct {
	Customer      CustomerRef `json:"customer"`
	StoreID       string      `json:"store_id"`
	ServedBy      string      `json:"served_by"`
	Lines         []SaleLine  `json:"lines"`
	Payments      []Payment   `json:"payments"`
	DiscountCents int64       `json:"discount_cents"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Region    string    `json:"region"`
	District  string    `json:"district,omitempty"`
	Ward      string    `json:"ward,omitempty"`
	Street    string    `json:"street,omitempty"`
	ServedBy  string    `json:"served_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Region   string `json:"region"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
	Street   string `json:"street,omitempty"`
	ServedBy string `json:"served_by,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	TransferStatusPending  = "pending"
	TransferStatusApproved = "approved"
	TransferStatusRejected = "rejected"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPartial = "partial"
	PaymentStatusUnpaid  = "unpaid"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodMobile = "mobile"
	PaymentMethodBank   = "bank"
)

const (
	BankNMB  = "NMB"
	BankCRDB = "CRDB"
)

const (
	ChannelLipaNamba = "lipa_namba"
	ChannelMpesa     = "mpesa"
)
