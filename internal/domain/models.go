package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Zone string

const (
	ZoneAvailable  Zone = "available"
	ZoneQuarantine Zone = "quarantine"
	ZoneRejected   Zone = "rejected"
	ZoneApproved   Zone = "approved"
	ZoneDamaged    Zone = "damaged"
)

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentPagoMovil PaymentMethod = "pago_movil"
	PaymentZelle     PaymentMethod = "zelle"
	PaymentBiopago   PaymentMethod = "biopago"
	PaymentCrypto    PaymentMethod = "crypto"
	PaymentTransfer  PaymentMethod = "transfer"
	PaymentMixed     PaymentMethod = "mixed"
)

type InvoiceStatus string

const (
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceRefunded  InvoiceStatus = "refunded"
)

type Product struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	GenericName          *string         `json:"generic_name,omitempty"`
	Category             string          `json:"category"`
	PriceUSD             decimal.Decimal `json:"price_usd"`
	PriceLocal           decimal.Decimal `json:"price_local"`
	TaxRate              decimal.Decimal `json:"tax_rate"`
	TaxExempt            bool            `json:"tax_exempt"`
	ControlledSubstance  bool            `json:"controlled_substance"`
	RequiresPrescription bool            `json:"requires_prescription"`
	ReorderThreshold     int             `json:"reorder_threshold"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type Batch struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	WarehouseID      string    `json:"warehouse_id"`
	LotNumber        string    `json:"lot_number"`
	ExpiryDate       time.Time `json:"expiry_date"`
	Quantity         int       `json:"quantity"`
	OriginalQuantity int       `json:"original_quantity"`
	Zone             Zone      `json:"zone"`
	ReceivedAt       time.Time `json:"received_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Allocatable reports whether FEFO may draw from the batch.
func (b Batch) Allocatable() bool {
	return b.Zone == ZoneAvailable && b.Quantity > 0
}

type CartItem struct {
	ProductID          string  `json:"product_id"`
	Quantity           int     `json:"quantity"`
	BatchID            *string `json:"batch_id,omitempty"`
	PrescriptionItemID *string `json:"prescription_item_id,omitempty"`
}

type Payment struct {
	Method      PaymentMethod   `json:"method"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	AmountLocal decimal.Decimal `json:"amount_local"`
	Reference   *string         `json:"reference,omitempty"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	PatientID     *string         `json:"patient_id,omitempty"`
	CashierID     *string         `json:"cashier_id,omitempty"`
	WarehouseID   string          `json:"warehouse_id"`
	Status        InvoiceStatus   `json:"status"`
	SubtotalUSD   decimal.Decimal `json:"subtotal_usd"`
	SubtotalLocal decimal.Decimal `json:"subtotal_local"`
	TaxUSD        decimal.Decimal `json:"tax_usd"`
	TaxLocal      decimal.Decimal `json:"tax_local"`
	TotalUSD      decimal.Decimal `json:"total_usd"`
	TotalLocal    decimal.Decimal `json:"total_local"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Payments      []Payment       `json:"payments,omitempty"`
	ChangeUSD     decimal.Decimal `json:"change_usd"`
	ChangeLocal   decimal.Decimal `json:"change_local"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Items         []InvoiceItem   `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// InvoiceItem snapshots the product at the time of sale.
type InvoiceItem struct {
	ID                 string            `json:"id"`
	InvoiceID          string            `json:"invoice_id"`
	ProductID          string            `json:"product_id"`
	ProductName        string            `json:"product_name"`
	Category           string            `json:"category"`
	Quantity           int               `json:"quantity"`
	UnitPriceUSD       decimal.Decimal   `json:"unit_price_usd"`
	UnitPriceLocal     decimal.Decimal   `json:"unit_price_local"`
	TaxRate            decimal.Decimal   `json:"tax_rate"`
	TaxExempt          bool              `json:"tax_exempt"`
	SubtotalUSD        decimal.Decimal   `json:"subtotal_usd"`
	SubtotalLocal      decimal.Decimal   `json:"subtotal_local"`
	TaxUSD             decimal.Decimal   `json:"tax_usd"`
	TaxLocal           decimal.Decimal   `json:"tax_local"`
	TotalUSD           decimal.Decimal   `json:"total_usd"`
	TotalLocal         decimal.Decimal   `json:"total_local"`
	PrescriptionItemID *string           `json:"prescription_item_id,omitempty"`
	Allocations        []BatchAllocation `json:"allocations"`
}

type BatchAllocation struct {
	BatchID    string    `json:"batch_id"`
	LotNumber  string    `json:"lot_number"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
	Remaining  int       `json:"remaining"`
}

type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSyncing SyncState = "syncing"
	SyncSynced  SyncState = "synced"
)

// OfflineTransaction is the local mirror of a completed sale.
type OfflineTransaction struct {
	ID               string          `json:"id"`
	InvoiceID        string          `json:"invoice_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	Invoice          Invoice         `json:"invoice"`
	TotalUSD         decimal.Decimal `json:"total_usd"`
	TotalLocal       decimal.Decimal `json:"total_local"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Synced           bool            `json:"synced"`
	SyncState        SyncState       `json:"sync_state"`
	SyncAttemptCount int             `json:"sync_attempt_count"`
	LastSyncAttempt  *time.Time      `json:"last_sync_attempt,omitempty"`
	SyncError        *string         `json:"sync_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`
}

type LoyaltyProgram struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	PointsPerCurrency    decimal.Decimal `json:"points_per_currency"`
	PointValueUSD        decimal.Decimal `json:"point_value_usd"`
	PointValueLocal      decimal.Decimal `json:"point_value_local"`
	MinPointsToRedeem    int64           `json:"min_points_to_redeem"`
	MaxRedemptionPercent decimal.Decimal `json:"max_redemption_percent"`
	EligibleProductIDs   []string        `json:"eligible_product_ids"`
	EligibleCategories   []string        `json:"eligible_categories"`
	RequiresPrescription bool            `json:"requires_prescription"`
	MinPurchaseUSD       decimal.Decimal `json:"min_purchase_usd"`
	MinPurchaseLocal     decimal.Decimal `json:"min_purchase_local"`
	Active               bool            `json:"active"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type LoyaltyPoints struct {
	PatientID           string     `json:"patient_id"`
	ProgramID           string     `json:"program_id"`
	PointsBalance       int64      `json:"points_balance"`
	PointsEarned        int64      `json:"points_earned"`
	PointsRedeemed      int64      `json:"points_redeemed"`
	LastTransactionDate *time.Time `json:"last_transaction_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type LoyaltyTransactionType string

const (
	LoyaltyEarned   LoyaltyTransactionType = "earned"
	LoyaltyRedeemed LoyaltyTransactionType = "redeemed"
	LoyaltyExpired  LoyaltyTransactionType = "expired"
	LoyaltyAdjusted LoyaltyTransactionType = "adjusted"
)

// LoyaltyTransaction is an append-only ledger entry. Points is signed:
// positive for inflows, negative for outflows.
type LoyaltyTransaction struct {
	ID           string                 `json:"id"`
	PatientID    string                 `json:"patient_id"`
	ProgramID    string                 `json:"program_id"`
	InvoiceID    *string                `json:"invoice_id,omitempty"`
	Type         LoyaltyTransactionType `json:"type"`
	Points       int64                  `json:"points"`
	BalanceAfter int64                  `json:"balance_after"`
	Reference    *string                `json:"reference,omitempty"`
	Notes        *string                `json:"notes,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type ConsignmentStatus string

const (
	ConsignmentActive    ConsignmentStatus = "active"
	ConsignmentCompleted ConsignmentStatus = "completed"
	ConsignmentCancelled ConsignmentStatus = "cancelled"
)

type Consignment struct {
	ID                 string            `json:"id"`
	ConsignmentNumber  string            `json:"consignment_number"`
	SupplierID         string            `json:"supplier_id"`
	SupplierName       string            `json:"supplier_name"`
	WarehouseID        string            `json:"warehouse_id"`
	Items              []ConsignmentItem `json:"items"`
	TotalValueUSD      decimal.Decimal   `json:"total_value_usd"`
	TotalValueLocal    decimal.Decimal   `json:"total_value_local"`
	TotalSoldUSD       decimal.Decimal   `json:"total_sold_usd"`
	TotalSoldLocal     decimal.Decimal   `json:"total_sold_local"`
	ConsignmentPercent decimal.Decimal   `json:"consignment_percent"`
	PaymentTermsDays   int               `json:"payment_terms_days"`
	Status             ConsignmentStatus `json:"status"`
	StartDate          time.Time         `json:"start_date"`
	EndDate            *time.Time        `json:"end_date,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type ConsignmentItem struct {
	ProductID         string          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	BatchID           *string         `json:"batch_id,omitempty"`
	LotNumber         string          `json:"lot_number"`
	QuantityConsigned int             `json:"quantity_consigned"`
	QuantitySold      int             `json:"quantity_sold"`
	QuantityReturned  int             `json:"quantity_returned"`
	UnitCostUSD       decimal.Decimal `json:"unit_cost_usd"`
	UnitCostLocal     decimal.Decimal `json:"unit_cost_local"`
	UnitPriceUSD      decimal.Decimal `json:"unit_price_usd"`
	UnitPriceLocal    decimal.Decimal `json:"unit_price_local"`
}

// Remaining is the quantity neither sold nor returned.
func (i ConsignmentItem) Remaining() int {
	left := i.QuantityConsigned - i.QuantitySold - i.QuantityReturned
	if left < 0 {
		return 0
	}
	return left
}

type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "pending"
	DeliveryConfirmed      DeliveryStatus = "confirmed"
	DeliveryPreparing      DeliveryStatus = "preparing"
	DeliveryOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryDelivered      DeliveryStatus = "delivered"
	DeliveryCancelled      DeliveryStatus = "cancelled"
)

type DeliveryZone struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	BaseFeeUSD           decimal.Decimal `json:"base_fee_usd"`
	BaseFeeLocal         decimal.Decimal `json:"base_fee_local"`
	FeePerKmUSD          decimal.Decimal `json:"fee_per_km_usd"`
	FeePerKmLocal        decimal.Decimal `json:"fee_per_km_local"`
	EstimatedTimeMinutes int             `json:"estimated_time_minutes"`
	MaxTimeMinutes       int             `json:"max_time_minutes"`
	CommissionPercent    decimal.Decimal `json:"commission_percent"`
	Active               bool            `json:"active"`
}

type TrackingNote struct {
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
	UserID    *string   `json:"user_id,omitempty"`
}

type DeliveryOrder struct {
	ID                    string          `json:"id"`
	OrderNumber           string          `json:"order_number"`
	InvoiceID             string          `json:"invoice_id"`
	PatientID             *string         `json:"patient_id,omitempty"`
	DeliveryZoneID        string          `json:"delivery_zone_id"`
	DeliveryAddress       string          `json:"delivery_address"`
	DeliveryFeeUSD        decimal.Decimal `json:"delivery_fee_usd"`
	DeliveryFeeLocal      decimal.Decimal `json:"delivery_fee_local"`
	CommissionPercent     decimal.Decimal `json:"commission_percent"`
	CommissionUSD         decimal.Decimal `json:"commission_usd"`
	CommissionLocal       decimal.Decimal `json:"commission_local"`
	Status                DeliveryStatus  `json:"status"`
	EstimatedDeliveryTime time.Time       `json:"estimated_delivery_time"`
	ActualDeliveryTime    *time.Time      `json:"actual_delivery_time,omitempty"`
	DeliveredBy           *string         `json:"delivered_by,omitempty"`
	TrackingNotes         []TrackingNote  `json:"tracking_notes"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}
