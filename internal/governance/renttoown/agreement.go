// Package renttoown drives a newcomer's rent-to-own trial: payments split
// between rent and equity until the buyer asks to purchase, declines, or
// requests an extension.
package renttoown

import (
	"strings"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
)

// EndingNoticeWindow is how close to the trial end the machine leaves
// trial_active.
const EndingNoticeWindow = 30 * 24 * time.Hour

// DefaultExtensionMonths applies when neither the request nor the approval
// names a length.
const DefaultExtensionMonths = 3

// Formula is the agreement's fixed financial configuration.
type Formula struct {
	// EquityPercentage is the fraction of each payment credited as equity.
	EquityPercentage float64 `json:"equity_percentage" yaml:"equity_percentage"`
	AllowExtensions  bool    `json:"allow_extensions" yaml:"allow_extensions"`
	MaxExtensions    int     `json:"max_extensions" yaml:"max_extensions"`
}

// Payment is one monthly payment and how it was split.
type Payment struct {
	Amount float64   `json:"amount"`
	Equity float64   `json:"equity"`
	Rent   float64   `json:"rent"`
	At     time.Time `json:"at"`
}

// Extension decisions.
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Extension records one extension request and its outcome.
type Extension struct {
	RequestedAt time.Time  `json:"requested_at"`
	Months      int        `json:"months"`
	Reason      string     `json:"reason,omitempty"`
	Decision    string     `json:"decision"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// Agreement is the machine's context.
type Agreement struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	LotID          string    `json:"lot_id,omitempty"`
	SalePrice      float64   `json:"sale_price"`
	MonthlyPayment float64   `json:"monthly_payment"`
	TrialStartDate time.Time `json:"trial_start_date"`
	TrialEndDate   time.Time `json:"trial_end_date"`
	Formula        Formula   `json:"formula"`

	TotalPaid         float64     `json:"total_paid"`
	EquityAccumulated float64     `json:"equity_accumulated"`
	RentPaid          float64     `json:"rent_paid"`
	Payments          []Payment   `json:"payments,omitempty"`
	ExtensionCount    int         `json:"extension_count"`
	Extensions        []Extension `json:"extensions,omitempty"`

	EndingNoticeAt      *time.Time `json:"ending_notice_at,omitempty"`
	PurchaseRequestedAt *time.Time `json:"purchase_requested_at,omitempty"`
	RemainingBalance    float64    `json:"remaining_balance"`
	DeclinedAt          *time.Time `json:"declined_at,omitempty"`
	DeclineReason       string     `json:"decline_reason,omitempty"`
}

// Validate checks the agreement terms before the machine starts.
func (a Agreement) Validate() error {
	if strings.TrimSpace(a.BuyerID) == "" || strings.TrimSpace(a.SellerID) == "" {
		return apperr.InvalidInput("buyer and seller are required")
	}
	if a.SalePrice <= 0 {
		return apperr.InvalidInput("sale price must be positive, got %v", a.SalePrice)
	}
	if a.MonthlyPayment < 0 {
		return apperr.InvalidInput("monthly payment must not be negative, got %v", a.MonthlyPayment)
	}
	if a.TrialEndDate.IsZero() || !a.TrialEndDate.After(a.TrialStartDate) {
		return apperr.InvalidInput("trial end date must be after the start date")
	}
	if a.Formula.EquityPercentage < 0 || a.Formula.EquityPercentage > 1 {
		return apperr.InvalidInput("equity percentage must be a fraction within [0, 1], got %v", a.Formula.EquityPercentage)
	}
	if a.Formula.MaxExtensions < 0 {
		return apperr.InvalidInput("max extensions must not be negative, got %d", a.Formula.MaxExtensions)
	}
	return nil
}

// Event types accepted by the machine.
const (
	EventRecordPayment        fsm.EventType = "RECORD_PAYMENT"
	EventBuyerRequestPurchase fsm.EventType = "BUYER_REQUEST_PURCHASE"
	EventBuyerDeclinePurchase fsm.EventType = "BUYER_DECLINE_PURCHASE"
	EventRequestExtension     fsm.EventType = "REQUEST_EXTENSION"
	EventExtensionApproved    fsm.EventType = "EXTENSION_APPROVED"
	EventExtensionRejected    fsm.EventType = "EXTENSION_REJECTED"
)

// RecordPayment credits a payment.
type RecordPayment struct {
	Amount float64 `json:"amount"`
}

// BuyerRequestPurchase starts the community vote on the conversion.
type BuyerRequestPurchase struct{}

// BuyerDeclinePurchase ends the trial without a sale.
type BuyerDeclinePurchase struct {
	Reason string `json:"reason,omitempty"`
}

// RequestExtension asks the community to lengthen the trial.
type RequestExtension struct {
	Months int    `json:"months,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ExtensionApproved pushes the trial end date. Zero months uses the
// requested length.
type ExtensionApproved struct {
	Months int `json:"months,omitempty"`
}

// ExtensionRejected returns the trial to its ending phase.
type ExtensionRejected struct{}

func (RecordPayment) Type() fsm.EventType        { return EventRecordPayment }
func (BuyerRequestPurchase) Type() fsm.EventType { return EventBuyerRequestPurchase }
func (BuyerDeclinePurchase) Type() fsm.EventType { return EventBuyerDeclinePurchase }
func (RequestExtension) Type() fsm.EventType     { return EventRequestExtension }
func (ExtensionApproved) Type() fsm.EventType    { return EventExtensionApproved }
func (ExtensionRejected) Type() fsm.EventType    { return EventExtensionRejected }
