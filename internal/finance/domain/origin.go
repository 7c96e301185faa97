package domain

// OriginKind names how a participant acquired their share.
type OriginKind string

const (
	OriginFounder    OriginKind = "founder"
	OriginCollective OriginKind = "collective"
	OriginPrivate    OriginKind = "private"
)

// PurchaseOrigin is a closed sum type: FounderOrigin, CollectivePurchase or
// PrivatePurchase. Pricing functions switch over it exhaustively.
type PurchaseOrigin interface {
	Kind() OriginKind
	isPurchaseOrigin()
}

// FounderOrigin marks a participant bound from the deed date.
type FounderOrigin struct{}

// CollectivePurchase marks a newcomer who bought from the copropriété.
type CollectivePurchase struct {
	AgreedPrice float64
}

// PrivatePurchase marks a newcomer who bought a specific founder's portage lot.
// Lot is the portage lot as the seller held it at the sale, kept as the
// resale price base once the lot has left the seller.
type PrivatePurchase struct {
	SellerID    string
	LotID       string
	AgreedPrice float64
	Lot         *Lot
}

func (FounderOrigin) Kind() OriginKind      { return OriginFounder }
func (CollectivePurchase) Kind() OriginKind { return OriginCollective }
func (PrivatePurchase) Kind() OriginKind    { return OriginPrivate }

func (FounderOrigin) isPurchaseOrigin()      {}
func (CollectivePurchase) isPurchaseOrigin() {}
func (PrivatePurchase) isPurchaseOrigin()    {}
