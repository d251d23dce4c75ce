package model

import "time"

// Account types and subtypes used by the internal ledger. The aggregator's
// coarse account types are translated into these pairs by the mapping package.
const (
	AccountTypeAssets      = "assets"
	AccountTypeLiabilities = "liabilities"

	AccountSubtypeCash        = "cash"
	AccountSubtypeInvestments = "investments"
	AccountSubtypeCreditCards = "credit cards"
	AccountSubtypeLoans       = "loans"
	AccountSubtypeOther       = "other"
)

// Account is a single ledger account. Aggregator-linked accounts carry an
// ExternalID and belong to an Item; manually created accounts have neither.
// ExternalID is unique across the whole system, not merely within an item.
type Account struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExternalID      *string
	ItemID          *int64
	Name            string
	InstitutionName string
	Type            string
	Subtype         string
	Balance         float64
	ID              int64
	UserID          int64
	Active          bool
}
