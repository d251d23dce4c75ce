package model

import "time"

// Transaction is a single ledger transaction under an Account. Transactions
// ingested from the aggregator carry an ExternalID (unique when present);
// transactions parsed from statements or entered by hand do not.
//
// Splits reference their parent through SplitFromID. Reconciliation never
// traverses splits, so the relation stays a plain foreign key.
type Transaction struct {
	Date          time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ExternalID    *string
	SplitFromID   *int64
	Description   string
	Amount        float64
	ID            int64
	AccountID     int64
	CategoryID    int64
	SubcategoryID int64
	Pending       bool
}
