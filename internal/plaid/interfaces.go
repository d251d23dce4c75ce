package plaid

import (
	"context"
	"time"
)

// TokenExchange is the result of exchanging a one-time public token.
type TokenExchange struct {
	AccessToken    string
	ExternalItemID string
}

// ItemDetails holds the aggregator's view of a linked item.
type ItemDetails struct {
	InstitutionID   string
	BilledProducts  []string
	Products        []string
	ConsentedScopes []string
}

// AccountSnapshot is one account as reported by the aggregator.
type AccountSnapshot struct {
	ExternalID string
	Name       string
	Type       string
	Subtype    string
	Balance    float64
}

// AccountsSnapshot is a full accounts listing for one item. ExternalItemID
// identifies the item the aggregator believes it fetched; callers verify it
// against the item they asked for.
type AccountsSnapshot struct {
	ExternalItemID string
	Accounts       []AccountSnapshot
}

// TransactionRecord is one added or modified transaction from the change
// stream. Date is the authorized date when the aggregator reports one,
// otherwise the settled date.
type TransactionRecord struct {
	Date              time.Time
	ExternalID        string
	ExternalAccountID string
	Description       string
	Category          string
	Amount            float64
	Pending           bool
}

// RemovedRecord identifies a transaction deleted upstream.
type RemovedRecord struct {
	ExternalID        string
	ExternalAccountID string
}

// TransactionDelta is a fully drained transactions change set. NextCursor is
// only ever the cursor after a complete, uninterrupted drain; partial drains
// never escape the client. Accounts carries the account data the sync
// response included, keyed by external account ID, so callers can create
// accounts discovered mid-stream.
type TransactionDelta struct {
	Accounts   map[string]AccountSnapshot
	NextCursor string
	Added      []TransactionRecord
	Modified   []TransactionRecord
	Removed    []RemovedRecord
}

// Aggregator defines the contract the sync engine requires from the
// account-aggregation API. This interface allows for easy mocking in tests
// and swapping providers.
type Aggregator interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*TokenExchange, error)
	GetItem(ctx context.Context, accessToken string) (*ItemDetails, error)
	RemoveItem(ctx context.Context, accessToken string) error
	GetInstitutionName(ctx context.Context, institutionID string) (string, error)
	GetAccounts(ctx context.Context, accessToken string) (*AccountsSnapshot, error)
	SyncTransactions(ctx context.Context, accessToken, cursor string) (*TransactionDelta, error)
}
