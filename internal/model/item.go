// Package model defines the core domain types shared across the application.
package model

import "time"

// Item represents one linked institution credential at the aggregator and the
// sync state that belongs to it. The external ID is unique across the system.
type Item struct {
	CreatedAt            time.Time
	UpdatedAt            time.Time
	AccountsSyncedAt     *time.Time
	TransactionsSyncedAt *time.Time
	ClaimExpiresAt       *time.Time
	AccessToken          string
	ExternalID           string
	InstitutionID        string
	InstitutionName      string
	TransactionCursor    string
	BilledProducts       []string
	Products             []string
	ConsentedScopes      []string
	ID                   int64
	UserID               int64
}

// HasSyncedAccounts reports whether at least one accounts sync has completed.
// Transaction syncs are gated on this: until accounts exist locally there is
// nothing to attach transactions to.
func (i *Item) HasSyncedAccounts() bool {
	return i.AccountsSyncedAt != nil
}
