package plaid

import "context"

// MockAggregator is a mock implementation of Aggregator for testing.
type MockAggregator struct {
	// Functions that can be set by tests to control behavior
	CreateLinkTokenFn     func(ctx context.Context, userID string) (string, error)
	ExchangePublicTokenFn func(ctx context.Context, publicToken string) (*TokenExchange, error)
	GetItemFn             func(ctx context.Context, accessToken string) (*ItemDetails, error)
	RemoveItemFn          func(ctx context.Context, accessToken string) error
	GetInstitutionNameFn  func(ctx context.Context, institutionID string) (string, error)
	GetAccountsFn         func(ctx context.Context, accessToken string) (*AccountsSnapshot, error)
	SyncTransactionsFn    func(ctx context.Context, accessToken, cursor string) (*TransactionDelta, error)

	// Call tracking
	GetAccountsCalls      []string
	SyncTransactionsCalls []SyncTransactionsCall
	RemoveItemCalls       []string
}

// SyncTransactionsCall records the parameters of a SyncTransactions call.
type SyncTransactionsCall struct {
	AccessToken string
	Cursor      string
}

// NewMockAggregator creates a new mock aggregator.
func NewMockAggregator() *MockAggregator {
	return &MockAggregator{}
}

// CreateLinkToken implements Aggregator.CreateLinkToken.
func (m *MockAggregator) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if m.CreateLinkTokenFn != nil {
		return m.CreateLinkTokenFn(ctx, userID)
	}
	return "link-token", nil
}

// ExchangePublicToken implements Aggregator.ExchangePublicToken.
func (m *MockAggregator) ExchangePublicToken(ctx context.Context, publicToken string) (*TokenExchange, error) {
	if m.ExchangePublicTokenFn != nil {
		return m.ExchangePublicTokenFn(ctx, publicToken)
	}
	return &TokenExchange{AccessToken: "access-token", ExternalItemID: "item-id"}, nil
}

// GetItem implements Aggregator.GetItem.
func (m *MockAggregator) GetItem(ctx context.Context, accessToken string) (*ItemDetails, error) {
	if m.GetItemFn != nil {
		return m.GetItemFn(ctx, accessToken)
	}
	return &ItemDetails{}, nil
}

// RemoveItem implements Aggregator.RemoveItem.
func (m *MockAggregator) RemoveItem(ctx context.Context, accessToken string) error {
	m.RemoveItemCalls = append(m.RemoveItemCalls, accessToken)
	if m.RemoveItemFn != nil {
		return m.RemoveItemFn(ctx, accessToken)
	}
	return nil
}

// GetInstitutionName implements Aggregator.GetInstitutionName.
func (m *MockAggregator) GetInstitutionName(ctx context.Context, institutionID string) (string, error) {
	if m.GetInstitutionNameFn != nil {
		return m.GetInstitutionNameFn(ctx, institutionID)
	}
	return "", nil
}

// GetAccounts implements Aggregator.GetAccounts.
func (m *MockAggregator) GetAccounts(ctx context.Context, accessToken string) (*AccountsSnapshot, error) {
	m.GetAccountsCalls = append(m.GetAccountsCalls, accessToken)
	if m.GetAccountsFn != nil {
		return m.GetAccountsFn(ctx, accessToken)
	}
	return &AccountsSnapshot{}, nil
}

// SyncTransactions implements Aggregator.SyncTransactions.
func (m *MockAggregator) SyncTransactions(ctx context.Context, accessToken, cursor string) (*TransactionDelta, error) {
	m.SyncTransactionsCalls = append(m.SyncTransactionsCalls, SyncTransactionsCall{
		AccessToken: accessToken,
		Cursor:      cursor,
	})
	if m.SyncTransactionsFn != nil {
		return m.SyncTransactionsFn(ctx, accessToken, cursor)
	}
	return &TransactionDelta{Accounts: map[string]AccountSnapshot{}, NextCursor: cursor}, nil
}

// Reset clears all call tracking.
func (m *MockAggregator) Reset() {
	m.GetAccountsCalls = nil
	m.SyncTransactionsCalls = nil
	m.RemoveItemCalls = nil
}

// Ensure MockAggregator implements the Aggregator interface.
var _ Aggregator = (*MockAggregator)(nil)
