// Package plaid provides a client for interacting with the Plaid API.
package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/plaid/plaid-go/v41/plaid"

	"github.com/tincanhq/tincan/internal/common"
)

const (
	clientName      = "Tincan"
	transactionDays = int32(730)
)

var countryCodes = []plaid.CountryCode{plaid.COUNTRYCODE_US}

// institutionCountryCodes is wider than the link set: institutions already
// linked may live outside the countries we accept new links from.
var institutionCountryCodes = []plaid.CountryCode{
	plaid.COUNTRYCODE_US,
	plaid.COUNTRYCODE_GB,
	plaid.COUNTRYCODE_CA,
}

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("%w: plaid client ID is required", common.ErrMissingConfig)
	}
	if c.Secret == "" {
		return fmt.Errorf("%w: plaid secret is required", common.ErrMissingConfig)
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("%w: invalid Plaid environment: must be sandbox or production", common.ErrInvalidConfig)
	}
	return nil
}

// Client implements the Aggregator interface against the Plaid API.
type Client struct {
	client    *plaid.APIClient
	logger    *slog.Logger
	retryOpts common.RetryOptions
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	configuration.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client: plaid.NewAPIClient(configuration),
		logger: slog.Default().With("component", "plaid"),
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// CreateLinkToken creates a Link token for initializing the link flow.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{ClientUserId: userID}

	request := plaid.NewLinkTokenCreateRequest(clientName, "en", countryCodes)
	request.SetUser(user)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})
	request.SetAdditionalConsentedProducts([]plaid.Products{plaid.PRODUCTS_INVESTMENTS})
	request.SetTransactions(plaid.LinkTokenTransactions{
		DaysRequested: plaid.PtrInt32(transactionDays),
	})

	resp, _, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return "", c.classifyError("link token create", err)
	}

	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a one-time public token from Link for a
// durable access token and the item's external ID.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*TokenExchange, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return nil, c.classifyError("public token exchange", err)
	}

	return &TokenExchange{
		AccessToken:    resp.GetAccessToken(),
		ExternalItemID: resp.GetItemId(),
	}, nil
}

// GetItem fetches the aggregator's details for an item.
func (c *Client) GetItem(ctx context.Context, accessToken string) (*ItemDetails, error) {
	var details *ItemDetails

	err := common.WithRetry(ctx, func() error {
		request := plaid.NewItemGetRequest(accessToken)
		resp, _, err := c.client.PlaidApi.ItemGet(ctx).ItemGetRequest(*request).Execute()
		if err != nil {
			return c.retryClassify("item get", err)
		}

		item := resp.GetItem()
		institutionID := ""
		if item.InstitutionId.IsSet() {
			institutionID = *item.InstitutionId.Get()
		}

		details = &ItemDetails{
			InstitutionID:   institutionID,
			BilledProducts:  productsToStrings(item.GetBilledProducts()),
			Products:        productsToStrings(item.GetProducts()),
			ConsentedScopes: stringSliceProperty(item.AdditionalProperties, "consented_data_scopes"),
		}
		return nil
	}, c.retryOpts)

	if err != nil {
		return nil, err
	}
	return details, nil
}

// RemoveItem revokes an item's access token at the aggregator. An item the
// aggregator no longer knows about counts as removed.
func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	request := plaid.NewItemRemoveRequest(accessToken)
	_, _, err := c.client.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*request).Execute()
	if err != nil {
		classified := c.classifyError("item remove", err)
		if errors.Is(classified, common.ErrItemNotFound) {
			c.logger.Info("Item already removed at aggregator")
			return nil
		}
		return classified
	}

	c.logger.Info("Item removed at aggregator")
	return nil
}

// GetInstitutionName looks up an institution's display name.
func (c *Client) GetInstitutionName(ctx context.Context, institutionID string) (string, error) {
	var name string

	err := common.WithRetry(ctx, func() error {
		request := plaid.NewInstitutionsGetByIdRequest(institutionID, institutionCountryCodes)
		resp, _, err := c.client.PlaidApi.InstitutionsGetById(ctx).InstitutionsGetByIdRequest(*request).Execute()
		if err != nil {
			return c.retryClassify("institution get", err)
		}
		institution := resp.GetInstitution()
		name = institution.GetName()
		return nil
	}, c.retryOpts)

	if err != nil {
		return "", err
	}
	return name, nil
}

// GetAccounts fetches the current full accounts snapshot for an item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsSnapshot, error) {
	request := plaid.NewAccountsGetRequest(accessToken)
	resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
	if err != nil {
		return nil, c.classifyError("accounts get", err)
	}

	accounts := resp.GetAccounts()
	respItem := resp.GetItem()
	snapshot := &AccountsSnapshot{
		ExternalItemID: respItem.GetItemId(),
		Accounts:       make([]AccountSnapshot, 0, len(accounts)),
	}
	for i := range accounts {
		snapshot.Accounts = append(snapshot.Accounts, mapAccount(&accounts[i]))
	}

	c.logger.Debug("Fetched accounts snapshot",
		"item_id", snapshot.ExternalItemID,
		"count", len(snapshot.Accounts))

	return snapshot, nil
}

func mapAccount(acc *plaid.AccountBase) AccountSnapshot {
	name := acc.GetName()
	if name == "" {
		name = acc.GetOfficialName()
	}
	balances := acc.GetBalances()

	return AccountSnapshot{
		ExternalID: acc.GetAccountId(),
		Name:       name,
		Type:       string(acc.GetType()),
		Subtype:    string(acc.GetSubtype()),
		Balance:    balances.GetCurrent(),
	}
}

func (c *Client) mapTransaction(pt *plaid.Transaction) TransactionRecord {
	category := ""
	if pfc, ok := pt.GetPersonalFinanceCategoryOk(); ok && pfc != nil {
		category = pfc.GetDetailed()
	}

	return TransactionRecord{
		ExternalID:        pt.GetTransactionId(),
		ExternalAccountID: pt.GetAccountId(),
		Date:              c.effectiveDate(pt),
		Amount:            pt.GetAmount(),
		Description:       pt.GetName(),
		Category:          category,
		Pending:           pt.GetPending(),
	}
}

// effectiveDate collapses the authorized/settled distinction: the authorized
// date wins when the aggregator reports one.
func (c *Client) effectiveDate(pt *plaid.Transaction) time.Time {
	raw := pt.GetDate()
	if authorized, ok := pt.GetAuthorizedDateOk(); ok && authorized != nil && *authorized != "" {
		raw = *authorized
	}

	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.logger.Error("Failed to parse transaction date",
			"transaction_id", pt.GetTransactionId(),
			"date", raw,
			"error", err)
		return time.Now().UTC()
	}
	return date
}

func productsToStrings(products []plaid.Products) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, string(p))
	}
	return out
}

// stringSliceProperty reads a list-of-strings field the SDK only exposes
// through AdditionalProperties.
func stringSliceProperty(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Ensure Client implements the Aggregator interface.
var _ Aggregator = (*Client)(nil)
