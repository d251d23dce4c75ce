// Package mapping translates aggregator vocabulary into ledger vocabulary:
// account types, transaction amount signs, and merchant categories.
package mapping

import (
	"fmt"
	"strings"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/model"
)

// AccountType is the internal (type, subtype) pair an aggregator account type
// maps onto.
type AccountType struct {
	Type    string
	Subtype string
}

var accountTypes = map[string]AccountType{
	"depository": {Type: model.AccountTypeAssets, Subtype: model.AccountSubtypeCash},
	"investment": {Type: model.AccountTypeAssets, Subtype: model.AccountSubtypeInvestments},
	"credit":     {Type: model.AccountTypeLiabilities, Subtype: model.AccountSubtypeCreditCards},
	"loan":       {Type: model.AccountTypeLiabilities, Subtype: model.AccountSubtypeLoans},
	"other":      {Type: model.AccountTypeAssets, Subtype: model.AccountSubtypeOther},
}

// MapAccountType maps the aggregator's coarse account type to the internal
// pair. An unrecognized type returns common.ErrUnknownAccountType so callers
// can skip the single account instead of aborting a whole batch.
func MapAccountType(externalType string) (AccountType, error) {
	mapped, ok := accountTypes[strings.ToLower(externalType)]
	if !ok {
		return AccountType{}, fmt.Errorf("%w: %q", common.ErrUnknownAccountType, externalType)
	}
	return mapped, nil
}
