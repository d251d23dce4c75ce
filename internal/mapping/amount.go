package mapping

import "github.com/tincanhq/tincan/internal/model"

// The aggregator reports outflows as positive amounts: debit card purchases
// are positive, deposits and refunds are negative. The ledger convention is
// the opposite for spending accounts, so amounts on these subtypes are
// negated on the way in.
var negateSubtypes = map[string]bool{
	model.AccountSubtypeCash:        true,
	model.AccountSubtypeInvestments: true,
	model.AccountSubtypeCreditCards: true,
}

// NormalizeAmount converts an aggregator transaction amount into the ledger's
// sign convention for the owning account's subtype. It is a pure function of
// (subtype, amount).
func NormalizeAmount(accountSubtype string, amount float64) float64 {
	if negateSubtypes[accountSubtype] {
		return -amount
	}
	return amount
}
