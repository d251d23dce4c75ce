package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhq/tincan/internal/common"
	"github.com/tincanhq/tincan/internal/model"
)

func TestMapAccountType(t *testing.T) {
	tests := []struct {
		name        string
		external    string
		wantType    string
		wantSubtype string
	}{
		{
			name:        "depository maps to cash assets",
			external:    "depository",
			wantType:    model.AccountTypeAssets,
			wantSubtype: model.AccountSubtypeCash,
		},
		{
			name:        "investment maps to investment assets",
			external:    "investment",
			wantType:    model.AccountTypeAssets,
			wantSubtype: model.AccountSubtypeInvestments,
		},
		{
			name:        "credit maps to credit card liabilities",
			external:    "credit",
			wantType:    model.AccountTypeLiabilities,
			wantSubtype: model.AccountSubtypeCreditCards,
		},
		{
			name:        "loan maps to loan liabilities",
			external:    "loan",
			wantType:    model.AccountTypeLiabilities,
			wantSubtype: model.AccountSubtypeLoans,
		},
		{
			name:        "other maps to other assets",
			external:    "other",
			wantType:    model.AccountTypeAssets,
			wantSubtype: model.AccountSubtypeOther,
		},
		{
			name:        "lookup is case insensitive",
			external:    "DEPOSITORY",
			wantType:    model.AccountTypeAssets,
			wantSubtype: model.AccountSubtypeCash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped, err := MapAccountType(tt.external)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, mapped.Type)
			assert.Equal(t, tt.wantSubtype, mapped.Subtype)
		})
	}
}

func TestMapAccountType_Unknown(t *testing.T) {
	_, err := MapAccountType("brokerage")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnknownAccountType))

	_, err = MapAccountType("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrUnknownAccountType))
}
