package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tincanhq/tincan/internal/model"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name    string
		subtype string
		amount  float64
		want    float64
	}{
		{"cash purchase is negated", model.AccountSubtypeCash, 42.50, -42.50},
		{"cash refund is negated", model.AccountSubtypeCash, -10.00, 10.00},
		{"investment amount is negated", model.AccountSubtypeInvestments, 100.00, -100.00},
		{"credit card charge is negated", model.AccountSubtypeCreditCards, 25.99, -25.99},
		{"loan amount keeps its sign", model.AccountSubtypeLoans, 500.00, 500.00},
		{"other amount keeps its sign", model.AccountSubtypeOther, -3.25, -3.25},
		{"unknown subtype keeps its sign", "mystery", 7.77, 7.77},
		{"zero stays zero", model.AccountSubtypeCash, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeAmount(tt.subtype, tt.amount), 0.0001)
		})
	}
}
