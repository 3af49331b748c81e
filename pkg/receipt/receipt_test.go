package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render(Data{
		BookingReference: "BK-100",
		PaymentID:        "6f1c2d0e-0000-4000-8000-000000000001",
		CustomerName:     "Wanjiku Kamau",
		Phone:            "254708374149",
		ReceiptNumber:    "NLJ7RT61SV",
		Amount:           decimal.NewFromInt(1500),
		PaidAt:           time.Date(2026, 3, 1, 12, 31, 0, 0, time.FixedZone("EAT", 3*3600)),
		Lines: []Line{
			{Description: "Deluxe room, 1 night", Quantity: 1, UnitPrice: decimal.NewFromInt(1200)},
			{Description: "Breakfast", Quantity: 2, UnitPrice: decimal.NewFromInt(150)},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out, []byte("%%EOF")))
}

func TestLineTotal(t *testing.T) {
	l := Line{Quantity: 3, UnitPrice: decimal.RequireFromString("99.50")}
	assert.Equal(t, "298.50", l.Total().StringFixed(2))
}
