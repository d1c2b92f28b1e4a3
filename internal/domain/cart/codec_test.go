package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSnapshot(t *testing.T) {
	snap := Snapshot{
		Items: []LineItem{{
			ID:        "sku-1",
			Name:      "Linen Shirt",
			UnitPrice: decimal.RequireFromString("19.5"),
			Quantity:  2,
			Stock:     intPtr(8),
			Variant:   Variant{Size: "M", Color: "white"},
			ImageURL:  "https://cdn.example.com/sku-1.jpg",
		}},
		Total: decimal.RequireFromString("39"),
	}

	got := string(EncodeSnapshot(snap))

	assert.JSONEq(t, `{
		"items": [{
			"id": "sku-1",
			"name": "Linen Shirt",
			"unit_price": "19.50",
			"quantity": 2,
			"stock": 8,
			"variant": {"size": "M", "color": "white"},
			"image_url": "https://cdn.example.com/sku-1.jpg"
		}],
		"total": "39.00"
	}`, got)
}

func TestEncodeSnapshot_Empty(t *testing.T) {
	assert.JSONEq(t, `{"items":[],"total":"0.00"}`, string(EncodeSnapshot(Snapshot{})))
}

func TestDecodeSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		check   func(t *testing.T, s Snapshot)
	}{
		{
			name: "numeric price and null stock",
			in:   `{"items":[{"id":"a","unit_price":4.25,"quantity":1,"stock":null,"extra":{"x":1}}],"version":3}`,
			check: func(t *testing.T, s Snapshot) {
				require.Len(t, s.Items, 1)
				assert.True(t, decimal.RequireFromString("4.25").Equal(s.Items[0].UnitPrice))
				assert.Nil(t, s.Items[0].Stock)
			},
		},
		{
			name:    "truncated",
			in:      `{"items":[`,
			wantErr: true,
		},
		{
			name:    "price is not a number",
			in:      `{"items":[{"id":"a","unit_price":"cheap"}]}`,
			wantErr: true,
		},
		{
			name:    "price has wrong type",
			in:      `{"items":[{"id":"a","unit_price":true}]}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			in:      `[]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeSnapshot([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}
