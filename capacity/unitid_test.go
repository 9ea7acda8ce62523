package capacity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bakery-scheduler/capacity"
)

func TestUnitID_RoundTrip(t *testing.T) {
	id := unit("li-2025-cake", 3)

	raw := id.String()
	assert.Equal(t, "li-2025-cake::unit::3", raw)

	back, err := capacity.DecodeUnitID(raw)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestDecodeUnitID(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		lineItem string
		ordinal  int
		wantErr  bool
	}{
		{name: "delimited", raw: "cake::unit::0", lineItem: "cake", ordinal: 0},
		{name: "line item with hyphens, legacy form", raw: "li-a-b-12", lineItem: "li-a-b", ordinal: 12},
		{name: "legacy form prefers last hyphen", raw: "order-7-item-3-1", lineItem: "order-7-item-3", ordinal: 1},
		{name: "no delimiter", raw: "cake", wantErr: true},
		{name: "empty line item", raw: "::unit::2", wantErr: true},
		{name: "ordinal not a number", raw: "cake::unit::x", wantErr: true},
		{name: "legacy ordinal not a number", raw: "li-cake", wantErr: true},
		{name: "negative ordinal", raw: "cake::unit::-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := capacity.DecodeUnitID(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, capacity.ErrMalformedUnitID)
				var malformed *capacity.MalformedUnitIDError
				assert.ErrorAs(t, err, &malformed)
				assert.Equal(t, tt.raw, malformed.Raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, capacity.LineItemID(tt.lineItem), id.LineItem)
			assert.Equal(t, tt.ordinal, id.Ordinal)
		})
	}
}

func TestExplodeUnits(t *testing.T) {
	units := capacity.ExplodeUnits(cart())

	require.Len(t, units, 3)
	assert.Equal(t, a0, units[0].ID)
	assert.Equal(t, a1, units[1].ID)
	assert.Equal(t, b0, units[2].ID)
	assert.Equal(t, capacity.CategoryID("b"), units[2].Category)
}

func TestValidateLineItems(t *testing.T) {
	assert.NoError(t, capacity.ValidateLineItems(cart()))

	err := capacity.ValidateLineItems([]capacity.LineItem{{ID: "x", Category: "a", Quantity: 0}})
	assert.ErrorIs(t, err, capacity.ErrInvalidLineItem)

	err = capacity.ValidateLineItems([]capacity.LineItem{
		{ID: "x", Category: "a", Quantity: 1},
		{ID: "x", Category: "b", Quantity: 1},
	})
	assert.ErrorIs(t, err, capacity.ErrInvalidLineItem)
}
