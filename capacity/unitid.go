package capacity

import (
	"strconv"
	"strings"
)

// UnitDelimiter separates the line item id from the ordinal in encoded unit ids.
const UnitDelimiter = "::unit::"

// String encodes the unit id as "{lineItemId}::unit::{ordinal}".
func (u UnitID) String() string {
	return string(u.LineItem) + UnitDelimiter + strconv.Itoa(u.Ordinal)
}

// DecodeUnitID is the single decoding rule for persisted unit ids.
//
// "{lineItemId}::unit::{ordinal}" splits on the delimiter. Anything else is
// treated as the legacy "{lineItemId}-{ordinal}" form: the last
// hyphen-delimited segment is the ordinal and the rest is the line item id
// (line item ids may themselves contain hyphens).
func DecodeUnitID(raw string) (UnitID, error) {
	var lineItem, ordinal string
	if i := strings.LastIndex(raw, UnitDelimiter); i >= 0 {
		lineItem, ordinal = raw[:i], raw[i+len(UnitDelimiter):]
	} else if i := strings.LastIndex(raw, "-"); i >= 0 {
		lineItem, ordinal = raw[:i], raw[i+1:]
	} else {
		return UnitID{}, &MalformedUnitIDError{Raw: raw, Reason: "no delimiter"}
	}

	if lineItem == "" {
		return UnitID{}, &MalformedUnitIDError{Raw: raw, Reason: "empty line item id"}
	}
	n, err := strconv.Atoi(ordinal)
	if err != nil {
		return UnitID{}, &MalformedUnitIDError{Raw: raw, Reason: "ordinal is not an integer"}
	}
	if n < 0 {
		return UnitID{}, &MalformedUnitIDError{Raw: raw, Reason: "negative ordinal"}
	}
	return UnitID{LineItem: LineItemID(lineItem), Ordinal: n}, nil
}
