package descriptor

import "cashflow/internal/core"

// CashflowDescriptor is the canonical identity of a cashflow query.
type CashflowDescriptor struct {
	Range    core.Range `json:"range" url:"range"`
	Offset   int        `json:"offset" url:"offset"`
	FlowType *string    `json:"flowType" url:"flowType,omitempty"`
	TargetID *string    `json:"targetId" url:"targetId,omitempty"`
	OwnerID  *string    `json:"ownerId" url:"-"`
}

// Cashflow normalises p into a cashflow descriptor. An unknown or missing
// range falls back to month.
func Cashflow(p Params) CashflowDescriptor {
	return CashflowDescriptor{
		Range:    coerceRange(p[ParamRange]),
		Offset:   coerceOffset(p[ParamOffset]),
		FlowType: coerceFlowType(p[ParamFlowType]),
		TargetID: coerceID(p[ParamTargetID]),
		OwnerID:  coerceID(p[ParamOwnerID]),
	}
}

// RangeOrDefault returns the descriptor's range when it is a known one, else
// month. A descriptor built by Cashflow always carries a known range.
func (d CashflowDescriptor) RangeOrDefault() core.Range {
	if d.Range.Valid() {
		return d.Range
	}
	return core.Month
}

func (d CashflowDescriptor) fields() map[string]any {
	return map[string]any{
		"range":    string(d.RangeOrDefault()),
		"offset":   d.Offset,
		"flowType": nullable(d.FlowType),
		"targetId": nullable(d.TargetID),
		"ownerId":  nullable(d.OwnerID),
	}
}

// Key derives the cache key. Structurally equal descriptors share a key.
func (d CashflowDescriptor) Key() Key {
	return canonicalKey(d.fields())
}

// CashflowKey is shorthand for Cashflow(p).Key().
func CashflowKey(p Params) (CashflowDescriptor, Key) {
	d := Cashflow(p)
	return d, d.Key()
}
