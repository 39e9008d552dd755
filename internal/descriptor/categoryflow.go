package descriptor

import (
	"strings"

	"cashflow/internal/core"
)

// CategoryFlowDescriptor is the canonical identity of a category-flow query.
type CategoryFlowDescriptor struct {
	RangeType core.Range `json:"rangeType" url:"rangeType"`
	Offset    int        `json:"offset" url:"offset"`
	FlowType  *string    `json:"flowType" url:"flowType,omitempty"`
	Type      *string    `json:"type" url:"type,omitempty"`
	Category  *string    `json:"category" url:"category,omitempty"`
	StartDate *string    `json:"startDate" url:"startDate,omitempty"`
	EndDate   *string    `json:"endDate" url:"endDate,omitempty"`
	GroupBy   bool       `json:"groupBy" url:"groupBy"`
	TargetID  *string    `json:"targetId" url:"targetId,omitempty"`
	OwnerID   *string    `json:"ownerId" url:"-"`
}

// CategoryFlow normalises p into a category-flow descriptor. An unknown or
// missing rangeType falls back to month.
func CategoryFlow(p Params) CategoryFlowDescriptor {
	return CategoryFlowDescriptor{
		RangeType: coerceRange(p[ParamRangeType]),
		Offset:    coerceOffset(p[ParamOffset]),
		FlowType:  coerceFlowType(p[ParamFlowType]),
		Type:      optionalString(p[ParamType]),
		Category:  optionalString(p[ParamCategory]),
		StartDate: optionalString(p[ParamStartDate]),
		EndDate:   optionalString(p[ParamEndDate]),
		GroupBy:   coerceBool(p[ParamGroupBy]),
		TargetID:  coerceID(p[ParamTargetID]),
		OwnerID:   coerceID(p[ParamOwnerID]),
	}
}

func coerceRange(v any) core.Range {
	s, ok := v.(string)
	if !ok {
		if r, isRange := v.(core.Range); isRange {
			s = string(r)
		}
	}
	if r := core.Range(strings.TrimSpace(s)); r.Valid() {
		return r
	}
	return core.Month
}

func (d CategoryFlowDescriptor) fields() map[string]any {
	return map[string]any{
		"rangeType": string(d.RangeType),
		"offset":    d.Offset,
		"flowType":  nullable(d.FlowType),
		"type":      nullable(d.Type),
		"category":  nullable(d.Category),
		"startDate": nullable(d.StartDate),
		"endDate":   nullable(d.EndDate),
		"groupBy":   d.GroupBy,
		"targetId":  nullable(d.TargetID),
		"ownerId":   nullable(d.OwnerID),
	}
}

// Key derives the cache key. Structurally equal descriptors share a key.
func (d CategoryFlowDescriptor) Key() Key {
	return canonicalKey(d.fields())
}

// CategoryFlowKey is shorthand for CategoryFlow(p).Key().
func CategoryFlowKey(p Params) (CategoryFlowDescriptor, Key) {
	d := CategoryFlow(p)
	return d, d.Key()
}
