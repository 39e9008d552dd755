// Package descriptor canonicalises loosely typed query parameters into
// fixed-shape descriptors and derives deterministic cache keys from them.
//
// Normalisation never fails: every field is defaulted and coerced so that
// functionally equivalent inputs collapse onto one descriptor.
package descriptor

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Params is the untyped parameter bag a caller builds a request from.
type Params map[string]any

// Parameter names understood by the normalisers.
const (
	ParamRange     = "range"
	ParamRangeType = "rangeType"
	ParamOffset    = "offset"
	ParamFlowType  = "flowType"
	ParamCategory  = "category"
	ParamType      = "type"
	ParamStartDate = "startDate"
	ParamEndDate   = "endDate"
	ParamGroupBy   = "groupBy"
	ParamTargetID  = "targetId"
	ParamOwnerID   = "ownerId"
)

// ParamsFromValues copies the first value of every query parameter into a bag.
func ParamsFromValues(v url.Values) Params {
	p := make(Params, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			p[k] = vals[0]
		}
	}
	return p
}

// Key is the deterministic serialisation of a descriptor.
type Key string

func (k Key) String() string { return string(k) }

// canonicalKey serialises fields with sorted keys, so the result does not depend
// on the order fields were declared or inserted in.
func canonicalKey(fields map[string]any) Key {
	b, err := json.Marshal(fields)
	if err != nil {
		// Only strings, numbers, bools and nil are ever passed in.
		panic("descriptor: marshal canonical fields: " + err.Error())
	}
	return Key(b)
}

// truthy mirrors the loose truthiness the dashboard uses for optional values.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	}
	return true
}

// coerceOffset parses v as a number; anything non-finite becomes 0.
// Fractions are truncated toward zero.
func coerceOffset(v any) int {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(math.Trunc(f))
}

// coerceBool converts v to a strict boolean. Strings that parse as booleans
// ("true", "0", "F", ...) use that value; other non-empty strings are true.
func coerceBool(v any) bool {
	if s, ok := v.(string); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return truthy(v)
}

// stringify renders scalar values the way they appear in a query string.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		return x.String()
	case interface{ String() string }:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// coerceID maps nil and "" to nil and everything else to its string form.
func coerceID(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	s := stringify(v)
	return &s
}

// optionalString maps falsy values to nil and passes the rest through.
func optionalString(v any) *string {
	if !truthy(v) {
		return nil
	}
	s := stringify(v)
	return &s
}

// coerceFlowType maps "all" and falsy values to nil. No enum validation happens here.
func coerceFlowType(v any) *string {
	if !truthy(v) {
		return nil
	}
	s := stringify(v)
	if s == "all" {
		return nil
	}
	return &s
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
