package portfolio

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

func passThrough(v any) (any, error) { return v, nil }

// QuarterLabel accepts "Q3", "q3", "3" or a number and yields 1..4.
func QuarterLabel(v any) (any, error) {
	var n int64
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "Q"), "q")
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("quarter %q is not a quarter label", t)
		}
		n = parsed
	default:
		i, err := Integer(v)
		if err != nil {
			return nil, err
		}
		n = i.(int64)
	}
	if n < 1 || n > 4 {
		return nil, fmt.Errorf("quarter %d out of range", n)
	}
	return n, nil
}

// Integer accepts whole JSON numbers and numeric strings.
func Integer(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%v is not a whole number", t)
		}
		if t >= math.MaxInt64 || t < math.MinInt64 {
			return nil, fmt.Errorf("%v overflows a 64-bit integer", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", t)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// Decimal accepts JSON numbers and numeric strings, tolerating thousands
// separators in strings.
func Decimal(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%v is not finite", t)
		}
		return t, nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a number", t)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// Percentage is a Decimal in [0, 100]; a trailing "%" is allowed.
func Percentage(v any) (any, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSuffix(strings.TrimSpace(s), "%")
	}
	d, err := Decimal(v)
	if err != nil {
		return nil, err
	}
	if f := d.(float64); f < 0 || f > 100 {
		return nil, fmt.Errorf("%v outside 0..100", f)
	}
	return d, nil
}

// Text trims strings; other types are rejected.
func Text(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected text, got %T", v)
	}
	return strings.TrimSpace(s), nil
}

// Date accepts YYYY-MM-DD, or an RFC 3339 timestamp truncated to its date.
func Date(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected date string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d.Format(time.DateOnly), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC().Format(time.DateOnly), nil
	}
	return nil, fmt.Errorf("%q is not a date", s)
}
