package sems

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Object is a loosely typed vendor JSON object. Accessors never panic: a
// missing key or a value of the wrong shape yields an ErrSchema error or an
// empty result, so callers can degrade field by field.
type Object map[string]any

var quantityRegexp = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*\(?\s*([a-zA-Z]*)\s*\)?\s*$`)

func AsObject(v any) Object {
	switch o := v.(type) {
	case map[string]any:
		return Object(o)
	case Object:
		return o
	}
	return nil
}

func (o Object) Has(key string) bool {
	if o == nil {
		return false
	}
	v, ok := o[key]
	return ok && v != nil
}

func (o Object) Object(key string) Object {
	if o == nil {
		return nil
	}
	return AsObject(o[key])
}

func (o Object) List(key string) []any {
	if o == nil {
		return nil
	}
	if l, ok := o[key].([]any); ok {
		return l
	}
	return nil
}

func (o Object) String(key string) (string, error) {
	v, ok := o.lookup(key)
	if !ok {
		return "", fieldError(key, "missing")
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case json.Number:
		return s.String(), nil
	case int:
		return strconv.Itoa(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	}
	return "", fieldError(key, fmt.Sprintf("unexpected type %T", v))
}

// Float returns the numeric value of key. Numeric strings are accepted.
func (o Object) Float(key string) (float64, error) {
	v, ok := o.lookup(key)
	if !ok {
		return 0, fieldError(key, "missing")
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fieldError(key, err.Error())
	}
	return f, nil
}

// Quantity reads a value that may carry its unit, like "582.0W" or "1.2(kW)".
// The returned unit is the explicit one when present, documentedUnit otherwise.
func (o Object) Quantity(key string, documentedUnit string) (float64, string, error) {
	v, ok := o.lookup(key)
	if !ok {
		return 0, "", fieldError(key, "missing")
	}
	f, unit, err := ParseQuantity(v, documentedUnit)
	if err != nil {
		return 0, "", fieldError(key, err.Error())
	}
	return f, unit, nil
}

func (o Object) lookup(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func ParseQuantity(v any, documentedUnit string) (float64, string, error) {
	if s, ok := v.(string); ok {
		matches := quantityRegexp.FindStringSubmatch(s)
		if matches == nil {
			return 0, "", fmt.Errorf("not a quantity: %q", s)
		}
		f, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			return 0, "", err
		}
		unit := documentedUnit
		if matches[2] != "" {
			unit = matches[2]
		}
		return f, unit, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, "", err
	}
	return f, documentedUnit, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %v", f)
	}
	return f, nil
}

func fieldError(key string, reason string) error {
	return newError("field "+key, ErrSchema, fmt.Errorf("%s", reason))
}
