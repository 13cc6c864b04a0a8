package common

import "github.com/spf13/cast"

// Args are the loosely typed keyword arguments an outbound call is built from.
type Args map[string]interface{}

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Merge returns a copy of a with every key of other that a does not already set.
func (a Args) Merge(other Args) Args {
	merged := make(Args, len(a)+len(other))
	for k, v := range other {
		merged[k] = v
	}
	for k, v := range a {
		merged[k] = v
	}
	return merged
}

func (a Args) String(key string, def string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

func (a Args) Int(key string, def int) int {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func (a Args) Float(key string, def float64) float64 {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}
