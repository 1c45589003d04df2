package vrs

import (
	"encoding/json"
	"fmt"
)

// Coordinate is either a definite interresidue integer or a
// half-bounded range [Lower, Upper] where either side may be absent.
// The JSON form is a bare integer or a 2-element array with nulls,
// matching the VRS 2.0 wire format.
type Coordinate struct {
	Value *int64
	Lower *int64
	Upper *int64
}

// Int returns a definite coordinate.
func Int(v int64) *Coordinate { return &Coordinate{Value: ptr(v)} }

// RangeCoord returns a range coordinate; either bound may be nil.
func RangeCoord(lower, upper *int64) *Coordinate {
	return &Coordinate{Lower: lower, Upper: upper}
}

func ptr(v int64) *int64 { return &v }

// IsRange reports whether the coordinate is a range rather than a
// definite integer.
func (c *Coordinate) IsRange() bool { return c != nil && c.Value == nil }

// MarshalJSON renders a definite coordinate as an integer and a range
// as a 2-element array with nulls for absent bounds.
func (c *Coordinate) MarshalJSON() ([]byte, error) {
	if c.Value != nil {
		return json.Marshal(*c.Value)
	}
	return json.Marshal([2]*int64{c.Lower, c.Upper})
}

// UnmarshalJSON accepts either an integer or a 2-element array.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err == nil {
		*c = Coordinate{Value: &v}
		return nil
	}
	var bounds []*int64
	if err := json.Unmarshal(data, &bounds); err != nil {
		return fmt.Errorf("coordinate must be an integer or a range array: %w", err)
	}
	if len(bounds) != 2 {
		return fmt.Errorf("range coordinate must have exactly 2 bounds, found %d", len(bounds))
	}
	*c = Coordinate{Lower: bounds[0], Upper: bounds[1]}
	return nil
}

// Equal reports value equality between two coordinates.
func (c *Coordinate) Equal(other *Coordinate) bool {
	if c == nil || other == nil {
		return c == other
	}
	return eqInt64Ptr(c.Value, other.Value) &&
		eqInt64Ptr(c.Lower, other.Lower) &&
		eqInt64Ptr(c.Upper, other.Upper)
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
