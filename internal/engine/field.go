package engine

import (
	"fmt"
	"math"
)

// Field is one user-editable input: a numeric entry box, a slider or an
// action button. A nil Value means the user cleared the field.
type Field struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Value   *float64 `json:"value"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Integer bool     `json:"integer,omitempty"`

	// Action fields count clicks. They are changed through Graph.Trigger.
	Action bool `json:"action,omitempty"`
}

// Float returns a pointer to v, for building field values and bounds.
func Float(v float64) *float64 {
	return &v
}

// Validate checks v against the field's constraint. A nil value is always
// accepted.
func (f *Field) Validate(v *float64) error {
	if v == nil {
		return nil
	}
	x := *v
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("%s: %w: not a finite number", f.ID, ErrInvalidValue)
	}
	if f.Min != nil && x < *f.Min {
		return fmt.Errorf("%s: %w: %v is below minimum %v", f.ID, ErrInvalidValue, x, *f.Min)
	}
	if f.Max != nil && x > *f.Max {
		return fmt.Errorf("%s: %w: %v is above maximum %v", f.ID, ErrInvalidValue, x, *f.Max)
	}
	if f.Integer && x != math.Trunc(x) {
		return fmt.Errorf("%s: %w: %v is not a whole number", f.ID, ErrInvalidValue, x)
	}
	return nil
}

func (f *Field) clone() Field {
	c := *f
	if f.Value != nil {
		c.Value = Float(*f.Value)
	}
	return c
}
