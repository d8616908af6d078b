// Package sample holds the ordered collections of measurements that drive a
// dashboard, and the generators that fill them.
package sample

import (
	"slices"
	"sync"
)

// Collection is an ordered sequence of measurements. It is only ever
// replaced wholesale or extended by exactly one element.
type Collection struct {
	mu     sync.RWMutex
	values []float64
}

// NewCollection returns a collection holding a copy of values.
func NewCollection(values ...float64) *Collection {
	return &Collection{values: slices.Clone(values)}
}

// Replace swaps the whole collection for a copy of values.
func (c *Collection) Replace(values []float64) {
	fresh := slices.Clone(values)
	c.mu.Lock()
	c.values = fresh
	c.mu.Unlock()
}

// Append adds one measurement to the end and returns the new length.
func (c *Collection) Append(v float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	return len(c.values)
}

// Values returns a copy of the measurements in order.
func (c *Collection) Values() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.values)
}

// Len returns the number of measurements.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
