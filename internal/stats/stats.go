// Package stats collects a run's counters and writes them out as
// `key = value` lines (spec §6), in the order they were first registered so
// the same configuration always produces the same key ordering.
package stats

import (
	"fmt"
	"io"
	"sort"
)

// Collector is an ordered registry of named counters and gauges. Counters
// hold an integer cumulative total (hits, misses, pending counts); gauges
// hold a float64 snapshot (energy totals, running power).
type Collector struct {
	order      []string
	counter    map[string]uint64
	gauge      map[string]float64
	isGauge    map[string]bool
	registered map[string]bool
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{
		counter:    make(map[string]uint64),
		gauge:      make(map[string]float64),
		isGauge:    make(map[string]bool),
		registered: make(map[string]bool),
	}
}

// register appends key to the write-out order exactly once, on its first
// use by either AddCounter, SetGauge, or AddGauge.
func (c *Collector) register(key string) {
	if c.registered[key] {
		return
	}

	c.registered[key] = true
	c.order = append(c.order, key)
}

// AddCounter adds delta to the named counter, creating it at zero if it did
// not already exist.
func (c *Collector) AddCounter(key string, delta uint64) {
	c.register(key)
	c.counter[key] += delta
}

// SetGauge overwrites the named gauge's current value.
func (c *Collector) SetGauge(key string, value float64) {
	c.register(key)
	c.isGauge[key] = true
	c.gauge[key] = value
}

// AddGauge adds delta to the named gauge, creating it at zero if it did not
// already exist. Used for accumulating energy totals across components.
func (c *Collector) AddGauge(key string, delta float64) {
	c.register(key)
	c.isGauge[key] = true
	c.gauge[key] += delta
}

// Counter reports the named counter's current value.
func (c *Collector) Counter(key string) uint64 { return c.counter[key] }

// Gauge reports the named gauge's current value.
func (c *Collector) Gauge(key string) float64 { return c.gauge[key] }

// Keys reports every registered key in first-registration order.
func (c *Collector) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)

	return keys
}

// WriteTo writes every key, in registration order, as `key = value` lines.
func (c *Collector) WriteTo(w io.Writer) (int64, error) {
	var total int64

	for _, key := range c.order {
		var line string
		if c.isGauge[key] {
			line = fmt.Sprintf("%s = %g\n", key, c.gauge[key])
		} else {
			line = fmt.Sprintf("%s = %d\n", key, c.counter[key])
		}

		n, err := io.WriteString(w, line)
		total += int64(n)

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// SortedKeys reports every registered key in lexical order, for callers
// that want deterministic diffing rather than registration order.
func (c *Collector) SortedKeys() []string {
	keys := c.Keys()
	sort.Strings(keys)

	return keys
}
