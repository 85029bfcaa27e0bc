// Package telemetry keeps the live mesh telemetry document fresh.
//
// A single Poller posts the data.lua refresh to the router on a fixed
// interval, swaps the returned session id for the bootstrap SID the cached
// pages were built with, and publishes the result to a Cell. Request handlers
// read the Cell; they never talk to the router for telemetry themselves.
//
// A failed refresh leaves the previous document in place and triggers a
// session renewal, so the next tick runs with a fresh login.
package telemetry

import (
	"sync"
	"time"
)

// Cell holds the latest telemetry document. The document is replaced as a
// whole and never modified in place.
type Cell struct {
	mu        sync.RWMutex
	body      []byte
	updatedAt time.Time
}

// Store publishes body as the current document.
func (c *Cell) Store(body []byte, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
	c.updatedAt = at
}

// Load returns the current document and whether one has been stored yet.
// Callers must not modify the returned slice.
func (c *Cell) Load() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.body, c.body != nil
}

// UpdatedAt returns when the current document was stored, or the zero time.
func (c *Cell) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
