// Package clock supplies the logical clock (block height) that gates
// disbursement timing. The ledger only ever compares against it.
package clock

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrOverflow is returned when advancing would wrap the height past its maximum.
var ErrOverflow = errors.New("clock height overflow")

// Clock returns the current logical height.
type Clock interface {
	Height() uint64
}

// Mode selects a Clock implementation from configuration.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeWall   Mode = "wall"
)

// New builds the clock selected by mode. start seeds a manual clock.
func New(mode Mode, start uint64) (Clock, error) {
	switch mode {
	case ModeManual, "":
		return NewManual(start), nil
	case ModeWall:
		return NewWall(time.Second), nil
	default:
		return nil, fmt.Errorf("unknown clock mode %q", mode)
	}
}

// Manual is a clock advanced explicitly by an operator or a test.
// It never moves backwards.
type Manual struct {
	mu     sync.Mutex
	height uint64
}

// NewManual returns a Manual clock at height start.
func NewManual(start uint64) *Manual {
	return &Manual{height: start}
}

// Height implements Clock.
func (m *Manual) Height() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height
}

// Advance moves the clock forward by n and returns the new height. An advance
// that would wrap the height is rejected and leaves the clock unchanged.
func (m *Manual) Advance(n uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > math.MaxUint64-m.height {
		return m.height, fmt.Errorf("advance %d from %d: %w", n, m.height, ErrOverflow)
	}
	m.height += n
	return m.height, nil
}

// Set moves the clock to h. Setting a height below the current one is rejected.
func (m *Manual) Set(h uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h < m.height {
		return fmt.Errorf("clock cannot move backwards: %d < %d", h, m.height)
	}
	m.height = h
	return nil
}

// Wall derives the height from wall-clock time: one tick per interval since
// the Unix epoch.
type Wall struct {
	interval time.Duration
	now      func() time.Time
}

// NewWall returns a Wall clock ticking once per interval (default 1s).
func NewWall(interval time.Duration) *Wall {
	if interval <= 0 {
		interval = time.Second
	}
	return &Wall{interval: interval, now: time.Now}
}

// Height implements Clock.
func (w *Wall) Height() uint64 {
	return uint64(w.now().UnixNano() / int64(w.interval))
}
