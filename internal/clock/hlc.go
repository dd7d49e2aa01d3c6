package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDrift bounds how far ahead of local wall time a remote stamp may
// be before Observe reports it.
const DefaultMaxDrift = time.Minute

// ErrClockDrift is returned by Observe when a remote stamp is further ahead of
// local wall time than the configured bound. The clock has still advanced.
var ErrClockDrift = errors.New("remote clock drift exceeds bound")

// PhysicalClock is the wall-clock source. Tests inject a manual clock.
type PhysicalClock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the PhysicalClock backed by time.Now.
var System PhysicalClock = systemClock{}

// HLC is a hybrid logical clock bound to one node.
//
// Thread-safety: HLC is safe for concurrent use.
type HLC struct {
	mu       sync.Mutex
	node     NodeID
	physical PhysicalClock
	maxDrift time.Duration
	last     Timestamp
}

// Option configures an HLC.
type Option func(*HLC)

// WithPhysicalClock replaces the wall-clock source.
func WithPhysicalClock(pc PhysicalClock) Option {
	return func(h *HLC) {
		h.physical = pc
	}
}

// WithMaxDrift sets the drift bound checked by Observe.
// A non-positive value disables the check.
func WithMaxDrift(d time.Duration) Option {
	return func(h *HLC) {
		h.maxDrift = d
	}
}

// New creates a clock for node. It panics on an empty node id, since every
// stamp it produced would be indistinguishable from another node's.
func New(node NodeID, opts ...Option) *HLC {
	if node == "" {
		panic("clock: empty node id")
	}
	h := &HLC{
		node:     node,
		physical: System,
		maxDrift: DefaultMaxDrift,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Node returns the node this clock stamps for.
func (h *HLC) Node() NodeID {
	return h.node
}

// Now returns a stamp strictly greater than every stamp this clock has
// produced or observed.
//
// When the wall clock has not moved past the last timestamp the counter is
// incremented; a counter overflow carries into the millisecond field.
func (h *HLC) Now() Stamp {
	h.mu.Lock()
	defer h.mu.Unlock()

	wall := NewTimestamp(h.physical.Now().UnixMilli(), 0)
	if wall > h.last {
		h.last = wall
	} else {
		h.last++
	}
	return Stamp{Time: h.last, Node: h.node}
}

// Observe folds a remote stamp into the clock so that the next Now
// dominates it.
//
// The clock always advances, even past the drift bound: refusing to would
// let a remote write dominate every later local write. The drift is reported
// as ErrClockDrift for the caller to log and count.
func (h *HLC) Observe(remote Stamp) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	nowMillis := h.physical.Now().UnixMilli()
	if remote.Time > h.last {
		h.last = remote.Time
	}

	if h.maxDrift > 0 {
		ahead := time.Duration(remote.Time.WallMillis()-nowMillis) * time.Millisecond
		if ahead > h.maxDrift {
			return fmt.Errorf("%w: %s is %s ahead of local time", ErrClockDrift, remote, ahead)
		}
	}
	return nil
}

// Last returns the greatest timestamp produced or observed so far.
func (h *HLC) Last() Timestamp {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// IsDrift reports whether err was caused by clock drift.
func IsDrift(err error) bool {
	return errors.Is(err, ErrClockDrift)
}
