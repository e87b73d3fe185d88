// Package fetch tracks keyed asynchronous fetches. Each Cell owns one
// fetch identity (a string key), a four-state lifecycle, and a
// generation counter that lets results arriving for a superseded fetch
// be discarded instead of overwriting newer state. Re-keying a cell is
// the cancellation mechanism: the in-flight fetch keeps running, but
// its result no longer matches the current generation and is dropped
// on arrival.
package fetch

import "fmt"

// Status is the lifecycle state of a keyed fetch.
type Status uint8

const (
	// StatusIdle means the fetch is disabled or not yet triggered.
	StatusIdle Status = iota
	// StatusLoading means a fetch is in flight with no prior result to show.
	StatusLoading
	// StatusSettled means the last fetch completed, with a value or an error.
	StatusSettled
	// StatusRefetching means a fetch is in flight while a prior settled
	// value is retained and still exposed.
	StatusRefetching
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSettled:
		return "settled"
	case StatusRefetching:
		return "refetching"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Flags is the caller-facing view of one fetch's state. The booleans
// stay separate per fetch so callers can tell "never started", "in
// flight", and "settled" apart; they are never collapsed into a single
// busy bit.
type Flags struct {
	Idle       bool
	Loading    bool
	Refetching bool
	Settled    bool
	Err        error
}

// Snapshot is an immutable copy of a cell's state at one instant.
// Value is a shallow copy; callers must not mutate reference types
// they read from it.
type Snapshot[V any] struct {
	Key      string
	Status   Status
	Value    V    // zero unless HasValue
	HasValue bool // a value fetched under the current key is retained
	Err      error
	Version  uint64 // bumps on every observable change
}

// Flags converts the snapshot into the caller-facing flag set.
func (s Snapshot[V]) Flags() Flags {
	return Flags{
		Idle:       s.Status == StatusIdle,
		Loading:    s.Status == StatusLoading,
		Refetching: s.Status == StatusRefetching,
		Settled:    s.Status == StatusSettled,
		Err:        s.Err,
	}
}

// Collapsed folds Refetching into Loading, for fetches whose callers
// do not distinguish a first fetch from a refresh.
func (f Flags) Collapsed() Flags {
	if f.Refetching {
		f.Loading = true
		f.Refetching = false
	}
	return f
}

// InFlight reports whether a fetch is currently outstanding.
func (s Snapshot[V]) InFlight() bool {
	return s.Status == StatusLoading || s.Status == StatusRefetching
}

// Cell tracks one keyed asynchronous fetch. It holds the state machine
// only; running the fetch and publishing its result is the owner's
// job. Cell is not safe for concurrent use; the owner serializes
// access, mirroring the cooperative single-writer model the view
// engine runs under.
type Cell[V any] struct {
	key        string
	status     Status
	value      V
	hasValue   bool
	err        error
	version    uint64
	generation uint64
}

// NewCell returns an idle cell with no key.
func NewCell[V any]() *Cell[V] {
	return &Cell[V]{}
}

// Begin registers interest in a fetch for key. It returns a new
// generation and true when a fetch must actually start. Requests for a
// key that is already in flight or already settled are coalesced and
// report false; an errored settle also reports false, since the cell
// never retries on its own.
func (c *Cell[V]) Begin(key string) (uint64, bool) {
	if key == c.key && c.status != StatusIdle {
		return c.generation, false
	}
	return c.start(key), true
}

// Refetch forces a new fetch for key, superseding any in-flight
// generation, even when a result for the key has already settled.
func (c *Cell[V]) Refetch(key string) uint64 {
	return c.start(key)
}

func (c *Cell[V]) start(key string) uint64 {
	if key != c.key {
		// The retained value belongs to the old key; drop it.
		var zero V
		c.key = key
		c.value = zero
		c.hasValue = false
	}
	c.err = nil
	if c.hasValue {
		c.status = StatusRefetching
	} else {
		c.status = StatusLoading
	}
	c.generation++
	c.version++
	return c.generation
}

// Publish installs the result of the fetch identified by gen. A result
// for a superseded generation is discarded and Publish reports false.
// An errored publish retains any prior value but records the error;
// either outcome settles the cell.
func (c *Cell[V]) Publish(gen uint64, value V, err error) bool {
	if gen != c.generation || (c.status != StatusLoading && c.status != StatusRefetching) {
		return false
	}
	if err != nil {
		c.err = err
	} else {
		c.value = value
		c.hasValue = true
		c.err = nil
	}
	c.status = StatusSettled
	c.version++
	return true
}

// Disable returns the cell to Idle, drops the retained value and
// error, and invalidates any in-flight generation. Disabling an
// already-idle empty cell is a no-op so repeated reconcile passes keep
// the version stable.
func (c *Cell[V]) Disable() {
	if c.status == StatusIdle && !c.hasValue && c.err == nil && c.key == "" {
		return
	}
	var zero V
	c.key = ""
	c.value = zero
	c.hasValue = false
	c.err = nil
	c.status = StatusIdle
	c.generation++
	c.version++
}

// Snapshot returns a copy of the cell's current state.
func (c *Cell[V]) Snapshot() Snapshot[V] {
	return Snapshot[V]{
		Key:      c.key,
		Status:   c.status,
		Value:    c.value,
		HasValue: c.hasValue,
		Err:      c.err,
		Version:  c.version,
	}
}
