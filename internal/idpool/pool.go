// Package idpool allocates and recycles small dense integer identities
// scoped to a named pool.
package idpool

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrPoolExhausted is returned by Acquire on a fixed-size pool with no
	// free ids left.
	ErrPoolExhausted = errors.New("id pool exhausted")
	// ErrInvalidRelease is returned when releasing an id that is not in
	// use: a double release, an id of another pool, or the sentinel.
	ErrInvalidRelease = errors.New("invalid id release")
)

// invalidValue is never issued by any pool.
const invalidValue int64 = -1

// DefaultCapacity is the initial number of ids in a pool.
const DefaultCapacity = 50

// ID is an opaque identity issued by a Pool.
type ID struct {
	Pool  string
	Value int64
}

// Valid reports whether id is not the sentinel.
func (id ID) Valid() bool {
	return id.Value != invalidValue
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%d", id.Pool, id.Value)
}

// Less orders ids by pool name, then value.
func (id ID) Less(other ID) bool {
	if id.Pool != other.Pool {
		return id.Pool < other.Pool
	}
	return id.Value < other.Value
}

// Pool hands out ids in [0, capacity). It doubles capacity on exhaustion
// unless auto-scaling is disabled. It never shrinks.
//
// Pool is not safe for concurrent use; it is owned by a single manager.
type Pool struct {
	name      string
	capacity  int64
	autoScale bool
	free      map[int64]struct{}
	inUse     map[int64]struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithCapacity sets the initial capacity. Negative values are treated as 0.
func WithCapacity(n int) Option {
	return func(p *Pool) {
		if n < 0 {
			n = 0
		}
		p.capacity = int64(n)
	}
}

// WithAutoScale enables or disables capacity doubling on exhaustion.
func WithAutoScale(enabled bool) Option {
	return func(p *Pool) { p.autoScale = enabled }
}

// New creates a pool named name.
func New(name string, opts ...Option) *Pool {
	p := &Pool{
		name:      name,
		capacity:  DefaultCapacity,
		autoScale: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.free = make(map[int64]struct{}, p.capacity)
	p.inUse = make(map[int64]struct{})
	for v := int64(0); v < p.capacity; v++ {
		p.free[v] = struct{}{}
	}
	return p
}

func (p *Pool) Name() string    { return p.name }
func (p *Pool) Capacity() int   { return int(p.capacity) }
func (p *Pool) InUse() int      { return len(p.inUse) }
func (p *Pool) Free() int       { return len(p.free) }
func (p *Pool) AutoScale() bool { return p.autoScale }

// Exhausted reports whether the next Acquire would fail. An auto-scaling
// pool is never exhausted.
func (p *Pool) Exhausted() bool {
	return !p.autoScale && len(p.free) == 0
}

// CanAcquire reports whether n ids could be acquired without error.
func (p *Pool) CanAcquire(n int) bool {
	return p.autoScale || n <= len(p.free)
}

// InvalidID returns the sentinel id of this pool. It is distinct from any
// id the pool issues.
func (p *Pool) InvalidID() ID {
	return ID{Pool: p.name, Value: invalidValue}
}

// Acquire returns an unused id. Which free id is returned is unspecified.
func (p *Pool) Acquire() (ID, error) {
	if len(p.free) == 0 {
		if !p.autoScale {
			return p.InvalidID(), fmt.Errorf("%w: %s (capacity %d)", ErrPoolExhausted, p.name, p.capacity)
		}
		p.grow()
	}

	var v int64
	for v = range p.free {
		break
	}
	delete(p.free, v)
	p.inUse[v] = struct{}{}
	return ID{Pool: p.name, Value: v}, nil
}

// grow doubles capacity, adding [old, 2*old) to the free set.
func (p *Pool) grow() {
	old := p.capacity
	next := old * 2
	if next == 0 {
		next = 1
	}
	for v := old; v < next; v++ {
		p.free[v] = struct{}{}
	}
	p.capacity = next
}

// Release returns id to the free set.
func (p *Pool) Release(id ID) error {
	if id.Pool != p.name {
		return fmt.Errorf("%w: %s does not belong to pool %s", ErrInvalidRelease, id, p.name)
	}
	if _, ok := p.inUse[id.Value]; !ok {
		return fmt.Errorf("%w: %s is not in use", ErrInvalidRelease, id)
	}
	delete(p.inUse, id.Value)
	p.free[id.Value] = struct{}{}
	return nil
}

// Contains reports whether id is currently issued by this pool.
func (p *Pool) Contains(id ID) bool {
	if id.Pool != p.name {
		return false
	}
	_, ok := p.inUse[id.Value]
	return ok
}

// Issued returns the in-use ids in ascending order.
func (p *Pool) Issued() []ID {
	out := make([]ID, 0, len(p.inUse))
	for v := range p.inUse {
		out = append(out, ID{Pool: p.name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func (p *Pool) String() string {
	return fmt.Sprintf("id pool %s (%d / %d free)", p.name, len(p.free), p.capacity)
}
