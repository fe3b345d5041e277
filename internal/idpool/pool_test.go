package idpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkPartition asserts free ∩ inUse = ∅ and free ∪ inUse = [0, capacity).
func checkPartition(t *testing.T, p *Pool) {
	t.Helper()
	require.Equal(t, p.Capacity(), p.Free()+p.InUse())
	for v := int64(0); v < int64(p.Capacity()); v++ {
		_, f := p.free[v]
		_, u := p.inUse[v]
		require.True(t, f != u, "value %d: free=%v inUse=%v", v, f, u)
	}
}

func TestAcquireUnique(t *testing.T) {
	t.Parallel()

	p := New("bodies", WithCapacity(8))
	seen := make(map[ID]bool)
	for i := 0; i < 8; i++ {
		id, err := p.Acquire()
		require.NoError(t, err)
		assert.True(t, id.Valid())
		assert.Equal(t, "bodies", id.Pool)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 8, p.InUse())
	assert.Equal(t, 0, p.Free())
	checkPartition(t, p)
}

func TestAcquireDoublesCapacity(t *testing.T) {
	t.Parallel()

	p := New("bodies", WithCapacity(2))
	for i := 0; i < 3; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 4, p.Capacity())
	checkPartition(t, p)

	for i := 0; i < 2; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, 8, p.Capacity())
	assert.False(t, p.Exhausted())
	checkPartition(t, p)
}

func TestZeroCapacityGrows(t *testing.T) {
	t.Parallel()

	p := New("empty", WithCapacity(0))
	id, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, int64(0), id.Value)
	assert.Equal(t, 1, p.Capacity())
}

func TestFixedPoolExhausted(t *testing.T) {
	t.Parallel()

	p := New("fixed", WithCapacity(1), WithAutoScale(false))
	assert.True(t, p.CanAcquire(1))
	assert.False(t, p.CanAcquire(2))

	id, err := p.Acquire()
	require.NoError(t, err)
	assert.True(t, p.Exhausted())

	_, err = p.Acquire()
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.Equal(t, 1, p.Capacity())

	require.NoError(t, p.Release(id))
	assert.False(t, p.Exhausted())
	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestReleaseErrors(t *testing.T) {
	t.Parallel()

	p := New("a", WithCapacity(4))
	id, err := p.Acquire()
	require.NoError(t, err)

	require.NoError(t, p.Release(id))
	assert.ErrorIs(t, p.Release(id), ErrInvalidRelease, "double release")
	assert.ErrorIs(t, p.Release(p.InvalidID()), ErrInvalidRelease, "sentinel")

	other := New("b")
	foreign, err := other.Acquire()
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(foreign), ErrInvalidRelease, "foreign pool")

	checkPartition(t, p)
}

func TestInvalidID(t *testing.T) {
	t.Parallel()

	p := New("a", WithCapacity(3))
	inv := p.InvalidID()
	assert.False(t, inv.Valid())
	for i := 0; i < 10; i++ {
		id, err := p.Acquire()
		require.NoError(t, err)
		assert.NotEqual(t, inv, id)
	}
	assert.False(t, p.Contains(inv))
}

func TestReusedAfterRelease(t *testing.T) {
	t.Parallel()

	p := New("a", WithCapacity(1), WithAutoScale(false))
	id, err := p.Acquire()
	require.NoError(t, err)
	assert.True(t, p.Contains(id))
	require.NoError(t, p.Release(id))
	assert.False(t, p.Contains(id))

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, []ID{id}, p.Issued())
}

func TestIDString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "logical body-3", ID{Pool: "logical body", Value: 3}.String())
	assert.True(t, ID{Pool: "a", Value: 9}.Less(ID{Pool: "b", Value: 0}))
	assert.True(t, ID{Pool: "a", Value: 1}.Less(ID{Pool: "a", Value: 2}))
	assert.Contains(t, New("x", WithCapacity(2)).String(), "2 / 2 free")
}
