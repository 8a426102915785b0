package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	assertEventuallyTimeout = time.Second
	assertEventuallyTick    = time.Millisecond
)

type fakeValue struct {
	id       int
	released *atomic.Int32
}

func (v *fakeValue) Release() { v.released.Add(1) }

func TestGetOrCreate_BuildsOnce(t *testing.T) {
	c := New[string, *fakeValue]()
	var builds atomic.Int32

	var wg sync.WaitGroup
	results := make([]*fakeValue, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
				builds.Add(1)
				return &fakeValue{id: 1, released: &atomic.Int32{}}, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, v := range results {
		assert.Same(t, results[0], v)
	}
}

func TestGetOrCreate_FailureClearsSlot(t *testing.T) {
	c := New[string, *fakeValue]()
	boom := assert.AnError

	_, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	released := &atomic.Int32{}
	v, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 2, released: released}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v.id)
}

func TestRemove_ReleasesReadyEntry(t *testing.T) {
	c := New[string, *fakeValue]()
	released := &atomic.Int32{}

	_, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 1, released: released}, nil
	})
	require.NoError(t, err)

	c.Remove("a")
	require.Eventually(t, func() bool { return released.Load() == 1 }, assertEventuallyTimeout, assertEventuallyTick)

	// Idempotent: a second removal of the same (already absent) key is a no-op.
	c.Remove("a")
	assert.Equal(t, int32(1), released.Load())
}

func TestRemove_ReleasesAfterInFlightBuildPublishes(t *testing.T) {
	c := New[string, *fakeValue]()
	released := &atomic.Int32{}
	buildStarted := make(chan struct{})
	unblockBuild := make(chan struct{})

	buildDone := make(chan struct{})
	go func() {
		_, _ = c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
			close(buildStarted)
			<-unblockBuild
			return &fakeValue{id: 1, released: released}, nil
		})
		close(buildDone)
	}()

	<-buildStarted
	c.Remove("a") // concurrent with the in-flight build; must not abort it
	assert.Equal(t, int32(0), released.Load())

	close(unblockBuild)
	<-buildDone
	require.Eventually(t, func() bool { return released.Load() == 1 }, assertEventuallyTimeout, assertEventuallyTick)

	// The slot was cleared by Remove, so a fresh GetOrCreate starts a new
	// generation rather than observing the released value.
	v, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 2, released: &atomic.Int32{}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v.id)
}

func TestValues_SnapshotExcludesLaterKeys(t *testing.T) {
	c := New[string, *fakeValue]()
	_, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 1, released: &atomic.Int32{}}, nil
	})
	require.NoError(t, err)

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	assert.Len(t, values, 1)

	_, err = c.GetOrCreate(context.Background(), "b", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 2, released: &atomic.Int32{}}, nil
	})
	require.NoError(t, err)

	// Re-fetching shows "b", but the earlier snapshot must not have.
	values2, err := c.Values(context.Background())
	require.NoError(t, err)
	assert.Len(t, values2, 2)
}

func TestClose_ReleasesEverythingAndFailsFurtherAccess(t *testing.T) {
	c := New[string, *fakeValue]()
	releasedA := &atomic.Int32{}
	releasedB := &atomic.Int32{}

	_, err := c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 1, released: releasedA}, nil
	})
	require.NoError(t, err)
	_, err = c.GetOrCreate(context.Background(), "b", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 2, released: releasedB}, nil
	})
	require.NoError(t, err)

	c.Close()

	assert.Equal(t, int32(1), releasedA.Load())
	assert.Equal(t, int32(1), releasedB.Load())

	_, err = c.GetOrCreate(context.Background(), "a", func(ctx context.Context) (*fakeValue, error) {
		return &fakeValue{id: 3, released: &atomic.Int32{}}, nil
	})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = c.Values(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
