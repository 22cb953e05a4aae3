package safemap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[string, int]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load("x")
	assert.False(t, ok)
}

func TestSafeMap_StoreIfAbsent(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("stores when absent", func(t *testing.T) {
		assert.True(t, m.StoreIfAbsent("a", 1))
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("keeps existing value when present", func(t *testing.T) {
		assert.False(t, m.StoreIfAbsent("a", 2))
		v, _ := m.Load("a")
		assert.Equal(t, 1, v)
	})

	t.Run("store overwrites", func(t *testing.T) {
		m.Store("a", 3)
		v, _ := m.Load("a")
		assert.Equal(t, 3, v)
	})
}

func TestSafeMap_LoadAndDelete(t *testing.T) {
	m := NewSafeMap[int, string]()
	m.Store(1, "one")

	v, ok := m.LoadAndDelete(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.False(t, m.Has(1))

	t.Run("missing key is a no-op", func(t *testing.T) {
		v, ok := m.LoadAndDelete(1)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestSafeMap_LoadAndDelete_SingleWinner(t *testing.T) {
	m := NewSafeMap[int, int]()
	m.Store(7, 7)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.LoadAndDelete(7); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_Values(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	values := m.Values()
	assert.ElementsMatch(t, []int{1, 2}, values)

	t.Run("snapshot is detached from later writes", func(t *testing.T) {
		m.Store("c", 3)
		assert.Len(t, values, 2)
		assert.Equal(t, 3, m.Len())
	})
}

func TestSafeMap_Clear(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	removed := m.Clear()
	assert.ElementsMatch(t, []int{1, 2}, removed)
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.StoreIfAbsent("a", 5))
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	var wg sync.WaitGroup
	const n = 100

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			m.StoreIfAbsent(k, k*2)
			_ = m.Values()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, m.Len())
	for i := 0; i < n; i++ {
		v, ok := m.Load(i)
		require.True(t, ok)
		assert.Equal(t, i*2, v)
	}
}
