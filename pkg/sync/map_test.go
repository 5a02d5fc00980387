package sync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	syncutil "landfall/pkg/sync"
)

func TestTypedSyncMapStoreAndLoad(t *testing.T) {
	var m syncutil.TypedSyncMap[string, int]

	_, ok := m.Load("missing")
	assert.False(t, ok)

	m.Store("a", 1)
	value, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)
}

func TestTypedSyncMapLoadAndDelete(t *testing.T) {
	var m syncutil.TypedSyncMap[string, int]
	m.Store("a", 1)

	value, loaded := m.LoadAndDelete("a")
	assert.True(t, loaded)
	assert.Equal(t, 1, value)

	_, loaded = m.LoadAndDelete("a")
	assert.False(t, loaded)
}

func TestTypedSyncMapLoadOrStore(t *testing.T) {
	var m syncutil.TypedSyncMap[string, int]

	value, loaded := m.LoadOrStore("a", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, value)

	value, loaded = m.LoadOrStore("a", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, value)
}

func TestTypedSyncMapRange(t *testing.T) {
	var m syncutil.TypedSyncMap[string, int]
	m.Store("a", 1)
	m.Store("b", 2)

	seen := map[string]int{}
	m.Range(func(key string, value int) bool {
		seen[key] = value
		return true
	})

	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
}
