package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	mem, err := Open(DriverMemory, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		lite.Close()
		mem.Close()
	})
	return map[string]Store{"sqlite": lite, "memory": mem}
}

func TestStoreSemantics(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.TableExists(ctx, "bake_1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.EnsureTable(ctx, "bake_1"))
			require.NoError(t, s.EnsureTable(ctx, "bake_1"))
			ok, err = s.TableExists(ctx, "bake_1")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Put(ctx, "bake_1", "stone", []byte{1, 2, 3}))
			require.NoError(t, s.Put(ctx, "bake_1", "wood", []byte{4}))
			require.NoError(t, s.Put(ctx, "bake_1", "stone", []byte{9}))

			v, err := s.Get(ctx, "bake_1", "stone")
			require.NoError(t, err)
			assert.Equal(t, []byte{9}, v)

			keys, err := s.Keys(ctx, "bake_1")
			require.NoError(t, err)
			assert.Equal(t, []string{"stone", "wood"}, keys)

			_, err = s.Get(ctx, "bake_1", "glass")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, "bake_1", "stone"))
			require.NoError(t, s.Delete(ctx, "bake_1", "stone"))
			_, err = s.Get(ctx, "bake_1", "stone")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.ClearTable(ctx, "bake_1"))
			keys, err = s.Keys(ctx, "bake_1")
			require.NoError(t, err)
			assert.Empty(t, keys)

			require.NoError(t, s.DropTable(ctx, "bake_1"))
			ok, err = s.TableExists(ctx, "bake_1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreMissingTable(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nope", "k")
			assert.ErrorIs(t, err, ErrNoTable)
			assert.ErrorIs(t, s.Put(ctx, "nope", "k", []byte{1}), ErrNoTable)
			assert.ErrorIs(t, s.Delete(ctx, "nope", "k"), ErrNoTable)
			_, err = s.Keys(ctx, "nope")
			assert.ErrorIs(t, err, ErrNoTable)
		})
	}
}

func TestStoreInvalidTable(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, table := range []string{"", "1abc", `a"; DROP TABLE x; --`, "with-dash"} {
				assert.ErrorIs(t, s.EnsureTable(ctx, table), ErrInvalidTable, table)
			}
		})
	}
}

func TestStoreEmptyValue(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.EnsureTable(ctx, "t"))
			require.NoError(t, s.Put(ctx, "t", "empty", nil))
			v, err := s.Get(ctx, "t", "empty")
			require.NoError(t, err)
			assert.Empty(t, v)
		})
	}
}

func TestStoreConcurrentPut(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.EnsureTable(ctx, "par"))
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Put(ctx, "par", fmt.Sprintf("k%02d", i), []byte{byte(i)}))
				}(i)
			}
			wg.Wait()
			keys, err := s.Keys(ctx, "par")
			require.NoError(t, err)
			assert.Len(t, keys, 16)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("redis", "")
	assert.Error(t, err)
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureTable(ctx, "t"))
	buf := []byte{1, 2}
	require.NoError(t, m.Put(ctx, "t", "k", buf))
	buf[0] = 7
	v, err := m.Get(ctx, "t", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, v)

	require.NoError(t, m.Close())
	_, err = m.Get(ctx, "t", "k")
	assert.ErrorIs(t, err, ErrClosed)
}
