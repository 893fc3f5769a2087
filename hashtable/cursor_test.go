package hashtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recstore"
)

func collect(t *testing.T, c *Cursor) []recstore.ID {
	t.Helper()
	var ids []recstore.ID
	for c.Next() {
		ids = append(ids, c.ID())
	}
	require.NoError(t, c.Err())
	return ids
}

func TestCursor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, path string) {
		tbl := newTestTable(t, path, 4, 4, 0)
		for i := uint32(1); i <= 10; i++ {
			_, _, _, err := tbl.Add(u32(i))
			require.NoError(t, err)
		}
		require.NoError(t, tbl.Delete(u32(5)))

		tests := []struct {
			name     string
			min, max []byte
			offset   int
			limit    int
			flags    recstore.CursorFlags
			want     []recstore.ID
		}{
			{"all", nil, nil, 0, -1, 0, []recstore.ID{1, 2, 3, 4, 6, 7, 8, 9, 10}},
			{"closed", u32(3), u32(7), 0, -1, 0, []recstore.ID{3, 4, 6, 7}},
			{"exclusive", u32(3), u32(7), 0, -1, recstore.GT | recstore.LT, []recstore.ID{4, 6}},
			{"descending", u32(3), u32(7), 0, -1, recstore.Descending, []recstore.ID{7, 6, 4, 3}},
			{"descending exclusive", u32(3), u32(7), 0, -1, recstore.Descending | recstore.LT, []recstore.ID{6, 4, 3}},
			{"offset and limit", nil, nil, 2, 3, 0, []recstore.ID{3, 4, 6}},
			{"open upper", u32(8), nil, 0, -1, 0, []recstore.ID{8, 9, 10}},
			{"missing bound", u32(5), nil, 0, -1, 0, nil},
			{"zero limit", nil, nil, 0, 0, 0, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c, err := tbl.Cursor(tt.min, tt.max, tt.offset, tt.limit, tt.flags)
				require.NoError(t, err)
				assert.Equal(t, tt.want, collect(t, c))
			})
		}
	})
}

func TestCursorMutations(t *testing.T) {
	tbl := newTestTable(t, "", 0, 4, FlagKeyVarSize)
	for _, k := range []string{"one", "two", "three", "four"} {
		_, _, _, err := tbl.Add([]byte(k))
		require.NoError(t, err)
	}

	c, err := tbl.Cursor(nil, nil, 0, -1, 0)
	require.NoError(t, err)
	for c.Next() {
		key, err := c.Key()
		require.NoError(t, err)
		if len(key) == 3 {
			require.NoError(t, c.Delete())
			continue
		}
		require.NoError(t, c.SetValue(u32(uint32(len(key))), recstore.Set))
	}
	require.NoError(t, c.Err())

	n, err := tbl.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	id, v, err := tbl.Get([]byte("three"))
	require.NoError(t, err)
	assert.Equal(t, recstore.ID(3), id)
	assert.Equal(t, u32(5), v)
}

func TestCursorStopsOnClose(t *testing.T) {
	tbl, err := Create("", 4, 0, 0)
	require.NoError(t, err)
	for i := uint32(1); i <= 3; i++ {
		_, _, _, err := tbl.Add(u32(i))
		require.NoError(t, err)
	}
	c, err := tbl.Cursor(nil, nil, 0, -1, 0)
	require.NoError(t, err)
	require.True(t, c.Next())
	require.NoError(t, tbl.Close())

	assert.False(t, c.Next())
	assert.ErrorIs(t, c.Err(), recstore.ErrInvalidArgument)
}
