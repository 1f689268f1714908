package docql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Object_insertionOrder(t *testing.T) {
	t.Parallel()
	o := NewObject()
	o.Set("z", int64(1))
	o.Set("a", int64(2))
	o.Set("m", int64(3))
	assert.Equal(t, []string{"z", "a", "m"}, o.Keys())
	assert.Equal(t, 3, o.Len())

	v, ok := o.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	_, ok = o.Get("missing")
	assert.False(t, ok)
}

func Test_Object_setOverwriteKeepsPosition(t *testing.T) {
	t.Parallel()
	o := NewObject()
	o.Set("a", int64(1))
	o.Set("b", int64(2))
	o.Set("a", int64(99))
	assert.Equal(t, []string{"a", "b"}, o.Keys())
	v, _ := o.Get("a")
	assert.Equal(t, int64(99), v)
}

func Test_Object_nilSafe(t *testing.T) {
	t.Parallel()
	var o *Object
	assert.Equal(t, 0, o.Len())
	assert.Nil(t, o.Keys())
	_, ok := o.Get("x")
	assert.False(t, ok)
}

func Test_Array_Len(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, (*Array)(nil).Len())
	assert.Equal(t, 3, NewArray(1, 2, 3).Len())
}

func Test_toObject(t *testing.T) {
	t.Parallel()
	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		o, err := toObject(nil)
		require.NoError(t, err)
		assert.Equal(t, 0, o.Len())
	})
	t.Run("D-preserves-order", func(t *testing.T) {
		t.Parallel()
		o, err := toObject(D{{Key: "z", Value: int64(1)}, {Key: "a", Value: int64(2)}})
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "a"}, o.Keys())
	})
	t.Run("map-canonicalizes-order", func(t *testing.T) {
		t.Parallel()
		o, err := toObject(map[string]any{"z": int64(1), "a": int64(2), "m": int64(3)})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "m", "z"}, o.Keys())
	})
	t.Run("object-passthrough", func(t *testing.T) {
		t.Parallel()
		src := NewObject()
		src.Set("a", int64(1))
		o, err := toObject(src)
		require.NoError(t, err)
		assert.Same(t, src, o)
	})
	t.Run("unsupported-type-rejects", func(t *testing.T) {
		t.Parallel()
		_, err := toObject(42)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}
