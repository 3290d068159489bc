package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[[]float32]()
	c.Set("k", []float32{1, 2})

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Overwrite(t *testing.T) {
	c := New[string]()
	c.Set("a", "x")
	c.Set("a", "y")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "y", v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, GenerateKey("m", "text"), GenerateKey("m", "text"))
	assert.NotEqual(t, GenerateKey("m", "text"), GenerateKey("mt", "ext"))
	assert.Len(t, GenerateKey("x"), 64)
}
