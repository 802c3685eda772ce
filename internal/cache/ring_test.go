package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	_, ok := r.At(0)
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{5, 4, 3}, r.Items())

	v, ok := r.At(0)
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	v, ok = r.At(2)
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = r.At(3)
	assert.False(t, ok)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())
}

func TestKeyPrefixAndUpperBound(t *testing.T) {
	assert.Equal(t, "", KeyPrefix(Config{}, traderForTest, instanceForTest))
	assert.Equal(t, "trader-TRADER-001:", KeyPrefix(Config{UseTraderPrefix: true}, traderForTest, instanceForTest))
	assert.Equal(t, "trader-TRADER-001:"+instanceForTest.String()+":",
		KeyPrefix(Config{UseTraderPrefix: true, UseInstanceID: true}, traderForTest, instanceForTest))

	assert.Equal(t, []byte("ab"), upperBound([]byte("aa")))
	assert.Equal(t, []byte("b"), upperBound([]byte{'a', 0xff}))
	assert.Nil(t, upperBound([]byte{0xff}))
	assert.Equal(t, `a\%b\_c`, escapeLike("a%b_c"))
}
