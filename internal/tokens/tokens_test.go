package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount_EmptyStringIsZero(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCount_NonEmptyStringIsPositive(t *testing.T) {
	n := Count("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)
}

func TestCount_LongerTextHasMoreTokens(t *testing.T) {
	short := Count("hello")
	long := Count("hello, this is a considerably longer piece of text with many more words in it")
	assert.Greater(t, long, short)
}
