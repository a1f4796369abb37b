package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCountFuncApproximation(t *testing.T) {
	assert.Equal(t, 0, DefaultCountFunc(""))
	assert.Equal(t, 2, DefaultCountFunc("abcdefgh"))
}

func TestExceedsLimit(t *testing.T) {
	c := New(nil)
	msgs := []Message{{Role: "user", Content: "hello there, this is a reasonably long message"}}

	assert.False(t, c.ExceedsLimit(msgs, 10000))
	assert.True(t, c.ExceedsLimit(msgs, 1))
}

func TestUsageRatioZeroLimit(t *testing.T) {
	c := New(nil)
	assert.Equal(t, 0.0, c.UsageRatio(nil, 0))
}

func TestCustomCountFunc(t *testing.T) {
	c := New(func(s string) int { return len(s) })
	got := c.CountMessage(Message{Role: "user", Content: "hi"})
	assert.Equal(t, 4+len("user")+len("hi"), got)
}
