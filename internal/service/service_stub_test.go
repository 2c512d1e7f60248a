//go:build !windows

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestStubRunReturnsRunError(t *testing.T) {
	want := errors.New("relay unreachable")
	var called bool
	s := New(zaptest.NewLogger(t), func(ctx context.Context) error {
		called = true
		assert.NoError(t, ctx.Err())
		return want
	})

	assert.False(t, IsWindowsService())
	assert.ErrorIs(t, s.Run(), want)
	assert.True(t, called)
}
