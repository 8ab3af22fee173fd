// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedFutureRunsCallbackInline(t *testing.T) {
	t.Parallel()

	called := false
	Resolved(7).Then(func(value int, err error) {
		called = true
		assert.Equal(t, 7, value)
		assert.NoError(t, err)
	})
	assert.True(t, called)

	errBoom := errors.New("boom")
	value, err := Failed[string](errBoom).Wait(t.Context())
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, value)
}

func TestFutureResolvesOnce(t *testing.T) {
	t.Parallel()

	future, resolve := NewFuture[int]()
	results := make(chan int, 2)
	future.Then(func(value int, _ error) { results <- value })

	resolve(1, nil)
	resolve(2, nil)

	assert.Equal(t, 1, <-results)
	value, err := future.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, value)
	assert.Empty(t, results)
}

func TestGoResolvesFromAnotherGoroutine(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	future := Go(func() (string, error) {
		<-release
		return "done", nil
	})

	select {
	case <-future.Done():
		require.FailNow(t, "future resolved before the function returned")
	default:
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	value, err := future.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestGoFailsOnPanic(t *testing.T) {
	t.Parallel()

	future := Go(func() (int, error) {
		panic("broken servant")
	})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	value, err := future.Wait(ctx)
	require.EqualError(t, err, "servant panic: broken servant")
	assert.Zero(t, value)
}
