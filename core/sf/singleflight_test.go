package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type position string

func TestGroup_SharesInFlightCall(t *testing.T) {
	var (
		g       Group[position, int]
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
		results = make(chan int, 8)
	)
	fold := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := g.Do(t.Context(), "0001", fold)
			if err == nil {
				results <- v
			}
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	require.Equal(t, int32(1), calls.Load())
	for v := range results {
		require.Equal(t, 42, v)
	}
}

func TestGroup_Error(t *testing.T) {
	var g Group[position, []string]
	errRead := errors.New("read failed")

	v, shared, err := g.Do(t.Context(), "0001", func(context.Context) ([]string, error) { return nil, errRead })
	require.ErrorIs(t, err, errRead)
	require.False(t, shared)
	require.Nil(t, v)
}

func TestGroup_Forget(t *testing.T) {
	var (
		g       Group[position, int]
		release = make(chan struct{})
		started = make(chan struct{})
	)
	go func() {
		_, _, _ = g.Do(t.Context(), "0001", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started
	g.Forget("0001")

	v, shared, err := g.Do(t.Context(), "0001", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, 2, v)
	close(release)
}

func TestGroup_CallerLeavingEarly(t *testing.T) {
	var (
		g       Group[position, int]
		release = make(chan struct{})
		started = make(chan struct{})
	)
	fold := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 7, ctx.Err()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := g.Do(first, "0001", fold)
		firstErr <- err
	}()
	<-started

	second := make(chan int, 1)
	joining := make(chan struct{})
	go func() {
		close(joining)
		v, _, err := g.Do(t.Context(), "0001", func(context.Context) (int, error) { return -1, nil })
		if err != nil {
			t.Error(err)
		}
		second <- v
	}()

	<-joining
	time.Sleep(10 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.Equal(t, 7, <-second, "the fold survives the caller that started it")
}

func TestGroup_CancelledBeforeCall(t *testing.T) {
	var g Group[position, int]
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	_, _, err := g.Do(ctx, "0001", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
