package suid

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate_Order(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Generate(base, 5)
	b := Generate(base, 6)
	c := Generate(base.Add(time.Millisecond), 0)

	require.Len(t, string(a), Len)
	require.True(t, b.IsLaterThan(a))
	require.True(t, c.IsLaterThan(b))
	require.True(t, a.IsEarlierThan(c))
	require.False(t, a.IsLaterThan(a))
	require.Equal(t, -1, Compare(a, b))
	require.Equal(t, 0, Compare(a, a))
}

func TestID_Time(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 59, 123_000_000, time.UTC)
	id := New(ts)

	got, err := id.Time()
	require.NoError(t, err)
	require.Equal(t, ts, got)

	// sub-millisecond precision is truncated
	got, err = New(ts.Add(999 * time.Microsecond)).Time()
	require.NoError(t, err)
	require.Equal(t, ts, got)
}

func TestMinMax(t *testing.T) {
	ts := time.Now()
	require.True(t, Min(ts).IsEarlierThanOrEqual(New(ts)))
	require.True(t, MaxAt(ts).IsLaterThan(Min(ts)))
	require.True(t, Max.IsLaterThan(MaxAt(ts)))
	require.NoError(t, Max.Validate())
	require.True(t, ID("").IsEarlierThan(Min(time.UnixMilli(0))))
}

func TestParse(t *testing.T) {
	id := New(time.Now())
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "123", "abcdefghijabcdefghijabcdefghijabc", "000000000000099999999999999999999"} {
		_, err := Parse(bad)
		require.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestID_ValidateUniquifierRange(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, MaxAt(ts).Validate())
	require.NoError(t, Min(ts).Validate())

	over := ID("1700000000000" + "18446744073709551616")
	require.ErrorIs(t, over.Validate(), ErrInvalid)
	_, err := over.Uniquifier()
	require.Error(t, err)
}

func TestGenerator_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return frozen })

	var (
		mu  sync.Mutex
		ids []ID
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				id := g.Next()
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := map[ID]struct{}{}
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 8*250)
}

func TestGenerator_ClockGoesBackwards(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	g := NewGenerator(func() time.Time { return now })

	first := g.Next()
	now = now.Add(-time.Second)
	second := g.Next()
	require.True(t, second.IsLaterThan(first))
}
