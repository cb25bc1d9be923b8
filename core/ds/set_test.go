package ds

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_Json(t *testing.T) {
	s := NewSet("course:c1", "student:s1", "course:c1")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, `["course:c1","student:s1"]`, string(data))

	data, err = json.Marshal(*s)
	require.NoError(t, err)
	require.Equal(t, `["course:c1","student:s1"]`, string(data))
}

func TestSet_Add(t *testing.T) {
	s := NewSet[string]()
	require.True(t, s.IsEmpty())

	require.True(t, s.Add("hello"))
	require.False(t, s.Add("hello"))
	require.False(t, s.IsEmpty())
	require.True(t, s.Contains("hello"))
	require.False(t, s.Contains("world"))
	require.Equal(t, 1, s.Len())
}

func TestSet_ExtendKeepsInsertionOrder(t *testing.T) {
	s := NewSet("b", "a")
	require.Equal(t, 2, s.Extend("c", "a", "d", "c"))
	require.Equal(t, []string{"b", "a", "c", "d"}, s.Values())
	require.Equal(t, "[b a c d]", s.String())

	// Values is a copy
	v := s.Values()
	v[0] = "x"
	require.Equal(t, "b", s.Values()[0])
}
