package util

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckedAdd(t *testing.T) {
	v, err := CheckedAdd(10, 20)
	require.Nil(t, err)
	require.Equal(t, int64(30), v)

	_, err = CheckedAdd(math.MaxInt64, 1)
	require.True(t, errors.Is(err, ErrOverflow))

	_, err = CheckedAdd(math.MinInt64, -1)
	require.True(t, errors.Is(err, ErrOverflow))

	v, err = CheckedAdd(math.MaxInt64, -1)
	require.Nil(t, err)
	require.Equal(t, int64(math.MaxInt64-1), v)
}

func TestAlignment(t *testing.T) {
	require.True(t, IsPowerOfTwo(512))
	require.False(t, IsPowerOfTwo(0))
	require.False(t, IsPowerOfTwo(520))

	require.Equal(t, int64(512), AlignDown(1000, 512))
	require.Equal(t, int64(1024), AlignUp(1000, 512))
	require.Equal(t, int64(1024), AlignUp(1024, 512))
	require.Equal(t, int64(3000), RoundUp(2001, 1000))
	require.Equal(t, int64(2000), RoundUp(2000, 1000))
	require.Equal(t, int64(7), RoundUp(7, 0))
}
