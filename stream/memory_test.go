package stream

import (
	"io"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriteGrows(t *testing.T) {
	m := NewMemoryStream(createDummyBuf(10), true)
	_, err := m.Seek(20, io.SeekStart)
	require.Nil(t, err)
	n, err := m.Write([]byte{1, 2, 3})
	require.Nil(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, int64(23), m.Length())

	got := make([]byte, 23)
	_, err = m.ReadAt(got, 0)
	require.Nil(t, err)
	require.Equal(t, createDummyBuf(10), got[:10])
	require.Equal(t, make([]byte, 10), got[10:20])
	require.Equal(t, []byte{1, 2, 3}, got[20:])
}

func TestMemoryWriteFarOffset(t *testing.T) {
	m := NewMemoryStream(nil, true)
	_, err := m.Seek(1<<62, io.SeekStart)
	require.Nil(t, err)
	n, err := m.Write([]byte{1})
	require.Equal(t, 0, n)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.Equal(t, int64(0), m.Length())

	_, err = m.WriteAt([]byte{1, 2}, math.MaxInt64)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.True(t, errors.Is(m.SetLength(1<<62), ErrOutOfRange))
	require.Equal(t, int64(0), m.Length())
}
