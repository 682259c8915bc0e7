package stream

import (
	"io"
	"io/ioutil"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSubStreamBounds(t *testing.T) {
	data := createDummyBuf(4096)
	ranges := [][2]int64{{0, 4096}, {0, 1}, {100, 1000}, {4095, 1}, {4096, 0}, {2048, 2048}}
	for _, r := range ranges {
		parent := NewMemoryStream(append([]byte(nil), data...), true)
		sub, err := NewSubStream(parent, r[0], r[1], false)
		require.Nil(t, err)
		require.Equal(t, r[1], sub.Length())

		got, err := ioutil.ReadAll(sub)
		require.Nil(t, err)
		require.Equal(t, data[r[0]:r[0]+r[1]], got)

		n, err := sub.Read(make([]byte, 16))
		require.Equal(t, 0, n)
		require.Equal(t, io.EOF, err)
	}
}

func TestSubStreamWriteLimits(t *testing.T) {
	parent := NewMemoryStream(createDummyBuf(1024), true)
	sub, err := NewSubStream(parent, 100, 200, false)
	require.Nil(t, err)

	_, err = sub.Seek(199, io.SeekStart)
	require.Nil(t, err)
	n, err := sub.Write([]byte{0xFF})
	require.Nil(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0xFF), parent.Bytes()[299])

	n, err = sub.Write([]byte{0xFE})
	require.Equal(t, 0, n)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.NotEqual(t, byte(0xFE), parent.Bytes()[300])

	_, err = sub.WriteAt([]byte{1, 2}, 199)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.Equal(t, int64(1024), parent.Length())
}

func TestSubStreamConstruction(t *testing.T) {
	parent := NewMemoryStream(createDummyBuf(100), false)

	_, err := NewSubStream(parent, 50, 51, false)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewSubStream(parent, 1, math.MaxInt64, false)
	require.True(t, errors.Is(err, ErrOverflow))

	_, err = NewSubStream(parent, -1, 10, false)
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSubStreamSeekAndPosition(t *testing.T) {
	data := createDummyBuf(1000)
	parent := NewMemoryStream(data, false)
	sub, err := NewSubStream(parent, 300, 100, false)
	require.Nil(t, err)

	pos, err := sub.Seek(-10, io.SeekEnd)
	require.Nil(t, err)
	require.Equal(t, int64(90), pos)

	buf := make([]byte, 4)
	_, err = sub.Read(buf)
	require.Nil(t, err)
	require.Equal(t, data[390:394], buf)
	require.Equal(t, int64(94), sub.Position())

	_, err = sub.Seek(7, io.SeekEnd)
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.True(t, errors.Is(sub.SetPosition(101), ErrOutOfRange))
	require.Nil(t, sub.SetPosition(100))

	require.True(t, errors.Is(sub.SetLength(10), ErrNotSupported))
}

func TestSubStreamClose(t *testing.T) {
	parent := NewMemoryStream(createDummyBuf(10), false)
	sub, err := NewSubStream(parent, 0, 10, false)
	require.Nil(t, err)
	require.Nil(t, sub.Close())
	require.True(t, parent.CanRead())

	owned, err := NewSubStream(parent, 0, 10, true)
	require.Nil(t, err)
	require.Nil(t, owned.Close())
	require.False(t, parent.CanRead())
}
