package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSeekableNil(t *testing.T) {
	s, err := Seekable(nil)
	require.Nil(t, err)
	require.Equal(t, int64(0), s.Length())
	require.True(t, s.CanSeek())
	require.False(t, s.CanWrite())
}

func TestSeekablePassthrough(t *testing.T) {
	ms := NewMemoryStream(createDummyBuf(100), true)
	s, err := Seekable(ms)
	require.Nil(t, err)
	require.True(t, s == Stream(ms))

	data := createDummyBuf(300)
	s, err = Seekable(bytes.NewReader(data))
	require.Nil(t, err)
	require.Equal(t, int64(300), s.Length())
	_, err = s.Seek(200, io.SeekStart)
	require.Nil(t, err)
	got := make([]byte, 100)
	_, err = io.ReadFull(s, got)
	require.Nil(t, err)
	require.Equal(t, data[200:], got)
}

func TestSeekableDrainsIntoMemory(t *testing.T) {
	data := createDummyBuf(5000)
	src := &chunkedReader{data: data, max: 700}
	s, err := Seekable(src)
	require.Nil(t, err)
	require.True(t, src.closed)
	require.IsType(t, &MemoryStream{}, s)
	require.Equal(t, int64(5000), s.Length())

	_, err = s.Seek(4000, io.SeekStart)
	require.Nil(t, err)
	got := make([]byte, 1000)
	_, err = io.ReadFull(s, got)
	require.Nil(t, err)
	require.Equal(t, data[4000:], got)
}

func TestSeekableSparse(t *testing.T) {
	data := make([]byte, 4096)
	copy(data[:1024], createDummyBuf(1024))
	copy(data[3072:], createDummyBuf(1024))
	src := &chunkedReader{data: data, max: 500}

	s, err := Seekable(src,
		WithDeclaredLength(4096), WithSparseThreshold(1024), WithSparseChunkSize(1024))
	require.Nil(t, err)
	require.True(t, src.closed)
	ss, ok := s.(*SparseStream)
	require.True(t, ok)
	require.Equal(t, 2, ss.Buffer().AllocatedChunks())
	require.Equal(t, int64(4096), s.Length())

	start, size, err := ss.SeekData(1024)
	require.Nil(t, err)
	require.Equal(t, int64(3072), start)
	require.Equal(t, int64(1024), size)
	require.Equal(t, int64(3072), ss.Position())
	_, _, err = ss.SeekData(4096)
	require.True(t, errors.Is(err, io.EOF))
	require.Equal(t, int64(3072), ss.Position())
	_, err = ss.Seek(0, io.SeekStart)
	require.Nil(t, err)

	got := make([]byte, 4096)
	_, err = io.ReadFull(s, got)
	require.Nil(t, err)
	require.Equal(t, data, got)
}

func TestSeekableShortSource(t *testing.T) {
	src := &chunkedReader{data: createDummyBuf(1000), max: 1000}
	_, err := Seekable(src, WithDeclaredLength(2000))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.True(t, src.closed)

	src = &chunkedReader{data: createDummyBuf(1000), max: 1000}
	_, err = Seekable(src, WithDeclaredLength(2000), WithSparseThreshold(512), WithSparseChunkSize(512))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestSeekablePipeDrainsIntoMemory(t *testing.T) {
	data := createDummyBuf(70000)
	s, err := Seekable(newPipeSource(t, data))
	require.Nil(t, err)
	require.IsType(t, &MemoryStream{}, s)
	require.Equal(t, int64(70000), s.Length())

	_, err = s.Seek(65536, io.SeekStart)
	require.Nil(t, err)
	got := make([]byte, 70000-65536)
	_, err = io.ReadFull(s, got)
	require.Nil(t, err)
	require.Equal(t, data[65536:], got)
}

func TestSeekableNonSeekableFileStream(t *testing.T) {
	data := createDummyBuf(3000)
	fs := NewFileStream(newPipeSource(t, data), false)
	require.False(t, fs.CanSeek())
	_, err := fs.Seek(0, io.SeekStart)
	require.True(t, errors.Is(err, ErrNotSupported))

	s, err := Seekable(fs)
	require.Nil(t, err)
	require.IsType(t, &MemoryStream{}, s)
	got, err := io.ReadAll(s)
	require.Nil(t, err)
	require.Equal(t, data, got)
}

func TestFromReadSeekerRejectsPipe(t *testing.T) {
	_, err := FromReadSeeker(newPipeSource(t, createDummyBuf(10)))
	require.True(t, errors.Is(err, ErrNotSupported))

	s, err := FromReadSeeker(bytes.NewReader(createDummyBuf(10)))
	require.Nil(t, err)
	require.Equal(t, int64(10), s.Length())
}
