package iview

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seekableBuffer adapts a bytes.Buffer's backing slice into an
// io.ReadWriteSeeker with Truncate, enough to exercise ResumePoint without
// touching the filesystem.
type seekableBuffer struct {
	data []byte
	pos  int64
}

func (b *seekableBuffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = b.pos
	case 2:
		base = int64(len(b.data))
	}
	b.pos = base + offset
	return b.pos, nil
}

func (b *seekableBuffer) Truncate(size int64) error {
	if size < int64(len(b.data)) {
		b.data = b.data[:size]
	}
	return nil
}

func buildResumableFLV(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFileHeader(&buf, true, false))
	require.NoError(t, writeRawTag(&buf, &TagHeader{Type: TagVideo, Timestamp: 0}, []byte{0xAA}))
	require.NoError(t, writeRawTag(&buf, &TagHeader{Type: TagVideo, Timestamp: 4000}, []byte{0xBB}))
	return buf.Bytes()
}

func TestResumePointLocatesNextFragment(t *testing.T) {
	data := buildResumableFLV(t)
	buf := &seekableBuffer{data: data}

	bootstrap := &Bootstrap{
		FragRuns: []FragRun{
			{Discontinuity: DiscontinuityNone, First: 1, Timestamp: 0, Duration: 4000},
			{Discontinuity: DiscontinuityNone, First: 2, Timestamp: 4000, Duration: 4000},
			{Discontinuity: DiscontinuityNone, First: 3, Timestamp: 8000, Duration: 4000},
		},
	}

	state, err := ResumePoint(buf, bootstrap)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), state.NextFragment)
	assert.True(t, state.Flags.Audio)
}
