package iview

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFileHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFileHeader(&buf, true, true))

	flags, err := ReadFileHeader(&buf)
	require.NoError(t, err)
	assert.True(t, flags.Audio)
	assert.True(t, flags.Video)
	assert.Equal(t, 0, buf.Len())
}

func TestReadFileHeaderBadSignature(t *testing.T) {
	_, err := ReadFileHeader(bytes.NewReader([]byte("BAD\x01\x05\x00\x00\x00\x09")))
	assert.ErrorIs(t, err, ErrResumeMismatch)
}

func TestReadWriteTagHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRawTag(&buf, &TagHeader{
		Type:      TagVideo,
		Timestamp: 1234,
		StreamID:  0,
	}, []byte{0x17, 0x01, 0x00, 0x00, 0x00}))

	header, err := ReadTagHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, TagVideo, header.Type)
	assert.Equal(t, int64(1234), header.Timestamp)
	assert.Equal(t, uint32(5), header.Length)
}

func TestReadTagHeaderCleanEOF(t *testing.T) {
	header, err := ReadTagHeader(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Nil(t, header)
}

func TestReadPrevTagWalksBackward(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRawTag(&buf, &TagHeader{Type: TagVideo, Timestamp: 0}, []byte{0xAA}))
	require.NoError(t, writeRawTag(&buf, &TagHeader{Type: TagVideo, Timestamp: 40}, []byte{0xBB}))

	rs := bytes.NewReader(buf.Bytes())
	_, err := rs.Seek(0, 2)
	require.NoError(t, err)

	tag, err := ReadPrevTag(rs)
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, int64(40), tag.Timestamp)
}

func TestParseAudioTagAAC(t *testing.T) {
	r := bytes.NewReader([]byte{0xAF, 0x00, 0x12, 0x34})
	parsed, err := ParseAudioTag(r)
	require.NoError(t, err)
	assert.Equal(t, AudioFormatAAC, parsed.Format)
	assert.True(t, parsed.IsAACSeqHeader)
	assert.Equal(t, uint32(2), parsed.PrefixLength)
}

func TestParseVideoTagAVC(t *testing.T) {
	r := bytes.NewReader([]byte{0x17, 0x01, 0x00, 0x00, 0x00})
	parsed, err := ParseVideoTag(r)
	require.NoError(t, err)
	assert.Equal(t, VideoCodecAVC, parsed.CodecID)
	assert.False(t, parsed.IsAVCSeqHeader)
	assert.Equal(t, uint32(2), parsed.PrefixLength)
}

func TestParseScriptDataOnMetaData(t *testing.T) {
	payload := EncodeOnMetaData(12.5)
	sd, err := ParseScriptData(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "onMetaData", sd.Name)
	assert.Equal(t, 12.5, sd.Value["duration"])
}
