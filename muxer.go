package iview

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	maxBoxesPerFragment = 100
	maxTagSize          = 10 << 20
)

// FragmentMuxer demuxes one HDS fragment's mdat boxes into a stream of
// raw FLV tags (header + payload + trailing previous-tag-size field),
// copied verbatim to an output writer - except for a stripped AAC/AVC
// sequence-header tag, see stripHeaders below.
//
// It is a two-step object rather than a single call so that the caller
// gets the fragment's first tag header from ParseUntilFirstTag before
// Finish writes anything to the output.
type FragmentMuxer struct {
	r         io.Reader
	boxesSeen int
	firstTag  *TagHeader
	firstBuf  []byte
	firstSkip bool
	body      io.Reader // unread rest of the mdat box holding firstTag
	done      bool

	// stripAudio/stripVideo track whether the next AAC/AVC sequence-
	// header tag encountered should be dropped rather than copied to the
	// output. Each starts out equal to stripHeaders and latches false
	// the first time a tag of its kind is seen, matching the assumption
	// that a sequence header only ever appears as the first tag of its
	// type in a fragment.
	stripAudio bool
	stripVideo bool
}

// NewFragmentMuxer wraps a fragment's body (the HTTP response body of an
// F4F fragment request, positioned at its first box). stripHeaders
// drops a duplicate AAC/AVC sequence-header tag from the output: false
// for the very first fragment of a fresh, non-resumed download, true for
// every fragment after that and for every fragment during or after a
// resume (spec's sequence-header invariant - it must appear exactly
// once per stream in the muxed FLV).
func NewFragmentMuxer(r io.Reader, stripHeaders bool) *FragmentMuxer {
	return &FragmentMuxer{r: r, stripAudio: stripHeaders, stripVideo: stripHeaders}
}

// checkStrip reports whether header/payload is a duplicate sequence
// header that should be dropped, latching the corresponding
// stripAudio/stripVideo flag off regardless of the outcome (a sequence
// header is only ever looked for once per tag type per fragment).
func (m *FragmentMuxer) checkStrip(header *TagHeader, payload []byte) bool {
	switch {
	case m.stripAudio && header.Type == TagAudio:
		m.stripAudio = false
		parsed, err := ParseAudioTag(bytes.NewReader(payload))
		return err == nil && parsed.IsAACSeqHeader
	case m.stripVideo && header.Type == TagVideo:
		m.stripVideo = false
		parsed, err := ParseVideoTag(bytes.NewReader(payload))
		return err == nil && parsed.IsAVCSeqHeader
	default:
		return false
	}
}

// ParseUntilFirstTag scans forward past any leading non-mdat boxes,
// locates the first mdat box's first FLV tag, and returns that tag's
// header. The tag's payload is held internally and written by Finish. It
// returns (nil, nil) if the fragment's mdat boxes contain no tags at all;
// Finish then writes nothing and returns 0 tags with no error.
func (m *FragmentMuxer) ParseUntilFirstTag() (*TagHeader, error) {
	for {
		boxType, size, err := ReadBoxHeader(m.r)
		if err == io.EOF {
			m.done = true
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		m.boxesSeen++
		if m.boxesSeen > maxBoxesPerFragment {
			return nil, ErrTooManyBoxes
		}
		if boxType != boxTypeMdat {
			if err := SkipBox(m.r, size); err != nil {
				return nil, err
			}
			continue
		}

		body := io.LimitReader(m.r, size)
		header, err := ReadTagHeader(body)
		if err != nil {
			return nil, err
		}
		if header == nil {
			// Empty mdat; keep scanning for a later box with content.
			continue
		}
		if header.Length > maxTagSize {
			return nil, fmt.Errorf("tag length %d: %w", header.Length, ErrTagTooLarge)
		}
		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(body, payload); err != nil {
			return nil, fmt.Errorf("reading first tag payload: %w", ErrTagTruncated)
		}
		if err := fastForward(body, 4); err != nil { // previous-tag-size field
			return nil, fmt.Errorf("reading first tag size: %w", ErrTagTruncated)
		}
		m.body = body
		m.firstTag = header
		m.firstBuf = payload
		m.firstSkip = m.checkStrip(header, payload)
		return header, nil
	}
}

// Finish writes every tag of the fragment (including the one
// ParseUntilFirstTag already parsed, if any, unless it was a stripped
// sequence header) to w as raw FLV tag records, and reports the number
// of tags actually written.
func (m *FragmentMuxer) Finish(w io.Writer) (tagCount int, err error) {
	if m.firstTag != nil {
		if !m.firstSkip {
			if err := writeRawTag(w, m.firstTag, m.firstBuf); err != nil {
				return 0, err
			}
			tagCount++
		}
		m.firstTag, m.firstBuf = nil, nil
	}
	if m.done {
		return tagCount, nil
	}

	body := m.body
	m.body = nil
	for {
		if body == nil {
			boxType, size, err := ReadBoxHeader(m.r)
			if err == io.EOF {
				break
			}
			if err != nil {
				return tagCount, err
			}
			m.boxesSeen++
			if m.boxesSeen > maxBoxesPerFragment {
				return tagCount, ErrTooManyBoxes
			}
			if boxType != boxTypeMdat {
				if err := SkipBox(m.r, size); err != nil {
					return tagCount, err
				}
				continue
			}
			body = io.LimitReader(m.r, size)
		}

		for {
			header, err := ReadTagHeader(body)
			if err != nil {
				return tagCount, err
			}
			if header == nil {
				break
			}
			if header.Length > maxTagSize {
				return tagCount, fmt.Errorf("tag length %d: %w", header.Length, ErrTagTooLarge)
			}
			payload := make([]byte, header.Length)
			if _, err := io.ReadFull(body, payload); err != nil {
				return tagCount, fmt.Errorf("reading tag payload: %w", ErrTagTruncated)
			}
			if err := fastForward(body, 4); err != nil { // previous-tag-size field
				return tagCount, fmt.Errorf("reading tag size: %w", ErrTagTruncated)
			}
			if m.checkStrip(header, payload) {
				continue
			}
			if err := writeRawTag(w, header, payload); err != nil {
				return tagCount, err
			}
			tagCount++
		}
		body = nil
	}
	return tagCount, nil
}

func writeRawTag(w io.Writer, h *TagHeader, payload []byte) error {
	var header [TagHeaderLength]byte
	flags := h.Type & 0x1F
	if h.Filter {
		flags |= 1 << 5
	}
	header[0] = flags
	putUint24(header[1:4], uint32(len(payload)))
	putUint24(header[4:7], uint32(h.Timestamp)&0xFFFFFF)
	header[7] = byte(h.Timestamp >> 24)
	putUint24(header[8:11], h.StreamID)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(TagHeaderLength+len(payload)))
	_, err := w.Write(size[:])
	return err
}
