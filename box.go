package iview

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BoxType is a four character code identifying an ISO-BMFF box, e.g.
// "abst", "asrt", "afrt", "mdat".
type BoxType [4]byte

func (t BoxType) String() string { return string(t[:]) }

var (
	boxTypeAbst = BoxType{'a', 'b', 's', 't'}
	boxTypeAsrt = BoxType{'a', 's', 'r', 't'}
	boxTypeAfrt = BoxType{'a', 'f', 'r', 't'}
	boxTypeMdat = BoxType{'m', 'd', 'a', 't'}
)

// ReadBoxHeader reads a generic F4V/ISO-BMFF box header: a 4-byte
// big-endian size, a 4-byte type, and (when size == 1) a 64-bit extended
// size. It returns the box type and the number of payload bytes remaining
// after the header. io.EOF is returned (with a zero type and size) when no
// bytes at all remain; any other short read is ErrTruncatedBox.
func ReadBoxHeader(r io.Reader) (boxType BoxType, payloadSize int64, err error) {
	var sizeBuf [4]byte
	n, err := io.ReadFull(r, sizeBuf[:])
	if n == 0 && err == io.EOF {
		return BoxType{}, 0, io.EOF
	}
	if err != nil {
		return BoxType{}, 0, fmt.Errorf("reading box size: %w", ErrTruncatedBox)
	}

	if _, err := io.ReadFull(r, boxType[:]); err != nil {
		return BoxType{}, 0, fmt.Errorf("reading box type: %w", ErrTruncatedBox)
	}

	size := int64(binary.BigEndian.Uint32(sizeBuf[:]))
	if size == 1 {
		var extBuf [8]byte
		if _, err := io.ReadFull(r, extBuf[:]); err != nil {
			return BoxType{}, 0, fmt.Errorf("reading extended box size: %w", ErrTruncatedBox)
		}
		size = int64(binary.BigEndian.Uint64(extBuf[:])) - 16
	} else {
		size -= 8
	}
	if size < 0 {
		return BoxType{}, 0, fmt.Errorf("box %s: %w", boxType, ErrMalformedBox)
	}
	return boxType, size, nil
}

// SkipBox discards a box's payload after its header has already been read,
// via ReadBoxHeader.
func SkipBox(r io.Reader, payloadSize int64) error {
	return fastForward(r, payloadSize)
}

// fastForward advances a reader by n bytes, seeking when possible and
// otherwise discarding via reads.
func fastForward(r io.Reader, n int64) error {
	if n < 0 {
		return fmt.Errorf("negative skip of %d bytes: %w", n, ErrMalformedBox)
	}
	if n == 0 {
		return nil
	}
	if seeker, ok := r.(io.Seeker); ok {
		if _, err := seeker.Seek(n, io.SeekCurrent); err == nil {
			return nil
		}
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

// readInt reads a big-endian unsigned integer of the given byte width
// (1-8) from r.
func readInt(r io.Reader, width int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:width]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// readCString reads a NUL-terminated string, as used for the bootstrap's
// movie_identifier field.
func readCString(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
}

// readPascalCString reads a NUL-terminated string table entry, as used by
// the bootstrap's server/quality tables. Returns the decoded string and
// the number of bytes consumed (for size accounting in readAsrt/readAfrt).
func readPascalCString(r io.Reader) (string, int, error) {
	s, err := readCString(r)
	if err != nil {
		return "", 0, err
	}
	return s, len(s) + 1, nil
}
