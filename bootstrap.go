package iview

import (
	"bytes"
	"fmt"
	"io"
)

// Discontinuity indicator values carried by a zero-duration afrt fragment
// run record.
type DiscontinuityFlag uint8

const (
	// DiscontinuityNone marks an ordinary fragment-numbering run record
	// (First/Timestamp/Duration are meaningful).
	DiscontinuityNone DiscontinuityFlag = 0xFF
	// DiscontinuityEnd terminates fragment-run iteration.
	DiscontinuityEnd DiscontinuityFlag = 0
	// DiscontinuityFragNumber indicates a fragment-numbering discontinuity.
	DiscontinuityFragNumber DiscontinuityFlag = 1
	// DiscontinuityTimestamp indicates a timestamp discontinuity.
	DiscontinuityTimestamp DiscontinuityFlag = 2
)

// SegRun is one entry of the segment run table (asrt): starting at
// segment First, each segment contains Frags fragments.
type SegRun struct {
	First uint32
	Frags uint32
}

// FragRun is one entry of the fragment run table (afrt). When
// Discontinuity is DiscontinuityNone this is an ordinary fragment-
// numbering run; otherwise First/Timestamp/Duration are not meaningful
// and Discontinuity carries the raw indicator byte read from the box
// (DiscontinuityEnd, DiscontinuityFragNumber, or DiscontinuityTimestamp,
// or both FragNumber|Timestamp bits set is not possible on the wire, but
// can accumulate in the run iterator's bitset, see runs.go).
type FragRun struct {
	Discontinuity DiscontinuityFlag
	First         uint32
	// Timestamp and Duration are in milliseconds, pre-scaled by 1000 from
	// the box's native timescale-relative units so they share a common
	// scale with FLV tag timestamps.
	Timestamp uint64
	Duration  uint32
}

// Bootstrap is the decoded abst box: timescale, movie identifier, quality
// table, and the one retained segment-run and fragment-run table.
type Bootstrap struct {
	Timescale      uint32
	Time           uint64
	MovieID        string
	ServerBaseURL  string
	HighestQuality string
	SegRuns        []SegRun
	FragRuns       []FragRun
	FragTimescale  uint32
}

// ParseBootstrap decodes an abst box read from r.
func ParseBootstrap(r io.Reader) (*Bootstrap, error) {
	boxType, _, err := ReadBoxHeader(r)
	if err != nil {
		return nil, fmt.Errorf("reading abst box header: %w", err)
	}
	if boxType != boxTypeAbst {
		return nil, fmt.Errorf("expected abst box, got %s: %w", boxType, ErrResumeMismatch)
	}

	if err := fastForward(r, 1+3+4); err != nil { // version, flags, bootstrap version
		return nil, err
	}

	flagsByte, err := readInt(r, 1) // profile/live/update, parsed but unused
	if err != nil {
		return nil, err
	}
	_ = flagsByte

	b := &Bootstrap{}
	timescale, err := readInt(r, 4)
	if err != nil {
		return nil, fmt.Errorf("reading timescale: %w", err)
	}
	b.Timescale = uint32(timescale)

	b.Time, err = readInt(r, 8)
	if err != nil {
		return nil, fmt.Errorf("reading media time: %w", err)
	}

	if err := fastForward(r, 8); err != nil { // SMPTE timecode offset
		return nil, err
	}

	b.MovieID, err = readCString(r)
	if err != nil {
		return nil, fmt.Errorf("reading movie identifier: %w", err)
	}

	serverCount, err := readInt(r, 1)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < serverCount; i++ {
		entry, _, err := readPascalCString(r)
		if err != nil {
			return nil, fmt.Errorf("reading server table entry: %w", err)
		}
		if b.ServerBaseURL == "" {
			b.ServerBaseURL = entry
		}
	}

	qualityCount, err := readInt(r, 1)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < qualityCount; i++ {
		entry, _, err := readPascalCString(r)
		if err != nil {
			return nil, fmt.Errorf("reading quality table entry: %w", err)
		}
		if b.HighestQuality == "" {
			b.HighestQuality = entry
		}
	}

	if _, _, err := readPascalCString(r); err != nil { // DRM data
		return nil, fmt.Errorf("reading DRM data: %w", err)
	}
	if _, _, err := readPascalCString(r); err != nil { // metadata
		return nil, fmt.Errorf("reading bootstrap metadata: %w", err)
	}

	segBoxCount, err := readInt(r, 1)
	if err != nil {
		return nil, err
	}
	haveSegRuns := false
	for i := uint64(0); i < segBoxCount; i++ {
		if haveSegRuns {
			if err := skipQualityBox(r); err != nil {
				return nil, err
			}
			continue
		}
		qualities, runs, err := readAsrt(r)
		if err != nil {
			return nil, err
		}
		if len(qualities) == 0 || containsString(qualities, b.HighestQuality) {
			b.SegRuns = runs
			haveSegRuns = true
		}
	}
	if !haveSegRuns {
		return nil, fmt.Errorf("segment run table not found (quality = %q): %w", b.HighestQuality, ErrSegRunNotFound)
	}

	fragBoxCount, err := readInt(r, 1)
	if err != nil {
		return nil, err
	}
	haveFragRuns := false
	for i := uint64(0); i < fragBoxCount; i++ {
		if haveFragRuns {
			if err := skipQualityBox(r); err != nil {
				return nil, err
			}
			continue
		}
		qualities, runs, timescale, err := readAfrt(r)
		if err != nil {
			return nil, err
		}
		if len(qualities) == 0 || containsString(qualities, b.HighestQuality) {
			b.FragRuns = runs
			b.FragTimescale = timescale
			haveFragRuns = true
		}
	}
	if !haveFragRuns {
		return nil, fmt.Errorf("fragment run table not found (quality = %q): %w", b.HighestQuality, ErrFragRunNotFound)
	}

	return b, nil
}

func skipQualityBox(r io.Reader) error {
	_, size, err := ReadBoxHeader(r)
	if err != nil {
		return err
	}
	return SkipBox(r, size)
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// readAsrt reads one asrt (segment run table) box. If the box at the
// current position is not an asrt box, its payload is skipped and a nil
// qualities/runs pair is returned so the caller treats it as "no match".
func readAsrt(r io.Reader) (qualities []string, runs []SegRun, err error) {
	boxType, size, err := ReadBoxHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading asrt header: %w", err)
	}
	if boxType != boxTypeAsrt {
		if err := SkipBox(r, size); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading asrt body: %w", err)
	}
	br := bytes.NewReader(body)
	remaining := size

	if err := fastForward(br, 1+3); err != nil { // version, flags
		return nil, nil, err
	}
	remaining -= 1 + 3

	count, err := readInt(br, 1)
	if err != nil {
		return nil, nil, err
	}
	remaining -= 1
	for i := uint64(0); i < count; i++ {
		q, n, err := readPascalCString(br)
		if err != nil {
			return nil, nil, fmt.Errorf("reading asrt quality entry: %w", err)
		}
		remaining -= int64(n) - 1 // Python only subtracts len(quality), not the NUL
		qualities = append(qualities, q)
	}

	runCount, err := readInt(br, 4)
	if err != nil {
		return nil, nil, err
	}
	remaining -= 4
	for i := uint64(0); i < runCount; i++ {
		first, err := readInt(br, 4)
		if err != nil {
			return nil, nil, err
		}
		frags, err := readInt(br, 4)
		if err != nil {
			return nil, nil, err
		}
		remaining -= 8
		runs = append(runs, SegRun{First: uint32(first), Frags: uint32(frags)})
	}
	if remaining != 0 {
		return nil, nil, fmt.Errorf("asrt size accounting left %d bytes: %w", remaining, ErrBoxSizeMismatch)
	}
	return qualities, runs, nil
}

// readAfrt reads one afrt (fragment run table) box, analogous to readAsrt.
func readAfrt(r io.Reader) (qualities []string, runs []FragRun, timescale uint32, err error) {
	boxType, size, err := ReadBoxHeader(r)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("reading afrt header: %w", err)
	}
	if boxType != boxTypeAfrt {
		if err := SkipBox(r, size); err != nil {
			return nil, nil, 0, err
		}
		return nil, nil, 0, nil
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, 0, fmt.Errorf("reading afrt body: %w", err)
	}
	br := bytes.NewReader(body)
	remaining := size

	if err := fastForward(br, 1+3); err != nil { // version, flags
		return nil, nil, 0, err
	}
	ts, err := readInt(br, 4)
	if err != nil {
		return nil, nil, 0, err
	}
	timescale = uint32(ts)
	remaining -= 1 + 3 + 4

	count, err := readInt(br, 1)
	if err != nil {
		return nil, nil, 0, err
	}
	remaining -= 1
	for i := uint64(0); i < count; i++ {
		q, n, err := readPascalCString(br)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("reading afrt quality entry: %w", err)
		}
		remaining -= int64(n) - 1
		qualities = append(qualities, q)
	}

	runCount, err := readInt(br, 4)
	if err != nil {
		return nil, nil, 0, err
	}
	remaining -= 4
	for i := uint64(0); i < runCount; i++ {
		first, err := readInt(br, 4)
		if err != nil {
			return nil, nil, 0, err
		}
		rawTimestamp, err := readInt(br, 8)
		if err != nil {
			return nil, nil, 0, err
		}
		rawDuration, err := readInt(br, 4)
		if err != nil {
			return nil, nil, 0, err
		}
		remaining -= 16

		if rawDuration == 0 {
			indicator, err := readInt(br, 1)
			if err != nil {
				return nil, nil, 0, err
			}
			remaining -= 1
			runs = append(runs, FragRun{Discontinuity: DiscontinuityFlag(indicator)})
			continue
		}
		runs = append(runs, FragRun{
			Discontinuity: DiscontinuityNone,
			First:         uint32(first),
			Timestamp:     rawTimestamp * 1000,
			Duration:      uint32(rawDuration) * 1000,
		})
	}
	if remaining != 0 {
		return nil, nil, 0, fmt.Errorf("afrt size accounting left %d bytes: %w", remaining, ErrBoxSizeMismatch)
	}
	return qualities, runs, timescale, nil
}
