package iview

import (
	"errors"
	"fmt"
	"io"
)

// maxResumeSearchAttempts bounds the backward-refinement search below:
// each attempt re-estimates the target fragment from a closer starting
// point, and three misses in a row means the bootstrap's timestamps and
// the file's actual tag timestamps have diverged too far to trust.
const maxResumeSearchAttempts = 3

// ResumeState is what scanning an existing output file yields: the last
// confirmed-good byte offset to truncate to, and the fragment to resume
// downloading from.
type ResumeState struct {
	TruncateOffset int64
	NextFragment   uint32
	Flags          FileFlags
}

// ResumePoint inspects an existing FLV file (opened read-write by the
// caller) to determine where a previously interrupted download left off.
// It verifies the file header, then reads the last tag and the one before
// it (see scanLastTag) to find the last tag's timestamp, mirroring
// scan_last_tag/resume_point.
//
// bootstrap supplies the fragment-run table used to translate the last
// good timestamp back into a fragment number to resume from.
func ResumePoint(rs io.ReadSeeker, bootstrap *Bootstrap) (*ResumeState, error) {
	flags, err := ReadFileHeader(rs)
	if err != nil {
		return nil, fmt.Errorf("reading existing output header: %w", err)
	}

	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	lastTimestamp, lastOffset, err := scanLastTag(rs, end)
	if err != nil {
		return nil, err
	}

	frags := NewFragRunIterator(bootstrap.FragRuns)
	var nextFrag uint32
	var searchErr error
	estimate := lastTimestamp
	for attempt := 0; attempt < maxResumeSearchAttempts; attempt++ {
		fragNum, err := frags.FindByTimestamp(estimate)
		if err != nil {
			searchErr = err
			break
		}
		foundTimestamp, _, err := frags.Timestamp(fragNum)
		if err != nil {
			searchErr = err
			break
		}
		if foundTimestamp <= lastTimestamp {
			nextFrag = fragNum + 1
			searchErr = nil
			break
		}
		// Overshot: the estimate landed in a fragment that starts after
		// the last good tag. Retry from one millisecond earlier.
		if estimate == 0 {
			searchErr = ErrResumeSearchFailed
			break
		}
		estimate--
		searchErr = ErrResumeSearchFailed
	}
	if searchErr != nil {
		return nil, searchErr
	}

	return &ResumeState{
		TruncateOffset: lastOffset,
		NextFragment:   nextFrag,
		Flags:          flags,
	}, nil
}

// scanLastTag reads, via ReadPrevTag, the last tag of an FLV tag stream
// ending at end and the tag before it. It returns the last tag's
// timestamp and end, the byte offset just past that tag. If the tag
// before it has a later timestamp, it returns ErrResumeRetrograde; tags
// further back are not examined. A stream with no tags is
// ErrResumeMismatch.
func scanLastTag(rs io.ReadSeeker, end int64) (timestamp uint64, offset int64, err error) {
	pos := end
	var newestSeen int64 = -1

	for {
		if _, err := rs.Seek(pos, io.SeekStart); err != nil {
			return 0, 0, err
		}
		tag, err := ReadPrevTag(rs)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, err
		}
		if tag == nil {
			break
		}
		tagStart, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, 0, err
		}
		tagStart -= TagHeaderLength

		if newestSeen == -1 {
			newestSeen = tag.Timestamp
			pos = tagStart
			continue
		}
		if tag.Timestamp <= newestSeen {
			return uint64(newestSeen), end, nil
		}
		return 0, 0, fmt.Errorf("tag at offset %d: %w", tagStart, ErrResumeRetrograde)
	}

	if newestSeen == -1 {
		return 0, 0, fmt.Errorf("no tags in existing output: %w", ErrResumeMismatch)
	}
	return uint64(newestSeen), end, nil
}

// SeekBackwards truncates an opened output file to state.TruncateOffset,
// discarding any partially-written tail left by a previous interrupted
// run, and seeks to that offset for the next write.
func SeekBackwards(f interface {
	io.Seeker
	Truncate(size int64) error
}, state *ResumeState) error {
	if err := f.Truncate(state.TruncateOffset); err != nil {
		return err
	}
	_, err := f.Seek(state.TruncateOffset, io.SeekStart)
	return err
}
