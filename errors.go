package iview

import (
	"errors"
	"fmt"
)

// Sentinel errors. Most call sites wrap these with context via fmt.Errorf
// and "%w"; ErrChildManifestUnsupported and ErrTooManyBoxes are returned
// bare.
var (
	// ErrTruncatedBox is returned by ReadBoxHeader when a short read occurs
	// after the first byte of a box header has already been consumed.
	ErrTruncatedBox = errors.New("truncated box header")

	// ErrMalformedBox is returned when a box's accounted size is negative.
	ErrMalformedBox = errors.New("malformed box size")

	// ErrLookup is the common wrapped error for a bootstrap run table that
	// could not be found for the selected quality, mirroring Python's
	// LookupError.
	ErrLookup          = errors.New("lookup failed")
	ErrSegRunNotFound  = fmt.Errorf("segment run table not found: %w", ErrLookup)
	ErrFragRunNotFound = fmt.Errorf("fragment run table not found: %w", ErrLookup)

	// ErrBoxSizeMismatch is returned when a bootstrap sub-box's declared
	// size does not exactly account for the fields read from it.
	ErrBoxSizeMismatch = errors.New("box size accounting mismatch")

	// ErrChildManifestUnsupported is returned by ParseManifest when the
	// selected <media> element carries an href attribute (a child
	// manifest). Documented gap, not a bug.
	ErrChildManifestUnsupported = errors.New("child manifest not implemented")

	// ErrUnexpectedContentType is returned by Session.Get when the
	// response Content-Type is not among the accepted types.
	ErrUnexpectedContentType = errors.New("unexpected content type")

	// ErrTooManyBoxes is returned by the fragment muxer when a fragment
	// contains more than 100 top-level boxes, mdat boxes included.
	ErrTooManyBoxes = errors.New("too many boxes in fragment")

	// ErrNoFLVTags names a fragment whose mdat boxes contain no FLV tags at
	// all. FragmentMuxer does not return it: such a fragment yields zero
	// tags and no error.
	ErrNoFLVTags = errors.New("no FLV tags in fragment")

	// ErrTagTooLarge is returned when a single FLV tag exceeds 10 MB.
	ErrTagTooLarge = errors.New("FLV tag over 10 MB")

	// ErrTagTruncated is returned when a tag's declared length runs past
	// the end of its containing mdat box.
	ErrTagTruncated = errors.New("tag extends past end of box")

	// ErrResumeMismatch covers resume-time verification failures that
	// should fall back to a fresh download (bad FLV header, differing
	// metadata tag).
	ErrResumeMismatch = errors.New("existing output does not match expected format")

	// ErrResumeRetrograde is a fatal resume error: timestamps went
	// backwards while scanning the existing file.
	ErrResumeRetrograde = errors.New("non-monotonic timestamp while scanning existing file")

	// ErrResumeSearchFailed is returned after 3 failed attempts to locate
	// the fragment containing the resume timestamp.
	ErrResumeSearchFailed = errors.New("failed estimating resume fragment after 3 tries")

	// ErrFragRunNotFoundForTimestamp is returned when no fragment run
	// covers a given timestamp.
	ErrFragRunNotFoundForTimestamp = errors.New("no fragment run found with timestamp")

	// ErrAborted is returned by Fetch when the context was cancelled at
	// one of the three per-fragment checkpoints.
	ErrAborted = errors.New("fetch aborted")
)
