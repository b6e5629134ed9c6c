package iview

import "fmt"

// EnrichedFragRun is one fragment-run-table (afrt) entry augmented with
// the span/run_duration/frag_index fields run-table iteration computes
// once the entry's successor is known: Span is the number of fragments
// the run covers, RunDuration is the run's total duration (fragment-
// timescale units, pre-scaled to milliseconds like Timestamp/Duration),
// and FragIndex is the running count of fragments yielded before it.
type EnrichedFragRun struct {
	First       uint32
	Timestamp   uint64
	Duration    uint32
	Span        uint32
	RunDuration uint64
	FragIndex   uint32
}

// FragRunIterator walks a bootstrap's fragment run table (afrt) with a
// one-run lag: a DiscontinuityFlag bitset accumulates across every
// table entry until an ordinary entry or the
// implicit end-of-table marker resolves it, at which point the
// *previous* pending entry is enriched with its span/run_duration/
// frag_index and returned. A non-terminal discontinuity entry (fragment-
// number or timestamp) only contributes its bit to the bitset and is
// never itself yielded. Iteration ends, permanently, once the table's
// DiscontinuityEnd has been consumed - there is no indefinite
// extrapolation past the table's own data.
type FragRunIterator struct {
	runs      []FragRun
	pos       int
	pending   *FragRun
	flags     DiscontinuityFlag
	fragIndex uint32
	done      bool
}

// NewFragRunIterator wraps a bootstrap's fragment run table.
func NewFragRunIterator(runs []FragRun) *FragRunIterator {
	return &FragRunIterator{runs: runs}
}

// Next returns the next enriched run in frag_index order, or
// ok == false once DiscontinuityEnd has been reached.
func (it *FragRunIterator) Next() (run EnrichedFragRun, ok bool) {
	for {
		if it.done {
			return EnrichedFragRun{}, false
		}

		var next *FragRun
		discontinuity := DiscontinuityEnd
		if it.pos < len(it.runs) {
			next = &it.runs[it.pos]
			it.pos++
			discontinuity = next.Discontinuity
		}

		switch {
		case discontinuity == DiscontinuityEnd:
			it.flags |= DiscontinuityFragNumber | DiscontinuityTimestamp
		case discontinuity != DiscontinuityNone:
			it.flags |= discontinuity
			continue // a non-terminal marker never becomes pending
		}

		var result EnrichedFragRun
		if it.pending != nil {
			result = enrichFragRun(it.pending, next, it.flags, it.fragIndex)
			it.fragIndex += result.Span
			ok = true
		}

		if discontinuity == DiscontinuityEnd {
			it.done = true
			return result, ok
		}

		it.pending = next
		it.flags = 0
		if ok {
			return result, true
		}
		// No run was pending yet (this was the very first table entry);
		// keep scanning until a run can actually be yielded.
	}
}

func enrichFragRun(run, next *FragRun, flags DiscontinuityFlag, fragIndex uint32) EnrichedFragRun {
	out := EnrichedFragRun{
		First:     run.First,
		Timestamp: run.Timestamp,
		Duration:  run.Duration,
		FragIndex: fragIndex,
	}
	if flags&DiscontinuityFragNumber != 0 {
		out.Span = 1
	} else {
		out.Span = next.First - run.First
	}
	if flags&DiscontinuityTimestamp != 0 {
		out.RunDuration = uint64(run.Duration) * uint64(out.Span)
	} else {
		out.RunDuration = next.Timestamp - run.Timestamp
	}
	return out
}

// Timestamp returns the nominal millisecond timestamp of fragNum, along
// with DiscontinuityNone (the only value an ordinary run carries). Used
// by resume.go to translate a found fragment number back into a
// timestamp for comparison against the last tag scanned from an
// existing output file.
func (it *FragRunIterator) Timestamp(fragNum uint32) (timestamp uint64, discontinuity DiscontinuityFlag, err error) {
	scan := NewFragRunIterator(it.runs)
	for {
		run, ok := scan.Next()
		if !ok {
			return 0, 0, fmt.Errorf("fragment %d: %w", fragNum, ErrFragRunNotFound)
		}
		if fragNum < run.First || fragNum >= run.First+run.Span {
			continue
		}
		offset := uint64(fragNum - run.First)
		return run.Timestamp + offset*uint64(run.Duration), DiscontinuityNone, nil
	}
}

// FindByTimestamp returns the fragment number whose nominal window
// contains timestamp (in milliseconds), used by resume.go to re-enter a
// stream at a known point. It reports ErrFragRunNotFoundForTimestamp when
// timestamp precedes the first run.
func (it *FragRunIterator) FindByTimestamp(timestamp uint64) (uint32, error) {
	scan := NewFragRunIterator(it.runs)
	var best *EnrichedFragRun
	for {
		run, ok := scan.Next()
		if !ok {
			break
		}
		if run.Timestamp > timestamp {
			break
		}
		r := run
		best = &r
	}
	if best == nil {
		return 0, fmt.Errorf("timestamp %d: %w", timestamp, ErrFragRunNotFoundForTimestamp)
	}
	if best.Duration == 0 {
		return best.First, nil
	}
	offset := (timestamp - best.Timestamp) / uint64(best.Duration)
	frag := best.First + uint32(offset)
	if last := best.First + best.Span - 1; frag > last {
		frag = last
	}
	return frag, nil
}

// SegIterator resolves a global fragment number to the segment number it
// belongs to, using a bootstrap's segment run table (asrt). Segment run
// entries are run-length encoded the same way as fragment runs: starting
// at segment First, each segment holds Frags fragments, until the next
// entry's First segment takes over. A Frags of 0 means "unbounded" (the
// common case for a live, still-growing run table). The last run's
// segment number increments forever with no upper bound, by design;
// callers bound iteration via the paired FragRunIterator, never by
// exhausting SegIterator on its own.
type SegIterator struct {
	runs []SegRun
}

// NewSegIterator wraps a bootstrap's segment run table.
func NewSegIterator(runs []SegRun) *SegIterator {
	return &SegIterator{runs: runs}
}

// Segment returns the segment number containing global fragment number
// fragNum (1-based fragment numbering, matching the afrt table).
func (it *SegIterator) Segment(fragNum uint32) (segment uint32, err error) {
	if len(it.runs) == 0 {
		return 0, fmt.Errorf("fragment %d: %w", fragNum, ErrSegRunNotFound)
	}

	fragsBefore := uint32(0)
	for i, run := range it.runs {
		segCount := uint32(0)
		if run.Frags > 0 {
			if i+1 < len(it.runs) {
				segCount = it.runs[i+1].First - run.First
			} else {
				// Last run: unbounded number of segments at this
				// fragment count each; resolve directly.
				remaining := fragNum - fragsBefore - 1
				return run.First + remaining/run.Frags, nil
			}
		} else {
			// Frags == 0: this run's single segment is still growing and
			// absorbs every subsequent fragment.
			return run.First, nil
		}

		runFrags := segCount * run.Frags
		if fragNum <= fragsBefore+runFrags {
			remaining := fragNum - fragsBefore - 1
			return run.First + remaining/run.Frags, nil
		}
		fragsBefore += runFrags
	}
	return 0, fmt.Errorf("fragment %d: %w", fragNum, ErrSegRunNotFound)
}

// IterFrags yields consecutive global fragment numbers starting at
// startFrag, pairing each with its containing segment number and nominal
// timestamp, by walking FragRunIterator's enriched runs and expanding
// each run's Span fragments in turn. It stops, permanently, once the
// fragment run table's own DiscontinuityEnd has been consumed - the
// common termination condition for a finished, non-live presentation.
// Iteration covers only the tables it was built from; nothing re-fetches
// the bootstrap.
type IterFrags struct {
	segs      *SegIterator
	frags     *FragRunIterator
	startFrag uint32
	current   EnrichedFragRun
	offset    uint32
	haveRun   bool
}

// NewIterFrags builds a fragment iterator starting at startFrag (typically
// 1 for a fresh download, or the fragment located via resume.go).
func NewIterFrags(b *Bootstrap, startFrag uint32) *IterFrags {
	return &IterFrags{
		segs:      NewSegIterator(b.SegRuns),
		frags:     NewFragRunIterator(b.FragRuns),
		startFrag: startFrag,
	}
}

// FragmentRef names one fragment to fetch: its global number, containing
// segment number, and nominal timestamp.
type FragmentRef struct {
	FragNumber uint32
	Segment    uint32
	Timestamp  uint64
}

// Next returns the next fragment to fetch, or ok == false once the
// fragment run table is exhausted.
func (it *IterFrags) Next() (ref FragmentRef, ok bool, err error) {
	for {
		if !it.haveRun {
			run, runOK := it.frags.Next()
			if !runOK {
				return FragmentRef{}, false, nil
			}
			it.current = run
			it.offset = 0
			it.haveRun = true
		}
		if it.offset >= it.current.Span {
			it.haveRun = false
			continue
		}

		fragNum := it.current.First + it.offset
		timestamp := it.current.Timestamp + uint64(it.offset)*uint64(it.current.Duration)
		it.offset++
		if fragNum < it.startFrag {
			continue
		}

		seg, err := it.segs.Segment(fragNum)
		if err != nil {
			return FragmentRef{}, false, err
		}
		return FragmentRef{FragNumber: fragNum, Segment: seg, Timestamp: timestamp}, true, nil
	}
}
