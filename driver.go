package iview

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
)

// FetchOptions configures a single Fetch call.
type FetchOptions struct {
	ManifestURL string
	OutputPath  string
	Resume      bool
	// SWF, if non-empty, is hashed via DeriveSWFHash and used as the
	// player-verification "player" string when AkamaiHDPlayer is empty.
	SWF []byte
	// AkamaiKey is the static HMAC-SHA256 signing key for manifests that
	// carry a pv-2.0 player-verification field.
	AkamaiKey []byte
	// AkamaiHDPlayer is the fixed player string mixed into the
	// player-verification token. Falls back to DeriveSWFHash(SWF) when
	// empty.
	AkamaiHDPlayer string
	// OnProgress, if non-nil, is called after every fragment is written
	// with the number of fragments written so far and the output's
	// current byte offset. When the output cannot seek (stdout on a
	// pipe), BytesWritten keeps its initial value, the FLV header length.
	OnProgress func(FetchProgress)
}

// FetchProgress reports incremental download progress.
type FetchProgress struct {
	FragmentsWritten int
	BytesWritten     int64
	DurationSeconds  float64
}

// Fetch downloads an HDS stream named by a manifest URL to an FLV file,
// optionally resuming a previously interrupted download. It is the
// top-level entry point a CLI or other caller drives.
//
// Cancellation is checked at three points per fragment: before issuing
// the fragment HTTP request, after the response headers arrive, and
// after the fragment has been muxed to the output file. Each check
// returns ErrAborted wrapping ctx.Err() once ctx is done.
func Fetch(ctx context.Context, session *Session, opts FetchOptions) error {
	manifest, err := fetchManifest(ctx, session, opts.ManifestURL)
	if err != nil {
		return err
	}
	media := manifest.SelectedMedia()

	bootstrap, err := fetchBootstrap(ctx, session, manifest, media)
	if err != nil {
		return err
	}

	player := opts.AkamaiHDPlayer
	if player == "" && len(opts.SWF) > 0 {
		player = DeriveSWFHash(opts.SWF)
	}
	pvQuery, err := PlayerVerification(manifest.PV20, player, opts.AkamaiKey)
	if err != nil {
		return fmt.Errorf("computing player verification: %w", err)
	}

	flags := FileFlags{Audio: true, Video: true}
	var startFrag uint32 = 1
	var out *os.File
	var bytesWritten int64
	var resumedDownload bool

	// "-" means stdout: always a fresh stream, resume is meaningless
	// against a pipe. Anything else is a literal output file path;
	// resume is attempted implicitly whenever that file already exists
	// and has content, regardless of opts.Resume (which only controls
	// whether a caller intended resume at all, e.g. to fail fast instead
	// of silently starting over when resume isn't possible).
	if opts.OutputPath == "-" {
		out = os.Stdout
		bytesWritten = int64(flvFileHeaderLength + 4)
		if err := WriteFileHeader(out, flags.Audio, flags.Video); err != nil {
			return err
		}
		if len(media.Metadata) > 0 {
			if err := WriteScriptData(out, media.Metadata); err != nil {
				return err
			}
		}
	} else {
		if existing, statErr := os.Stat(opts.OutputPath); statErr == nil && existing.Size() > 0 {
			f, err := os.OpenFile(opts.OutputPath, os.O_RDWR, 0o644)
			if err != nil {
				if opts.Resume {
					return fmt.Errorf("opening existing output for resume: %w", err)
				}
			} else if state, err := ResumePoint(f, bootstrap); err != nil {
				f.Close()
				if opts.Resume {
					return fmt.Errorf("locating resume point: %w", err)
				}
			} else if err := SeekBackwards(f, state); err != nil {
				f.Close()
				return err
			} else {
				out = f
				startFrag = state.NextFragment
				flags = state.Flags
				bytesWritten = state.TruncateOffset
				resumedDownload = true
			}
		}
		if out == nil {
			f, err := os.Create(opts.OutputPath)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			if err := WriteFileHeader(f, flags.Audio, flags.Video); err != nil {
				f.Close()
				return err
			}
			if len(media.Metadata) > 0 {
				if err := WriteScriptData(f, media.Metadata); err != nil {
					f.Close()
					return err
				}
			}
			out = f
			bytesWritten = int64(flvFileHeaderLength + 4)
		}
		defer out.Close()
	}

	durationSeconds, _ := manifest.DurationSeconds()
	written := 0
	firstFragment := true

	iter := NewIterFrags(bootstrap, startFrag)
	for {
		if err := checkAborted(ctx); err != nil {
			return err
		}

		ref, ok, err := iter.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		fragURL, err := fragmentURL(bootstrap, media, ref, pvQuery)
		if err != nil {
			return err
		}

		body, _, err := session.Get(ctx, fragURL)
		if err != nil {
			return fmt.Errorf("fetching fragment %d: %w", ref.FragNumber, err)
		}

		if err := checkAborted(ctx); err != nil {
			body.Close()
			return err
		}

		// A resumed download, or any fragment after the first of a fresh
		// one, already has the stream's AAC/AVC sequence headers written;
		// a fragment must carry each at most once in the muxed output.
		stripHeaders := resumedDownload || !firstFragment
		muxer := NewFragmentMuxer(body, stripHeaders)
		if _, err := muxer.ParseUntilFirstTag(); err != nil {
			body.Close()
			return fmt.Errorf("parsing fragment %d: %w", ref.FragNumber, err)
		}
		_, err = muxer.Finish(out)
		body.Close()
		if err != nil {
			return fmt.Errorf("muxing fragment %d: %w", ref.FragNumber, err)
		}
		written++
		firstFragment = false

		if err := checkAborted(ctx); err != nil {
			return err
		}

		if opts.OnProgress != nil {
			pos, err := out.Seek(0, io.SeekCurrent)
			if err == nil {
				bytesWritten = pos
			}
			opts.OnProgress(FetchProgress{
				FragmentsWritten: written,
				BytesWritten:     bytesWritten,
				DurationSeconds:  durationSeconds,
			})
		}
	}

	return nil
}

func checkAborted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	default:
		return nil
	}
}

func fetchManifest(ctx context.Context, session *Session, manifestURL string) (*Manifest, error) {
	body, _, err := session.Get(ctx, manifestURL, "application/f4m+xml", "text/xml", "application/xml")
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer body.Close()
	return ParseManifest(body, manifestURL)
}

func fetchBootstrap(ctx context.Context, session *Session, manifest *Manifest, media Media) (*Bootstrap, error) {
	if len(media.Bootstrap.Data) > 0 {
		return ParseBootstrap(strings.NewReader(string(media.Bootstrap.Data)))
	}
	bootstrapURL := resolveURL(manifest.BaseURL, media.Bootstrap.URL)
	body, _, err := session.Get(ctx, bootstrapURL)
	if err != nil {
		return nil, fmt.Errorf("fetching bootstrap: %w", err)
	}
	defer body.Close()
	return ParseBootstrap(body)
}

// fragmentURL resolves ref's fragment path against the bootstrap/media's
// server base URL and appends pvQuery verbatim (the "?pvtoken=...&hdntl=..."
// suffix PlayerVerification already encoded, or "" if the presentation
// needs no player verification). pvQuery is never re-encoded here: hdntl
// uses a restricted charset of its own that url.Values.Encode would
// mangle by re-escaping.
func fragmentURL(b *Bootstrap, media Media, ref FragmentRef, pvQuery string) (string, error) {
	base := b.ServerBaseURL
	if base == "" {
		base = media.URL
	}
	fragPath := fmt.Sprintf("Seg%d-Frag%d", ref.Segment, ref.FragNumber)
	full := resolveURL(base, fragPath)
	return full + pvQuery, nil
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return path.Join(base, ref)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return path.Join(base, ref)
	}
	return baseURL.ResolveReference(refURL).String()
}
