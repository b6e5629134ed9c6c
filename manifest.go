package iview

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/go-webdl/encodetype"
)

// F4MNamespace is the XML namespace F4M manifests are defined in.
const F4MNamespace = "http://ns.adobe.com/f4m/1.0"

// rawManifest mirrors the F4M XML structure closely enough for
// encoding/xml's struct-tag decoding.
type rawManifest struct {
	XMLName        xml.Name            `xml:"manifest"`
	BaseURLElem    string              `xml:"baseURL"`
	DurationElem   string              `xml:"duration"`
	PVElem         string              `xml:"pv-2.0"`
	BootstrapInfos []rawBootstrapInfo  `xml:"bootstrapInfo"`
	MediaEntries   []rawMedia          `xml:"media"`
}

type rawBootstrapInfo struct {
	ID   string                 `xml:"id,attr"`
	URL  string                 `xml:"url,attr"`
	Data encodetype.Base64Bytes `xml:",chardata"`
}

type rawMedia struct {
	URL             string                 `xml:"url,attr"`
	Href            string                 `xml:"href,attr"`
	Bitrate         string                 `xml:"bitrate,attr"`
	BootstrapInfoID string                 `xml:"bootstrapInfoId,attr"`
	Metadata        encodetype.Base64Bytes `xml:"metadata"`
}

// BootstrapInfo is the <bootstrapInfo> element referenced by one or more
// <media> entries: either an inline base64 bootstrap payload (Data) or a
// URL to fetch it from separately (URL).
type BootstrapInfo struct {
	ID   string
	URL  string
	Data []byte
}

// Media is one <media> entry of an F4M manifest.
type Media struct {
	URL       string
	Href      string
	Bitrate   string
	Bootstrap *BootstrapInfo
	Metadata  []byte
}

// Manifest is the parsed, typed form of an F4M manifest.
type Manifest struct {
	BaseURL  string
	Duration string
	PV20     string
	Media    []Media
}

// DurationSeconds parses the manifest's <duration> element, returning
// (0, false) if absent, empty, or not a positive number.
func (m *Manifest) DurationSeconds() (float64, bool) {
	if m.Duration == "" {
		return 0, false
	}
	d, err := strconv.ParseFloat(m.Duration, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// ParseManifest decodes an F4M XML manifest read from r. manifestURL is
// used as the default baseURL when the manifest omits one.
//
// The last <media> entry is always selected (no bitrate-selection policy
// exists); if that entry has a non-empty href attribute, this function
// returns ErrChildManifestUnsupported without producing any further
// output.
func ParseManifest(r io.Reader, manifestURL string) (*Manifest, error) {
	var raw rawManifest
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding F4M manifest: %w", err)
	}

	bootstraps := make(map[string]*BootstrapInfo, len(raw.BootstrapInfos))
	for _, b := range raw.BootstrapInfos {
		info := &BootstrapInfo{ID: b.ID, URL: b.URL}
		if len(b.Data) > 0 {
			info.Data = []byte(b.Data)
		}
		bootstraps[b.ID] = info
	}

	m := &Manifest{
		BaseURL:  raw.BaseURLElem,
		Duration: raw.DurationElem,
		PV20:     raw.PVElem,
	}
	if m.BaseURL == "" {
		m.BaseURL = manifestURL
	}

	for _, rm := range raw.MediaEntries {
		bootstrap, ok := bootstraps[rm.BootstrapInfoID]
		if !ok {
			return nil, fmt.Errorf("media references unknown bootstrapInfoId %q: %w", rm.BootstrapInfoID, ErrResumeMismatch)
		}
		m.Media = append(m.Media, Media{
			URL:       rm.URL,
			Href:      rm.Href,
			Bitrate:   rm.Bitrate,
			Bootstrap: bootstrap,
			Metadata:  []byte(rm.Metadata),
		})
	}

	if len(m.Media) == 0 {
		return nil, fmt.Errorf("manifest has no <media> elements: %w", ErrResumeMismatch)
	}

	// Media selection policy: no bitrate selection exists; the last
	// entry is assumed most desirable.
	selected := m.Media[len(m.Media)-1]
	if selected.Href != "" {
		return nil, ErrChildManifestUnsupported
	}

	return m, nil
}

// SelectedMedia returns the <media> entry this manifest's selection
// policy (last entry wins) chose.
func (m *Manifest) SelectedMedia() Media {
	return m.Media[len(m.Media)-1]
}
