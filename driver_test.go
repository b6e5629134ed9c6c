package iview

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildInlineBootstrap builds a bootstrap box whose tables describe
// exactly 3 fragments in 1 segment: SegRun{First:1,Frags:3} and three
// ordinary FragRun entries (First 1,2,3; 4000ms apart). This is the
// happy-path fixture reused across driver tests: IterFrags must stop
// after fragment 3 from these tables alone, with no external signal.
func buildInlineBootstrap(t *testing.T, serverBase string) []byte {
	t.Helper()
	asrt := buildAsrt(t, []SegRun{{First: 1, Frags: 3}})
	afrt := buildAfrt(t, 1000, []struct {
		First     uint32
		Timestamp uint64
		Duration  uint32
	}{
		{First: 1, Timestamp: 0, Duration: 4000},
		{First: 2, Timestamp: 4000, Duration: 4000},
		{First: 3, Timestamp: 8000, Duration: 4000},
	})

	var body bytes.Buffer
	body.WriteByte(0)
	body.Write([]byte{0, 0, 0})
	binary.Write(&body, binary.BigEndian, uint32(0))
	body.WriteByte(0)
	binary.Write(&body, binary.BigEndian, uint32(1000))
	binary.Write(&body, binary.BigEndian, uint64(0))
	binary.Write(&body, binary.BigEndian, uint64(0))
	body.WriteString("movie\x00")
	body.WriteByte(1)
	body.WriteString(serverBase + "\x00")
	body.WriteByte(0)
	body.WriteByte(0)
	body.WriteByte(0)
	body.WriteByte(1)
	body.Write(asrt)
	body.WriteByte(1)
	body.Write(afrt)

	var box bytes.Buffer
	writeBox(&box, "abst", body.Bytes())
	return box.Bytes()
}

// TestFetchEndToEndHappyPath reproduces the 3-fragment scenario: a
// bootstrap whose run tables describe exactly 3 fragments, each served
// over real HTTP. Fetch must terminate cleanly after fragment 3 with no
// synthetic end-of-stream signal from the server; the test checks three
// progress reports, three fragment requests and the FLV signature of the
// output.
func TestFetchEndToEndHappyPath(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	bootstrap := buildInlineBootstrap(t, srv.URL+"/")
	manifest := fmt.Sprintf(`<?xml version="1.0"?>
<manifest xmlns="http://ns.adobe.com/f4m/1.0">
  <duration>12.0</duration>
  <bootstrapInfo id="b0" url="">%s</bootstrapInfo>
  <media url="ignored" bitrate="500" bootstrapInfoId="b0"></media>
</manifest>`, base64.StdEncoding.EncodeToString(bootstrap))

	mux.HandleFunc("/manifest.f4m", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/f4m+xml")
		io.WriteString(w, manifest)
	})

	frag1 := buildMdatFragment(t, fragmentTags())
	frag2 := buildMdatFragment(t, [][2]interface{}{
		{&TagHeader{Type: TagAudio, Timestamp: 4000}, []byte{0xAF, 0x01, 0x33}},
		{&TagHeader{Type: TagVideo, Timestamp: 4000}, []byte{0x27, 0x01, 0x00, 0x00, 0x00}},
	})
	frag3 := buildMdatFragment(t, [][2]interface{}{
		{&TagHeader{Type: TagAudio, Timestamp: 8000}, []byte{0xAF, 0x01, 0x44}},
		{&TagHeader{Type: TagVideo, Timestamp: 8000}, []byte{0x27, 0x01, 0x00, 0x00, 0x00}},
	})
	fragmentsServed := 0
	mux.HandleFunc("/Seg1-Frag1", func(w http.ResponseWriter, r *http.Request) {
		fragmentsServed++
		w.Write(frag1)
	})
	mux.HandleFunc("/Seg1-Frag2", func(w http.ResponseWriter, r *http.Request) {
		fragmentsServed++
		w.Write(frag2)
	})
	mux.HandleFunc("/Seg1-Frag3", func(w http.ResponseWriter, r *http.Request) {
		fragmentsServed++
		w.Write(frag3)
	})

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.flv")

	var progressCalls int
	session := NewSession()
	err := Fetch(context.Background(), session, FetchOptions{
		ManifestURL: srv.URL + "/manifest.f4m",
		OutputPath:  outPath,
		OnProgress: func(p FetchProgress) {
			progressCalls++
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, progressCalls, "exactly 3 fragments must be fetched, bounded by the bootstrap tables alone")
	assert.Equal(t, 3, fragmentsServed)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "FLV"))
}
