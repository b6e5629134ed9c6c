package iview

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerVerificationComputesHMACMessage(t *testing.T) {
	key := []byte("akamai-signing-key")
	player := "swf-hash-or-player-string"
	pv := "base64data==;hdntl=exp=9999~acl=/*~data=abc~hmac=def"

	out, err := PlayerVerification(pv, player, key)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "?pvtoken="))
	parts := strings.SplitN(out[len("?"):], "&", 2)
	require.Len(t, parts, 2)

	pvtokenPart, hdntlPart := parts[0], parts[1]

	rawToken, err := url.QueryUnescape(strings.TrimPrefix(pvtokenPart, "pvtoken="))
	require.NoError(t, err)

	wantMsg := "st=0~exp=9999999999~acl=*~data=base64data==!" + player
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(wantMsg))
	wantToken := wantMsg + "~hmac=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, wantToken, rawToken)

	assert.Equal(t, urlencodeParam("hdntl=exp=9999~acl=/*~data=abc~hmac=def"), hdntlPart)
}

func TestPlayerVerificationEmptyPV(t *testing.T) {
	out, err := PlayerVerification("", "player", []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestPlayerVerificationMalformedPV(t *testing.T) {
	_, err := PlayerVerification("no-semicolon-here", "player", []byte("key"))
	assert.Error(t, err)
}

// TestPlayerVerificationFixedVector checks the output for a fixed
// (akamaiKey, player, pv) triple against a token rebuilt here with the
// same HMAC and escaping, and that two calls give byte-identical output.
func TestPlayerVerificationFixedVector(t *testing.T) {
	out, err := PlayerVerification("DATA123;hdntl=abc", "PLAYERSTR", []byte("fixed-key"))
	require.NoError(t, err)

	msg := "st=0~exp=9999999999~acl=*~data=DATA123!PLAYERSTR"
	mac := hmac.New(sha256.New, []byte("fixed-key"))
	mac.Write([]byte(msg))
	token := msg + "~hmac=" + hex.EncodeToString(mac.Sum(nil))
	want := "?pvtoken=" + url.QueryEscape(token) + "&" + urlencodeParam("hdntl=abc")

	assert.Equal(t, want, out)

	out2, err := PlayerVerification("DATA123;hdntl=abc", "PLAYERSTR", []byte("fixed-key"))
	require.NoError(t, err)
	assert.Equal(t, out, out2, "identical inputs must produce byte-identical output")
}

func TestUrlencodeParamRestrictedCharset(t *testing.T) {
	assert.Equal(t, "a+b", urlencodeParam("a b"))
	assert.Equal(t, "%25%2B%26%3B%23", urlencodeParam("%+&;#"))
	assert.Equal(t, "exp=9999~acl=/*~data=abc", urlencodeParam("exp=9999~acl=/*~data=abc"))
}

func TestDeriveSWFHash(t *testing.T) {
	hash := DeriveSWFHash([]byte("fake swf bytes"))
	want := sha256.Sum256([]byte("fake swf bytes"))
	assert.Equal(t, len(want)*2, len(hash))
}
