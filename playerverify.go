package iview

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// valueUnsafe is the set of bytes urlencodeParam escapes: Akamai's hdntl
// parameter only needs "%+&;#" protected, unlike a standard query-string
// value. Ported from iview/utils.py's VALUE_SAFE/value_unsafe table.
const valueUnsafe = "%+&;#"

// urlencodeParam percent-encodes s the way Akamai's hdntl parameter
// expects: every printable, non-space ASCII byte passes through
// unescaped except those in valueUnsafe; a space becomes '+'; anything
// outside printable ASCII is percent-encoded. This is narrower escaping
// than url.QueryEscape, which is why pvtoken and hdntl use two different
// encoders below.
func urlencodeParam(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			b.WriteByte('+')
		case c >= 33 && c <= 126 && !strings.ContainsRune(valueUnsafe, rune(c)):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// PlayerVerification derives the "?pvtoken=...&hdntl=..." query-string
// suffix an Akamai HD Network fragment request must carry, from the
// manifest's pv-2.0 field ("<data>;<hdntl>"), the player string sent on
// every request of this presentation, and the presentation's static
// Akamai signing key. It returns "" if pv is empty (the presentation
// does not require player verification).
func PlayerVerification(pv, player string, akamaiKey []byte) (string, error) {
	if pv == "" {
		return "", nil
	}
	parts := strings.SplitN(pv, ";", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed pv-2.0 field %q: %w", pv, ErrResumeMismatch)
	}
	data, hdntl := parts[0], parts[1]

	msg := "st=0~exp=9999999999~acl=*~data=" + data + "!" + player
	mac := hmac.New(sha256.New, akamaiKey)
	mac.Write([]byte(msg))
	token := msg + "~hmac=" + hex.EncodeToString(mac.Sum(nil))

	return "?pvtoken=" + url.QueryEscape(token) + "&" + urlencodeParam(hdntl), nil
}

// DeriveSWFHash computes the SHA-256 digest of an SWF player file's raw
// bytes, formatted as lowercase hex, for use as the "player" argument to
// PlayerVerification when a presentation's AkamaiHDPlayer is not
// otherwise configured.
func DeriveSWFHash(swf []byte) string {
	sum := sha256.Sum256(swf)
	return fmt.Sprintf("%x", sum)
}
