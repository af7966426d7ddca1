package transfer

import (
	"fmt"
	"strings"
)

const sessionPrefix = "download"
const sessionSep = "::"

// SessionIdentifier names one account's background transfer session. The
// wire format is exactly "download::<accountID>::<bundleIdentifier>"; hosts
// use it to re-attach the engine to a session across process restarts, so
// the encoding is stable and the decoder rejects anything that does not
// round-trip unambiguously.
type SessionIdentifier struct {
	AccountID        string
	BundleIdentifier string
}

// Encode renders id as the wire-format session identifier string.
func (id SessionIdentifier) Encode() string {
	return strings.Join([]string{sessionPrefix, id.AccountID, id.BundleIdentifier}, sessionSep)
}

// ParseSessionIdentifier decodes a session identifier string, rejecting
// anything that does not split into exactly the three expected components
// with no component empty.
func ParseSessionIdentifier(s string) (SessionIdentifier, bool) {
	parts := strings.Split(s, sessionSep)
	if len(parts) != 3 {
		return SessionIdentifier{}, false
	}
	if parts[0] != sessionPrefix {
		return SessionIdentifier{}, false
	}
	if parts[1] == "" || parts[2] == "" {
		return SessionIdentifier{}, false
	}
	return SessionIdentifier{AccountID: parts[1], BundleIdentifier: parts[2]}, true
}

func (id SessionIdentifier) String() string {
	return fmt.Sprintf("download::%s::%s", id.AccountID, id.BundleIdentifier)
}
