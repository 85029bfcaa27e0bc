package fritzbox

import (
	"fmt"
	"strings"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
)

// SID is a router session identifier: 16 hexadecimal characters.
type SID string

// InvalidSID is the all-zero session id the router uses for "not logged in".
const InvalidSID SID = "0000000000000000"

const sidLength = 16

// Valid reports whether s is a well-formed, non-zero session id.
func (s SID) Valid() bool {
	return s != InvalidSID && wellFormed(string(s))
}

func (s SID) String() string {
	return string(s)
}

// ParseSID validates raw as a session id. The all-zero id parses successfully.
func ParseSID(raw string) (SID, error) {
	raw = strings.TrimSpace(raw)
	if !wellFormed(raw) {
		return InvalidSID, fmt.Errorf("%w: session id %q is not %d hex characters", fmerrors.ErrProtocolViolation, raw, sidLength)
	}
	return SID(strings.ToLower(raw)), nil
}

func wellFormed(raw string) bool {
	if len(raw) != sidLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
