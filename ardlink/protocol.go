package ardlink

import "strings"

// Wire protocol control lines. Lines are compared after trimming, so the
// literals carry no newline terminator.
const (
	// ChallengeLine is sent by the host to request the device's identity.
	ChallengeLine = "Send your username:"

	// AuthSuccessLine is sent by the host to grant trust after the claimed
	// identity matched.
	AuthSuccessLine = "AUTH_SUCCESS"

	// AuthConfirmLine is sent by the device to confirm handshake completion.
	AuthConfirmLine = "Authentication confirmed"
)

// controlLines lists every reserved wire literal. An identity colliding with
// any of them would be indistinguishable from protocol control flow, so such
// identities are rejected at configuration time.
var controlLines = []string{ChallengeLine, AuthSuccessLine, AuthConfirmLine}

// TrimLine strips leading and trailing whitespace from a received line.
// Lines are always trimmed before interpretation; no sub-line framing exists.
func TrimLine(line string) string {
	return strings.TrimSpace(line)
}

// ValidateIdentity reports whether identity is usable as the shared identity
// string.
//
// An identity must be non-empty after trimming, must fit on a single line,
// and must not collide with any protocol control literal. Violations return
// ErrReservedIdentity.
func ValidateIdentity(identity string) error {
	if TrimLine(identity) == "" {
		return ErrReservedIdentity
	}

	if strings.ContainsAny(identity, "\r\n") {
		return ErrReservedIdentity
	}

	for _, reserved := range controlLines {
		if identity == reserved {
			return ErrReservedIdentity
		}
	}

	return nil
}
