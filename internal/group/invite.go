package group

import (
	"crypto/rand"
	"fmt"
)

// inviteAlphabet avoids look-alike characters so codes survive being read
// aloud or typed from a screenshot.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const inviteLength = 8

// newInviteCode returns a fresh opaque code drawn from crypto/rand.
func newInviteCode() (string, error) {
	buf := make([]byte, inviteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("drawing invite code: %w", err)
	}
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf), nil
}
