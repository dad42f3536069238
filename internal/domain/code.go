package domain

import "crypto/rand"

// codeAlphabet avoids the ambiguous glyphs I, L, O, 0 and 1 so codes survive
// being read off a projector.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the length of a session join code.
const CodeLength = 6

// NewJoinCode returns a random join code. Uniqueness among non-completed
// sessions is enforced by the session store, not here.
func NewJoinCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i := range buf {
		out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(out), nil
}
