// Package attr holds small helpers shared by packages that need to mint
// stanza identifiers but would otherwise have no common home for them.
package attr

import (
	"crypto/rand"
	"fmt"
	"io"
)

// IDLen is the length, in hexadecimal characters, of a generated stanza
// identifier.
const IDLen = 16

// RandomID generates a new random identifier of length IDLen, suitable for
// use as a stanza id='' attribute. It panics if the system entropy source
// is unavailable.
func RandomID() string {
	return randomID(IDLen, rand.Reader)
}

// RandomLen is like RandomID but with a configurable length.
func RandomLen(n int) string {
	return randomID(n, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n/2)+(n&1))
	switch c, err := r.Read(b); {
	case err != nil:
		panic(err)
	case c != len(b):
		panic("attr: could not read enough randomness")
	}
	return fmt.Sprintf("%x", b)[:n]
}
