// Package digest computes the SHA-1 block and payload digests WARC records
// carry as WARC-Block-Digest and WARC-Payload-Digest header values.
package digest

import (
	"crypto/sha1"
	"encoding/base32"
	"hash"
	"strings"
)

// base32Encoding is RFC 4648 base32 with the uppercase alphabet and no
// padding, matching the form pywb and other WARC writers use for digests.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const algo = "sha1"

// Digester incrementally hashes bytes and produces a prefixed base32 digest
// string of the form "sha1:<BASE32>".
type Digester struct {
	h hash.Hash
}

// New returns a fresh Digester ready to accept bytes.
func New() *Digester {
	return &Digester{h: sha1.New()}
}

// Write feeds bytes into the running hash. It never returns an error.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Finalize returns the current digest as "sha1:<BASE32>". Calling it does
// not reset the underlying hash state; further writes continue accumulating.
func (d *Digester) Finalize() string {
	sum := d.h.Sum(nil)
	return algo + ":" + base32Encoding.EncodeToString(sum)
}

// Sum returns the digest of p in one call, without needing a Digester.
func Sum(p []byte) string {
	d := New()
	d.Write(p) //nolint:errcheck
	return d.Finalize()
}

// Equal reports whether s names the same digest as want, accepting either a
// bare base32 string or the "sha1:"-prefixed form on either side.
func Equal(s, want string) bool {
	return strip(s) == strip(want)
}

func strip(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
