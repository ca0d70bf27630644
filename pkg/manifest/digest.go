// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DigestSize is the length in bytes of every digest a manifest records.
const DigestSize = sha256.Size

// Digest is a SHA-256 digest. Its canonical text form is uppercase hex with
// no separators; ParseDigest accepts either case.
type Digest []byte

// ParseDigest decodes a hex-encoded SHA-256 digest.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed sha256 %q: %w", s, err)
	}
	if len(raw) != DigestSize {
		return nil, fmt.Errorf("sha256 %q has %d bytes, want %d", s, len(raw), DigestSize)
	}
	return Digest(raw), nil
}

// String returns the canonical uppercase hex encoding.
func (d Digest) String() string {
	return strings.ToUpper(hex.EncodeToString(d))
}

// IsZero reports whether no digest is recorded.
func (d Digest) IsZero() bool { return len(d) == 0 }

// Equal compares two digests byte for byte.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d, other)
}

// Clone returns an independent copy of d.
func (d Digest) Clone() Digest {
	if d == nil {
		return nil
	}
	return bytes.Clone(d)
}
