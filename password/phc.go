package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned for stored hashes that are neither a
// canonical argon2id PHC string nor bcrypt.
var ErrMalformedHash = errors.New("malformed password hash")

const phcAlgorithm = "argon2id"

var phcB64 = base64.StdEncoding

// phcHash is the decoded form of
// $argon2id$v=19$m=<kb>,t=<passes>,p=<lanes>$<salt>$<key>.
type phcHash struct {
	memory  uint32
	passes  uint32
	lanes   uint8
	salt    []byte
	derived []byte
}

func (h phcHash) costs() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.passes, h.lanes)
}

func (h phcHash) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$%s$v=%d$%s$", phcAlgorithm, argon2.Version, h.costs())
	b.WriteString(phcB64.EncodeToString(h.salt))
	b.WriteByte('$')
	b.WriteString(phcB64.EncodeToString(h.derived))
	return b.String()
}

func (h phcHash) derive(password string) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.passes, h.memory, h.lanes, uint32(len(h.derived)))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, fmt.Sprintf(format, args...))
}

// decodePHC parses s and rejects anything that would not re-encode to the
// same cost segment, so "m=65536,t=3,p=2" is the only spelling accepted.
func decodePHC(s string) (phcHash, error) {
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phcHash{}, malformed("expected 5 segments")
	}
	if fields[1] != phcAlgorithm {
		return phcHash{}, malformed("algorithm %q", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phcHash{}, malformed("version segment %q", fields[2])
	}
	if version != argon2.Version {
		return phcHash{}, malformed("argon2 version %d", version)
	}

	var h phcHash
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.passes, &h.lanes); err != nil || h.costs() != fields[3] {
		return phcHash{}, malformed("cost segment %q", fields[3])
	}
	if h.memory < minMemoryKB || h.passes < minTimeCost || h.lanes < minParallelism {
		return phcHash{}, malformed("costs below floor")
	}

	var err error
	if h.salt, err = phcB64.DecodeString(fields[4]); err != nil || len(h.salt) < int(minSaltLength) {
		return phcHash{}, malformed("salt")
	}
	if h.derived, err = phcB64.DecodeString(fields[5]); err != nil || len(h.derived) == 0 {
		return phcHash{}, malformed("derived key")
	}
	return h, nil
}
