package vlog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/yndnr/oplog-go/internal/core/domain"
)

// Key layout:
//
//	<kind byte> <collection> 0x00 <id> 0x00 <version uint64 big-endian>
//
// The NUL terminators keep one log's prefix from being a prefix of
// another's ("a" vs "ab"), and big-endian versions sort numerically.
const (
	keySep     = 0x00
	versionLen = 8
)

// logPrefix returns the key prefix shared by every entry of key.
func logPrefix(key domain.LogKey) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	p := make([]byte, 0, 1+len(key.Collection)+1+len(key.ID)+1+versionLen)
	p = append(p, byte(key.Kind))
	p = append(p, key.Collection...)
	p = append(p, keySep)
	p = append(p, key.ID...)
	p = append(p, keySep)
	return p, nil
}

// kindPrefix returns the prefix shared by every log of one kind.
func kindPrefix(kind domain.LogKind) []byte {
	return []byte{byte(kind)}
}

// entryKey appends version to a log prefix.
func entryKey(prefix []byte, version uint64) []byte {
	k := make([]byte, len(prefix)+versionLen)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], version)
	return k
}

// splitEntryKey separates a stored key into its log prefix and version.
func splitEntryKey(k []byte) (prefix []byte, version uint64, err error) {
	if len(k) < 1+1+1+1+1+versionLen {
		return nil, 0, fmt.Errorf("vlog: entry key too short (%d bytes)", len(k))
	}
	n := len(k) - versionLen
	if k[n-1] != keySep {
		return nil, 0, fmt.Errorf("vlog: malformed entry key %q", k)
	}
	return k[:n], binary.BigEndian.Uint64(k[n:]), nil
}

// parsePrefix decodes a log prefix back into its LogKey.
func parsePrefix(p []byte) (domain.LogKey, error) {
	if len(p) < 5 || p[len(p)-1] != keySep {
		return domain.LogKey{}, fmt.Errorf("vlog: malformed log prefix %q", p)
	}
	body := p[1 : len(p)-1]
	i := bytes.IndexByte(body, keySep)
	if i <= 0 || i == len(body)-1 {
		return domain.LogKey{}, fmt.Errorf("vlog: malformed log prefix %q", p)
	}
	return domain.LogKey{
		Kind:       domain.LogKind(p[0]),
		Collection: string(body[:i]),
		ID:         string(body[i+1:]),
	}, nil
}
