package vlog

import (
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/pkg/crypto/adaptive"
)

// Envelope field numbers.
const (
	fieldPayload     protowire.Number = 1
	fieldCommittedAt protowire.Number = 2
	fieldEntryID     protowire.Number = 3
	fieldFlags       protowire.Number = 4
)

const flagEncrypted uint64 = 1 << 0

// Entry is one stored record of a versioned log.
type Entry struct {
	// Version is the position of the entry in its log (1-based).
	Version uint64

	// Payload is the caller's value (plaintext).
	Payload []byte

	// CommittedAt is when the batch containing the entry was written.
	CommittedAt time.Time

	// ID is shared by every entry written in the same Update.
	ID ulid.ULID
}

// codec wraps payloads in the on-disk envelope.
//
// When a cipher is configured the payload is sealed with the full entry
// key as additional data, so a ciphertext only opens at its own position.
type codec struct {
	cipher adaptive.Cipher
}

func (c codec) encode(key []byte, e *Entry) ([]byte, error) {
	payload := e.Payload
	var flags uint64
	if c.cipher != nil {
		sealed, err := c.cipher.Encrypt(payload, key)
		if err != nil {
			return nil, err
		}
		payload = sealed
		flags |= flagEncrypted
	}

	b := make([]byte, 0, len(payload)+48)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, fieldCommittedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.CommittedAt.UnixMilli()))
	b = protowire.AppendTag(b, fieldEntryID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ID[:])
	if flags != 0 {
		b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, flags)
	}
	return b, nil
}

func (c codec) decode(key, b []byte, version uint64) (Entry, error) {
	e := Entry{Version: version}
	var (
		payload []byte
		flags   uint64
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Entry{}, corrupt(key, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Entry{}, corrupt(key, protowire.ParseError(n))
			}
			payload = v
			b = b[n:]
		case num == fieldCommittedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Entry{}, corrupt(key, protowire.ParseError(n))
			}
			e.CommittedAt = time.UnixMilli(int64(v))
			b = b[n:]
		case num == fieldEntryID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Entry{}, corrupt(key, protowire.ParseError(n))
			}
			if len(v) != len(e.ID) {
				return Entry{}, corrupt(key, nil)
			}
			copy(e.ID[:], v)
			b = b[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Entry{}, corrupt(key, protowire.ParseError(n))
			}
			flags = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Entry{}, corrupt(key, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if flags&flagEncrypted != 0 {
		if c.cipher == nil {
			return Entry{}, domain.ErrCorruptEntry.WithDetails("entry is encrypted but no key is configured")
		}
		plain, err := c.cipher.Decrypt(payload, key)
		if err != nil {
			return Entry{}, corrupt(key, err)
		}
		payload = plain
	}

	e.Payload = payload
	return e, nil
}

func corrupt(key []byte, cause error) error {
	err := domain.ErrCorruptEntry.WithDetails(describeKey(key))
	if cause != nil {
		return err.Wrap(cause)
	}
	return err
}

func describeKey(key []byte) string {
	prefix, version, err := splitEntryKey(key)
	if err != nil {
		return "unparseable key"
	}
	lk, err := parsePrefix(prefix)
	if err != nil {
		return "unparseable key"
	}
	return lk.String() + "@" + formatVersion(version)
}
