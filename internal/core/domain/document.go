package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LogKind identifies one of the two append-only logs kept per document.
type LogKind byte

// Log kinds. The byte value is the leading byte of every stored key.
const (
	KindOperation LogKind = 'o'
	KindSnapshot  LogKind = 's'
)

// String returns the kind name.
func (k LogKind) String() string {
	switch k {
	case KindOperation:
		return "operation"
	case KindSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Valid reports whether k is a known kind.
func (k LogKind) Valid() bool {
	return k == KindOperation || k == KindSnapshot
}

// LogKey identifies one logical append-only sequence.
type LogKey struct {
	Kind       LogKind
	Collection string
	ID         string
}

// OpLogKey returns the operation log key of a document.
func OpLogKey(collection, id string) LogKey {
	return LogKey{Kind: KindOperation, Collection: collection, ID: id}
}

// SnapshotLogKey returns the snapshot log key of a document.
func SnapshotLogKey(collection, id string) LogKey {
	return LogKey{Kind: KindSnapshot, Collection: collection, ID: id}
}

// Validate checks that the key can be encoded unambiguously.
func (k LogKey) Validate() error {
	if !k.Kind.Valid() {
		return ErrInvalidKey.WithDetails("unknown log kind " + k.Kind.String())
	}
	if k.Collection == "" {
		return ErrInvalidKey.WithDetails("collection is required")
	}
	if k.ID == "" {
		return ErrInvalidKey.WithDetails("document id is required")
	}
	if strings.IndexByte(k.Collection, 0) >= 0 || strings.IndexByte(k.ID, 0) >= 0 {
		return ErrInvalidKey.WithDetails("collection and id must not contain NUL")
	}
	return nil
}

// String returns a human-readable form of the key.
func (k LogKey) String() string {
	return k.Kind.String() + ":" + k.Collection + "/" + k.ID
}

// MetadataField is the name of the metadata field carried by ops and snapshots.
const MetadataField = "m"

// Op is a single mutation as supplied by the caller, stored verbatim.
//
// Fields are kept as raw JSON so that unknown op shapes round-trip
// untouched.
type Op map[string]json.RawMessage

// NewMissingOp returns the placeholder for a version with no stored op.
func NewMissingOp(id string) Op {
	rawID, _ := json.Marshal(id)
	return Op{
		"id":   rawID,
		"v":    json.RawMessage("0"),
		"type": json.RawMessage("null"),
	}
}

// Metadata returns the raw metadata field, or nil.
func (o Op) Metadata() json.RawMessage {
	return o[MetadataField]
}

// WithoutMetadata returns a copy of the op without the metadata field.
func (o Op) WithoutMetadata() Op {
	if _, ok := o[MetadataField]; !ok {
		return o
	}
	out := make(Op, len(o))
	for k, v := range o {
		if k != MetadataField {
			out[k] = v
		}
	}
	return out
}

// Source returns the op's src and seq fields, used to identify a client
// submission. ok is false if either is absent or malformed.
func (o Op) Source() (src string, seq uint64, ok bool) {
	rawSrc, hasSrc := o["src"]
	rawSeq, hasSeq := o["seq"]
	if !hasSrc || !hasSeq {
		return "", 0, false
	}
	if json.Unmarshal(rawSrc, &src) != nil || json.Unmarshal(rawSeq, &seq) != nil {
		return "", 0, false
	}
	return src, seq, true
}

// Snapshot is the materialized state of a document at version V.
//
// An empty Type encodes as JSON null and, together with V == 0, marks a
// document that has never been created.
type Snapshot struct {
	ID   string
	Type string
	Data json.RawMessage
	M    json.RawMessage
	V    uint64
}

// NewMissingSnapshot returns the snapshot of a never-created document.
func NewMissingSnapshot(id string) *Snapshot {
	return &Snapshot{ID: id}
}

// Exists reports whether the snapshot describes a created document.
func (s *Snapshot) Exists() bool {
	return s != nil && s.V > 0 && s.Type != ""
}

// WithoutMetadata returns a copy of the snapshot with M cleared.
func (s *Snapshot) WithoutMetadata() *Snapshot {
	c := *s
	c.M = nil
	return &c
}

type snapshotJSON struct {
	ID   string          `json:"id"`
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	M    json.RawMessage `json:"m,omitempty"`
	V    uint64          `json:"v"`
}

// MarshalJSON encodes the snapshot, writing an empty Type as null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{ID: s.ID, Data: s.Data, M: s.M, V: s.V}
	if s.Type != "" {
		t := s.Type
		out.Type = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the snapshot, mapping a null type to "".
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = Snapshot{ID: in.ID, Data: in.Data, M: in.M, V: in.V}
	if in.Type != nil {
		s.Type = *in.Type
	}
	return nil
}
