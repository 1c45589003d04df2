package vrs

import (
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// IncompleteObjectError indicates a VRS object missing the fully
// materialized fields required for identification or storage.
type IncompleteObjectError struct {
	Type   string
	Reason string
}

func (e *IncompleteObjectError) Error() string {
	return fmt.Sprintf("incomplete %s: %s", e.Type, e.Reason)
}

// sha512t24u computes the GA4GH truncated digest: SHA-512 over the
// blob, truncated to 24 bytes, urlsafe base64 without padding.
func sha512t24u(blob []byte) string {
	sum := sha512.Sum512(blob)
	return base64.RawURLEncoding.EncodeToString(sum[:24])
}

// kv is one entry of a digest serialization; entries are written in the
// order given, which must be the sorted key order.
type kv struct {
	k string
	v any
}

// canonicalJSON renders the pairs as canonical JSON: sorted keys (the
// caller supplies them pre-sorted), no insignificant whitespace.
func canonicalJSON(pairs []kv) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(p.v)
		if err != nil {
			return nil, fmt.Errorf("serialize %q: %w", p.k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Digest computes the canonical GA4GH digest of a VRS object. Nested
// identifiable objects are replaced by their own digests; the
// non-identifiable sequence reference is inlined as an object.
// SequenceReferences themselves are not digest-identified.
func Digest(obj Object) (string, error) {
	blob, err := digestSerialize(obj)
	if err != nil {
		return "", err
	}
	return sha512t24u(blob), nil
}

func digestSerialize(obj Object) ([]byte, error) {
	switch o := obj.(type) {
	case *SequenceLocation:
		return serializeLocation(o)
	case *Allele:
		locDigest, err := locationDigest(o.Location, TypeAllele)
		if err != nil {
			return nil, err
		}
		if o.State == nil {
			return nil, &IncompleteObjectError{Type: TypeAllele, Reason: "missing state"}
		}
		state, err := serializeState(o.State)
		if err != nil {
			return nil, err
		}
		return canonicalJSON([]kv{
			{"location", locDigest},
			{"state", json.RawMessage(state)},
			{"type", TypeAllele},
		})
	case *CopyNumberCount:
		locDigest, err := locationDigest(o.Location, TypeCopyNumberCount)
		if err != nil {
			return nil, err
		}
		if o.Copies == nil {
			return nil, &IncompleteObjectError{Type: TypeCopyNumberCount, Reason: "missing copies"}
		}
		return canonicalJSON([]kv{
			{"copies", o.Copies},
			{"location", locDigest},
			{"type", TypeCopyNumberCount},
		})
	case *CopyNumberChange:
		locDigest, err := locationDigest(o.Location, TypeCopyNumberChange)
		if err != nil {
			return nil, err
		}
		if o.CopyChange == "" {
			return nil, &IncompleteObjectError{Type: TypeCopyNumberChange, Reason: "missing copyChange"}
		}
		return canonicalJSON([]kv{
			{"copyChange", o.CopyChange},
			{"location", locDigest},
			{"type", TypeCopyNumberChange},
		})
	case *SequenceReference:
		return nil, fmt.Errorf("%s is not digest-identified", TypeSequenceReference)
	default:
		return nil, fmt.Errorf("cannot digest object of type %T", obj)
	}
}

func serializeLocation(l *SequenceLocation) ([]byte, error) {
	if l.SequenceReference == nil || l.SequenceReference.RefgetAccession == "" {
		return nil, &IncompleteObjectError{
			Type:   TypeSequenceLocation,
			Reason: "missing sequence reference accession",
		}
	}
	ref, err := canonicalJSON([]kv{
		{"refgetAccession", l.SequenceReference.RefgetAccession},
		{"type", TypeSequenceReference},
	})
	if err != nil {
		return nil, err
	}
	pairs := make([]kv, 0, 4)
	if l.End != nil {
		pairs = append(pairs, kv{"end", l.End})
	}
	pairs = append(pairs, kv{"sequenceReference", json.RawMessage(ref)})
	if l.Start != nil {
		pairs = append(pairs, kv{"start", l.Start})
	}
	pairs = append(pairs, kv{"type", TypeSequenceLocation})
	return canonicalJSON(pairs)
}

func serializeState(s *State) ([]byte, error) {
	switch s.Type {
	case StateLiteral:
		return canonicalJSON([]kv{
			{"sequence", s.Sequence},
			{"type", s.Type},
		})
	case StateReferenceLength:
		if s.Length == nil || s.RepeatSubunitLength == nil {
			return nil, &IncompleteObjectError{Type: s.Type, Reason: "missing length fields"}
		}
		return canonicalJSON([]kv{
			{"length", s.Length},
			{"repeatSubunitLength", *s.RepeatSubunitLength},
			{"type", s.Type},
		})
	case StateLength:
		if s.Length == nil {
			return nil, &IncompleteObjectError{Type: s.Type, Reason: "missing length"}
		}
		return canonicalJSON([]kv{
			{"length", s.Length},
			{"type", s.Type},
		})
	default:
		return nil, fmt.Errorf("unknown state type %q", s.Type)
	}
}

// locationDigest returns the digest of a variation's location,
// computing it when not already assigned.
func locationDigest(l *SequenceLocation, owner string) (string, error) {
	if l == nil {
		return "", &IncompleteObjectError{Type: owner, Reason: "missing location"}
	}
	if l.Digest != "" {
		return l.Digest, nil
	}
	return Digest(l)
}
