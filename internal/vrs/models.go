// Package vrs implements the GA4GH VRS 2.0 object model used by the
// registry: variations (Allele, CopyNumberCount, CopyNumberChange),
// sequence locations and references, digest-based identity, and the
// relational decomposition used by the storage layer.
package vrs

import (
	"encoding/json"
	"fmt"
)

// VRS type tags as they appear in the JSON "type" discriminator.
const (
	TypeAllele            = "Allele"
	TypeCopyNumberCount   = "CopyNumberCount"
	TypeCopyNumberChange  = "CopyNumberChange"
	TypeSequenceLocation  = "SequenceLocation"
	TypeSequenceReference = "SequenceReference"
)

// Digest ID prefixes per type.
const (
	PrefixAllele           = "VA"
	PrefixCopyNumberCount  = "CN"
	PrefixCopyNumberChange = "CX"
	PrefixSequenceLocation = "SL"
)

// Object is the sealed union of storable VRS entities.
type Object interface {
	ObjectType() string
	GetID() string
	sealedObject()
}

// Variation is the subset of objects that carry a SequenceLocation.
type Variation interface {
	Object
	GetLocation() *SequenceLocation
}

// SequenceReference identifies a reference sequence by refget accession
// (e.g. "SQ.F-LrLMe1SRpfUZHkQmvkVKFEGaoDeHul"). Immutable once stored.
type SequenceReference struct {
	Type            string `json:"type"`
	RefgetAccession string `json:"refgetAccession"`
	MoleculeType    string `json:"moleculeType,omitempty"`
}

// ObjectType returns the VRS type tag.
func (r *SequenceReference) ObjectType() string { return TypeSequenceReference }

// GetID returns the refget accession, which serves as the identity.
func (r *SequenceReference) GetID() string { return r.RefgetAccession }

func (r *SequenceReference) sealedObject() {}

// SequenceLocation is an interresidue interval on a sequence reference.
// Start and End are each either a definite integer or a half-bounded range.
type SequenceLocation struct {
	ID                string             `json:"id,omitempty"`
	Type              string             `json:"type"`
	Digest            string             `json:"digest,omitempty"`
	SequenceReference *SequenceReference `json:"sequenceReference,omitempty"`
	Start             *Coordinate        `json:"start,omitempty"`
	End               *Coordinate        `json:"end,omitempty"`
}

// ObjectType returns the VRS type tag.
func (l *SequenceLocation) ObjectType() string { return TypeSequenceLocation }

// GetID returns the digest-based identifier, if assigned.
func (l *SequenceLocation) GetID() string { return l.ID }

func (l *SequenceLocation) sealedObject() {}

// Sequence-expression type tags for Allele state.
const (
	StateLiteral         = "LiteralSequenceExpression"
	StateReferenceLength = "ReferenceLengthExpression"
	StateLength          = "LengthExpression"
)

// State is an Allele's sequence expression: a literal sequence, a
// reference-length expression, or a bare length expression,
// discriminated by Type.
type State struct {
	Type                string      `json:"type"`
	Sequence            string      `json:"sequence,omitempty"`
	Length              *Coordinate `json:"length,omitempty"`
	RepeatSubunitLength *int64      `json:"repeatSubunitLength,omitempty"`
}

// Allele is a variation defined by a location and a state.
type Allele struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	Digest   string            `json:"digest,omitempty"`
	Location *SequenceLocation `json:"location,omitempty"`
	State    *State            `json:"state,omitempty"`
}

// ObjectType returns the VRS type tag.
func (a *Allele) ObjectType() string { return TypeAllele }

// GetID returns the digest-based identifier, if assigned.
func (a *Allele) GetID() string { return a.ID }

// GetLocation returns the allele's sequence location.
func (a *Allele) GetLocation() *SequenceLocation { return a.Location }

func (a *Allele) sealedObject() {}

// CopyNumberCount expresses an absolute copy count at a location.
type CopyNumberCount struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	Digest   string            `json:"digest,omitempty"`
	Location *SequenceLocation `json:"location,omitempty"`
	Copies   *Coordinate       `json:"copies,omitempty"`
}

// ObjectType returns the VRS type tag.
func (c *CopyNumberCount) ObjectType() string { return TypeCopyNumberCount }

// GetID returns the digest-based identifier, if assigned.
func (c *CopyNumberCount) GetID() string { return c.ID }

// GetLocation returns the variation's sequence location.
func (c *CopyNumberCount) GetLocation() *SequenceLocation { return c.Location }

func (c *CopyNumberCount) sealedObject() {}

// CopyNumberChange expresses a relative copy change (an EFO term) at a
// location.
type CopyNumberChange struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Digest     string            `json:"digest,omitempty"`
	Location   *SequenceLocation `json:"location,omitempty"`
	CopyChange string            `json:"copyChange,omitempty"`
}

// ObjectType returns the VRS type tag.
func (c *CopyNumberChange) ObjectType() string { return TypeCopyNumberChange }

// GetID returns the digest-based identifier, if assigned.
func (c *CopyNumberChange) GetID() string { return c.ID }

// GetLocation returns the variation's sequence location.
func (c *CopyNumberChange) GetLocation() *SequenceLocation { return c.Location }

func (c *CopyNumberChange) sealedObject() {}

// FromJSON rehydrates an Object from its JSON form, dispatching on the
// "type" discriminator.
func FromJSON(data []byte) (Object, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("probe vrs object type: %w", err)
	}

	var obj Object
	switch probe.Type {
	case TypeAllele:
		obj = &Allele{}
	case TypeCopyNumberCount:
		obj = &CopyNumberCount{}
	case TypeCopyNumberChange:
		obj = &CopyNumberChange{}
	case TypeSequenceLocation:
		obj = &SequenceLocation{}
	case TypeSequenceReference:
		obj = &SequenceReference{}
	default:
		return nil, fmt.Errorf("unknown vrs object type %q", probe.Type)
	}

	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", probe.Type, err)
	}
	return obj, nil
}

// NewVariation returns an empty variation value for the given type tag.
func NewVariation(typeTag string) (Variation, error) {
	switch typeTag {
	case TypeAllele:
		return &Allele{Type: TypeAllele}, nil
	case TypeCopyNumberCount:
		return &CopyNumberCount{Type: TypeCopyNumberCount}, nil
	case TypeCopyNumberChange:
		return &CopyNumberChange{Type: TypeCopyNumberChange}, nil
	default:
		return nil, fmt.Errorf("unknown variation type %q", typeTag)
	}
}
