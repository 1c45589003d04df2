package vrs

// Decompose splits a variation into the dependency-ordered tuple the
// storage layer persists: its sequence reference, its location, and the
// variation itself. The variation must be fully identified.
func Decompose(v Variation) (*SequenceReference, *SequenceLocation, Variation, error) {
	loc := v.GetLocation()
	if loc == nil {
		return nil, nil, nil, &IncompleteObjectError{Type: v.ObjectType(), Reason: "missing location"}
	}
	if loc.SequenceReference == nil || loc.SequenceReference.RefgetAccession == "" {
		return nil, nil, nil, &IncompleteObjectError{
			Type:   v.ObjectType(),
			Reason: "location missing sequence reference",
		}
	}
	if v.GetID() == "" || loc.ID == "" {
		return nil, nil, nil, &IncompleteObjectError{
			Type:   v.ObjectType(),
			Reason: "missing id fields; call RecursiveIdentify first",
		}
	}
	return loc.SequenceReference, loc, v, nil
}

// Compose reattaches a location and reference to a variation, inverting
// Decompose.
func Compose(ref *SequenceReference, loc *SequenceLocation, v Variation) Variation {
	if loc != nil && ref != nil {
		loc.SequenceReference = ref
	}
	switch o := v.(type) {
	case *Allele:
		o.Location = loc
	case *CopyNumberCount:
		o.Location = loc
	case *CopyNumberChange:
		o.Location = loc
	}
	return v
}
