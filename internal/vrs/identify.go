package vrs

import "fmt"

// prefixFor returns the digest ID prefix for an identifiable type tag.
func prefixFor(typeTag string) (string, bool) {
	switch typeTag {
	case TypeAllele:
		return PrefixAllele, true
	case TypeCopyNumberCount:
		return PrefixCopyNumberCount, true
	case TypeCopyNumberChange:
		return PrefixCopyNumberChange, true
	case TypeSequenceLocation:
		return PrefixSequenceLocation, true
	default:
		return "", false
	}
}

// MakeID builds the full "ga4gh:<prefix>.<digest>" identifier.
func MakeID(typeTag, digest string) (string, error) {
	prefix, ok := prefixFor(typeTag)
	if !ok {
		return "", fmt.Errorf("type %q is not identifiable", typeTag)
	}
	return "ga4gh:" + prefix + "." + digest, nil
}

// RecursiveIdentify fills in missing digest and id fields on the object
// and any identifiable sub-objects, bottom-up. It is idempotent: digest
// and id are recomputed from content, so calling it twice is a no-op,
// and Digest(RecursiveIdentify(x)) always equals the suffix of x's id.
func RecursiveIdentify(obj Object) error {
	switch o := obj.(type) {
	case *SequenceReference:
		if o.RefgetAccession == "" {
			return &IncompleteObjectError{Type: TypeSequenceReference, Reason: "missing refget accession"}
		}
		o.Type = TypeSequenceReference
		return nil
	case *SequenceLocation:
		return identifyLocation(o)
	case *Allele:
		if err := identifyLocation(o.Location); err != nil {
			return err
		}
		o.Type = TypeAllele
		return assignIdentity(o, &o.Digest, &o.ID)
	case *CopyNumberCount:
		if err := identifyLocation(o.Location); err != nil {
			return err
		}
		o.Type = TypeCopyNumberCount
		return assignIdentity(o, &o.Digest, &o.ID)
	case *CopyNumberChange:
		if err := identifyLocation(o.Location); err != nil {
			return err
		}
		o.Type = TypeCopyNumberChange
		return assignIdentity(o, &o.Digest, &o.ID)
	default:
		return fmt.Errorf("cannot identify object of type %T", obj)
	}
}

func identifyLocation(l *SequenceLocation) error {
	if l == nil {
		return &IncompleteObjectError{Type: TypeSequenceLocation, Reason: "missing location"}
	}
	if l.SequenceReference != nil {
		l.SequenceReference.Type = TypeSequenceReference
	}
	l.Type = TypeSequenceLocation
	return assignIdentity(l, &l.Digest, &l.ID)
}

func assignIdentity(obj Object, digest *string, id *string) error {
	d, err := Digest(obj)
	if err != nil {
		return err
	}
	*digest = d
	full, err := MakeID(obj.ObjectType(), d)
	if err != nil {
		return err
	}
	*id = full
	return nil
}
