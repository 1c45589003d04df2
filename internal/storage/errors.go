package storage

import "fmt"

// MissingReferenceError indicates an annotation or mapping that targets
// an object ID not present in the store.
type MissingReferenceError struct {
	ID string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("referenced object %s does not exist", e.ID)
}

// DataIntegrityError indicates a delete that would orphan dependent
// rows.
type DataIntegrityError struct {
	ID     string
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("cannot delete %s: %s", e.ID, e.Detail)
}

// InvalidSearchParamsError indicates a malformed search range.
type InvalidSearchParamsError struct {
	Start int64
	End   int64
}

func (e *InvalidSearchParamsError) Error() string {
	return fmt.Sprintf("invalid search range [%d, %d]: start must be >= 0 and <= end", e.Start, e.End)
}
