package store

import "fmt"

// MissingDatasetError reports a required dataset absent from a store.
type MissingDatasetError struct {
	Path string
	Name string
}

func (e *MissingDatasetError) Error() string {
	return fmt.Sprintf("dataset %q not found in %s", e.Name, e.Path)
}

// IndexOutOfRangeError reports an index outside [0, Len). Reads from a store
// set Path and Name; sample providers leave them empty.
type IndexOutOfRangeError struct {
	Path  string
	Name  string
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("sample index %d out of range [0, %d)", e.Index, e.Len)
	}
	return fmt.Sprintf("index %d out of range [0, %d) for dataset %q in %s", e.Index, e.Len, e.Name, e.Path)
}
