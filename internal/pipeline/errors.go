package pipeline

import "fmt"

// StructuralError marks a batch-level malformation: the response is not a
// sequence of objects, or no element survived validation. The run aborts
// before any persistence or alert evaluation.
type StructuralError struct {
	Reason string
	Cause  error
}

func (e *StructuralError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("structural validation failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("structural validation failed: %s", e.Reason)
}

func (e *StructuralError) Unwrap() error { return e.Cause }

// FieldError marks one rejected element. The element is dropped and the
// rest of the batch continues.
type FieldError struct {
	CoinID string
	Index  int
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	id := e.CoinID
	if id == "" {
		id = fmt.Sprintf("element %d", e.Index)
	}
	return fmt.Sprintf("invalid record %s: field %s %s", id, e.Field, e.Reason)
}

// TransformError marks a type-coercion failure while normalising a
// validated batch. It indicates a contract mismatch upstream and aborts
// the run.
type TransformError struct {
	CoinID string
	Field  string
	Cause  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s field %s: %v", e.CoinID, e.Field, e.Cause)
}

func (e *TransformError) Unwrap() error { return e.Cause }
