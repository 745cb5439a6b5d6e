// Package ksbinerr defines the typed error kinds returned across the ksbin
// packages. Each kind carries the offending identifier (a field name,
// trixel id, path, or byte offset) so callers don't need to parse messages.
package ksbinerr

import "fmt"

// SchemaError reports a problem with a field or schema definition.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: field %q: %s", e.Field, e.Reason)
}

// FormatError reports an unrecognized container format.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format: %s", e.Reason)
}

// EncodingOverflow reports a value that does not fit its encoded width.
type EncodingOverflow struct {
	Field string
	Value any
}

func (e *EncodingOverflow) Error() string {
	return fmt.Sprintf("encoding overflow: field %q cannot hold value %v", e.Field, e.Value)
}

// CorruptRead reports a short read where a full record or chunk was expected.
type CorruptRead struct {
	Offset   int64
	Expected int
	Got      int
}

func (e *CorruptRead) Error() string {
	return fmt.Sprintf("corrupt read at offset %d: expected %d bytes, got %d", e.Offset, e.Expected, e.Got)
}

// ChunkInvariant reports a trixel chunk whose file size is not a multiple
// of the record size.
type ChunkInvariant struct {
	TrixelID     uint32
	Path         string
	DeclaredSize int64
	RecordSize   int
}

func (e *ChunkInvariant) Error() string {
	return fmt.Sprintf("chunk invariant violated for trixel %d (%s): size %d is not a multiple of record size %d",
		e.TrixelID, e.Path, e.DeclaredSize, e.RecordSize)
}

// ResourceBusy reports a chunk file that already exists when append is
// disabled.
type ResourceBusy struct {
	Path string
}

func (e *ResourceBusy) Error() string {
	return fmt.Sprintf("resource busy: chunk file %q already exists and append=false", e.Path)
}

// CountMismatch reports a discrepancy between the number of registered
// chunks and the declared trixel count. The writer tolerates a shortfall by
// materializing empty trixels and logging a warning, without returning this
// error; it returns CountMismatch when the descriptors still do not number
// exactly the declared count (e.g. more chunks than declared).
type CountMismatch struct {
	Declared   uint32
	Registered int
}

func (e *CountMismatch) Error() string {
	return fmt.Sprintf("count mismatch: declared %d trixels, %d registered", e.Declared, e.Registered)
}
