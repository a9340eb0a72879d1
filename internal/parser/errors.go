package parser

import (
	"fmt"

	"github.com/dvloznov/taxledger/internal/money"
)

// RecordKind names the unit a ParseError points at.
type RecordKind string

const (
	// KindLine is a physical line of a CSV or MT940 file (1-based).
	KindLine RecordKind = "line"
	// KindEntry is the position of a transaction inside the statement (0-based).
	KindEntry RecordKind = "entry"
)

// ParseError reports a malformed record. The whole statement is rejected.
type ParseError struct {
	Format Format
	Kind   RecordKind
	Index  int
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: %s %d", e.Format, e.Kind, e.Index)
	if e.Field != "" {
		msg += fmt.Sprintf(": field %s", e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	return msg + ": " + e.Reason
}

func lineError(f Format, line int, field, value, reason string) *ParseError {
	return &ParseError{Format: f, Kind: KindLine, Index: line, Field: field, Value: value, Reason: reason}
}

func entryError(f Format, idx int, field, value, reason string) *ParseError {
	return &ParseError{Format: f, Kind: KindEntry, Index: idx, Field: field, Value: value, Reason: reason}
}

// UnsupportedFormatError is returned before any decoding when the declared
// format is not registered.
type UnsupportedFormatError struct {
	Declared string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported statement format %q", e.Declared)
}

// BalanceMismatchError means opening balance plus transactions does not reach
// the stated balance. Index is the transaction whose running balance failed,
// or -1 for the closing balance.
type BalanceMismatchError struct {
	Expected money.Money
	Actual   money.Money
	Index    int
}

func (e *BalanceMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("balance mismatch: closing balance %s, opening plus transactions %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("balance mismatch at entry %d: running balance %s, computed %s", e.Index, e.Expected, e.Actual)
}
