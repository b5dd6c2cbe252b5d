// Package models contains domain models for inspectrisk.
package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyData is returned when a model is fitted on no rows.
	ErrEmptyData = errors.New("empty training data")
	// ErrDimensionMismatch is returned when rows and labels disagree in length
	// or rows have inconsistent widths.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidLabel is returned when a training label is neither 0 nor 1.
	ErrInvalidLabel = errors.New("label is not binary")
)

// ExtractionError reports a structurally invalid inspection record.
type ExtractionError struct {
	Err      error
	RecordID string
	Field    string
}

func (e *ExtractionError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("extract %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("extract record %s field %s: %v", e.RecordID, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ValidationError reports a rejected rule set update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule set: %s %s", e.Field, e.Reason)
}
