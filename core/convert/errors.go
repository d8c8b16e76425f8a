package convert

import (
	"fmt"
	"strings"
)

// ConversionError reports a raw value that cannot be converted for a column.
type ConversionError struct {
	Column string
	Type   string
	Value  any
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("cannot convert %q to %s: %v", fmt.Sprint(e.Value), e.Type, e.Err)
	}
	return fmt.Sprintf("column %s: cannot convert %q to %s: %v", e.Column, fmt.Sprint(e.Value), e.Type, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// TransformError reports a failed column transform, naming its columns.
type TransformError struct {
	Transform string
	Sources   []string
	Targets   []string
	Err       error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s (%s -> %s): %v",
		e.Transform, strings.Join(e.Sources, ","), strings.Join(e.Targets, ","), e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
