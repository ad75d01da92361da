package doc

import (
	"errors"
	"fmt"
)

// ConversionError reports a single document that could not be converted
// between its archived and stored form. Callers log it and move on.
type ConversionError struct {
	Collection string
	Key        string
	Reason     string
	Err        error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert %s[%s]: %s", e.Collection, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// IsConversionError reports whether err is or wraps a ConversionError.
func IsConversionError(err error) bool {
	var ce *ConversionError
	return errors.As(err, &ce)
}
