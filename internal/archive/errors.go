package archive

import (
	"errors"
	"fmt"
)

// FormatError means the input is neither a readable container nor a
// legacy flat JSON object. Nothing has been written when it is returned.
type FormatError struct {
	Input        string
	Member       string
	ContainerErr error
	JSONErr      error
}

func (e *FormatError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("archive %s: member %s: %v", e.Input, e.Member, e.JSONErr)
	}
	return fmt.Sprintf("archive %s: not a zip container (%v) and not a JSON object (%v)",
		e.Input, e.ContainerErr, e.JSONErr)
}

func (e *FormatError) Unwrap() []error {
	var errs []error
	if e.ContainerErr != nil {
		errs = append(errs, e.ContainerErr)
	}
	if e.JSONErr != nil {
		errs = append(errs, e.JSONErr)
	}
	return errs
}

// IsFormatError reports whether err is or wraps a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
