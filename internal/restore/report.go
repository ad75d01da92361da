package restore

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects merge semantics.
type Mode int

const (
	// Full replaces each collection's contents.
	Full Mode = iota
	// Partial upserts by identity.
	Partial
)

func (m Mode) String() string {
	if m == Partial {
		return "partial"
	}
	return "full"
}

// MarshalText renders the mode for reports.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown restore mode")

// ParseMode parses "full" or "partial". An empty string means Full.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return Full, nil
	case "partial":
		return Partial, nil
	}
	return Full, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// CollectionReport counts what happened to one collection.
type CollectionReport struct {
	Collection string `json:"collection"`
	Layout     string `json:"layout"`
	Deleted    int    `json:"deleted"`
	Inserted   int    `json:"inserted"`
	Matched    int    `json:"matched"`
	Modified   int    `json:"modified"`
	Upserted   int    `json:"upserted"`
	Failed     int    `json:"failed"`
}

// Applied is the number of documents written.
func (c CollectionReport) Applied() int {
	return c.Inserted + c.Modified + c.Upserted
}

// Report summarizes a restore.
type Report struct {
	RunID       string             `json:"run_id"`
	Mode        Mode               `json:"mode"`
	Legacy      bool               `json:"legacy"`
	Collections []CollectionReport `json:"collections"`
	// Skipped lists archive members left out by a subset restore.
	Skipped []string `json:"skipped,omitempty"`
	// Problems describes every member or document that failed conversion,
	// and fields dropped from documents that were restored.
	Problems []string `json:"problems,omitempty"`
}

// Totals sums every collection.
func (r *Report) Totals() CollectionReport {
	t := CollectionReport{Collection: "*"}
	for _, c := range r.Collections {
		t.Deleted += c.Deleted
		t.Inserted += c.Inserted
		t.Matched += c.Matched
		t.Modified += c.Modified
		t.Upserted += c.Upserted
		t.Failed += c.Failed
	}
	return t
}

// Collection returns the report for name.
func (r *Report) Collection(name string) (CollectionReport, bool) {
	for _, c := range r.Collections {
		if c.Collection == name {
			return c, true
		}
	}
	return CollectionReport{}, false
}

// RestoreError aborts a restore after a store failure. Report holds the
// collections fully or partly applied before the failure.
type RestoreError struct {
	Collection string
	Report     *Report
	Err        error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s: %v", e.Collection, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// IsRestoreError reports whether err is or wraps a RestoreError.
func IsRestoreError(err error) bool {
	var re *RestoreError
	return errors.As(err, &re)
}
