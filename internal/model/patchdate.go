// internal/model/patchdate.go
package model

import (
	"fmt"
	"strings"
	"time"
)

// NeverPatched is the stored form of a patch date that was resolved and
// found missing.
const NeverPatched = "never"

// PatchDate is either a concrete timestamp or the Never sentinel.
type PatchDate struct {
	at    time.Time
	known bool
}

// Never is the patch date of a fork that never integrated the change.
var Never = PatchDate{}

// PatchedAt returns a concrete patch date.
func PatchedAt(t time.Time) PatchDate {
	return PatchDate{at: t.UTC(), known: true}
}

// Time returns the timestamp and whether one is set.
func (p PatchDate) Time() (time.Time, bool) {
	return p.at, p.known
}

// IsNever reports whether p is the Never sentinel.
func (p PatchDate) IsNever() bool {
	return !p.known
}

func (p PatchDate) String() string {
	if !p.known {
		return NeverPatched
	}
	return p.at.Format(time.RFC3339)
}

// MarshalText encodes p in its stored form.
func (p PatchDate) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Before reports whether p is Never or strictly earlier than target.
func (p PatchDate) Before(target time.Time) bool {
	if !p.known {
		return true
	}
	return p.at.Before(target)
}

// ParsePatchDate parses the stored form produced by String.
func ParsePatchDate(s string) (PatchDate, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, NeverPatched) {
		return Never, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return Never, err
	}
	return PatchedAt(t), nil
}

// ParseDate accepts an ISO-8601 calendar date (2006-01-02) or an RFC3339
// timestamp. Calendar dates are midnight UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
}
