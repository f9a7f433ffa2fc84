// Package timex holds time helpers shared by configuration and storage code.
package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from JSON either as a Go
// duration string ("15m", "1h30m") or as integer nanoseconds.
type Duration struct {
	time.Duration
}

// MarshalJSON encodes the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// SortableLayout formats UTC timestamps with a fixed width, so lexical order
// of formatted values equals chronological order.
const SortableLayout = "20060102T150405.000000000Z"

// FormatSortable renders t in SortableLayout (UTC).
func FormatSortable(t time.Time) string {
	return t.UTC().Format(SortableLayout)
}

// ParseSortable parses a value produced by FormatSortable.
func ParseSortable(s string) (time.Time, error) {
	return time.Parse(SortableLayout, s)
}
