package flex

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order. Broker exports use YYYYMMDD and
// YYYYMMDD;HHMMSS; the ISO forms appear in hand-edited files.
var dateLayouts = []string{
	"20060102;150405",
	"20060102",
	"20060102 150405",
	"2006-01-02;15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// ParseDate parses a broker date or date-time into UTC.
func ParseDate(s string) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", v)
}
