package recorder

import "time"

// TimeLayout is the GMT timestamp format used for the record file's "time"
// column: the same shape as a backup snapshot's own timestamp, so a row
// and the snapshot it describes read consistently in the TSV.
const TimeLayout = "2006-01-02T15:04:05"

// FormatTime renders t (which should already be in UTC) in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
