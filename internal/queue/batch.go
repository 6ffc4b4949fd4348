package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the wire and storage format of booking dates.
	DateLayout      = "2006-01-02"
	batchDateLayout = "060102"
	batchSeqWidth   = 3
)

var ErrInvalidBatchNumber = errors.New("invalid batch number")

// FormatBatchNumber renders <prefix>-<YYMMDD>-<NNN>. Sequences above 999
// widen instead of being truncated.
func FormatBatchNumber(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s-%s-%0*d", prefix, day.Format(batchDateLayout), batchSeqWidth, seq)
}

// ParseBatchNumber splits a batch number into its prefix, day and sequence.
func ParseBatchNumber(value string) (string, time.Time, int64, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[2]) < batchSeqWidth {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidBatchNumber, value)
	}
	day, err := time.Parse(batchDateLayout, parts[1])
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidBatchNumber, value)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidBatchNumber, value)
	}
	return parts[0], day, seq, nil
}

// Day truncates t to midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD booking date.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, loc)
}
